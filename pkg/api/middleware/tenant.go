// Package middleware carries request-scoped concerns of the HTTP surface.
package middleware

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	apierr "github.com/TechPrismatica/tenantdb/pkg/api/errors"
)

const tenantContextKey = "tenantdb.tenant"

// TenantConfig tells the middleware where the tenant id travels.
type TenantConfig struct {
	// Cookie names the cookie carrying the tenant id.
	Cookie string

	// JWTKey, when non-empty, accepts `Authorization: Bearer <token>`
	// where the token is an HS256 JWT with a "tenant_id" claim.
	// A Bearer token takes precedence over the cookie.
	JWTKey []byte
}

// Tenant resolves the requesting tenant and stores it on the context.
// Requests naming no tenant proceed with the empty tenant, which maps
// onto unqualified database names.
func Tenant(cfg TenantConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenant := ""

			if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				if len(cfg.JWTKey) == 0 {
					return apierr.Unauthorized("bearer tokens are not enabled", nil)
				}
				t, err := tenantFromToken(strings.TrimPrefix(auth, "Bearer "), cfg.JWTKey)
				if err != nil {
					return apierr.Unauthorized("invalid bearer token", err)
				}
				tenant = t
			}

			if tenant == "" && cfg.Cookie != "" {
				if cookie, err := c.Cookie(cfg.Cookie); err == nil {
					tenant = cookie.Value
				}
			}

			c.Set(tenantContextKey, tenant)
			return next(c)
		}
	}
}

// TenantOf reads the tenant resolved by Tenant. Empty without it.
func TenantOf(c echo.Context) string {
	tenant, _ := c.Get(tenantContextKey).(string)
	return tenant
}

func tenantFromToken(token string, key []byte) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(t *jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return "", err
	}

	tenant, ok := claims["tenant_id"].(string)
	if !ok || tenant == "" {
		return "", fmt.Errorf(`token has no "tenant_id" claim`)
	}
	return tenant, nil
}
