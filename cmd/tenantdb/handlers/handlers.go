// Package handlers implements the HTTP surface: generic row access and
// grid queries over any table of any tenant database.
package handlers

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/labstack/echo/v4"

	apierr "github.com/TechPrismatica/tenantdb/pkg/api/errors"
	"github.com/TechPrismatica/tenantdb/pkg/api/middleware"
	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
	kpgerr "github.com/TechPrismatica/tenantdb/pkg/db/postgres/errors"
	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/query"
)

// Databases opens pools per (database, tenant). *session.Manager is the
// production implementation. The release function must be called when the
// caller is done with the pool.
type Databases interface {
	Pool(ctx context.Context, database, tenant string) (kpool.Pool, func(), error)
}

// identifiers which can safely name a table, schema or column.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func checkIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%q cannot name a %s", name, kind)
	}
	return nil
}

// tableOf resolves the target relation from path and query parameters.
// The schema comes from the "schema" query parameter, falling back to
// defaultSchema.
func tableOf(c echo.Context, defaultSchema string) (query.Table, error) {
	table := c.Param("table")
	if err := checkIdent("table", table); err != nil {
		return query.Table{}, err
	}

	schema := c.QueryParam("schema")
	if schema == "" {
		schema = defaultSchema
	}
	if err := checkIdent("schema", schema); err != nil {
		return query.Table{}, err
	}

	return query.Table{Schema: schema, Name: table}, nil
}

// runnerFor opens the tenant's pool for the :database path parameter.
// Callers defer the release function.
func runnerFor(c echo.Context, db Databases) (*query.Runner, func(), error) {
	database := c.Param("database")
	if err := checkIdent("database", database); err != nil {
		return nil, nil, apierr.BadRequest(err.Error(), err)
	}

	pool, release, err := db.Pool(c.Request().Context(), database, middleware.TenantOf(c))
	if err != nil {
		return nil, nil, apierr.InternalServerError(err)
	}
	return query.New(pool), release, nil
}

// serverError maps database failures onto HTTP errors: a relation which
// does not exist is the caller's mistake, not the server's.
func serverError(err error) *echo.HTTPError {
	if kpgerr.IsUndefinedTable(err) {
		return apierr.NotFound()
	}
	return apierr.InternalServerError(err)
}

// reserved query parameter names which never become filters.
var reservedParams = map[string]bool{
	"schema": true, "limit": true, "offset": true,
	"format": true, "key": true,
}

// paramFilters turns plain query parameters into equality conditions,
// in parameter name order so generated SQL is stable.
func paramFilters(c echo.Context) ([]expr.Expression, error) {
	params := c.QueryParams()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	filters := []expr.Expression{}
	for _, name := range names {
		values := params[name]
		if reservedParams[name] {
			continue
		}
		if err := checkIdent("column", name); err != nil {
			return nil, err
		}
		switch len(values) {
		case 0:
		case 1:
			filters = append(filters, expr.Eq(expr.Col(name), values[0]))
		default:
			vs := make([]any, len(values))
			for nth, v := range values {
				vs[nth] = v
			}
			filters = append(filters, expr.In(expr.Col(name), vs))
		}
	}
	return filters, nil
}
