package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/TechPrismatica/tenantdb/pkg/api/errors"
	"github.com/TechPrismatica/tenantdb/pkg/api/middleware"
	"github.com/TechPrismatica/tenantdb/pkg/codegen"
)

// SchemaHandler serves `GET /api/:database/schema`: every base table of
// the schema with columns and primary keys, as information_schema sees it.
func SchemaHandler(db Databases, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		schemaName := c.QueryParam("schema")
		if schemaName == "" {
			schemaName = defaultSchema
		}
		if err := checkIdent("schema", schemaName); err != nil {
			return apierr.BadRequest(err.Error(), err)
		}

		database := c.Param("database")
		if err := checkIdent("database", database); err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		pool, release, err := db.Pool(ctx, database, middleware.TenantOf(c))
		if err != nil {
			return apierr.InternalServerError(err)
		}
		defer release()

		tables, err := codegen.Inspect(ctx, pool, schemaName)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, tables)
	}
}

// ModelsHandler serves `POST /api/:database/models`: reflect the schema
// into generated Go model source and report where it went.
func ModelsHandler(db Databases, gen *codegen.Generator, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		schemaName := c.QueryParam("schema")
		if schemaName == "" {
			schemaName = defaultSchema
		}
		if err := checkIdent("schema", schemaName); err != nil {
			return apierr.BadRequest(err.Error(), err)
		}

		database := c.Param("database")
		if err := checkIdent("database", database); err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		tenant := middleware.TenantOf(c)

		pool, release, err := db.Pool(ctx, database, tenant)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		defer release()

		path, err := gen.Refresh(ctx, pool, database, tenant, schemaName)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"path": path})
	}
}
