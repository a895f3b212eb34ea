package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/TechPrismatica/tenantdb/pkg/aggrid"
	apierr "github.com/TechPrismatica/tenantdb/pkg/api/errors"
	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/query"
)

// GridResponse is the shape an AG-Grid server-side datasource expects.
type GridResponse struct {
	Rows    []kdb.Record `json:"rows"`
	LastRow int64        `json:"lastRow"`
}

// GridHandler serves `POST /api/:database/:table/grid`: the request body
// is an AG-Grid server-side row request; the response is the requested
// row window plus the total matching row count.
//
// With `?format=arrow` the window is returned as an Arrow IPC stream
// instead of JSON (the total travels in the `X-Total-Rows` header);
// `?chunk=<n>` splits the stream into batches of at most n rows.
func GridHandler(db Databases, defaultSchema string, translatorOptions ...aggrid.Option) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		table, err := tableOf(c, defaultSchema)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}

		req := aggrid.Request{}
		decoder := json.NewDecoder(c.Request().Body)
		if err := decoder.Decode(&req); err != nil {
			return apierr.BadRequest("body should be a grid row request", err)
		}

		translator, err := aggrid.New(gridColumns(&req), translatorOptions...)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		translated, err := translator.Translate(&req)
		if err != nil {
			if errors.Is(err, kdb.ErrUnknownColumn) {
				return apierr.BadRequest("filter names an unusable column", err)
			}
			return apierr.BadRequest("cannot translate filter model", err)
		}

		runner, release, err := runnerFor(c, db)
		if err != nil {
			return err
		}
		defer release()

		records, total, err := runner.SelectWithCount(ctx, table, query.SelectOptions{
			Grid:   translated,
			Offset: req.Offset(),
			Limit:  req.Limit(),
		})
		if err != nil {
			return serverError(err)
		}

		if c.QueryParam("format") == "arrow" {
			chunk, err := int64Param(c, "chunk")
			if err != nil {
				return apierr.BadRequest(`"chunk" should be an integer`, err)
			}
			return writeArrow(c, records, total, int(chunk))
		}
		return c.JSON(http.StatusOK, GridResponse{Rows: records, LastRow: total})
	}
}

// gridColumns maps each column the request names onto itself. Names are
// still validated: anything which cannot be a bare identifier stays out
// of the map and surfaces as an unknown column.
func gridColumns(req *aggrid.Request) map[string]expr.Column {
	columns := map[string]expr.Column{}
	for name := range req.FilterModel {
		if identPattern.MatchString(name) {
			columns[name] = expr.Col(name)
		}
	}
	for _, s := range req.SortModel {
		if identPattern.MatchString(s.ColID) {
			columns[s.ColID] = expr.Col(s.ColID)
		}
	}
	return columns
}

func writeArrow(c echo.Context, records []kdb.Record, total int64, chunk int) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/vnd.apache.arrow.stream")
	c.Response().Header().Set("X-Total-Rows", strconv.FormatInt(total, 10))
	c.Response().WriteHeader(http.StatusOK)

	return query.StreamArrow(c.Response(), nil, records, chunk)
}
