package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apierr "github.com/TechPrismatica/tenantdb/pkg/api/errors"
	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/query"
)

// ListHandler serves `GET /api/:database/:table`: plain query parameters
// become equality filters, `limit` and `offset` window the result.
func ListHandler(db Databases, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		table, err := tableOf(c, defaultSchema)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		filters, err := paramFilters(c)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		limit, err := int64Param(c, "limit")
		if err != nil {
			return apierr.BadRequest(`"limit" should be an integer`, err)
		}
		offset, err := int64Param(c, "offset")
		if err != nil {
			return apierr.BadRequest(`"offset" should be an integer`, err)
		}

		runner, release, err := runnerFor(c, db)
		if err != nil {
			return err
		}
		defer release()

		records, err := runner.Select(ctx, table, query.SelectOptions{
			Where: filters, Limit: limit, Offset: offset,
		})
		if err != nil {
			return serverError(err)
		}
		return c.JSON(http.StatusOK, records)
	}
}

// InsertHandler serves `POST /api/:database/:table`: the body is a record
// or an array of records, written in one transaction. The stored rows come
// back with database-assigned values filled in.
func InsertHandler(db Databases, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		table, err := tableOf(c, defaultSchema)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		records, err := decodeRecords(c)
		if err != nil {
			return apierr.BadRequest("body should be a record or an array of records", err)
		}

		runner, release, err := runnerFor(c, db)
		if err != nil {
			return err
		}
		defer release()

		stored, err := runner.Insert(ctx, table, records)
		if err != nil {
			return serverError(err)
		}
		return c.JSON(http.StatusOK, stored)
	}
}

// UpdateHandler serves `PUT /api/:database/:table?key=<column>`: each
// record in the body updates the row sharing its key column value, all in
// one transaction.
func UpdateHandler(db Databases, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		table, err := tableOf(c, defaultSchema)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		key := c.QueryParam("key")
		if key == "" {
			key = "id"
		}
		if err := checkIdent("column", key); err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		records, err := decodeRecords(c)
		if err != nil {
			return apierr.BadRequest("body should be a record or an array of records", err)
		}

		runner, release, err := runnerFor(c, db)
		if err != nil {
			return err
		}
		defer release()

		stored, err := runner.UpdateByKey(ctx, table, key, records)
		if errors.Is(err, kdb.ErrMissing) {
			return apierr.NotFound()
		} else if errors.Is(err, kdb.ErrUnknownColumn) {
			return apierr.BadRequest(err.Error(), err)
		} else if err != nil {
			return serverError(err)
		}
		return c.JSON(http.StatusOK, stored)
	}
}

// DeleteHandler serves `DELETE /api/:database/:table`: query parameters
// become equality filters. Deleting with no filters at all is refused.
func DeleteHandler(db Databases, defaultSchema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		table, err := tableOf(c, defaultSchema)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		filters, err := paramFilters(c)
		if err != nil {
			return apierr.BadRequest(err.Error(), err)
		}
		if len(filters) == 0 {
			return apierr.BadRequest(
				"deleting every row needs at least one filter parameter", nil,
			)
		}

		runner, release, err := runnerFor(c, db)
		if err != nil {
			return err
		}
		defer release()

		deleted, err := runner.Delete(ctx, table, filters)
		if err != nil {
			return serverError(err)
		}
		return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
	}
}

// decodeRecords reads the body as one record or an array of records.
func decodeRecords(c echo.Context) ([]kdb.Record, error) {
	raw := json.RawMessage{}
	decoder := json.NewDecoder(c.Request().Body)
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}

	records := []kdb.Record{}
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}

	record := kdb.Record{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return []kdb.Record{record}, nil
}

func int64Param(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
