// Package query builds and runs row-level statements against a tenant
// database: inserts, updates, upserts, deletes and windowed selects.
//
// Statement builders are pure and deterministic (record columns are
// emitted in sorted order) so they can be tested without a database.
// The Runner executes built statements on a pool and decodes result
// rows into Records.
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"

	"github.com/TechPrismatica/tenantdb/pkg/aggrid"
	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
	kpgerr "github.com/TechPrismatica/tenantdb/pkg/db/postgres/errors"
	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
)

// Table names the relation a statement runs against.
type Table struct {
	Schema string // empty means the connection's search_path
	Name   string
}

func (t Table) SQL() string {
	if t.Schema == "" {
		return quoteIdent(t.Name)
	}
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Name)
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Statement is SQL text with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// columnsOf lists record columns in sorted order so that generated SQL
// is stable for a given record shape.
func columnsOf(record kdb.Record) []string {
	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// BuildInsert builds `INSERT INTO table (...) VALUES (...) RETURNING *`.
func BuildInsert(table Table, record kdb.Record) Statement {
	p := &expr.Params{}
	columns := columnsOf(record)

	names := make([]string, len(columns))
	values := make([]string, len(columns))
	for nth, column := range columns {
		names[nth] = quoteIdent(column)
		values[nth] = p.Bind(record[column])
	}

	return Statement{
		SQL: fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
			table.SQL(), strings.Join(names, ", "), strings.Join(values, ", "),
		),
		Args: p.Args(),
	}
}

// BuildUpsert builds an insert which, on conflict over the given columns,
// updates every non-conflict column from the excluded row. conflict must
// name at least one column; Runner.Upsert enforces that.
func BuildUpsert(table Table, record kdb.Record, conflict []string) Statement {
	p := &expr.Params{}
	columns := columnsOf(record)

	names := make([]string, len(columns))
	values := make([]string, len(columns))
	for nth, column := range columns {
		names[nth] = quoteIdent(column)
		values[nth] = p.Bind(record[column])
	}

	conflictSet := map[string]bool{}
	for _, column := range conflict {
		conflictSet[column] = true
	}
	assigns := []string{}
	for _, column := range columns {
		if conflictSet[column] {
			continue
		}
		assigns = append(
			assigns,
			quoteIdent(column)+" = EXCLUDED."+quoteIdent(column),
		)
	}

	keys := make([]string, len(conflict))
	for nth, column := range conflict {
		keys[nth] = quoteIdent(column)
	}

	action := "DO NOTHING"
	if len(assigns) != 0 {
		action = "DO UPDATE SET " + strings.Join(assigns, ", ")
	}

	return Statement{
		SQL: fmt.Sprintf(
			`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING *`,
			table.SQL(), strings.Join(names, ", "), strings.Join(values, ", "),
			strings.Join(keys, ", "), action,
		),
		Args: p.Args(),
	}
}

// BuildUpdate builds `UPDATE table SET ... WHERE ... RETURNING *`.
// Conditions are ANDed; with none the update touches every row.
func BuildUpdate(table Table, values kdb.Record, where []expr.Expression) Statement {
	p := &expr.Params{}
	columns := columnsOf(values)

	assigns := make([]string, len(columns))
	for nth, column := range columns {
		assigns[nth] = quoteIdent(column) + " = " + p.Bind(values[column])
	}

	sql := fmt.Sprintf(
		`UPDATE %s SET %s`, table.SQL(), strings.Join(assigns, ", "),
	)
	if len(where) != 0 {
		sql += " WHERE " + expr.And(where...).SQL(p)
	}
	sql += " RETURNING *"

	return Statement{SQL: sql, Args: p.Args()}
}

// BuildDelete builds `DELETE FROM table WHERE ...`.
// Conditions are ANDed; with none the delete empties the table.
func BuildDelete(table Table, where []expr.Expression) Statement {
	p := &expr.Params{}
	sql := `DELETE FROM ` + table.SQL()
	if len(where) != 0 {
		sql += " WHERE " + expr.And(where...).SQL(p)
	}
	return Statement{SQL: sql, Args: p.Args()}
}

// Join is one explicit join clause appended after the FROM table.
type Join struct {
	Kind  string // INNER, LEFT, RIGHT, FULL
	Table Table
	On    expr.Expression
}

// SelectOptions shape a select statement. The zero value selects
// every column of every row.
type SelectOptions struct {
	// Columns to project; empty means "*".
	Columns []string

	Joins []Join

	// Where conditions, ANDed together.
	Where []expr.Expression

	Sort    []expr.SortKey
	GroupBy []string

	Offset int64
	Limit  int64 // 0 means no limit

	// Grid merges a translated grid request in: its filters are ANDed
	// with Where and its sort keys take precedence over Sort.
	Grid *aggrid.Result
}

func (o SelectOptions) where() []expr.Expression {
	if o.Grid == nil {
		return o.Where
	}
	return append(append([]expr.Expression{}, o.Where...), o.Grid.Filters...)
}

func (o SelectOptions) sort() []expr.SortKey {
	if o.Grid == nil || len(o.Grid.Sort) == 0 {
		return o.Sort
	}
	return append(append([]expr.SortKey{}, o.Grid.Sort...), o.Sort...)
}

// BuildSelect builds a windowed select over table per opts.
func BuildSelect(table Table, opts SelectOptions) Statement {
	p := &expr.Params{}
	sql := "SELECT " + projection(opts.Columns) + " FROM " + table.SQL()
	sql += joinClauses(p, opts.Joins)

	if where := opts.where(); len(where) != 0 {
		sql += " WHERE " + expr.And(where...).SQL(p)
	}
	if len(opts.GroupBy) != 0 {
		groups := make([]string, len(opts.GroupBy))
		for nth, g := range opts.GroupBy {
			groups[nth] = expr.Col(g).OperandSQL(p)
		}
		sql += " GROUP BY " + strings.Join(groups, ", ")
	}
	if sortKeys := opts.sort(); len(sortKeys) != 0 {
		keys := make([]string, len(sortKeys))
		for nth, key := range sortKeys {
			keys[nth] = key.SQL(p)
		}
		sql += " ORDER BY " + strings.Join(keys, ", ")
	}
	if limit := opts.Limit; limit > 0 {
		sql += " LIMIT " + strconv.FormatInt(limit, 10)
	}
	if offset := opts.Offset; offset > 0 {
		sql += " OFFSET " + strconv.FormatInt(offset, 10)
	}

	return Statement{SQL: sql, Args: p.Args()}
}

// BuildCount counts the rows BuildSelect would yield, ignoring the row
// window. Counting over a subquery keeps GROUP BY semantics: grouped
// selects count groups, not underlying rows.
func BuildCount(table Table, opts SelectOptions) Statement {
	inner := opts
	inner.Offset = 0
	inner.Limit = 0
	inner.Sort = nil
	if inner.Grid != nil {
		inner.Grid = &aggrid.Result{Filters: inner.Grid.Filters}
	}

	sub := BuildSelect(table, inner)
	return Statement{
		SQL:  `SELECT count(*) FROM (` + sub.SQL + `) AS "counted"`,
		Args: sub.Args,
	}
}

func projection(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	parts := make([]string, len(columns))
	for nth, column := range columns {
		parts[nth] = expr.Col(column).OperandSQL(nil)
	}
	return strings.Join(parts, ", ")
}

func joinClauses(p *expr.Params, joins []Join) string {
	sql := ""
	for _, j := range joins {
		kind := strings.ToUpper(strings.TrimSpace(j.Kind))
		switch kind {
		case "", "INNER":
			kind = "INNER"
		case "LEFT", "RIGHT", "FULL":
		default:
			kind = "INNER"
		}
		sql += " " + kind + " JOIN " + j.Table.SQL() + " ON " + j.On.SQL(p)
	}
	return sql
}

// Runner executes statements against one tenant database.
type Runner struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// Insert writes records in one transaction and returns the stored rows,
// defaults and generated ids filled in.
func (r *Runner) Insert(ctx context.Context, table Table, records []kdb.Record) ([]kdb.Record, error) {
	return r.inTx(ctx, func(tx kpool.Tx) ([]kdb.Record, error) {
		stored := make([]kdb.Record, 0, len(records))
		for _, record := range records {
			s := BuildInsert(table, record)
			got, err := queryRecords(ctx, tx, s)
			if err != nil {
				return nil, err
			}
			stored = append(stored, got...)
		}
		return stored, nil
	})
}

// Upsert writes records in one transaction, updating rows which collide
// on the conflict columns, and returns the stored rows. At least one
// conflict column is required.
func (r *Runner) Upsert(ctx context.Context, table Table, records []kdb.Record, conflict []string) ([]kdb.Record, error) {
	if len(conflict) == 0 {
		return nil, fmt.Errorf("upsert into %s needs at least one conflict column", table)
	}
	return r.inTx(ctx, func(tx kpool.Tx) ([]kdb.Record, error) {
		stored := make([]kdb.Record, 0, len(records))
		for _, record := range records {
			s := BuildUpsert(table, record, conflict)
			got, err := queryRecords(ctx, tx, s)
			if err != nil {
				return nil, err
			}
			stored = append(stored, got...)
		}
		return stored, nil
	})
}

// Update sets values on every row matching where and returns the
// updated rows.
func (r *Runner) Update(ctx context.Context, table Table, values kdb.Record, where []expr.Expression) ([]kdb.Record, error) {
	s := BuildUpdate(table, values, where)
	return queryRecords(ctx, r.pool, s)
}

// UpdateByKey updates each record against the row sharing its key
// column value, all in one transaction. Records missing the key column
// fail the whole batch.
func (r *Runner) UpdateByKey(ctx context.Context, table Table, key string, records []kdb.Record) ([]kdb.Record, error) {
	return r.inTx(ctx, func(tx kpool.Tx) ([]kdb.Record, error) {
		stored := make([]kdb.Record, 0, len(records))
		for _, record := range records {
			id, ok := record[key]
			if !ok {
				return nil, fmt.Errorf(
					"%w: record has no %q to update %s by",
					kdb.ErrUnknownColumn, key, table,
				)
			}
			values := kdb.Record{}
			for column, v := range record {
				if column == key {
					continue
				}
				values[column] = v
			}
			s := BuildUpdate(table, values, []expr.Expression{
				expr.Eq(expr.Col(key), id),
			})
			got, err := queryRecords(ctx, tx, s)
			if err != nil {
				return nil, err
			}
			if len(got) == 0 {
				return nil, kpgerr.Missing{
					Table: table.String(), Identity: fmt.Sprintf("%s = %v", key, id),
				}
			}
			stored = append(stored, got...)
		}
		return stored, nil
	})
}

// Delete removes rows matching where and reports how many went away.
func (r *Runner) Delete(ctx context.Context, table Table, where []expr.Expression) (int64, error) {
	s := BuildDelete(table, where)
	tag, err := r.pool.Exec(ctx, s.SQL, s.Args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Select reads rows per opts.
func (r *Runner) Select(ctx context.Context, table Table, opts SelectOptions) ([]kdb.Record, error) {
	s := BuildSelect(table, opts)
	return queryRecords(ctx, r.pool, s)
}

// SelectOne reads the single row opts describe.
// No row is a Missing error; several rows is TooMuch.
func (r *Runner) SelectOne(ctx context.Context, table Table, opts SelectOptions) (kdb.Record, error) {
	opts.Limit = 2
	records, err := r.Select(ctx, table, opts)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, kpgerr.Missing{Table: table.String(), Identity: "requested row"}
	case 1:
		return records[0], nil
	default:
		return nil, kpgerr.TooMuch{Table: table.String(), Identity: "requested row", Expected: 1}
	}
}

// Count counts the rows opts match, ignoring the row window.
func (r *Runner) Count(ctx context.Context, table Table, opts SelectOptions) (int64, error) {
	s := BuildCount(table, opts)
	var n int64
	if err := r.pool.QueryRow(ctx, s.SQL, s.Args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SelectWithCount reads one row window and the total matching row count,
// which is what a grid datasource needs to place its scrollbar.
func (r *Runner) SelectWithCount(ctx context.Context, table Table, opts SelectOptions) ([]kdb.Record, int64, error) {
	records, err := r.Select(ctx, table, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.Count(ctx, table, opts)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *Runner) inTx(ctx context.Context, f func(tx kpool.Tx) ([]kdb.Record, error)) ([]kdb.Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	records, err := f(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func queryRecords(ctx context.Context, q kpool.Queryer, s Statement) ([]kdb.Record, error) {
	rows, err := q.Query(ctx, s.SQL, s.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return decodeRows(rows)
}

func decodeRows(rows pgx.Rows) ([]kdb.Record, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for nth, f := range fields {
		columns[nth] = string(f.Name)
	}

	records := []kdb.Record{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := kdb.Record{}
		for nth, column := range columns {
			if nth < len(values) {
				record[column] = normalize(values[nth])
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
