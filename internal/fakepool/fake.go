// Package fakepool provides in-memory stand-ins for pool.Pool and friends,
// for tests which do not want a real PostgreSQL server.
package fakepool

import (
	"context"
	"reflect"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
)

// Call records one statement sent to a fake.
type Call struct {
	SQL  string
	Args []interface{}
}

type QueryResult struct {
	Rows pgx.Rows
	Err  error
}

type ExecResult struct {
	Tag pgconn.CommandTag
	Err error
}

// Pool implements kpool.Pool. Queue results with the Next* fields;
// statements are recorded in Calls.
type Pool struct {
	Calls []Call

	NextQuery    []QueryResult
	NextExec     []ExecResult
	NextQueryRow []pgx.Row

	NextBegin struct {
		Tx  kpool.Tx
		Err error
	}
	NextAcquire struct {
		Conn kpool.Conn
		Err  error
	}
	NextPing error

	Closed bool
}

var _ kpool.Pool = &Pool{}

func (p *Pool) record(sql string, args []interface{}) {
	p.Calls = append(p.Calls, Call{SQL: sql, Args: args})
}

func (p *Pool) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	p.record(sql, arguments)
	if len(p.NextExec) == 0 {
		return pgconn.CommandTag(""), nil
	}
	next := p.NextExec[0]
	p.NextExec = p.NextExec[1:]
	return next.Tag, next.Err
}

func (p *Pool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	p.record(sql, args)
	if len(p.NextQuery) == 0 {
		return &Rows{}, nil
	}
	next := p.NextQuery[0]
	p.NextQuery = p.NextQuery[1:]
	if next.Rows == nil {
		next.Rows = &Rows{}
	}
	return next.Rows, next.Err
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	p.record(sql, args)
	if len(p.NextQueryRow) == 0 {
		return &Row{}
	}
	next := p.NextQueryRow[0]
	p.NextQueryRow = p.NextQueryRow[1:]
	return next
}

func (p *Pool) Begin(ctx context.Context) (kpool.Tx, error) {
	tx := p.NextBegin.Tx
	err := p.NextBegin.Err
	if tx == nil && err == nil {
		tx = &Tx{Host: p}
	}
	return tx, err
}

func (p *Pool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (kpool.Tx, error) {
	return p.Begin(ctx)
}

func (p *Pool) Acquire(ctx context.Context) (kpool.Conn, error) {
	return p.NextAcquire.Conn, p.NextAcquire.Err
}

func (p *Pool) Config() *pgxpool.Config { return nil }

func (p *Pool) Ping(ctx context.Context) error { return p.NextPing }

func (p *Pool) Close() { p.Closed = true }

// Tx implements kpool.Tx, delegating statements to its host Pool.
type Tx struct {
	Host *Pool

	Committed  bool
	RolledBack bool

	NextCommit   error
	NextRollback error
}

var _ kpool.Tx = &Tx{}

func (tx *Tx) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return tx.Host.Exec(ctx, sql, arguments...)
}

func (tx *Tx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return tx.Host.Query(ctx, sql, args...)
}

func (tx *Tx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return tx.Host.QueryRow(ctx, sql, args...)
}

func (tx *Tx) Begin(ctx context.Context) (kpool.Tx, error) {
	return &Tx{Host: tx.Host}, nil
}

func (tx *Tx) Commit(ctx context.Context) error {
	tx.Committed = true
	return tx.NextCommit
}

func (tx *Tx) Rollback(ctx context.Context) error {
	if !tx.Committed {
		tx.RolledBack = true
	}
	return tx.NextRollback
}

func (tx *Tx) Conn() *pgx.Conn { return nil }

// Rows implements pgx.Rows over in-memory values.
type Rows struct {
	Fields  []pgproto3.FieldDescription
	Records [][]interface{}

	NextErr error

	cursor int
	closed bool
}

var _ pgx.Rows = &Rows{}

// Field describes one column for NewRows.
type Field struct {
	Name string
	OID  uint32
}

func NewRows(fields []Field, records [][]interface{}) *Rows {
	fds := make([]pgproto3.FieldDescription, len(fields))
	for i, f := range fields {
		fds[i] = pgproto3.FieldDescription{Name: []byte(f.Name), DataTypeOID: f.OID}
	}
	return &Rows{Fields: fds, Records: records}
}

func (r *Rows) Close()     { r.closed = true }
func (r *Rows) Err() error { return r.NextErr }

func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag("") }

func (r *Rows) FieldDescriptions() []pgproto3.FieldDescription { return r.Fields }

func (r *Rows) Next() bool {
	if r.closed || r.cursor >= len(r.Records) {
		return false
	}
	r.cursor++
	return true
}

func (r *Rows) Values() ([]interface{}, error) {
	return r.Records[r.cursor-1], nil
}

func (r *Rows) RawValues() [][]byte { return nil }

func (r *Rows) Scan(dest ...interface{}) error {
	return scanInto(r.Records[r.cursor-1], dest)
}

// Row implements pgx.Row.
type Row struct {
	Values  []interface{}
	NextErr error
}

var _ pgx.Row = &Row{}

func (r *Row) Scan(dest ...interface{}) error {
	if r.NextErr != nil {
		return r.NextErr
	}
	return scanInto(r.Values, dest)
}

func scanInto(values []interface{}, dest []interface{}) error {
	for nth, d := range dest {
		if d == nil || nth >= len(values) {
			continue
		}
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Ptr {
			continue
		}
		elem := dv.Elem()
		if values[nth] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		sv := reflect.ValueOf(values[nth])
		if sv.Type().AssignableTo(elem.Type()) {
			elem.Set(sv)
		} else if sv.Type().ConvertibleTo(elem.Type()) {
			elem.Set(sv.Convert(elem.Type()))
		}
	}
	return nil
}
