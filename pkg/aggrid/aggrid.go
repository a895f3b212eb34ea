// Package aggrid translates AG-Grid server-side requests into SQL
// predicates and sort keys.
//
// The translation is pure: it takes a Request plus a column mapping (grid
// column id -> database column) and produces expr trees. Filters dispatch
// on filterType (text, number, date); combined conditions merge with the
// request's AND/OR operator; set filters become IN (or ILIKE ANY when the
// column opts in). Unknown columns, operators or malformed payloads are
// errors: a server-side filter must never silently widen a result set.
package aggrid

import (
	"errors"
	"fmt"
	"time"

	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
)

var (
	ErrUnknownOperator = errors.New("unknown filter operator")
	ErrUnknownFilter   = errors.New("unknown filter type")
	ErrBadFilter       = errors.New("malformed filter")
)

// ColumnOption tunes translation for one column.
type ColumnOption struct {
	// ILike makes set filters match case-insensitively with wildcards
	// (`col ILIKE ANY(values)`) instead of exact IN.
	ILike bool
}

type Translator struct {
	columns map[string]expr.Column
	options map[string]ColumnOption

	trunc expr.TruncUnit
	tz    string
	loc   *time.Location
}

type Option func(*Translator)

// WithDateTrunc sets the granularity date comparisons are truncated to.
// Default is day.
func WithDateTrunc(u expr.TruncUnit) Option {
	return func(t *Translator) { t.trunc = u }
}

// WithTimeZone sets the zone date columns are shifted to before truncation
// and the zone naive filter dates are interpreted in. Default is UTC.
// Returns an error from New when the name is not a known IANA zone.
func WithTimeZone(tz string) Option {
	return func(t *Translator) { t.tz = tz }
}

// WithColumnOption sets per-column translation options.
func WithColumnOption(column string, o ColumnOption) Option {
	return func(t *Translator) { t.options[column] = o }
}

// New builds a Translator over the given column mapping.
func New(columns map[string]expr.Column, options ...Option) (*Translator, error) {
	t := &Translator{
		columns: columns,
		options: map[string]ColumnOption{},
		trunc:   expr.TruncDay,
		tz:      "UTC",
	}
	for _, opt := range options {
		opt(t)
	}

	loc, err := time.LoadLocation(t.tz)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", t.tz, err)
	}
	t.loc = loc
	return t, nil
}

// Result is the translated request: predicates to AND into a WHERE clause
// and sort keys to prepend to an ORDER BY.
type Result struct {
	Filters []expr.Expression
	Sort    []expr.SortKey
}

// Translate maps req's filterModel and sortModel through the column mapping.
func (t *Translator) Translate(req *Request) (*Result, error) {
	if req == nil {
		return &Result{}, nil
	}

	res := &Result{}
	for column, filter := range req.FilterModel {
		e, err := t.filterExpr(column, filter)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", column, err)
		}
		res.Filters = append(res.Filters, e)
	}

	for _, s := range req.SortModel {
		key, err := t.sortKey(s)
		if err != nil {
			return nil, err
		}
		res.Sort = append(res.Sort, key)
	}
	return res, nil
}

func (t *Translator) column(name string) (expr.Column, error) {
	c, ok := t.columns[name]
	if !ok {
		return expr.Column{}, fmt.Errorf("%w: %s", kdb.ErrUnknownColumn, name)
	}
	return c, nil
}

func (t *Translator) sortKey(s Sort) (expr.SortKey, error) {
	c, err := t.column(s.ColID)
	if err != nil {
		return expr.SortKey{}, err
	}
	switch s.Sort {
	case "asc":
		return expr.Asc(c), nil
	case "desc":
		return expr.Desc(c), nil
	default:
		return expr.SortKey{}, fmt.Errorf("%w: sort direction %q", ErrBadFilter, s.Sort)
	}
}

func (t *Translator) filterExpr(column string, f *Filter) (expr.Expression, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: empty filter", ErrBadFilter)
	}
	c, err := t.column(column)
	if err != nil {
		return nil, err
	}

	switch {
	case f.Operator != "":
		return t.combined(c, f)

	case len(f.Values) > 0:
		return t.setFilter(column, c, f.Values), nil

	case f.FilterType != "":
		return t.typed(c, f)

	case len(f.Filter) > 0:
		// bare epoch-milliseconds pair: date range without filterType
		from, to, ok := f.filterMillisRange()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBadFilter, f.Filter)
		}
		return t.dateExpr(c, &Filter{
			Type:     "inRange",
			DateFrom: time.UnixMilli(from).UTC().Format(time.RFC3339),
			DateTo:   time.UnixMilli(to).UTC().Format(time.RFC3339),
		})

	default:
		return nil, fmt.Errorf("%w: no usable filter fields", ErrBadFilter)
	}
}

func (t *Translator) combined(c expr.Column, f *Filter) (expr.Expression, error) {
	conditions := f.conditions()
	if len(conditions) == 0 {
		return nil, fmt.Errorf("%w: operator %q without conditions", ErrBadFilter, f.Operator)
	}

	children := make([]expr.Expression, 0, len(conditions))
	for _, sub := range conditions {
		e, err := t.typed(c, sub)
		if err != nil {
			return nil, err
		}
		children = append(children, e)
	}

	switch f.Operator {
	case "AND":
		return expr.And(children...), nil
	case "OR":
		return expr.Or(children...), nil
	default:
		return nil, fmt.Errorf("%w: condition operator %q", ErrBadFilter, f.Operator)
	}
}

func (t *Translator) setFilter(column string, c expr.Column, values []string) expr.Expression {
	if t.options[column].ILike {
		return expr.ILikeAny(c, values)
	}
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return expr.In(c, vs)
}

func (t *Translator) typed(c expr.Column, f *Filter) (expr.Expression, error) {
	switch f.FilterType {
	case "text":
		return t.textExpr(c, f)
	case "number":
		return t.numberExpr(c, f)
	case "date":
		return t.dateExpr(c, f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, f.FilterType)
	}
}
