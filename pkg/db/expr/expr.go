// Package expr models boolean predicates and sort keys as small expression
// trees, rendered to PostgreSQL text with positional placeholders.
//
// All values travel as statement arguments; only identifiers, operators and
// validated keywords (truncation units) are interpolated into SQL text.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Params allocates positional placeholders for one statement.
//
// The zero value is ready to use. Bind returns "$n" for the next free
// position and records the argument.
type Params struct {
	args []any
}

func (p *Params) Bind(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

// Args returns arguments bound so far, in placeholder order.
func (p *Params) Args() []any {
	return p.args
}

// Expression is a boolean SQL fragment.
type Expression interface {
	SQL(p *Params) string
}

// Operand is a value-typed SQL fragment: a column reference, a bound
// constant, or a function wrapping another operand.
type Operand interface {
	OperandSQL(p *Params) string
}

// Column is a reference to a column, optionally qualified ("table.column").
type Column struct {
	Name string
}

func Col(name string) Column {
	return Column{Name: name}
}

func (c Column) OperandSQL(*Params) string {
	return quoteIdent(c.Name)
}

// quoteIdent quotes each dot-separated part of name.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Value is a constant bound as a statement argument.
type Value struct {
	V any
}

func Val(v any) Value {
	return Value{V: v}
}

func (v Value) OperandSQL(p *Params) string {
	return p.Bind(v.V)
}

type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

type comparison struct {
	left  Operand
	op    CompareOp
	right Operand
}

func (c comparison) SQL(p *Params) string {
	return c.left.OperandSQL(p) + " " + string(c.op) + " " + c.right.OperandSQL(p)
}

// Compare builds `left op right`.
func Compare(left Operand, op CompareOp, right Operand) Expression {
	return comparison{left: left, op: op, right: right}
}

func Eq(left Operand, v any) Expression { return Compare(left, OpEq, Val(v)) }
func Ne(left Operand, v any) Expression { return Compare(left, OpNe, Val(v)) }
func Lt(left Operand, v any) Expression { return Compare(left, OpLt, Val(v)) }
func Le(left Operand, v any) Expression { return Compare(left, OpLe, Val(v)) }
func Gt(left Operand, v any) Expression { return Compare(left, OpGt, Val(v)) }
func Ge(left Operand, v any) Expression { return Compare(left, OpGe, Val(v)) }

type between struct {
	target   Operand
	lo, hi   Operand
	negateIt bool
}

func (b between) SQL(p *Params) string {
	kw := " BETWEEN "
	if b.negateIt {
		kw = " NOT BETWEEN "
	}
	return b.target.OperandSQL(p) + kw + b.lo.OperandSQL(p) + " AND " + b.hi.OperandSQL(p)
}

func Between(target Operand, lo, hi any) Expression {
	return between{target: target, lo: Val(lo), hi: Val(hi)}
}

func NotBetween(target Operand, lo, hi any) Expression {
	return between{target: target, lo: Val(lo), hi: Val(hi), negateIt: true}
}

type in struct {
	target Operand
	values []any
}

func (i in) SQL(p *Params) string {
	if len(i.values) == 0 {
		// IN over the empty set never matches
		return "FALSE"
	}
	placeholders := make([]string, len(i.values))
	for nth, v := range i.values {
		placeholders[nth] = p.Bind(v)
	}
	return i.target.OperandSQL(p) + " IN (" + strings.Join(placeholders, ", ") + ")"
}

func In(target Operand, values []any) Expression {
	return in{target: target, values: values}
}

type likeMatch struct {
	target  Operand
	pattern string
	negate  bool
}

func (l likeMatch) SQL(p *Params) string {
	op := " ILIKE "
	if l.negate {
		op = " NOT ILIKE "
	}
	return l.target.OperandSQL(p) + op + p.Bind(l.pattern)
}

// ILike matches case-insensitively against pattern ("%" and "_" wildcards).
func ILike(target Operand, pattern string) Expression {
	return likeMatch{target: target, pattern: pattern}
}

func NotILike(target Operand, pattern string) Expression {
	return likeMatch{target: target, pattern: pattern, negate: true}
}

type ilikeAny struct {
	target   Operand
	patterns []string
}

func (l ilikeAny) SQL(p *Params) string {
	if len(l.patterns) == 0 {
		return "FALSE"
	}
	return l.target.OperandSQL(p) + " ILIKE ANY(" + p.Bind(l.patterns) + ")"
}

// ILikeAny matches case-insensitively against any of patterns,
// rendered as `col ILIKE ANY($n)` with the pattern list as one array argument.
func ILikeAny(target Operand, patterns []string) Expression {
	return ilikeAny{target: target, patterns: patterns}
}

type nullCheck struct {
	target Operand
	negate bool
}

func (n nullCheck) SQL(p *Params) string {
	if n.negate {
		return n.target.OperandSQL(p) + " IS NOT NULL"
	}
	return n.target.OperandSQL(p) + " IS NULL"
}

func IsNull(target Operand) Expression  { return nullCheck{target: target} }
func NotNull(target Operand) Expression { return nullCheck{target: target, negate: true} }

type conjunction struct {
	op       string
	children []Expression
}

func (c conjunction) SQL(p *Params) string {
	switch len(c.children) {
	case 0:
		return "TRUE"
	case 1:
		return c.children[0].SQL(p)
	}
	parts := make([]string, len(c.children))
	for nth, child := range c.children {
		parts[nth] = child.SQL(p)
	}
	return "(" + strings.Join(parts, ") "+c.op+" (") + ")"
}

// And joins children with AND. With no children it renders TRUE.
func And(children ...Expression) Expression {
	return conjunction{op: "AND", children: children}
}

// Or joins children with OR. With no children it renders TRUE.
func Or(children ...Expression) Expression {
	return conjunction{op: "OR", children: children}
}

type raw struct {
	sql  string
	args []any
}

// Raw is an escape hatch for fragments this package does not model.
// Each "?" in sql is replaced with the next positional placeholder.
func Raw(sql string, args ...any) Expression {
	return raw{sql: sql, args: args}
}

func (r raw) SQL(p *Params) string {
	out := r.sql
	for _, a := range r.args {
		out = strings.Replace(out, "?", p.Bind(a), 1)
	}
	return out
}

// TruncUnit is a date_trunc granularity.
type TruncUnit string

const (
	TruncYear        TruncUnit = "year"
	TruncMonth       TruncUnit = "month"
	TruncDay         TruncUnit = "day"
	TruncHour        TruncUnit = "hour"
	TruncMinute      TruncUnit = "minute"
	TruncSecond      TruncUnit = "second"
	TruncMillisecond TruncUnit = "milliseconds"
)

var truncUnits = map[TruncUnit]bool{
	TruncYear: true, TruncMonth: true, TruncDay: true, TruncHour: true,
	TruncMinute: true, TruncSecond: true, TruncMillisecond: true,
}

// AsTruncUnit validates s as a truncation granularity.
func AsTruncUnit(s string) (TruncUnit, error) {
	u := TruncUnit(s)
	if s == "millisecond" {
		u = TruncMillisecond
	}
	if !truncUnits[u] {
		return "", fmt.Errorf("unknown truncation unit: %s", s)
	}
	return u, nil
}

type dateTrunc struct {
	unit   TruncUnit
	target Operand
	tz     string
}

func (d dateTrunc) OperandSQL(p *Params) string {
	target := d.target.OperandSQL(p)
	if d.tz != "" {
		target = "(" + target + " AT TIME ZONE " + quoteLiteral(d.tz) + ")"
	}
	return "date_trunc(" + quoteLiteral(string(d.unit)) + ", " + target + ")"
}

// DateTrunc truncates target to unit, optionally shifting to time zone tz
// first. unit must come from AsTruncUnit or the Trunc* constants; tz, when
// non-empty, should be an IANA zone name validated by the caller.
func DateTrunc(unit TruncUnit, target Operand, tz string) Operand {
	return dateTrunc{unit: unit, target: target, tz: tz}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SortKey is one ORDER BY entry.
type SortKey struct {
	Target     Operand
	Descending bool
}

func Asc(target Operand) SortKey  { return SortKey{Target: target} }
func Desc(target Operand) SortKey { return SortKey{Target: target, Descending: true} }

func (s SortKey) SQL(p *Params) string {
	if s.Descending {
		return s.Target.OperandSQL(p) + " DESC"
	}
	return s.Target.OperandSQL(p) + " ASC"
}
