package aggrid

import (
	"fmt"
	"time"

	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
)

// dateLayouts are the formats grid clients are known to send, tried in
// order. Naive layouts are interpreted in the translator's time zone.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
}

func (t *Translator) parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, t.loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse date %q", ErrBadFilter, s)
}

// dateExpr translates one date-family condition. The column is truncated
// to the configured granularity, shifted to the configured zone, before
// comparison, so "equals 2024-03-01" matches the whole local day.
func (t *Translator) dateExpr(c expr.Column, f *Filter) (expr.Expression, error) {
	switch f.Type {
	case "blank":
		return expr.IsNull(c), nil
	case "notBlank":
		return expr.NotNull(c), nil
	}

	target := expr.DateTrunc(t.trunc, c, t.tz)

	if f.Type == "between" || f.Type == "inRange" {
		from, err := t.parseDate(f.DateFrom)
		if err != nil {
			return nil, err
		}
		to, err := t.parseDate(f.DateTo)
		if err != nil {
			return nil, err
		}
		return expr.Between(target, from, to), nil
	}

	value, err := t.parseDate(f.DateFrom)
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case "equals":
		return expr.Eq(target, value), nil
	case "notEqual", "doesNotEqual":
		return expr.Ne(target, value), nil
	case "before", "lessThan":
		return expr.Lt(target, value), nil
	case "after", "greaterThan":
		return expr.Gt(target, value), nil
	case "greaterThanOrEqualTo":
		return expr.Ge(target, value), nil
	case "lessThanOrEqualTo":
		return expr.Le(target, value), nil
	default:
		return nil, fmt.Errorf("%w: date %q", ErrUnknownOperator, f.Type)
	}
}
