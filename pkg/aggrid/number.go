package aggrid

import (
	"fmt"

	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
)

// numberExpr translates one number-family condition.
//
// Ranges come in two shapes: `filter` + `filterTo` (what the grid sends for
// inRange), and a two-element `filter` array (the legacy between form).
func (t *Translator) numberExpr(c expr.Column, f *Filter) (expr.Expression, error) {
	switch f.Type {
	case "blank":
		return expr.IsNull(c), nil
	case "notBlank":
		return expr.NotNull(c), nil
	case "between", "inRange":
		if f.FilterTo != nil {
			lo, err := f.filterNumber()
			if err != nil {
				return nil, err
			}
			return expr.Between(c, lo, *f.FilterTo), nil
		}
		lo, hi, ok := f.filterNumberRange()
		if !ok {
			return nil, fmt.Errorf("%w: number range needs two bounds", ErrBadFilter)
		}
		return expr.Between(c, lo, hi), nil
	}

	value, err := f.filterNumber()
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case "equal", "equals":
		return expr.Eq(c, value), nil
	case "doesNotEqual", "notEqual":
		return expr.Ne(c, value), nil
	case "greaterThan":
		return expr.Gt(c, value), nil
	case "greaterThanOrEqualTo":
		return expr.Ge(c, value), nil
	case "lessThan":
		return expr.Lt(c, value), nil
	case "lessThanOrEqualTo":
		return expr.Le(c, value), nil
	default:
		return nil, fmt.Errorf("%w: number %q", ErrUnknownOperator, f.Type)
	}
}
