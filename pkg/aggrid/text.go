package aggrid

import (
	"fmt"

	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
)

// textExpr translates one text-family condition. Matching is
// case-insensitive (ILIKE); blank means NULL.
func (t *Translator) textExpr(c expr.Column, f *Filter) (expr.Expression, error) {
	// blank/notBlank carry no value
	switch f.Type {
	case "blank":
		return expr.IsNull(c), nil
	case "notBlank":
		return expr.NotNull(c), nil
	}

	value, err := f.filterString()
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case "contains":
		return expr.ILike(c, "%"+value+"%"), nil
	case "notContains":
		return expr.NotILike(c, "%"+value+"%"), nil
	case "equals":
		return expr.Eq(c, value), nil
	case "notEqual":
		return expr.Ne(c, value), nil
	case "startsWith":
		return expr.ILike(c, value+"%"), nil
	case "endsWith":
		return expr.ILike(c, "%"+value), nil
	default:
		return nil, fmt.Errorf("%w: text %q", ErrUnknownOperator, f.Type)
	}
}
