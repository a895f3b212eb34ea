package query

import (
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
)

// normalize maps pgx-decoded values into JSON-encodable Go values.
//
// pgx yields pgtype.Numeric for numeric columns, [16]byte for uuid and
// raw []byte for text-ish types without a registered decoder; clients
// expect plain numbers and strings.
func normalize(v any) any {
	switch v := v.(type) {
	case nil:
		return nil

	case pgtype.Numeric:
		if v.Status != pgtype.Present {
			return nil
		}
		var f float64
		if err := v.AssignTo(&f); err != nil {
			return v
		}
		return f

	case [16]byte:
		return uuid.UUID(v).String()

	case []byte:
		return string(v)

	case []interface{}:
		out := make([]any, len(v))
		for nth, item := range v {
			out[nth] = normalize(item)
		}
		return out

	default:
		return v
	}
}
