package query

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
)

// ToArrow encodes records into one Arrow record batch. The schema is
// inferred from the first non-null value of each column; columns appear
// in sorted name order and every field is nullable. Release the returned
// record when done with it.
func ToArrow(mem memory.Allocator, records []kdb.Record) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return buildBatch(mem, inferSchema(records), records)
}

// StreamArrow writes records to w as one Arrow IPC stream, split into
// batches of at most chunk rows. chunk <= 0 streams a single batch.
func StreamArrow(w io.Writer, mem memory.Allocator, records []kdb.Record, chunk int) error {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if chunk <= 0 || chunk > len(records) {
		chunk = len(records)
	}
	if chunk == 0 {
		chunk = 1
	}

	schema := inferSchema(records)
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	for start := 0; start == 0 || start < len(records); start += chunk {
		end := start + chunk
		if end > len(records) {
			end = len(records)
		}
		batch, err := buildBatch(mem, schema, records[start:end])
		if err != nil {
			return err
		}
		err = writer.Write(batch)
		batch.Release()
		if err != nil {
			return err
		}
	}
	return writer.Close()
}

func buildBatch(mem memory.Allocator, schema *arrow.Schema, records []kdb.Record) (arrow.Record, error) {
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for _, record := range records {
		for nth, field := range schema.Fields() {
			if err := appendValue(builder.Field(nth), record[field.Name]); err != nil {
				return nil, fmt.Errorf("column %q: %w", field.Name, err)
			}
		}
	}
	return builder.NewRecord(), nil
}

func inferSchema(records []kdb.Record) *arrow.Schema {
	names := map[string]bool{}
	for _, record := range records {
		for column := range record {
			names[column] = true
		}
	}
	columns := make([]string, 0, len(names))
	for column := range names {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	fields := make([]arrow.Field, len(columns))
	for nth, column := range columns {
		fields[nth] = arrow.Field{
			Name:     column,
			Type:     inferType(records, column),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil)
}

func inferType(records []kdb.Record, column string) arrow.DataType {
	for _, record := range records {
		switch record[column].(type) {
		case nil:
			continue
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case int16, int32, int64, int:
			return arrow.PrimitiveTypes.Int64
		case float32, float64:
			return arrow.PrimitiveTypes.Float64
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us
		default:
			return arrow.BinaryTypes.String
		}
	}
	// all-null column; string carries nothing but keeps the shape
	return arrow.BinaryTypes.String
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.BooleanBuilder:
		value, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		b.Append(value)

	case *array.Int64Builder:
		switch value := v.(type) {
		case int16:
			b.Append(int64(value))
		case int32:
			b.Append(int64(value))
		case int64:
			b.Append(value)
		case int:
			b.Append(int64(value))
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}

	case *array.Float64Builder:
		switch value := v.(type) {
		case float32:
			b.Append(float64(value))
		case float64:
			b.Append(value)
		case int64:
			b.Append(float64(value))
		default:
			return fmt.Errorf("expected float, got %T", v)
		}

	case *array.TimestampBuilder:
		value, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected timestamp, got %T", v)
		}
		b.Append(arrow.Timestamp(value.UTC().UnixMicro()))

	case *array.StringBuilder:
		if value, ok := v.(string); ok {
			b.Append(value)
			return nil
		}
		b.Append(fmt.Sprintf("%v", v))

	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
