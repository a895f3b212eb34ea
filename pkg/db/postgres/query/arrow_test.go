package query_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/query"
	"github.com/TechPrismatica/tenantdb/pkg/utils/try"
)

func TestToArrow(t *testing.T) {
	t.Run("records become one batch with a sorted, inferred schema", func(t *testing.T) {
		createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		records := []kdb.Record{
			{"id": int64(1), "name": "alice", "score": 12.5, "active": true, "created_at": createdAt},
			{"id": int64(2), "name": "bob", "score": nil, "active": false, "created_at": createdAt},
		}

		mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
		batch := try.To(query.ToArrow(mem, records)).OrFatal(t)
		defer batch.Release()

		schema := batch.Schema()
		wantFields := []string{"active", "created_at", "id", "name", "score"}
		if len(schema.Fields()) != len(wantFields) {
			t.Fatalf("fields: %+v", schema.Fields())
		}
		for nth, name := range wantFields {
			if schema.Field(nth).Name != name {
				t.Errorf("field %d: got %s, want %s", nth, schema.Field(nth).Name, name)
			}
		}

		if batch.NumRows() != 2 {
			t.Fatalf("rows: got %d, want 2", batch.NumRows())
		}

		ids, ok := batch.Column(2).(*array.Int64)
		if !ok {
			t.Fatalf("id column: %T", batch.Column(2))
		}
		if ids.Value(0) != 1 || ids.Value(1) != 2 {
			t.Errorf("ids: %v", ids)
		}

		scores, ok := batch.Column(4).(*array.Float64)
		if !ok {
			t.Fatalf("score column: %T", batch.Column(4))
		}
		if scores.Value(0) != 12.5 {
			t.Errorf("score 0: got %v", scores.Value(0))
		}
		if !scores.IsNull(1) {
			t.Error("score 1 should be null")
		}

		stamps, ok := batch.Column(1).(*array.Timestamp)
		if !ok {
			t.Fatalf("created_at column: %T", batch.Column(1))
		}
		if int64(stamps.Value(0)) != createdAt.UnixMicro() {
			t.Errorf("created_at 0: got %d", stamps.Value(0))
		}
	})

	t.Run("an all-null column falls back to string", func(t *testing.T) {
		records := []kdb.Record{{"ghost": nil}, {"ghost": nil}}
		batch := try.To(query.ToArrow(nil, records)).OrFatal(t)
		defer batch.Release()

		if got := batch.Schema().Field(0).Type.ID(); got != arrow.STRING {
			t.Errorf("type: got %s, want STRING", got)
		}
		if !batch.Column(0).IsNull(0) || !batch.Column(0).IsNull(1) {
			t.Error("ghost values should be null")
		}
	})

	t.Run("no records make an empty batch", func(t *testing.T) {
		batch := try.To(query.ToArrow(nil, nil)).OrFatal(t)
		defer batch.Release()
		if batch.NumRows() != 0 {
			t.Errorf("rows: got %d, want 0", batch.NumRows())
		}
	})
}

func TestStreamArrow(t *testing.T) {
	records := []kdb.Record{
		{"id": int64(1)}, {"id": int64(2)}, {"id": int64(3)},
	}

	t.Run("chunking splits the stream into fixed-size batches", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := query.StreamArrow(buf, nil, records, 2); err != nil {
			t.Fatal(err)
		}

		reader := try.To(ipc.NewReader(buf)).OrFatal(t)
		defer reader.Release()

		sizes := []int64{}
		total := int64(0)
		for reader.Next() {
			sizes = append(sizes, reader.Record().NumRows())
			total += reader.Record().NumRows()
		}
		if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
			t.Errorf("batch sizes: %v", sizes)
		}
		if total != 3 {
			t.Errorf("rows: got %d, want 3", total)
		}
	})

	t.Run("without a chunk size everything travels in one batch", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := query.StreamArrow(buf, nil, records, 0); err != nil {
			t.Fatal(err)
		}

		reader := try.To(ipc.NewReader(buf)).OrFatal(t)
		defer reader.Release()

		batches := 0
		for reader.Next() {
			if reader.Record().NumRows() != 3 {
				t.Errorf("rows: got %d, want 3", reader.Record().NumRows())
			}
			batches++
		}
		if batches != 1 {
			t.Errorf("batches: got %d, want 1", batches)
		}
	})

	t.Run("an empty result is still a well-formed stream", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := query.StreamArrow(buf, nil, nil, 10); err != nil {
			t.Fatal(err)
		}

		reader := try.To(ipc.NewReader(buf)).OrFatal(t)
		defer reader.Release()

		for reader.Next() {
			if reader.Record().NumRows() != 0 {
				t.Errorf("rows: got %d, want 0", reader.Record().NumRows())
			}
		}
	})
}
