package handlers_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TechPrismatica/tenantdb/cmd/tenantdb/handlers"
	"github.com/TechPrismatica/tenantdb/internal/fakepool"
	"github.com/TechPrismatica/tenantdb/pkg/codegen"
)

var inspectColumnFields = []fakepool.Field{
	{Name: "table_name"}, {Name: "column_name"}, {Name: "data_type"},
	{Name: "is_nullable"}, {Name: "column_default"}, {Name: "ordinal_position"},
}

var inspectKeyFields = []fakepool.Field{
	{Name: "table_name"}, {Name: "column_name"},
}

func inspectablePool() *fakepool.Pool {
	pool := &fakepool.Pool{}
	pool.NextQuery = []fakepool.QueryResult{
		{Rows: fakepool.NewRows(inspectColumnFields, [][]interface{}{
			{"users", "id", "bigint", "NO", "", 1},
			{"users", "name", "text", "YES", "", 2},
		})},
		{Rows: fakepool.NewRows(inspectKeyFields, [][]interface{}{
			{"users", "id"},
		})},
	}
	return pool
}

func TestSchemaHandler(t *testing.T) {
	t.Run("it reports tables, columns and primary keys", func(t *testing.T) {
		db := &fakeDatabases{pool: inspectablePool()}

		c, rec := newContext(http.MethodGet, "/api/billing/schema", "")
		if err := handlers.SchemaHandler(db, "public")(c); err != nil {
			t.Fatal(err)
		}

		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d", rec.Code)
		}

		got := []codegen.TableSchema{}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Name != "users" {
			t.Fatalf("tables: %+v", got)
		}
		if len(got[0].Columns) != 2 || !got[0].Columns[1].Nullable {
			t.Errorf("columns: %+v", got[0].Columns)
		}
		if len(got[0].PrimaryKey) != 1 || got[0].PrimaryKey[0] != "id" {
			t.Errorf("primary key: %+v", got[0].PrimaryKey)
		}
	})

	t.Run("the pool is released once the schema is served", func(t *testing.T) {
		db := &fakeDatabases{pool: inspectablePool()}

		c, _ := newContext(http.MethodGet, "/api/billing/schema", "")
		if err := handlers.SchemaHandler(db, "public")(c); err != nil {
			t.Fatal(err)
		}
		if db.released != 1 {
			t.Errorf("released %d times, want 1", db.released)
		}
	})

	t.Run("a schema which is no identifier is rejected", func(t *testing.T) {
		db := &fakeDatabases{pool: &fakepool.Pool{}}

		c, _ := newContext(http.MethodGet, "/api/billing/schema?schema=pg%20temp", "")

		err := handlers.SchemaHandler(db, "public")(c)
		if got := statusOf(t, err); got != http.StatusBadRequest {
			t.Errorf("status: got %d, want %d", got, http.StatusBadRequest)
		}
	})
}

func TestModelsHandler(t *testing.T) {
	t.Run("it writes the model file and reports its path", func(t *testing.T) {
		dir := t.TempDir()
		db := &fakeDatabases{pool: inspectablePool()}
		gen := codegen.NewGenerator(filepath.Join(dir, "models"))

		c, rec := newContext(http.MethodPost, "/api/billing/models", "")
		if err := handlers.ModelsHandler(db, gen, "public")(c); err != nil {
			t.Fatal(err)
		}

		got := map[string]string{}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		src, err := os.ReadFile(got["path"])
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(src), "type Users struct {") {
			t.Errorf("source:\n%s", src)
		}
	})
}
