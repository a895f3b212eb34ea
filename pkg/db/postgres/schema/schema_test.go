package schema_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	"github.com/TechPrismatica/tenantdb/internal/fakepool"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/schema"
	"github.com/TechPrismatica/tenantdb/pkg/utils"
	"github.com/TechPrismatica/tenantdb/pkg/utils/cmp"
	"github.com/TechPrismatica/tenantdb/pkg/utils/try"
)

// repository builds a DDL directory: version -> filename -> content.
func repository(t *testing.T, versions map[string]map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for version, files := range versions {
		dir := filepath.Join(root, version)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func noVersionTable() pgx.Row {
	return &fakepool.Row{NextErr: &pgconn.PgError{Code: pgerrcode.UndefinedTable}}
}

func atVersion(v int) pgx.Row {
	return &fakepool.Row{Values: []interface{}{v}}
}

func TestRepository_Version(t *testing.T) {
	ctx := context.Background()

	t.Run("a database without the version table is at 0", func(t *testing.T) {
		pool := &fakepool.Pool{}
		pool.NextQueryRow = []pgx.Row{noVersionTable()}

		got := try.To(schema.New(pool, t.TempDir()).Version(ctx)).OrFatal(t)
		if got != 0 {
			t.Errorf("got %d, want 0", got)
		}
	})

	t.Run("it reads the recorded version", func(t *testing.T) {
		pool := &fakepool.Pool{}
		pool.NextQueryRow = []pgx.Row{atVersion(3)}

		got := try.To(schema.New(pool, t.TempDir()).Version(ctx)).OrFatal(t)
		if got != 3 {
			t.Errorf("got %d, want 3", got)
		}
	})
}

func TestRepository_Upgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("a fresh database gets every version, in order, in one transaction", func(t *testing.T) {
		root := repository(t, map[string]map[string]string{
			"1": {
				"a_table.sql": `CREATE TABLE "a" ("id" bigint);`,
				"b_table.sql": `CREATE TABLE "b" ("id" bigint);`,
			},
			"2": {"index.sql": `CREATE INDEX "ix_a" ON "a" ("id");`},
		})

		pool := &fakepool.Pool{}
		tx := &fakepool.Tx{Host: pool}
		pool.NextBegin.Tx = tx
		pool.NextQueryRow = []pgx.Row{noVersionTable()}

		if err := schema.New(pool, root).Upgrade(ctx); err != nil {
			t.Fatal(err)
		}
		if !tx.Committed {
			t.Error("upgrade is not committed")
		}

		sqls := utils.Map(pool.Calls, func(c fakepool.Call) string { return c.SQL })
		want := []string{
			`SELECT max("version") FROM "schema_version"`,
			`CREATE TABLE "a" ("id" bigint);`,
			`CREATE TABLE "b" ("id" bigint);`,
			`DELETE FROM "schema_version"`,
			`INSERT INTO "schema_version" ("version") VALUES ($1)`,
			`CREATE INDEX "ix_a" ON "a" ("id");`,
			`DELETE FROM "schema_version"`,
			`INSERT INTO "schema_version" ("version") VALUES ($1)`,
		}
		if !cmp.SliceEq(sqls, want) {
			t.Errorf("statements:\n got: %+v\nwant: %+v", sqls, want)
		}
	})

	t.Run("only versions newer than the recorded one are applied", func(t *testing.T) {
		root := repository(t, map[string]map[string]string{
			"1": {"old.sql": `CREATE TABLE "a" ("id" bigint);`},
			"2": {"new.sql": `CREATE INDEX "ix_a" ON "a" ("id");`},
		})

		pool := &fakepool.Pool{}
		tx := &fakepool.Tx{Host: pool}
		pool.NextBegin.Tx = tx
		pool.NextQueryRow = []pgx.Row{atVersion(1)}

		if err := schema.New(pool, root).Upgrade(ctx); err != nil {
			t.Fatal(err)
		}

		sqls := utils.Map(pool.Calls, func(c fakepool.Call) string { return c.SQL })
		for _, sql := range sqls {
			if sql == `CREATE TABLE "a" ("id" bigint);` {
				t.Error("version 1 is applied again")
			}
		}
		if sqls[1] != `CREATE INDEX "ix_a" ON "a" ("id");` {
			t.Errorf("statements: %+v", sqls)
		}
	})

	t.Run("an up-to-date database is left alone", func(t *testing.T) {
		root := repository(t, map[string]map[string]string{
			"1": {"old.sql": `CREATE TABLE "a" ("id" bigint);`},
		})

		pool := &fakepool.Pool{}
		pool.NextQueryRow = []pgx.Row{atVersion(1)}

		if err := schema.New(pool, root).Upgrade(ctx); err != nil {
			t.Fatal(err)
		}
		// only the version lookup goes out
		if len(pool.Calls) != 1 {
			t.Errorf("statements: %+v", pool.Calls)
		}
	})

	t.Run("non-version directory entries are ignored", func(t *testing.T) {
		root := repository(t, map[string]map[string]string{
			"1":     {"a.sql": `CREATE TABLE "a" ("id" bigint);`},
			"notes": {"readme.sql": `DROP TABLE "a";`},
		})

		pool := &fakepool.Pool{}
		tx := &fakepool.Tx{Host: pool}
		pool.NextBegin.Tx = tx
		pool.NextQueryRow = []pgx.Row{noVersionTable()}

		if err := schema.New(pool, root).Upgrade(ctx); err != nil {
			t.Fatal(err)
		}
		for _, c := range pool.Calls {
			if c.SQL == `DROP TABLE "a";` {
				t.Error("non-version directory was applied")
			}
		}
	})
}
