package codegen_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TechPrismatica/tenantdb/internal/fakepool"
	"github.com/TechPrismatica/tenantdb/pkg/codegen"
	"github.com/TechPrismatica/tenantdb/pkg/utils/try"
)

// inspectable queues one Inspect round (columns + primary keys) on pool.
func inspectable(pool *fakepool.Pool, table string) {
	pool.NextQuery = append(
		pool.NextQuery,
		fakepool.QueryResult{Rows: fakepool.NewRows(columnFields, [][]interface{}{
			{table, "id", "bigint", "NO", "", 1},
		})},
		fakepool.QueryResult{Rows: fakepool.NewRows(keyFields, [][]interface{}{
			{table, "id"},
		})},
	)
}

func TestGenerator_FileFor(t *testing.T) {
	g := codegen.NewGenerator("/tmp/models")

	t.Run("the file name carries tenant, database and schema", func(t *testing.T) {
		got := g.FileFor("billing", "acme", "public")
		if got != filepath.Join("/tmp/models", "acme__billing_public.go") {
			t.Errorf("path: %s", got)
		}
	})

	t.Run("the empty tenant maps onto the bare database name", func(t *testing.T) {
		got := g.FileFor("billing", "", "public")
		if got != filepath.Join("/tmp/models", "billing_public.go") {
			t.Errorf("path: %s", got)
		}
	})
}

func TestGenerator_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("it writes a model file for the live schema", func(t *testing.T) {
		dir := t.TempDir()
		pool := &fakepool.Pool{}
		inspectable(pool, "orders")

		g := codegen.NewGenerator(filepath.Join(dir, "models"))
		path := try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		src := string(try.To(os.ReadFile(path)).OrFatal(t))
		if !strings.Contains(src, "type Orders struct {") {
			t.Errorf("source:\n%s", src)
		}
		if !strings.Contains(src, "package models") {
			t.Errorf("source:\n%s", src)
		}
	})

	t.Run("without deferred refresh every call regenerates", func(t *testing.T) {
		dir := t.TempDir()
		pool := &fakepool.Pool{}
		inspectable(pool, "orders")
		inspectable(pool, "orders")

		g := codegen.NewGenerator(dir)
		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)
		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		if len(pool.Calls) != 4 {
			t.Errorf("sent %d queries, want 4", len(pool.Calls))
		}
	})

	t.Run("deferred refresh inspects once per schema", func(t *testing.T) {
		dir := t.TempDir()
		pool := &fakepool.Pool{}
		inspectable(pool, "orders")

		g := codegen.NewGenerator(dir, codegen.WithDeferRefresh(true))
		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)
		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		if len(pool.Calls) != 2 {
			t.Errorf("sent %d queries, want 2", len(pool.Calls))
		}
	})

	t.Run("deferred refresh trusts a file left by an earlier run", func(t *testing.T) {
		dir := t.TempDir()
		pool := &fakepool.Pool{}

		g := codegen.NewGenerator(dir, codegen.WithDeferRefresh(true))
		path := g.FileFor("billing", "acme", "public")
		if err := os.WriteFile(path, []byte("package models\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		got := try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)
		if got != path {
			t.Errorf("path: got %s, want %s", got, path)
		}
		if len(pool.Calls) != 0 {
			t.Errorf("sent %d queries, want 0", len(pool.Calls))
		}
	})

	t.Run("invalidation forces regeneration over an existing file", func(t *testing.T) {
		dir := t.TempDir()
		pool := &fakepool.Pool{}
		inspectable(pool, "orders")
		inspectable(pool, "customers")

		g := codegen.NewGenerator(dir, codegen.WithDeferRefresh(true))
		path := try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		g.Invalidate()
		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		src := string(try.To(os.ReadFile(path)).OrFatal(t))
		if !strings.Contains(src, "type Customers struct {") {
			t.Errorf("stale model survived invalidation:\n%s", src)
		}
	})
}

func TestGenerator_Watch(t *testing.T) {
	t.Run("a change under the watched directory drops the cache", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dir := t.TempDir()
		watched := t.TempDir()
		pool := &fakepool.Pool{}
		inspectable(pool, "orders")

		g := codegen.NewGenerator(dir, codegen.WithDeferRefresh(true))
		done := make(chan error, 1)
		go func() { done <- g.Watch(ctx, watched) }()

		try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)

		if err := os.WriteFile(filepath.Join(watched, "0001.sql"), []byte("CREATE TABLE x ();"), 0o644); err != nil {
			t.Fatal(err)
		}

		// wait for the watcher to pick the event up
		deadline := time.Now().Add(3 * time.Second)
		for {
			inspectable(pool, "orders")
			before := len(pool.Calls)
			try.To(g.Refresh(ctx, pool, "billing", "acme", "public")).OrFatal(t)
			if len(pool.Calls) > before {
				break
			}
			pool.NextQuery = nil
			if time.Now().After(deadline) {
				t.Fatal("cache was never invalidated")
			}
			time.Sleep(10 * time.Millisecond)
		}

		cancel()
		if err := <-done; err != context.Canceled {
			t.Errorf("watch: got %v, want context.Canceled", err)
		}
	})
}
