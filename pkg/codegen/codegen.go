// Package codegen reflects tenant database schemas into Go model source.
//
// The Generator inspects information_schema through an open pool, renders
// one model file per (tenant, database, schema) and caches what it has
// already written so repeated sessions do not regenerate unchanged
// schemas. A watcher on the migrations directory drops the cache whenever
// the DDL changes.
package codegen

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/session"
	xe "github.com/TechPrismatica/tenantdb/pkg/errors"
)

type Generator struct {
	mu   sync.Mutex
	done map[string]bool

	// trustDisk lets a pre-existing model file count as done. It is
	// dropped on Invalidate so stale files get rewritten.
	trustDisk bool

	dir          string
	pkg          string
	deferRefresh bool
	logger       *log.Logger
}

type GeneratorOption func(*Generator)

// WithPackage sets the package name of generated files. Default "models".
func WithPackage(name string) GeneratorOption {
	return func(g *Generator) { g.pkg = name }
}

// WithDeferRefresh skips regeneration when the model file already exists,
// until the cache is invalidated.
func WithDeferRefresh(d bool) GeneratorOption {
	return func(g *Generator) { g.deferRefresh = d }
}

func WithGeneratorLogger(l *log.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator writes model files under dir.
func NewGenerator(dir string, options ...GeneratorOption) *Generator {
	g := &Generator{
		done:      map[string]bool{},
		trustDisk: true,
		dir:       dir,
		pkg:       "models",
		logger:    log.Default(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// FileFor is the path of the model file for (database, tenant, schemaName).
func (g *Generator) FileFor(database, tenant, schemaName string) string {
	qualified := session.QualifiedDatabase(database, tenant)
	return filepath.Join(g.dir, qualified+"_"+schemaName+".go")
}

// Refresh regenerates the model file for (database, tenant, schemaName)
// from the live schema behind q, and returns its path.
//
// With deferred refresh enabled, an existing file is kept as is until
// Invalidate is called.
func (g *Generator) Refresh(
	ctx context.Context, q kpool.Queryer,
	database, tenant, schemaName string,
) (string, error) {
	path := g.FileFor(database, tenant, schemaName)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deferRefresh {
		if g.done[path] {
			return path, nil
		}
		if g.trustDisk {
			if _, err := os.Stat(path); err == nil {
				g.done[path] = true
				return path, nil
			}
		}
	}

	tables, err := Inspect(ctx, q, schemaName)
	if err != nil {
		return "", xe.WrapWithNote("inspecting "+schemaName, err)
	}
	src, err := Generate(g.pkg, tables)
	if err != nil {
		return "", xe.Wrap(err)
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", xe.Wrap(err)
	}
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", xe.Wrap(err)
	}

	g.done[path] = true
	g.logger.Printf("generated %s (%d tables)", path, len(tables))
	return path, nil
}

// Invalidate drops the refresh cache so the next Refresh regenerates,
// even over a model file already on disk.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done = map[string]bool{}
	g.trustDisk = false
}

// Watch invalidates the refresh cache whenever something under dir
// changes, until ctx is cancelled. Intended for the migrations
// directory: new DDL means generated models may be stale.
func (g *Generator) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xe.Wrap(err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return xe.WrapWithNote("watching "+dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				g.logger.Printf("schema source changed (%s); dropping model cache", ev.Name)
				g.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.logger.Printf("watching %s: %s", dir, err)
		}
	}
}
