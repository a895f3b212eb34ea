// Package schema applies a versioned DDL repository to a database.
//
// The repository is a directory whose integer-named subdirectories are
// versions; each holds .sql files applied in lexical walk order. Applied
// versions are recorded in the "schema_version" table, created by version 1
// of the repository itself.
package schema

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	kpgerr "github.com/TechPrismatica/tenantdb/pkg/db/postgres/errors"
	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
)

type Repository struct {
	pool kpool.Pool
	root string
}

// New creates a Repository reading DDL from the directory root.
func New(pool kpool.Pool, root string) *Repository {
	return &Repository{pool: pool, root: root}
}

type version struct {
	Version int
	Root    string
}

func (v version) apply(ctx context.Context, conn kpool.Queryer) error {
	return filepath.WalkDir(v.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = conn.Exec(ctx, string(query))
		return err
	})
}

// Version reports the schema version recorded in the database;
// 0 when no version table exists yet.
func (s *Repository) Version(ctx context.Context) (int, error) {
	var version int
	if err := s.pool.QueryRow(
		ctx, `SELECT max("version") FROM "schema_version"`,
	).Scan(&version); err != nil {
		if kpgerr.IsUndefinedTable(err) {
			return 0, nil
		}
		return -1, err
	}
	return version, nil
}

// Upgrade applies, in one transaction, every repository version newer than
// what the database records.
func (s *Repository) Upgrade(ctx context.Context) error {
	versions, err := s.versions()
	if err != nil {
		return err
	}
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	pending := make([]version, 0, len(versions))
	for _, v := range versions {
		if v.Version > current {
			pending = append(pending, v)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range pending {
		if err := v.apply(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM "schema_version"`); err != nil {
			return err
		}
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO "schema_version" ("version") VALUES ($1)`,
			v.Version,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// versions lists the repository content, sorted by version number.
func (s *Repository) versions() ([]version, error) {
	dir, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	versions := make([]version, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}
		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, version{
			Version: v,
			Root:    filepath.Join(s.root, entry.Name()),
		})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})
	return versions, nil
}
