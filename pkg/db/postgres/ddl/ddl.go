// Package ddl builds the administrative statements the service issues when
// preparing a database: extensions, postgres_fdw plumbing for cross-database
// tables, and sequence-backed id helper functions.
//
// These statements name identifiers directly (DDL takes no bind parameters),
// so every identifier and option value is quoted here.
package ddl

import (
	"context"
	"fmt"
	"strings"

	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
)

// Statement is one executable DDL command.
type Statement interface {
	DDL() string
}

// Apply executes statements in order.
func Apply(ctx context.Context, q kpool.Queryer, statements ...Statement) error {
	for _, s := range statements {
		if _, err := q.Exec(ctx, s.DDL()); err != nil {
			return fmt.Errorf("%T: %w", s, err)
		}
	}
	return nil
}

type CreateExtension struct {
	Name string
}

func (c CreateExtension) DDL() string {
	return fmt.Sprintf("CREATE EXTENSION IF NOT EXISTS %s;", quoteIdent(c.Name))
}

// CreateServer declares a postgres_fdw foreign server.
type CreateServer struct {
	ServerName   string
	RemoteDBName string
	RemoteHost   string
	RemotePort   int
}

func (c CreateServer) DDL() string {
	return fmt.Sprintf(
		`CREATE SERVER IF NOT EXISTS %s
FOREIGN DATA WRAPPER postgres_fdw
OPTIONS (dbname %s, host %s, port %s);`,
		quoteIdent(c.ServerName),
		quoteLiteral(c.RemoteDBName),
		quoteLiteral(c.RemoteHost),
		quoteLiteral(fmt.Sprintf("%d", c.RemotePort)),
	)
}

type DropServer struct {
	ServerName string
}

func (d DropServer) DDL() string {
	return fmt.Sprintf("DROP SERVER IF EXISTS %s CASCADE;", quoteIdent(d.ServerName))
}

type CreateUserMapping struct {
	Role           string
	ServerName     string
	RemoteRole     string
	RemotePassword string
}

func (c CreateUserMapping) DDL() string {
	return fmt.Sprintf(
		`CREATE USER MAPPING FOR %s
SERVER %s
OPTIONS (user %s, password %s);`,
		quoteIdent(c.Role),
		quoteIdent(c.ServerName),
		quoteLiteral(c.RemoteRole),
		quoteLiteral(c.RemotePassword),
	)
}

type DropUserMapping struct {
	Role       string
	ServerName string
}

func (d DropUserMapping) DDL() string {
	return fmt.Sprintf(
		"DROP USER MAPPING IF EXISTS FOR %s SERVER %s;",
		quoteIdent(d.Role), quoteIdent(d.ServerName),
	)
}

// Column describes one column of a foreign table.
type Column struct {
	Name string
	Type string
}

type CreateForeignTable struct {
	LocalSchema string // defaults to public
	TableName   string
	Columns     []Column
	ServerName  string

	RemoteSchema string
	RemoteTable  string
}

func (c CreateForeignTable) DDL() string {
	schema := c.LocalSchema
	if schema == "" {
		schema = "public"
	}
	cols := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = quoteIdent(col.Name) + " " + col.Type
	}
	return fmt.Sprintf(
		`CREATE FOREIGN TABLE %s.%s
(%s)
SERVER %s
OPTIONS (schema_name %s, table_name %s);`,
		quoteIdent(schema), quoteIdent(c.TableName),
		strings.Join(cols, ", "),
		quoteIdent(c.ServerName),
		quoteLiteral(c.RemoteSchema),
		quoteLiteral(c.RemoteTable),
	)
}

type DropForeignTable struct {
	Name string
}

func (d DropForeignTable) DDL() string {
	return fmt.Sprintf("DROP FOREIGN TABLE IF EXISTS %s;", quoteIdent(d.Name))
}

// CreatePrefixedIDFunction installs a plpgsql function
// `name(prefix TEXT, seq_name TEXT)` returning prefix || nextval(seq_name).
type CreatePrefixedIDFunction struct {
	FunctionName string
}

func (c CreatePrefixedIDFunction) DDL() string {
	return fmt.Sprintf(
		`CREATE OR REPLACE FUNCTION %s(prefix TEXT, seq_name TEXT)
RETURNS TEXT
AS $$
DECLARE
  next_val INTEGER;
BEGIN
  next_val := nextval(seq_name);
  RETURN prefix || next_val;
END;
$$ LANGUAGE plpgsql;`,
		quoteIdent(c.FunctionName),
	)
}

// CreateSuffixedIDFunction installs a plpgsql function
// `name(seq_name TEXT, suffix TEXT)` returning nextval(seq_name) || suffix.
type CreateSuffixedIDFunction struct {
	FunctionName string
}

func (c CreateSuffixedIDFunction) DDL() string {
	return fmt.Sprintf(
		`CREATE OR REPLACE FUNCTION %s(seq_name TEXT, suffix TEXT)
RETURNS TEXT
AS $$
DECLARE
  next_val INTEGER;
BEGIN
  next_val := nextval(seq_name);
  RETURN next_val || suffix;
END;
$$ LANGUAGE plpgsql;`,
		quoteIdent(c.FunctionName),
	)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
