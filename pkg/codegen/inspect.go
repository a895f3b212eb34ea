package codegen

import (
	"context"
	"sort"

	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
	"github.com/TechPrismatica/tenantdb/pkg/utils"
)

// ColumnSchema is one column as information_schema reports it.
type ColumnSchema struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
	Position int
}

// TableSchema is one table with its columns in ordinal order.
type TableSchema struct {
	Schema     string
	Name       string
	Columns    []ColumnSchema
	PrimaryKey []string
}

// Inspect reads every base table of schemaName through q.
func Inspect(ctx context.Context, q kpool.Queryer, schemaName string) ([]TableSchema, error) {
	byTable := map[string]*TableSchema{}

	rows, err := q.Query(
		ctx,
		`SELECT
    "c"."table_name", "c"."column_name", "c"."data_type",
    "c"."is_nullable", COALESCE("c"."column_default", ''), "c"."ordinal_position"
FROM "information_schema"."columns" AS "c"
INNER JOIN "information_schema"."tables" AS "t"
    ON "t"."table_schema" = "c"."table_schema"
    AND "t"."table_name" = "c"."table_name"
WHERE "c"."table_schema" = $1 AND "t"."table_type" = 'BASE TABLE'
ORDER BY "c"."table_name", "c"."ordinal_position"`,
		schemaName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, column, dataType, nullable, dflt string
			position                                int
		)
		if err := rows.Scan(&table, &column, &dataType, &nullable, &dflt, &position); err != nil {
			return nil, err
		}
		ts, ok := byTable[table]
		if !ok {
			ts = &TableSchema{Schema: schemaName, Name: table}
			byTable[table] = ts
		}
		ts.Columns = append(ts.Columns, ColumnSchema{
			Name: column, DataType: dataType,
			Nullable: nullable == "YES", Default: dflt, Position: position,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := inspectPrimaryKeys(ctx, q, schemaName, byTable); err != nil {
		return nil, err
	}

	names := utils.KeysOf(byTable)
	sort.Strings(names)
	return utils.Map(names, func(name string) TableSchema { return *byTable[name] }), nil
}

func inspectPrimaryKeys(
	ctx context.Context, q kpool.Queryer,
	schemaName string, byTable map[string]*TableSchema,
) error {
	rows, err := q.Query(
		ctx,
		`SELECT "tc"."table_name", "kcu"."column_name"
FROM "information_schema"."table_constraints" AS "tc"
INNER JOIN "information_schema"."key_column_usage" AS "kcu"
    ON "kcu"."constraint_name" = "tc"."constraint_name"
    AND "kcu"."table_schema" = "tc"."table_schema"
WHERE "tc"."table_schema" = $1 AND "tc"."constraint_type" = 'PRIMARY KEY'
ORDER BY "tc"."table_name", "kcu"."ordinal_position"`,
		schemaName,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return err
		}
		if ts, ok := byTable[table]; ok {
			ts.PrimaryKey = append(ts.PrimaryKey, column)
		}
	}
	return rows.Err()
}
