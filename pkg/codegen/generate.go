package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"text/template"
	"unicode"
)

// Generate renders tables as Go source: one struct per table with db
// tags, and per table a column map suitable for wiring a grid
// translator. The output is gofmt-formatted.
func Generate(pkg string, tables []TableSchema) ([]byte, error) {
	models := make([]tableModel, len(tables))
	needsTime := false
	for nth, table := range tables {
		m := newTableModel(table)
		models[nth] = m
		for _, f := range m.Fields {
			if strings.Contains(f.GoType, "time.Time") {
				needsTime = true
			}
		}
	}

	buf := &bytes.Buffer{}
	if err := fileTemplate.Execute(buf, fileModel{
		Package:   pkg,
		NeedsTime: needsTime,
		Tables:    models,
	}); err != nil {
		return nil, err
	}

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("generated source does not parse: %w", err)
	}
	return src, nil
}

type fileModel struct {
	Package   string
	NeedsTime bool
	Tables    []tableModel
}

type tableModel struct {
	GoName     string
	TableName  string
	Schema     string
	PrimaryKey []string
	Fields     []fieldModel
}

type fieldModel struct {
	GoName string
	Column string
	GoType string
}

func newTableModel(table TableSchema) tableModel {
	m := tableModel{
		GoName:     exportedName(table.Name),
		TableName:  table.Name,
		Schema:     table.Schema,
		PrimaryKey: table.PrimaryKey,
	}
	for _, column := range table.Columns {
		m.Fields = append(m.Fields, fieldModel{
			GoName: exportedName(column.Name),
			Column: column.Name,
			GoType: goType(column),
		})
	}
	return m
}

// goType maps an information_schema data_type to a Go field type.
// Nullable columns become pointers, except bytea whose zero is nil anyway.
func goType(column ColumnSchema) string {
	var t string
	switch strings.ToLower(column.DataType) {
	case "smallint", "smallserial":
		t = "int16"
	case "integer", "serial":
		t = "int32"
	case "bigint", "bigserial":
		t = "int64"
	case "numeric", "decimal", "real", "double precision", "money":
		t = "float64"
	case "boolean":
		t = "bool"
	case "bytea":
		return "[]byte"
	case "date", "time without time zone", "time with time zone",
		"timestamp without time zone", "timestamp with time zone", "interval":
		t = "time.Time"
	default:
		// text, varchar, uuid, json, inet and everything exotic
		t = "string"
	}
	if column.Nullable {
		return "*" + t
	}
	return t
}

// exportedName converts a snake_case identifier to an exported Go name.
func exportedName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := &strings.Builder{}
	for _, part := range parts {
		if initialism[strings.ToLower(part)] {
			out.WriteString(strings.ToUpper(part))
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		out.WriteString(string(runes))
	}
	if out.Len() == 0 {
		return "X"
	}
	name = out.String()
	if !unicode.IsLetter([]rune(name)[0]) {
		name = "X" + name
	}
	return name
}

var initialism = map[string]bool{
	"id": true, "url": true, "uri": true, "api": true,
	"json": true, "sql": true, "uuid": true, "ip": true,
}

var fileTemplate = template.Must(template.New("models").Parse(
	`// Code generated by tenantdb; DO NOT EDIT.

package {{.Package}}

{{if .Tables -}}
import (
{{- if .NeedsTime}}
	"time"
{{end}}
	"github.com/TechPrismatica/tenantdb/pkg/db/expr"
)
{{- end}}
{{range .Tables}}
// {{.GoName}} is a row of "{{.Schema}}"."{{.TableName}}".
type {{.GoName}} struct {
{{- range .Fields}}
	{{.GoName}} {{.GoType}} ` + "`" + `db:"{{.Column}}"` + "`" + `
{{- end}}
}

func ({{.GoName}}) TableName() string { return "{{.TableName}}" }
{{if .PrimaryKey}}
func ({{.GoName}}) PrimaryKey() []string {
	return []string{ {{- range $i, $k := .PrimaryKey}}{{if $i}}, {{end}}"{{$k}}"{{end -}} }
}
{{end}}
// {{.GoName}}Columns maps grid column ids onto "{{.TableName}}" columns.
var {{.GoName}}Columns = map[string]expr.Column{
{{- range .Fields}}
	"{{.Column}}": expr.Col("{{.Column}}"),
{{- end}}
}
{{end}}`))
