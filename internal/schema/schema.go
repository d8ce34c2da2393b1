package schema

import (
	"fmt"
	"strings"
)

type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeDouble  ColumnType = "DOUBLE"
)

type Column struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Description string     `json:"description"`
}

type Table struct {
	Name    string   `json:"table_name"`
	Columns []Column `json:"columns"`
}

// HealthMetrics is the only table the chat can query.
var HealthMetrics = Table{
	Name: "health_metrics",
	Columns: []Column{
		{Name: "Duration", Type: TypeInteger, Description: "workout duration in minutes"},
		{Name: "Pulse", Type: TypeInteger, Description: "average pulse in beats per minute"},
		{Name: "Maxpulse", Type: TypeInteger, Description: "maximum pulse in beats per minute"},
		{Name: "Calories", Type: TypeDouble, Description: "calories burned"},
	},
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

func (t Table) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}

// Describe renders the table for inclusion in a translation prompt.
func (t Table) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: `%s`\nColumns:\n", t.Name)
	for _, column := range t.Columns {
		fmt.Fprintf(&b, "- `%s` %s (%s)\n", column.Name, column.Type, column.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t Table) CreateTableSQL() string {
	defs := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		defs = append(defs, QuoteIdent(column.Name)+" "+string(column.Type)+" NOT NULL DEFAULT 0")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(t.Name), strings.Join(defs, ", "))
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
