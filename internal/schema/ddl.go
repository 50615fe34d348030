package schema

import (
	"fmt"
	"strings"
)

// The builders below turn structured definitions into statement text. They
// are pure: no connection, no state, so the generated SQL is unit-testable.

// CreateTableSQL builds the CREATE TABLE statement for a canonical table.
// A single INTEGER primary key becomes an auto-incrementing rowid alias; a
// single key of any other type gets an inline PRIMARY KEY; a composite key
// is emitted as a table-level clause.
func CreateTableSQL(t Table) string {
	var pks []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		var b strings.Builder
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(c.Type)
		if c.PrimaryKey && len(pks) == 1 {
			if strings.Contains(strings.ToUpper(c.Type), "INTEGER") {
				b.WriteString(" PRIMARY KEY AUTOINCREMENT")
			} else {
				b.WriteString(" PRIMARY KEY")
			}
		} else if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(c.Default)
		}
		defs = append(defs, b.String())
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s", t.Name, strings.Join(defs, ", "))
	if len(pks) > 1 {
		stmt += fmt.Sprintf(", PRIMARY KEY (%s)", strings.Join(pks, ", "))
	}
	return stmt + ")"
}

// AddColumnSQL builds the ALTER TABLE statement that adds a missing column.
// A NOT NULL column without an explicit default gets a type-appropriate
// synthesized one, so rows already in the table stay valid. ALTER TABLE only
// accepts constant defaults, so CURRENT_TIMESTAMP and friends are swapped
// for fixed literals; the canonical default applies again once a rebuild
// recreates the table.
func AddColumnSQL(table string, c Column) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.Name, c.Type)
	if !c.Nullable {
		def := c.Default
		if def == "" {
			def = SynthesizedDefault(c.Type)
		}
		return stmt + " NOT NULL DEFAULT " + constantDefault(def)
	}
	if c.Default != "" {
		return stmt + " DEFAULT " + constantDefault(c.Default)
	}
	return stmt
}

// constantDefault maps the non-constant default expressions onto fixed
// literals ALTER TABLE will accept.
func constantDefault(def string) string {
	switch strings.ToUpper(def) {
	case "CURRENT_TIMESTAMP":
		return "'1970-01-01 00:00:00'"
	case "CURRENT_DATE":
		return "'1970-01-01'"
	case "CURRENT_TIME":
		return "'00:00:00'"
	default:
		return def
	}
}

// SynthesizedDefault returns the backfill value used when a NOT NULL column
// is added without a declared default.
func SynthesizedDefault(colType string) string {
	switch strings.ToUpper(colType) {
	case "TEXT", "VARCHAR":
		return "''"
	case "INTEGER":
		return "0"
	case "REAL", "DECIMAL":
		return "0.0"
	case "BOOLEAN":
		return "false"
	case "DATE":
		return "'1970-01-01'"
	case "TIME":
		return "'00:00:00'"
	case "TIMESTAMP":
		return "'1970-01-01 00:00:00'"
	default:
		return "''"
	}
}

// CreateIndexSQL builds an idempotent CREATE INDEX statement.
func CreateIndexSQL(table string, ix Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, ix.Name, table, strings.Join(ix.Columns, ", "))
}

// CreateTriggerSQL builds an idempotent CREATE TRIGGER statement from the
// trigger's timing, event and single-statement action.
func CreateTriggerSQL(table string, tr Trigger) string {
	return fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s %s %s ON %s FOR EACH ROW BEGIN %s; END",
		tr.Name, tr.Timing, tr.Event, table, tr.Action)
}
