// Package schema declares the canonical application schema. It is the single
// source of truth every tenant database converges to: tables, columns,
// indexes and triggers are described as plain values, and the migration
// runner compares live databases against them.
package schema

import (
	"fmt"
	"time"
)

// Column describes one column of a canonical table.
type Column struct {
	Name       string
	Type       string // SQLite storage type: TEXT, INTEGER, REAL, BOOLEAN, DATE, TIME, TIMESTAMP
	Nullable   bool
	Default    string // literal default expression, "" = none
	PrimaryKey bool
}

// Index describes a named index on a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Trigger describes a single-statement row trigger.
type Trigger struct {
	Name   string
	Timing string // BEFORE, AFTER
	Event  string // INSERT, UPDATE, DELETE
	Action string // single SQL statement, without trailing semicolon
}

// Table is one canonical table definition. Renames maps a retired column
// name to its canonical replacement; the migration runner uses it to carry
// data across a column rename instead of dropping and re-adding.
type Table struct {
	Name     string
	Columns  []Column
	Indexes  []Index
	Triggers []Trigger
	Renames  map[string]string // old name -> canonical name
}

// Version identifies a canonical schema revision.
type Version struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

const (
	currentVersion     = "0.2.0"
	currentDescription = "cron jobs schema with run history"
)

// CurrentVersion returns the schema revision this build expects, stamped
// with the current time.
func CurrentVersion() Version {
	return Version{
		Version:     currentVersion,
		Description: currentDescription,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Expected returns the canonical schema. Each call builds a fresh value, so
// callers can never mutate shared state.
func Expected() []Table {
	return []Table{
		{
			Name: "cron_jobs",
			Columns: []Column{
				{Name: "id", Type: "TEXT", PrimaryKey: true},
				{Name: "user_id", Type: "TEXT"},
				{Name: "name", Type: "TEXT"},
				{Name: "schedule", Type: "TEXT"},
				{Name: "command", Type: "TEXT"},
				{Name: "enabled", Type: "BOOLEAN", Default: "1"},
				{Name: "created_at", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
				{Name: "updated_at", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
			},
			Indexes: []Index{
				{Name: "idx_cron_jobs_user_id", Columns: []string{"user_id"}},
				{Name: "idx_cron_jobs_enabled", Columns: []string{"enabled"}},
			},
			Triggers: []Trigger{
				{
					Name:   "update_cron_jobs_timestamp",
					Timing: "AFTER",
					Event:  "UPDATE",
					Action: "UPDATE cron_jobs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id",
				},
			},
		},
		{
			Name: "job_runs",
			Columns: []Column{
				{Name: "job_id", Type: "TEXT", PrimaryKey: true},
				{Name: "started_at", Type: "TIMESTAMP", PrimaryKey: true},
				{Name: "status", Type: "TEXT", Default: "'pending'"},
				{Name: "exit_code", Type: "INTEGER", Nullable: true},
				{Name: "output", Type: "TEXT", Nullable: true},
			},
			Indexes: []Index{
				{Name: "idx_job_runs_status", Columns: []string{"status"}},
			},
		},
	}
}

// Validate checks a schema for structural problems: duplicate or empty
// names, tables without columns, and inconsistent rename maps. It is run
// once at load time so the migration runner can trust its input.
func Validate(tables []Table) error {
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if t.Name == "" {
			return fmt.Errorf("schema: table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.Columns) == 0 {
			return fmt.Errorf("schema: table %q has no columns", t.Name)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("schema: table %q has a column with empty name", t.Name)
			}
			if cols[c.Name] {
				return fmt.Errorf("schema: table %q has duplicate column %q", t.Name, c.Name)
			}
			cols[c.Name] = true
		}
		if err := validateRenames(t, cols); err != nil {
			return err
		}
	}
	return nil
}

func validateRenames(t Table, cols map[string]bool) error {
	targets := make(map[string]string, len(t.Renames)) // target -> source
	for from, to := range t.Renames {
		if from == to {
			return fmt.Errorf("schema: table %q renames %q to itself", t.Name, from)
		}
		if !cols[to] {
			return fmt.Errorf("schema: table %q renames %q to %q, which is not a canonical column", t.Name, from, to)
		}
		if cols[from] {
			return fmt.Errorf("schema: table %q rename source %q is still a canonical column", t.Name, from)
		}
		if prev, ok := targets[to]; ok {
			return fmt.Errorf("schema: table %q renames both %q and %q to %q", t.Name, prev, from, to)
		}
		targets[to] = from
	}
	// A column must not act as both a rename source and a rename target.
	for from := range t.Renames {
		if _, ok := targets[from]; ok {
			return fmt.Errorf("schema: table %q column %q is both a rename source and target", t.Name, from)
		}
	}
	return nil
}
