// Package introspect reads the live structure of a tenant database: which
// tables, columns, indexes and triggers actually exist. It only ever reads
// catalog state, never mutates it.
package introspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Column is one live column as reported by the table_info pragma.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	Default    sql.NullString
	PrimaryKey bool
}

// Error wraps a failed catalog query.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("introspect %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Querier is the read surface the Inspector needs. Both *sql.DB and
// *sql.Conn satisfy it; migrations pass a pinned connection so that
// connection-scoped pragmas observed elsewhere in the run hold here too.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Inspector reads catalog metadata from a single database handle.
type Inspector struct {
	db Querier
}

func New(db Querier) *Inspector {
	return &Inspector{db: db}
}

// Tables returns the names of all user tables, excluding sqlite internals.
func (in *Inspector) Tables(ctx context.Context) ([]string, error) {
	rows, err := in.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, &Error{Op: "tables", Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &Error{Op: "tables", Err: err}
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "tables", Err: err}
	}
	return tables, nil
}

// Columns returns the live column set of a table in declaration order.
func (in *Inspector) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, &Error{Op: "columns " + table, Err: err}
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull int
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &c.Default, &pk); err != nil {
			return nil, &Error{Op: "columns " + table, Err: err}
		}
		c.Nullable = notNull == 0
		c.PrimaryKey = pk > 0
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "columns " + table, Err: err}
	}
	return cols, nil
}

// TableExists reports whether a user table with the given name exists.
func (in *Inspector) TableExists(ctx context.Context, name string) (bool, error) {
	return in.exists(ctx, "table", name)
}

// IndexExists reports whether an index with the given name exists.
func (in *Inspector) IndexExists(ctx context.Context, name string) (bool, error) {
	return in.exists(ctx, "index", name)
}

// TriggerExists reports whether a trigger with the given name exists.
func (in *Inspector) TriggerExists(ctx context.Context, name string) (bool, error) {
	return in.exists(ctx, "trigger", name)
}

func (in *Inspector) exists(ctx context.Context, kind, name string) (bool, error) {
	var found string
	err := in.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: kind + " " + name, Err: err}
	}
	return true, nil
}

// TableIndexes returns the named indexes attached to a table, excluding the
// implicit sqlite_autoindex entries.
func (in *Inspector) TableIndexes(ctx context.Context, table string) ([]string, error) {
	return in.tableObjects(ctx, "index", table)
}

// TableTriggers returns the triggers attached to a table.
func (in *Inspector) TableTriggers(ctx context.Context, table string) ([]string, error) {
	return in.tableObjects(ctx, "trigger", table)
}

func (in *Inspector) tableObjects(ctx context.Context, kind, table string) ([]string, error) {
	rows, err := in.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = ? AND tbl_name = ? AND name NOT LIKE 'sqlite_%'`,
		kind, table)
	if err != nil {
		return nil, &Error{Op: kind + "es of " + table, Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &Error{Op: kind + "es of " + table, Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: kind + "es of " + table, Err: err}
	}
	return names, nil
}
