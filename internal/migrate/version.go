package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/dbfleet/internal/schema"
)

// VersionTable is the per-tenant table holding schema-version stamps. Rows
// are append-only; the latest created_at wins.
const VersionTable = "schema_version"

const versionTableDDL = `CREATE TABLE IF NOT EXISTS schema_version (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    version     TEXT NOT NULL,
    description TEXT NOT NULL,
    created_at  TEXT NOT NULL
)`

func ensureVersionTable(ctx context.Context, db dbtx) error {
	if _, err := db.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("creating %s table: %w", VersionTable, err)
	}
	return nil
}

// currentVersion returns the latest recorded schema version, or nil when the
// database has no version table or no rows. Both mean the same thing to the
// runner: this database needs a full reconcile.
func currentVersion(ctx context.Context, db dbtx) (*schema.Version, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, VersionTable).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking %s table: %w", VersionTable, err)
	}

	var v schema.Version
	err = db.QueryRowContext(ctx,
		`SELECT version, description, created_at FROM schema_version ORDER BY created_at DESC LIMIT 1`).
		Scan(&v.Version, &v.Description, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	return &v, nil
}

func recordVersion(ctx context.Context, db dbtx, v schema.Version) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO schema_version (version, description, created_at) VALUES (?, ?, ?)`,
		v.Version, v.Description, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording schema version %s: %w", v.Version, err)
	}
	return nil
}
