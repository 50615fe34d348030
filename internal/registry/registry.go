// Package registry is the central map from tenant identity to the
// credentials of that tenant's dedicated database. It lives in its own
// database, distinct from every tenant database, and is shared by all
// in-flight provisioning flows.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dbfleet/internal/tenant"
)

var (
	// ErrNotFound means no registry row exists for the tenant.
	ErrNotFound = errors.New("registry: tenant not found")
	// ErrLeaseHeld means another flow currently holds the tenant's sync lease.
	ErrLeaseHeld = errors.New("registry: sync lease held")
)

// Entry is one tenant's row: identity, contact, and the connection
// credentials of its database. Mutated only through Upsert.
type Entry struct {
	TenantID         string `json:"tenant_id"`
	Contact          string `json:"contact"`
	DBName           string `json:"db_name"`
	URL              string `json:"db_url"`
	Token            string `json:"db_token"`
	StorageUsedBytes int64  `json:"storage_used_bytes"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS tenant_databases (
    tenant_id          TEXT PRIMARY KEY,
    contact            TEXT NOT NULL,
    db_name            TEXT NOT NULL,
    db_url             TEXT NOT NULL,
    db_token           TEXT NOT NULL,
    storage_used_bytes INTEGER DEFAULT 0,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenant_databases_contact ON tenant_databases(contact);

CREATE TABLE IF NOT EXISTS sync_leases (
    tenant_id  TEXT PRIMARY KEY,
    holder     TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// Registry wraps the shared registry database.
type Registry struct {
	db *sql.DB
}

// Open connects to the registry database and ensures its schema.
func Open(driver, dbURL, token string) (*Registry, error) {
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, tenant.DSN(dbURL, token))
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging registry database: %w", err)
	}
	r := &Registry{db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating registry database: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(registrySchema)
	return err
}

// DB exposes the underlying handle for sibling stores (audit, traces) that
// share the registry database.
func (r *Registry) DB() *sql.DB { return r.db }

func (r *Registry) Close() error { return r.db.Close() }

// Upsert writes a tenant's entry with last-write-wins semantics, keeping
// the original created_at on conflict.
func (r *Registry) Upsert(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_databases
		    (tenant_id, contact, db_name, db_url, db_token, storage_used_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
		    contact            = excluded.contact,
		    db_name            = excluded.db_name,
		    db_url             = excluded.db_url,
		    db_token           = excluded.db_token,
		    storage_used_bytes = excluded.storage_used_bytes,
		    updated_at         = excluded.updated_at`,
		e.TenantID, e.Contact, e.DBName, e.URL, e.Token, e.StorageUsedBytes, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting tenant %s: %w", e.TenantID, err)
	}
	return nil
}

// Get returns the entry for a tenant, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, tenantID string) (*Entry, error) {
	var e Entry
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, contact, db_name, db_url, db_token, storage_used_bytes, created_at, updated_at
		FROM tenant_databases WHERE tenant_id = ?`, tenantID).
		Scan(&e.TenantID, &e.Contact, &e.DBName, &e.URL, &e.Token, &e.StorageUsedBytes, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tenant %s: %w", tenantID, err)
	}
	return &e, nil
}

// List returns all registered tenants, newest first.
func (r *Registry) List(ctx context.Context) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, contact, db_name, db_url, db_token, storage_used_bytes, created_at, updated_at
		FROM tenant_databases ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TenantID, &e.Contact, &e.DBName, &e.URL, &e.Token,
			&e.StorageUsedBytes, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// HealthCheck confirms the registry database answers a trivial read.
func (r *Registry) HealthCheck(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}
	return nil
}

// AcquireLease takes the per-tenant advisory lease that serializes
// concurrent getOrSync flows for one tenant. Expired leases are reclaimed;
// a live lease held by someone else returns ErrLeaseHeld.
func (r *Registry) AcquireLease(ctx context.Context, tenantID, holder string, ttl time.Duration) error {
	now := time.Now().Unix()
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_leases WHERE tenant_id = ? AND expires_at <= ?`, tenantID, now); err != nil {
		return fmt.Errorf("reclaiming lease for %s: %w", tenantID, err)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_leases (tenant_id, holder, expires_at) VALUES (?, ?, ?)`,
		tenantID, holder, now+int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("acquiring lease for %s: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquiring lease for %s: %w", tenantID, err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops the lease if this holder still owns it.
func (r *Registry) ReleaseLease(ctx context.Context, tenantID, holder string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_leases WHERE tenant_id = ? AND holder = ?`, tenantID, holder)
	if err != nil {
		return fmt.Errorf("releasing lease for %s: %w", tenantID, err)
	}
	return nil
}
