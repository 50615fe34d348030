package registry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/dbfleet/internal/registry"
)

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "registry.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func entry(tenantID, createdAt string) *registry.Entry {
	return &registry.Entry{
		TenantID:  tenantID,
		Contact:   tenantID + "@example.com",
		DBName:    "tenant-" + tenantID,
		URL:       "libsql://tenant-" + tenantID + ".example.io",
		Token:     "tok-" + tenantID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestUpsertAndGet(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	e := entry("acme", "2026-01-01T00:00:00Z")
	require.NoError(t, r.Upsert(ctx, e))

	got, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestGet_NotFound(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestUpsert_PreservesCreatedAt(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, entry("acme", "2026-01-01T00:00:00Z")))

	updated := entry("acme", "2026-02-01T00:00:00Z")
	updated.Token = "tok-rotated"
	require.NoError(t, r.Upsert(ctx, updated))

	got, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "tok-rotated", got.Token)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.CreatedAt)
	assert.Equal(t, "2026-02-01T00:00:00Z", got.UpdatedAt)
}

func TestList_NewestFirst(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, entry("older", "2026-01-01T00:00:00Z")))
	require.NoError(t, r.Upsert(ctx, entry("newer", "2026-03-01T00:00:00Z")))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].TenantID)
	assert.Equal(t, "older", entries[1].TenantID)
}

func TestHealthCheck(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.HealthCheck(context.Background()))
}

func TestLease_AcquireConflictRelease(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.AcquireLease(ctx, "acme", "holder-1", time.Minute))

	// Second holder is refused while the lease lives.
	err := r.AcquireLease(ctx, "acme", "holder-2", time.Minute)
	assert.ErrorIs(t, err, registry.ErrLeaseHeld)

	// A different tenant is unaffected.
	require.NoError(t, r.AcquireLease(ctx, "globex", "holder-2", time.Minute))

	require.NoError(t, r.ReleaseLease(ctx, "acme", "holder-1"))
	require.NoError(t, r.AcquireLease(ctx, "acme", "holder-2", time.Minute))
}

func TestLease_ReleaseRequiresOwner(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.AcquireLease(ctx, "acme", "holder-1", time.Minute))

	// Wrong holder releases nothing; the lease still blocks.
	require.NoError(t, r.ReleaseLease(ctx, "acme", "holder-2"))
	assert.ErrorIs(t, r.AcquireLease(ctx, "acme", "holder-3", time.Minute), registry.ErrLeaseHeld)
}

func TestLease_ExpiredLeaseIsReclaimed(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	// Zero TTL expires immediately.
	require.NoError(t, r.AcquireLease(ctx, "acme", "holder-1", 0))
	require.NoError(t, r.AcquireLease(ctx, "acme", "holder-2", time.Minute))
}
