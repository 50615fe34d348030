package introspect_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dbfleet/internal/introspect"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestTables(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		"CREATE TABLE zebra (id INTEGER PRIMARY KEY AUTOINCREMENT)",
		"CREATE TABLE apple (id TEXT PRIMARY KEY)",
	)

	ins := introspect.New(db)
	tables, err := ins.Tables(context.Background())
	require.NoError(t, err)
	// Sorted by name, sqlite_sequence excluded.
	assert.Equal(t, []string{"apple", "zebra"}, tables)
}

func TestColumns(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, `CREATE TABLE jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		output TEXT
	)`)

	ins := introspect.New(db)
	cols, err := ins.Columns(context.Background(), "jobs")
	require.NoError(t, err)
	require.Len(t, cols, 4)

	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, cols[0].PrimaryKey)

	assert.Equal(t, "name", cols[1].Name)
	assert.False(t, cols[1].Nullable)
	assert.False(t, cols[1].Default.Valid)

	assert.Equal(t, "enabled", cols[2].Name)
	assert.True(t, cols[2].Default.Valid)
	assert.Equal(t, "1", cols[2].Default.String)

	assert.Equal(t, "output", cols[3].Name)
	assert.True(t, cols[3].Nullable)
	assert.False(t, cols[3].PrimaryKey)
}

func TestColumns_CompositePrimaryKey(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, `CREATE TABLE runs (
		job_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		status TEXT,
		PRIMARY KEY (job_id, started_at)
	)`)

	ins := introspect.New(db)
	cols, err := ins.Columns(context.Background(), "runs")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.True(t, cols[0].PrimaryKey)
	assert.True(t, cols[1].PrimaryKey)
	assert.False(t, cols[2].PrimaryKey)
}

func TestExists(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		"CREATE TABLE jobs (id TEXT PRIMARY KEY, user_id TEXT)",
		"CREATE INDEX idx_jobs_user ON jobs (user_id)",
		"CREATE TRIGGER touch AFTER UPDATE ON jobs FOR EACH ROW BEGIN SELECT 1; END",
	)

	ins := introspect.New(db)
	ctx := context.Background()

	ok, err := ins.TableExists(ctx, "jobs")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ins.TableExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ins.IndexExists(ctx, "idx_jobs_user")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ins.TriggerExists(ctx, "touch")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ins.TriggerExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableObjects(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		"CREATE TABLE jobs (id TEXT PRIMARY KEY, user_id TEXT, name TEXT)",
		"CREATE TABLE other (id TEXT PRIMARY KEY, x TEXT)",
		"CREATE INDEX idx_jobs_user ON jobs (user_id)",
		"CREATE INDEX idx_jobs_name ON jobs (name)",
		"CREATE INDEX idx_other_x ON other (x)",
		"CREATE TRIGGER touch_jobs AFTER UPDATE ON jobs FOR EACH ROW BEGIN SELECT 1; END",
	)

	ins := introspect.New(db)
	ctx := context.Background()

	indexes, err := ins.TableIndexes(ctx, "jobs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idx_jobs_user", "idx_jobs_name"}, indexes)

	triggers, err := ins.TableTriggers(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"touch_jobs"}, triggers)

	triggers, err = ins.TableTriggers(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, triggers)
}
