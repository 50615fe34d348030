package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hazyhaar/dbfleet/internal/schema"
)

func TestCreateTableSQL_SingleTextPrimaryKey(t *testing.T) {
	tbl := schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: "TEXT", PrimaryKey: true},
			{Name: "email", Type: "TEXT"},
			{Name: "bio", Type: "TEXT", Nullable: true},
		},
	}
	got := schema.CreateTableSQL(tbl)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS users (id TEXT PRIMARY KEY, email TEXT NOT NULL, bio TEXT)",
		got)
}

func TestCreateTableSQL_IntegerPrimaryKeyAutoincrements(t *testing.T) {
	tbl := schema.Table{
		Name: "counters",
		Columns: []schema.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "value", Type: "INTEGER", Default: "0"},
		},
	}
	got := schema.CreateTableSQL(tbl)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS counters (id INTEGER PRIMARY KEY AUTOINCREMENT, value INTEGER NOT NULL DEFAULT 0)",
		got)
}

func TestCreateTableSQL_CompositePrimaryKey(t *testing.T) {
	tbl := schema.Table{
		Name: "job_runs",
		Columns: []schema.Column{
			{Name: "job_id", Type: "TEXT", PrimaryKey: true},
			{Name: "started_at", Type: "TIMESTAMP", PrimaryKey: true},
			{Name: "status", Type: "TEXT", Default: "'pending'"},
		},
	}
	got := schema.CreateTableSQL(tbl)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS job_runs (job_id TEXT NOT NULL, started_at TIMESTAMP NOT NULL, status TEXT NOT NULL DEFAULT 'pending', PRIMARY KEY (job_id, started_at))",
		got)
}

func TestAddColumnSQL(t *testing.T) {
	cases := []struct {
		name string
		col  schema.Column
		want string
	}{
		{
			name: "not null with explicit default",
			col:  schema.Column{Name: "enabled", Type: "BOOLEAN", Default: "1"},
			want: "ALTER TABLE t ADD COLUMN enabled BOOLEAN NOT NULL DEFAULT 1",
		},
		{
			name: "not null text synthesizes empty string",
			col:  schema.Column{Name: "label", Type: "TEXT"},
			want: "ALTER TABLE t ADD COLUMN label TEXT NOT NULL DEFAULT ''",
		},
		{
			name: "not null integer synthesizes zero",
			col:  schema.Column{Name: "retries", Type: "INTEGER"},
			want: "ALTER TABLE t ADD COLUMN retries INTEGER NOT NULL DEFAULT 0",
		},
		{
			name: "nullable without default",
			col:  schema.Column{Name: "output", Type: "TEXT", Nullable: true},
			want: "ALTER TABLE t ADD COLUMN output TEXT",
		},
		{
			name: "nullable with default",
			col:  schema.Column{Name: "status", Type: "TEXT", Nullable: true, Default: "'new'"},
			want: "ALTER TABLE t ADD COLUMN status TEXT DEFAULT 'new'",
		},
		{
			// ALTER TABLE rejects non-constant defaults, so the builder
			// substitutes a fixed literal.
			name: "explicit current_timestamp becomes constant",
			col:  schema.Column{Name: "created_at", Type: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
			want: "ALTER TABLE t ADD COLUMN created_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00'",
		},
		{
			name: "nullable current_timestamp becomes constant",
			col:  schema.Column{Name: "seen_at", Type: "TIMESTAMP", Nullable: true, Default: "CURRENT_TIMESTAMP"},
			want: "ALTER TABLE t ADD COLUMN seen_at TIMESTAMP DEFAULT '1970-01-01 00:00:00'",
		},
		{
			name: "not null timestamp synthesizes epoch",
			col:  schema.Column{Name: "updated_at", Type: "TIMESTAMP"},
			want: "ALTER TABLE t ADD COLUMN updated_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00'",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, schema.AddColumnSQL("t", tc.col))
		})
	}
}

func TestSynthesizedDefault(t *testing.T) {
	cases := map[string]string{
		"TEXT":      "''",
		"text":      "''",
		"VARCHAR":   "''",
		"INTEGER":   "0",
		"REAL":      "0.0",
		"DECIMAL":   "0.0",
		"BOOLEAN":   "false",
		"DATE":      "'1970-01-01'",
		"TIME":      "'00:00:00'",
		"TIMESTAMP": "'1970-01-01 00:00:00'",
		"BLOB":      "''",
	}
	for typ, want := range cases {
		assert.Equal(t, want, schema.SynthesizedDefault(typ), "type %s", typ)
	}
}

func TestCreateIndexSQL(t *testing.T) {
	ix := schema.Index{Name: "idx_jobs_user", Columns: []string{"user_id", "name"}}
	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs (user_id, name)",
		schema.CreateIndexSQL("jobs", ix))

	ix.Unique = true
	assert.Equal(t,
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_user ON jobs (user_id, name)",
		schema.CreateIndexSQL("jobs", ix))
}

func TestCreateTriggerSQL(t *testing.T) {
	tr := schema.Trigger{
		Name:   "touch_jobs",
		Timing: "AFTER",
		Event:  "UPDATE",
		Action: "UPDATE jobs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id",
	}
	assert.Equal(t,
		"CREATE TRIGGER IF NOT EXISTS touch_jobs AFTER UPDATE ON jobs FOR EACH ROW BEGIN UPDATE jobs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id; END",
		schema.CreateTriggerSQL("jobs", tr))
}
