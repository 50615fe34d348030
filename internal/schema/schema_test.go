package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/dbfleet/internal/schema"
)

func TestExpectedIsValid(t *testing.T) {
	require.NoError(t, schema.Validate(schema.Expected()))
}

func TestExpectedIsFreshPerCall(t *testing.T) {
	a := schema.Expected()
	a[0].Name = "mutated"
	b := schema.Expected()
	assert.Equal(t, "cron_jobs", b[0].Name)
}

func TestCurrentVersionStampsTime(t *testing.T) {
	v := schema.CurrentVersion()
	assert.NotEmpty(t, v.Version)
	assert.NotEmpty(t, v.Description)
	assert.NotEmpty(t, v.CreatedAt)
}

func TestValidate_Rejections(t *testing.T) {
	col := func(name string) schema.Column { return schema.Column{Name: name, Type: "TEXT"} }

	cases := []struct {
		name   string
		tables []schema.Table
		errSub string
	}{
		{
			name:   "empty table name",
			tables: []schema.Table{{Name: "", Columns: []schema.Column{col("a")}}},
			errSub: "empty name",
		},
		{
			name: "duplicate table",
			tables: []schema.Table{
				{Name: "t", Columns: []schema.Column{col("a")}},
				{Name: "t", Columns: []schema.Column{col("a")}},
			},
			errSub: "duplicate table",
		},
		{
			name:   "no columns",
			tables: []schema.Table{{Name: "t"}},
			errSub: "no columns",
		},
		{
			name:   "duplicate column",
			tables: []schema.Table{{Name: "t", Columns: []schema.Column{col("a"), col("a")}}},
			errSub: "duplicate column",
		},
		{
			name: "rename to itself",
			tables: []schema.Table{{
				Name:    "t",
				Columns: []schema.Column{col("a")},
				Renames: map[string]string{"a": "a"},
			}},
			errSub: "to itself",
		},
		{
			name: "rename target not canonical",
			tables: []schema.Table{{
				Name:    "t",
				Columns: []schema.Column{col("a")},
				Renames: map[string]string{"old": "missing"},
			}},
			errSub: "not a canonical column",
		},
		{
			name: "rename source still canonical",
			tables: []schema.Table{{
				Name:    "t",
				Columns: []schema.Column{col("a"), col("b")},
				Renames: map[string]string{"a": "b"},
			}},
			errSub: "still a canonical column",
		},
		{
			name: "two sources one target",
			tables: []schema.Table{{
				Name:    "t",
				Columns: []schema.Column{col("a")},
				Renames: map[string]string{"x": "a", "y": "a"},
			}},
			errSub: "renames both",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.Validate(tc.tables)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errSub)
		})
	}
}

func TestValidate_RenameChainRejected(t *testing.T) {
	tables := []schema.Table{{
		Name: "t",
		Columns: []schema.Column{
			{Name: "b", Type: "TEXT"},
			{Name: "c", Type: "TEXT"},
		},
		Renames: map[string]string{"a": "b", "b": "c"},
	}}
	err := schema.Validate(tables)
	require.Error(t, err)
}

func TestValidate_GoodRename(t *testing.T) {
	tables := []schema.Table{{
		Name: "jobs",
		Columns: []schema.Column{
			{Name: "id", Type: "TEXT", PrimaryKey: true},
			{Name: "schedule", Type: "TEXT"},
		},
		Renames: map[string]string{"cron_expr": "schedule"},
	}}
	require.NoError(t, schema.Validate(tables))
}
