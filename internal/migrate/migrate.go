// Package migrate reconciles a live tenant database with the canonical
// schema. A run works through five strictly ordered phases: drop tables the
// canonical schema no longer declares, create or repair each canonical
// table (rebuilding when columns must be removed or renamed), ensure
// indexes, ensure triggers, and finally stamp the new schema version.
//
// Runs for distinct tenants are independent; within one run every statement
// completes before the next begins. There are no internal retries: a
// failure leaves the database at the last successful statement and the
// caller re-invokes the run.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/dbfleet/internal/introspect"
	"github.com/hazyhaar/dbfleet/internal/schema"
)

// Recorder receives every DDL statement a run executes, for persistence in
// an audit/trace store. Implementations must not block.
type Recorder interface {
	Record(ctx context.Context, runID, tenant, statement string, d time.Duration, err error)
}

// dbtx is the statement surface shared by *sql.DB and *sql.Conn. A run pins
// one connection so connection-scoped pragmas cover every statement.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Result summarizes one Sync invocation.
type Result struct {
	RunID         string `json:"run_id"`
	Applied       bool   `json:"applied"`
	Statements    int    `json:"statements"`
	TablesCreated int    `json:"tables_created"`
	TablesDropped int    `json:"tables_dropped"`
	TablesRebuilt int    `json:"tables_rebuilt"`
	ColumnsAdded  int    `json:"columns_added"`
	Version       string `json:"version"`
}

// Runner applies the canonical schema to tenant databases. It is immutable
// after construction and safe for concurrent use across tenants.
type Runner struct {
	tables    []schema.Table
	version   schema.Version
	protected map[string]bool
	log       *slog.Logger
	rec       Recorder
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.rec = rec }
}

// New validates the canonical schema and builds a Runner for it.
func New(tables []schema.Table, version schema.Version, opts ...Option) (*Runner, error) {
	if err := schema.Validate(tables); err != nil {
		return nil, err
	}
	r := &Runner{
		tables:  tables,
		version: version,
		protected: map[string]bool{
			VersionTable:      true,
			"sqlite_sequence": true,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sync converges one tenant database on the canonical schema. A matching
// recorded version is a no-op; a missing or different version triggers a
// full reconcile. Initial setup of an empty database is the same code path.
func (r *Runner) Sync(ctx context.Context, db *sql.DB, tenant string) (*Result, error) {
	res := &Result{RunID: idgen.New(), Version: r.version.Version}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	cur, err := currentVersion(ctx, conn)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.Version == r.version.Version {
		r.log.Debug("schema up to date", "tenant", tenant, "version", cur.Version)
		return res, nil
	}

	recorded := "none"
	if cur != nil {
		recorded = cur.Version
	}
	r.log.Info("schema out of date, reconciling",
		"tenant", tenant, "run_id", res.RunID, "recorded", recorded, "expected", r.version.Version)

	if err := ensureVersionTable(ctx, conn); err != nil {
		return nil, err
	}
	res.Applied = true

	if err := r.apply(ctx, conn, tenant, res); err != nil {
		return nil, err
	}

	stamp := r.version
	stamp.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := recordVersion(ctx, conn, stamp); err != nil {
		return nil, err
	}

	r.log.Info("schema synchronized",
		"tenant", tenant, "run_id", res.RunID, "version", res.Version,
		"statements", res.Statements, "created", res.TablesCreated,
		"dropped", res.TablesDropped, "rebuilt", res.TablesRebuilt)
	return res, nil
}

func (r *Runner) apply(ctx context.Context, db dbtx, tenant string, res *Result) error {
	ins := introspect.New(db)

	current, err := ins.Tables(ctx)
	if err != nil {
		return err
	}
	currentSet := make(map[string]bool, len(current))
	for _, name := range current {
		currentSet[name] = true
	}
	expectedSet := make(map[string]bool, len(r.tables))
	for _, t := range r.tables {
		expectedSet[t.Name] = true
	}

	// Phase 1: drop tables the canonical schema does not declare. A
	// leftover <table>_backup from an aborted rebuild is never a stray:
	// it may hold the only surviving copy of that table's rows.
	backupOwner := make(map[string]string, len(r.tables))
	for _, t := range r.tables {
		backupOwner[t.Name+"_backup"] = t.Name
	}
	var toDrop []string
	for _, name := range current {
		if expectedSet[name] || r.protected[name] {
			continue
		}
		if owner, ok := backupOwner[name]; ok {
			return &RecoveryRequiredError{Table: owner, Backup: name}
		}
		toDrop = append(toDrop, name)
	}
	if len(toDrop) > 0 {
		if err := r.exec(ctx, db, tenant, "", "PRAGMA foreign_keys = OFF", res); err != nil {
			return err
		}
		for _, name := range toDrop {
			if err := r.dropTable(ctx, db, ins, tenant, name, res); err != nil {
				return err
			}
		}
		if err := r.exec(ctx, db, tenant, "", "PRAGMA foreign_keys = ON", res); err != nil {
			return err
		}
	}

	// Phase 2: create missing canonical tables, reconcile existing ones.
	for _, t := range r.tables {
		if !currentSet[t.Name] {
			if err := r.exec(ctx, db, tenant, t.Name, schema.CreateTableSQL(t), res); err != nil {
				return err
			}
			res.TablesCreated++
			continue
		}
		if err := r.reconcileColumns(ctx, db, ins, tenant, t, res); err != nil {
			return err
		}
	}

	// Phases 3 and 4: ensure indexes, then triggers, by name.
	for _, t := range r.tables {
		for _, ix := range t.Indexes {
			exists, err := ins.IndexExists(ctx, ix.Name)
			if err != nil {
				return err
			}
			if !exists {
				if err := r.exec(ctx, db, tenant, t.Name, schema.CreateIndexSQL(t.Name, ix), res); err != nil {
					return err
				}
			}
		}
	}
	for _, t := range r.tables {
		for _, tr := range t.Triggers {
			exists, err := ins.TriggerExists(ctx, tr.Name)
			if err != nil {
				return err
			}
			if !exists {
				if err := r.exec(ctx, db, tenant, t.Name, schema.CreateTriggerSQL(t.Name, tr), res); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// dropTable removes a stray table: its indexes first, then triggers, then
// the table itself.
func (r *Runner) dropTable(ctx context.Context, db dbtx, ins *introspect.Inspector, tenant, name string, res *Result) error {
	r.log.Warn("dropping table not in canonical schema", "tenant", tenant, "table", name)

	indexes, err := ins.TableIndexes(ctx, name)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if err := r.exec(ctx, db, tenant, name, fmt.Sprintf("DROP INDEX IF EXISTS %s", ix), res); err != nil {
			return err
		}
	}
	triggers, err := ins.TableTriggers(ctx, name)
	if err != nil {
		return err
	}
	for _, tr := range triggers {
		if err := r.exec(ctx, db, tenant, name, fmt.Sprintf("DROP TRIGGER IF EXISTS %s", tr), res); err != nil {
			return err
		}
	}
	if err := r.exec(ctx, db, tenant, name, fmt.Sprintf("DROP TABLE IF EXISTS %s", name), res); err != nil {
		return err
	}
	res.TablesDropped++
	return nil
}

// reconcileColumns converges the column set of one existing table. Missing
// columns are added in place; removals and renames force a rebuild, since
// the engine cannot drop or rename columns directly.
func (r *Runner) reconcileColumns(ctx context.Context, db dbtx, ins *introspect.Inspector, tenant string, t schema.Table, res *Result) error {
	cols, err := ins.Columns(ctx, t.Name)
	if err != nil {
		return err
	}
	currentNames := make(map[string]bool, len(cols))
	for _, c := range cols {
		currentNames[c.Name] = true
	}
	expected := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		expected[c.Name] = true
	}

	// A declared rename is active only when its source is still present and
	// its target has not appeared yet.
	active := make(map[string]string)
	renameTargets := make(map[string]bool)
	for from, to := range t.Renames {
		if currentNames[from] && !currentNames[to] {
			active[from] = to
			renameTargets[to] = true
		}
	}

	// Additive pass: new columns arrive via ALTER so existing rows get
	// their (possibly synthesized) defaults backfilled.
	for _, c := range t.Columns {
		if currentNames[c.Name] || renameTargets[c.Name] {
			continue
		}
		if err := r.exec(ctx, db, tenant, t.Name, schema.AddColumnSQL(t.Name, c), res); err != nil {
			return err
		}
		res.ColumnsAdded++
	}

	var toRemove []string
	for _, c := range cols {
		if expected[c.Name] || active[c.Name] != "" {
			continue
		}
		if c.PrimaryKey {
			// Primary-key columns are never dropped.
			r.log.Warn("live primary-key column not in canonical schema, leaving in place",
				"tenant", tenant, "table", t.Name, "column", c.Name)
			continue
		}
		toRemove = append(toRemove, c.Name)
	}

	if len(toRemove) == 0 && len(active) == 0 {
		return nil
	}
	return r.rebuildTable(ctx, db, ins, tenant, t, active, toRemove, res)
}

// rebuildTable replaces a table whose columns must shrink or be renamed:
// copy rows to a backup table, drop and recreate with the canonical column
// set, copy surviving data back, drop the backup, reapply the table's
// indexes and triggers.
func (r *Runner) rebuildTable(ctx context.Context, db dbtx, ins *introspect.Inspector, tenant string, t schema.Table, active map[string]string, toRemove []string, res *Result) error {
	backup := t.Name + "_backup"

	exists, err := ins.TableExists(ctx, backup)
	if err != nil {
		return err
	}
	if exists {
		return &RecoveryRequiredError{Table: t.Name, Backup: backup}
	}

	r.log.Info("rebuilding table", "tenant", tenant, "table", t.Name,
		"removing", toRemove, "renaming", active)

	// Re-read columns so values backfilled by the additive pass survive the
	// round trip through the backup table.
	cols, err := ins.Columns(ctx, t.Name)
	if err != nil {
		return err
	}
	expected := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		expected[c.Name] = true
	}

	if err := r.exec(ctx, db, tenant, t.Name,
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", backup, t.Name), res); err != nil {
		return err
	}
	if err := r.exec(ctx, db, tenant, t.Name, fmt.Sprintf("DROP TABLE %s", t.Name), res); err != nil {
		return err
	}
	if err := r.exec(ctx, db, tenant, t.Name, schema.CreateTableSQL(t), res); err != nil {
		return err
	}

	// Map each surviving column: renamed old -> new, unchanged identically,
	// removed columns simply omitted.
	var selectCols, insertCols []string
	for _, c := range cols {
		switch {
		case active[c.Name] != "":
			selectCols = append(selectCols, c.Name)
			insertCols = append(insertCols, active[c.Name])
		case expected[c.Name]:
			selectCols = append(selectCols, c.Name)
			insertCols = append(insertCols, c.Name)
		}
	}
	if len(insertCols) > 0 {
		copyBack := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			t.Name, strings.Join(insertCols, ", "), strings.Join(selectCols, ", "), backup)
		if err := r.exec(ctx, db, tenant, t.Name, copyBack, res); err != nil {
			return err
		}
	}
	if err := r.exec(ctx, db, tenant, t.Name, fmt.Sprintf("DROP TABLE %s", backup), res); err != nil {
		return err
	}

	for _, ix := range t.Indexes {
		if err := r.exec(ctx, db, tenant, t.Name, schema.CreateIndexSQL(t.Name, ix), res); err != nil {
			return err
		}
	}
	for _, tr := range t.Triggers {
		if err := r.exec(ctx, db, tenant, t.Name, schema.CreateTriggerSQL(t.Name, tr), res); err != nil {
			return err
		}
	}
	res.TablesRebuilt++
	return nil
}

// exec runs one statement, logs it, feeds the recorder, and wraps failures
// in DDLError.
func (r *Runner) exec(ctx context.Context, db dbtx, tenant, table, stmt string, res *Result) error {
	start := time.Now()
	_, err := db.ExecContext(ctx, stmt)
	elapsed := time.Since(start)

	if r.rec != nil {
		r.rec.Record(ctx, res.RunID, tenant, stmt, elapsed, err)
	}
	if err != nil {
		return &DDLError{Table: table, Statement: stmt, Err: err}
	}
	r.log.Debug("ddl applied", "tenant", tenant, "run_id", res.RunID,
		"statement", stmt, "duration", elapsed)
	res.Statements++
	return nil
}
