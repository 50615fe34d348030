// Package trace persists the DDL statements migration runs execute, with
// async batched writes to a ddl_traces table in the registry database.
//
// Tracing is done at the application level via the migrate.Recorder hook
// rather than a custom driver: every statement is recorded with its run id,
// tenant, duration and error, so a partial run can be reconstructed after
// the fact.
//
// Usage:
//
//	store := trace.NewStore(registryDB)
//	store.Init()
//	defer store.Close()
//	runner, _ := migrate.New(tables, version, migrate.WithRecorder(store))
package trace

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Entry is a single DDL trace record.
type Entry struct {
	RunID      string
	Tenant     string
	Statement  string
	DurationUs int64
	Error      string
	Timestamp  int64 // unix microseconds
}

// Store persists DDL trace entries asynchronously.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

const Schema = `
CREATE TABLE IF NOT EXISTS ddl_traces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	tenant TEXT NOT NULL,
	statement TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ddl_traces_ts ON ddl_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_ddl_traces_run ON ddl_traces(run_id) WHERE run_id != '';
CREATE INDEX IF NOT EXISTS idx_ddl_traces_tenant ON ddl_traces(tenant);
`

func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 1024),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Record logs a DDL statement with timing and optional error. It satisfies
// migrate.Recorder and never blocks the migration run.
func (s *Store) Record(ctx context.Context, runID, tenantID, statement string, d time.Duration, err error) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	} else if d > 100*time.Millisecond {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("component", "ddl"),
		slog.String("run_id", runID),
		slog.String("tenant", tenantID),
		slog.String("statement", statement),
		slog.Duration("duration", d),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.LogAttrs(ctx, level, "DDL", attrs...)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.recordAsync(&Entry{
		RunID:      runID,
		Tenant:     tenantID,
		Statement:  statement,
		DurationUs: d.Microseconds(),
		Error:      errMsg,
		Timestamp:  time.Now().UnixMicro(),
	})
}

func (s *Store) recordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
		// buffer full — drop to avoid backpressure
	}
}

func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace store: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO ddl_traces (run_id, tenant, statement, duration_us, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("trace store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.RunID, e.Tenant, e.Statement, e.DurationUs, e.Error, e.Timestamp); err != nil {
			slog.Error("trace store: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace store: commit", "error", err)
	}
}
