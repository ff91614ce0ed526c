package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so finished_at sorts lexically in both dialects.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect names the database/sql driver backing a SQLStore.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// SQLStore keeps runs in a flowsmith_runs table. The full entry is stored as
// JSON next to a few columns used for listing.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	schemaOnce sync.Once
	schemaErr  error
}

// OpenSQL opens dsn with the given dialect. For SQLite the dsn is a file
// path or ":memory:".
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("runlog: unsupported dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// A single connection keeps ":memory:" databases alive across calls.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites $n placeholders for drivers that expect '?'.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != SQLite {
		return q
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS flowsmith_runs (
  run_id TEXT PRIMARY KEY,
  flow_name TEXT NOT NULL DEFAULT '',
  success BOOLEAN NOT NULL DEFAULT FALSE,
  iterations INTEGER NOT NULL DEFAULT 0,
  meta_rounds INTEGER NOT NULL DEFAULT 0,
  critical_errors INTEGER NOT NULL DEFAULT 0,
  finished_at TEXT NOT NULL,
  entry TEXT NOT NULL
)`)
		if s.schemaErr != nil {
			return
		}
		_, s.schemaErr = s.db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS idx_flowsmith_runs_finished_at ON flowsmith_runs (finished_at)`)
	})
	return s.schemaErr
}

func (s *SQLStore) Save(ctx context.Context, e *Entry) error {
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("runlog: schema: %w", err)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("runlog: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO flowsmith_runs (
  run_id, flow_name, success, iterations, meta_rounds, critical_errors, finished_at, entry
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id)
DO UPDATE SET flow_name=EXCLUDED.flow_name,
  success=EXCLUDED.success,
  iterations=EXCLUDED.iterations,
  meta_rounds=EXCLUDED.meta_rounds,
  critical_errors=EXCLUDED.critical_errors,
  finished_at=EXCLUDED.finished_at,
  entry=EXCLUDED.entry`),
		e.RunID, e.FlowName, e.Success, e.Iterations, e.MetaRounds, e.LastCritical(),
		e.FinishedAt.UTC().Format(timeLayout), string(body))
	if err != nil {
		return fmt.Errorf("runlog: insert %s: %w", e.RunID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (*Entry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("runlog: schema: %w", err)
	}
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT entry FROM flowsmith_runs WHERE run_id = $1`), strings.TrimSpace(runID)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("runlog: decode %s: %w", runID, err)
	}
	return &e, nil
}

// List returns the most recently finished runs first. limit <= 0 means all.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("runlog: schema: %w", err)
	}
	q := `SELECT run_id, flow_name, success, iterations, meta_rounds, critical_errors, finished_at
FROM flowsmith_runs ORDER BY finished_at DESC`
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			finished string
		)
		if err := rows.Scan(&sum.RunID, &sum.FlowName, &sum.Success, &sum.Iterations, &sum.MetaRounds, &sum.CriticalErrors, &finished); err != nil {
			return nil, err
		}
		sum.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}
