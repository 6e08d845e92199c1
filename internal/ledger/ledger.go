// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records enrichment runs and per-product state transitions
// in SQLite. The ledger is an audit trail; the enriched output file remains
// the source of truth for resuming.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRun is returned when an id prefix matches more than one run.
var ErrAmbiguousRun = errors.New("run id prefix is ambiguous")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// Run is one invocation of the orchestrator.
type Run struct {
	ID         string                        `json:"id" yaml:"id"`
	StartedAt  time.Time                     `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time                    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Input      string                        `json:"input" yaml:"input"`
	Mode       types.ProcessingMode          `json:"mode" yaml:"mode"`
	Status     RunStatus                     `json:"status" yaml:"status"`
	Counts     map[types.ProcessingState]int `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// ProductState is the latest recorded state of one product in one run.
type ProductState struct {
	RunID      string                `json:"run_id" yaml:"run_id"`
	ProductKey string                `json:"product" yaml:"product"`
	Index      int                   `json:"index" yaml:"index"`
	State      types.ProcessingState `json:"state" yaml:"state"`
	Attempts   int                   `json:"attempts" yaml:"attempts"`
	Reason     string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at" yaml:"updated_at"`
}

// Store manages the ledger database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path and creates the schema
// if it does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// Workers report through one collector, so a single connection suffices.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			input TEXT,
			mode TEXT,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS product_states (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			product_key TEXT NOT NULL,
			idx INTEGER NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (run_id, product_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_product_states_state ON product_states(run_id, state)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// StartRun records a new running run and returns it.
func (s *Store) StartRun(ctx context.Context, input string, mode types.ProcessingMode) (Run, error) {
	r := Run{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
		Input:     input,
		Mode:      mode,
		Status:    RunRunning,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, input, mode, status) VALUES (?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), r.Input, string(r.Mode), string(r.Status),
	)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// Mark upserts the state of one product in a run.
func (s *Store) Mark(ctx context.Context, st ProductState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO product_states (run_id, product_key, idx, state, attempts, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, product_key) DO UPDATE SET
			idx=excluded.idx, state=excluded.state, attempts=excluded.attempts,
			reason=excluded.reason, updated_at=excluded.updated_at`,
		st.RunID, st.ProductKey, st.Index, string(st.State), st.Attempts, st.Reason, formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", st.ProductKey, err)
	}
	return nil
}

// FinishRun closes a run with the given status.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		formatTime(s.now().UTC()), string(status), runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, started_at, finished_at, input, mode, status FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].Counts, err = s.counts(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Run returns the run whose id equals or starts with idOrPrefix.
func (s *Store) Run(ctx context.Context, idOrPrefix string) (Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, input, mode, status FROM runs WHERE id = ? OR id LIKE ? || '%' LIMIT 2`,
		idOrPrefix, idOrPrefix,
	)
	if err != nil {
		return Run{}, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		if r.ID == idOrPrefix {
			found = []Run{r}
			break
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	rows.Close()

	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%s: %w", idOrPrefix, ErrRunNotFound)
	case 1:
	default:
		return Run{}, fmt.Errorf("%s: %w", idOrPrefix, ErrAmbiguousRun)
	}

	r := found[0]
	if r.Counts, err = s.counts(ctx, r.ID); err != nil {
		return Run{}, err
	}
	return r, nil
}

// States returns the product states of a run in input order.
func (s *Store) States(ctx context.Context, runID string) ([]ProductState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, product_key, idx, state, attempts, COALESCE(reason, ''), updated_at
		 FROM product_states WHERE run_id = ? ORDER BY idx, product_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	var out []ProductState
	for rows.Next() {
		var st ProductState
		var state, updated string
		if err := rows.Scan(&st.RunID, &st.ProductKey, &st.Index, &state, &st.Attempts, &st.Reason, &updated); err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		st.State = types.ProcessingState(state)
		st.UpdatedAt = parseTime(updated)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) counts(ctx context.Context, runID string) (map[types.ProcessingState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, count(*) FROM product_states WHERE run_id = ? GROUP BY state`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting states: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ProcessingState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[types.ProcessingState(state)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var started, mode, status string
	var finished, input sql.NullString
	if err := row.Scan(&r.ID, &started, &finished, &input, &mode, &status); err != nil {
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	r.StartedAt = parseTime(started)
	if finished.Valid && finished.String != "" {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	r.Input = input.String
	r.Mode = types.ProcessingMode(mode)
	r.Status = RunStatus(status)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
