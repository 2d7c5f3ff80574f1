package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/gridca/internal/sim"
)

// Store persists grid runs, per-tick records and rule search candidates.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// RunRecord is one persisted grid run.
type RunRecord struct {
	RunID             string
	CreatedAt         string
	Seed              string
	Status            string
	Ticks             int
	Quiescent         bool
	ItemsEmitted      int
	InvokerCalls      int
	RoutingEfficiency float64
	ReworkCount       int
}

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, runID, seed string) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, seed, status)
		VALUES(?, ?, ?, 'running')`, runID, createdAt, seed); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendTick records one tick result for a run.
func (s *Store) AppendTick(ctx context.Context, runID string, tick sim.TickResult) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO tick_records(run_id, tick, actions_taken, invoker_calls,
		items_emitted, delivered, rejected, stuck_cells, elapsed_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, tick.Tick, tick.ActionsTaken, tick.InvokerCalls, tick.ItemsEmitted,
		tick.Propagations, tick.Rejected, tick.StuckCells, tick.Elapsed.Milliseconds()); err != nil {
		return fmt.Errorf("insert tick record: %w", err)
	}
	return nil
}

// FinishRun closes out a run with its final result.
func (s *Store) FinishRun(ctx context.Context, runID string, result sim.RunResult) error {
	status := "done"
	if !result.Quiescent {
		status = "exhausted"
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, ticks=?, quiescent=?, items_emitted=?,
		invoker_calls=?, routing_efficiency=?, rework_count=? WHERE run_id=?`,
		status, result.TotalTicks, result.Quiescent, result.TotalItemsEmitted,
		result.TotalInvokerCalls, result.Routing.Efficiency(), result.Quality.ReworkCount, runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, seed, status, ticks, quiescent,
		items_emitted, invoker_calls, routing_efficiency, rework_count
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.Seed, &r.Status, &r.Ticks, &r.Quiescent,
			&r.ItemsEmitted, &r.InvokerCalls, &r.RoutingEfficiency, &r.ReworkCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TickRecord is one persisted tick of a run.
type TickRecord struct {
	Tick         int
	ActionsTaken int
	InvokerCalls int
	ItemsEmitted int
	Delivered    int
	Rejected     int
	StuckCells   int
	ElapsedMs    int64
}

// ListTicks returns a run's tick records in tick order.
func (s *Store) ListTicks(ctx context.Context, runID string) ([]TickRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tick, actions_taken, invoker_calls, items_emitted,
		delivered, rejected, stuck_cells, elapsed_ms
		FROM tick_records WHERE run_id=? ORDER BY tick`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tick records: %w", err)
	}
	defer rows.Close()
	var out []TickRecord
	for rows.Next() {
		var r TickRecord
		if err := rows.Scan(&r.Tick, &r.ActionsTaken, &r.InvokerCalls, &r.ItemsEmitted,
			&r.Delivered, &r.Rejected, &r.StuckCells, &r.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan tick record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CandidateRow is one persisted rule search candidate.
type CandidateRow struct {
	Fingerprint string
	Role        string
	Name        string
	Score       float64
	Generation  int
	RulesJSON   string
	CreatedAt   string
}

// GetCandidate returns the candidate for a fingerprint, if present.
func (s *Store) GetCandidate(ctx context.Context, fingerprint string) (CandidateRow, bool, error) {
	var row CandidateRow
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint, role, name, score, generation, rules_json, created_at
		FROM rule_candidates WHERE fingerprint=?`, fingerprint).
		Scan(&row.Fingerprint, &row.Role, &row.Name, &row.Score, &row.Generation, &row.RulesJSON, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CandidateRow{}, false, nil
	}
	if err != nil {
		return CandidateRow{}, false, fmt.Errorf("query candidate: %w", err)
	}
	return row, true, nil
}

// PutCandidate inserts a candidate. The fingerprint is the primary key, so a
// duplicate insert is ignored: a tested table is never re-registered.
func (s *Store) PutCandidate(ctx context.Context, row CandidateRow) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rule_candidates(fingerprint, role, name, score, generation, rules_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		row.Fingerprint, row.Role, row.Name, row.Score, row.Generation, row.RulesJSON, createdAt); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// BestCandidate returns the highest-scoring candidate for a role.
func (s *Store) BestCandidate(ctx context.Context, role string) (CandidateRow, bool, error) {
	var row CandidateRow
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint, role, name, score, generation, rules_json, created_at
		FROM rule_candidates WHERE role=? ORDER BY score DESC LIMIT 1`, role).
		Scan(&row.Fingerprint, &row.Role, &row.Name, &row.Score, &row.Generation, &row.RulesJSON, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CandidateRow{}, false, nil
	}
	if err != nil {
		return CandidateRow{}, false, fmt.Errorf("query best candidate: %w", err)
	}
	return row, true, nil
}

// CountCandidates returns the number of registered fingerprints.
func (s *Store) CountCandidates(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}
