package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/metalagman/gridca/internal/db"
	"github.com/metalagman/gridca/internal/rules"
)

// Registry persists tested candidates keyed by fingerprint. A fingerprint
// present in the registry is never re-scored.
type Registry interface {
	Get(ctx context.Context, fingerprint string) (*Candidate, bool, error)
	Put(ctx context.Context, c *Candidate) error
	Best(ctx context.Context, role string) (*Candidate, bool, error)
	Count(ctx context.Context) (int, error)
}

// MemRegistry is an in-memory registry for tests and throwaway searches.
type MemRegistry struct {
	mu sync.Mutex
	m  map[string]*Candidate
}

// NewMemRegistry creates an empty in-memory registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{m: make(map[string]*Candidate)}
}

// Get implements Registry.
func (r *MemRegistry) Get(_ context.Context, fingerprint string) (*Candidate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[fingerprint]
	return c, ok, nil
}

// Put implements Registry.
func (r *MemRegistry) Put(_ context.Context, c *Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.Fingerprint]; !ok {
		r.m[c.Fingerprint] = c
	}
	return nil
}

// Best implements Registry.
func (r *MemRegistry) Best(_ context.Context, role string) (*Candidate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Candidate
	for _, c := range r.m {
		if c.Role != role {
			continue
		}
		if best == nil || c.Score > best.Score {
			best = c
		}
	}
	return best, best != nil, nil
}

// Count implements Registry.
func (r *MemRegistry) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m), nil
}

// SQLRegistry persists candidates through the sqlite store.
type SQLRegistry struct {
	store *db.Store
}

// NewSQLRegistry wraps a store as a Registry.
func NewSQLRegistry(store *db.Store) *SQLRegistry {
	return &SQLRegistry{store: store}
}

// Get implements Registry.
func (r *SQLRegistry) Get(ctx context.Context, fingerprint string) (*Candidate, bool, error) {
	row, ok, err := r.store.GetCandidate(ctx, fingerprint)
	if err != nil || !ok {
		return nil, false, err
	}
	c, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Put implements Registry.
func (r *SQLRegistry) Put(ctx context.Context, c *Candidate) error {
	row, err := toRow(c)
	if err != nil {
		return err
	}
	return r.store.PutCandidate(ctx, row)
}

// Best implements Registry.
func (r *SQLRegistry) Best(ctx context.Context, role string) (*Candidate, bool, error) {
	row, ok, err := r.store.BestCandidate(ctx, role)
	if err != nil || !ok {
		return nil, false, err
	}
	c, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Count implements Registry.
func (r *SQLRegistry) Count(ctx context.Context) (int, error) {
	return r.store.CountCandidates(ctx)
}

func toRow(c *Candidate) (db.CandidateRow, error) {
	rulesJSON, err := json.Marshal(c.Table.Rules)
	if err != nil {
		return db.CandidateRow{}, fmt.Errorf("marshal rules: %w", err)
	}
	return db.CandidateRow{
		Fingerprint: c.Fingerprint,
		Role:        c.Role,
		Name:        c.Table.Name,
		Score:       c.Score,
		Generation:  c.Generation,
		RulesJSON:   string(rulesJSON),
	}, nil
}

func fromRow(row db.CandidateRow) (*Candidate, error) {
	var entries []rules.Rule
	if err := json.Unmarshal([]byte(row.RulesJSON), &entries); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &Candidate{
		Table:       &rules.Table{Name: row.Name, Rules: entries},
		Role:        row.Role,
		Fingerprint: row.Fingerprint,
		Score:       row.Score,
		Generation:  row.Generation,
	}, nil
}
