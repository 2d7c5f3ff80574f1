// Package invoke defines the collaborator boundary: the single interface the
// scheduler depends on for per-cell computation, plus deterministic in-process
// implementations and an optional Gemini-backed adapter.
//
// Contract: a nil payload with a nil error means "no output this cycle" and is
// always valid. Implementations must be safe for concurrent calls across
// distinct cells within one tick. Critique payloads carry "score" on the
// canonical 0..100 scale; adapters normalize before returning, the scheduler
// never does.
package invoke

import (
	"context"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// CellInfo is the read-only slice of a cell the collaborator may see.
type CellInfo struct {
	Pos       lattice.Pos
	Domain    string
	AgentType string
	Role      string
	State     rules.State
}

// Info snapshots a cell for a collaborator call.
func Info(c *lattice.Cell) CellInfo {
	return CellInfo{
		Pos:       c.Pos,
		Domain:    c.Domain,
		AgentType: c.AgentType,
		Role:      c.Role,
		State:     c.State,
	}
}

// Invoker performs the opaque per-cell computation when a rule fires.
type Invoker interface {
	Invoke(ctx context.Context, cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) (lattice.Payload, error)
}

// Func adapts a function to the Invoker interface.
type Func func(ctx context.Context, cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) (lattice.Payload, error)

// Invoke implements Invoker.
func (f Func) Invoke(ctx context.Context, cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) (lattice.Payload, error) {
	return f(ctx, cell, action, fragment, neighbors)
}

// NormalizeScore maps a critique score onto the canonical 0..100 scale.
// Collaborators emitting 0..1 fractions are scaled up; everything else passes
// through. Returns false when the value is not numeric.
func NormalizeScore(v any) (float64, bool) {
	var score float64
	switch n := v.(type) {
	case float64:
		score = n
	case float32:
		score = float64(n)
	case int:
		score = float64(n)
	case int64:
		score = float64(n)
	default:
		return 0, false
	}
	if score >= 0 && score <= 1 {
		score *= 100
	}
	return score, true
}
