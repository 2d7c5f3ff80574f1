package invoke

import (
	"context"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// ScriptKey selects a scripted response. An empty Role matches any role.
type ScriptKey struct {
	Role   string
	Action rules.Action
}

// Script is a table-driven invoker for runs without a collaborator backend.
// Responses are keyed by (role, action); misses fall through to the stub so a
// partial script still produces a complete run.
type Script struct {
	Responses map[ScriptKey]lattice.Payload
	Fallback  Invoker
}

// NewScript creates a script invoker with a stub fallback.
func NewScript(responses map[ScriptKey]lattice.Payload) *Script {
	return &Script{Responses: responses, Fallback: NewStub()}
}

// Invoke implements Invoker.
func (s *Script) Invoke(ctx context.Context, cell CellInfo, action rules.Action, fragment *lattice.Fragment, neighbors []lattice.Output) (lattice.Payload, error) {
	if p, ok := s.Responses[ScriptKey{Role: cell.Role, Action: action}]; ok {
		return clonePayload(p), nil
	}
	if p, ok := s.Responses[ScriptKey{Action: action}]; ok {
		return clonePayload(p), nil
	}
	if s.Fallback == nil {
		return nil, nil
	}
	return s.Fallback.Invoke(ctx, cell, action, fragment, neighbors)
}

// clonePayload shallow-copies so callers cannot mutate the script table.
func clonePayload(p lattice.Payload) lattice.Payload {
	if p == nil {
		return nil
	}
	cp := make(lattice.Payload, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}
