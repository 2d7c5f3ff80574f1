package invoke

import (
	"context"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// Stub is a deterministic invoker returning canned payloads per action. It is
// used by the rule search evaluator and by tests; it never fails and makes no
// external calls.
type Stub struct {
	// CritiqueScore is the score attached to critique payloads (0..100).
	CritiqueScore float64
	// CritiqueVerdict is the verdict attached to critique payloads.
	CritiqueVerdict string
}

// NewStub returns a stub that approves everything with a score of 80.
func NewStub() *Stub {
	return &Stub{CritiqueScore: 80, CritiqueVerdict: "approve"}
}

// Invoke implements Invoker.
func (s *Stub) Invoke(_ context.Context, _ CellInfo, action rules.Action, fragment *lattice.Fragment, _ []lattice.Output) (lattice.Payload, error) {
	switch action {
	case rules.ActionWait, rules.ActionSkip:
		return nil, nil
	case rules.ActionChallenge:
		return lattice.Payload{"gaps": []any{"stub gap"}, "challenges": []any{"stub challenge"}}, nil
	case rules.ActionGapAnalysis:
		return lattice.Payload{"gaps": []any{"missing component"}, "recommendations": []any{"add tests"}}, nil
	case rules.ActionCritique:
		return lattice.Payload{
			"score":    s.CritiqueScore,
			"verdict":  s.CritiqueVerdict,
			"feedback": "stub feedback",
		}, nil
	}
	kind := "test"
	if fragment != nil {
		kind = fragment.Kind
	}
	return lattice.Payload{"result": "stub output", "kind": kind}, nil
}
