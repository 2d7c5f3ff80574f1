// Package lattice implements the 2D agent lattice: work fragments, agent
// cells with bounded priority inboxes, and the grid topology they live on.
package lattice

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Payload is an opaque fragment payload. The core never dereferences it for
// routing; only the Kind tag drives routing decisions. Critique payloads
// expose the well-known keys "score", "verdict" and "feedback".
type Payload map[string]any

// Fragment is the unit of work that flows between cells. Fragments are
// immutable once created; escalation and rework always derive a new one.
type Fragment struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Content     Payload           `json:"content"`
	Source      Pos               `json:"source"`
	HasSource   bool              `json:"has_source"`
	CostOfDelay float64           `json:"cost_of_delay"`
	JobSize     float64           `json:"job_size"`
	Iteration   int               `json:"iteration"`
	CreatedAt   time.Time         `json:"created_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Economics of re-issued work: urgency grows, size shrinks.
const (
	reworkCostFactor = 1.2
	reworkSizeFactor = 0.7
)

// NewFragment creates a fragment with a unique id.
func NewFragment(kind string, content Payload, costOfDelay, jobSize float64) Fragment {
	return Fragment{
		ID:          fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8]),
		Kind:        kind,
		Content:     content,
		CostOfDelay: costOfDelay,
		JobSize:     jobSize,
		CreatedAt:   time.Now(),
	}
}

// Priority is the weighted-shortest-job-first score: cost of delay divided by
// job size. Zero or negative size means the work is infinitely urgent.
func (f Fragment) Priority() float64 {
	if f.JobSize <= 0 {
		return math.Inf(1)
	}
	return f.CostOfDelay / f.JobSize
}

// Tag returns the value for a tag key, or "".
func (f Fragment) Tag(key string) string {
	if f.Tags == nil {
		return ""
	}
	return f.Tags[key]
}

// WithID returns a copy of the fragment under a new id. Used when fanning one
// logical fragment out to several targets, which must not share inbox ids.
func (f Fragment) WithID(id string) Fragment {
	cp := f
	cp.ID = id
	cp.Tags = cloneTags(f.Tags)
	return cp
}

// Derive returns a re-issued copy of the fragment with iteration economics
// applied: iteration+1, cost of delay x1.2, job size x0.7.
func (f Fragment) Derive(id, kind string, from Pos) Fragment {
	cp := f
	cp.ID = id
	if kind != "" {
		cp.Kind = kind
	}
	cp.Source = from
	cp.HasSource = true
	cp.CostOfDelay = f.CostOfDelay * reworkCostFactor
	cp.JobSize = f.JobSize * reworkSizeFactor
	cp.Iteration = f.Iteration + 1
	cp.Tags = cloneTags(f.Tags)
	return cp
}

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return cp
}
