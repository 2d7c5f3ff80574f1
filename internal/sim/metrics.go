package sim

import (
	"time"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// CellAction records what one cell did during a tick.
type CellAction struct {
	Pos      lattice.Pos  `json:"pos"`
	Action   rules.Action `json:"action"`
	Domain   string       `json:"domain,omitempty"`
	Agent    string       `json:"agent,omitempty"`
	Consumed string       `json:"consumed,omitempty"`
	Emitted  string       `json:"emitted,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
}

// TickResult summarizes a single tick across the grid.
type TickResult struct {
	Tick             int                     `json:"tick"`
	ActionsTaken     int                     `json:"actions_taken"`
	InvokerCalls     int                     `json:"invoker_calls"`
	ItemsEmitted     int                     `json:"items_emitted"`
	Propagations     int                     `json:"propagations"`
	Rejected         int                     `json:"rejected"`
	Elapsed          time.Duration           `json:"elapsed"`
	StuckCells       int                     `json:"stuck_cells"`
	CellActions      []CellAction            `json:"cell_actions,omitempty"`
	RoutingRecords   []lattice.RoutingRecord `json:"routing_records,omitempty"`
	CritiqueScores   []float64               `json:"critique_scores,omitempty"`
	CritiqueVerdicts []string                `json:"critique_verdicts,omitempty"`
	ReworkCount      int                     `json:"rework_count"`
}

// RoutingMetrics accumulates delivery success over a run: did work reach the
// right cells?
type RoutingMetrics struct {
	ItemsScheduled int `json:"items_scheduled"`
	ItemsDelivered int `json:"items_delivered"`
	ItemsRejected  int `json:"items_rejected"`
}

// Efficiency is the delivered fraction of scheduled propagations.
func (m RoutingMetrics) Efficiency() float64 {
	if m.ItemsScheduled == 0 {
		return 0
	}
	return float64(m.ItemsDelivered) / float64(m.ItemsScheduled)
}

// RoleBreakdown aggregates delivery outcomes per target role.
type RoleBreakdown struct {
	Scheduled  int     `json:"scheduled"`
	Delivered  int     `json:"delivered"`
	Rejected   int     `json:"rejected"`
	Efficiency float64 `json:"efficiency"`
}

// PerRole computes the delivery breakdown by target role from routing records.
func (m RoutingMetrics) PerRole(records []lattice.RoutingRecord) map[string]RoleBreakdown {
	out := make(map[string]RoleBreakdown)
	for _, r := range records {
		entry := out[r.TargetRole]
		entry.Scheduled++
		if r.Accepted {
			entry.Delivered++
		} else {
			entry.Rejected++
		}
		out[r.TargetRole] = entry
	}
	for role, entry := range out {
		if entry.Scheduled > 0 {
			entry.Efficiency = float64(entry.Delivered) / float64(entry.Scheduled)
		}
		out[role] = entry
	}
	return out
}

// QualityMetrics accumulates critique outcomes over a run: did cells produce
// good output?
type QualityMetrics struct {
	CritiqueScores   []float64 `json:"critique_scores"`
	CritiqueVerdicts []string  `json:"critique_verdicts"`
	ReworkCount      int       `json:"rework_count"`
}

// AvgScore returns the mean critique score, or false when none were seen.
func (m QualityMetrics) AvgScore() (float64, bool) {
	if len(m.CritiqueScores) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range m.CritiqueScores {
		sum += s
	}
	return sum / float64(len(m.CritiqueScores)), true
}

// VerdictCounts tallies verdicts by name.
func (m QualityMetrics) VerdictCounts() map[string]int {
	out := make(map[string]int)
	for _, v := range m.CritiqueVerdicts {
		out[v]++
	}
	return out
}

// Artifact is an output collected from a master or execution cell during a run.
type Artifact struct {
	Source  string          `json:"source"`
	Pos     lattice.Pos     `json:"pos"`
	Tick    int             `json:"tick"`
	Kind    string          `json:"kind"`
	Content lattice.Payload `json:"content"`
}

// RunResult summarizes a full run of the grid.
type RunResult struct {
	TotalTicks        int                     `json:"total_ticks"`
	TotalInvokerCalls int                     `json:"total_invoker_calls"`
	TotalItemsEmitted int                     `json:"total_items_emitted"`
	Artifacts         []Artifact              `json:"artifacts,omitempty"`
	TickHistory       []TickResult            `json:"tick_history,omitempty"`
	Quiescent         bool                    `json:"quiescent"`
	Elapsed           time.Duration           `json:"elapsed"`
	Routing           RoutingMetrics          `json:"routing"`
	Quality           QualityMetrics          `json:"quality"`
	RoutingRecords    []lattice.RoutingRecord `json:"routing_records,omitempty"`
}
