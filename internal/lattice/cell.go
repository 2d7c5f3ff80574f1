package lattice

import (
	"fmt"
	"sort"

	"github.com/metalagman/gridca/internal/rules"
)

// Pos is a cell's integer grid position.
type Pos struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Pos) String() string { return fmt.Sprintf("%d,%d", p.X, p.Y) }

// Output is the snapshot of a cell's last emitted result, visible to its
// neighbors on the next tick.
type Output struct {
	Content Payload     `json:"content,omitempty"`
	Kind    string      `json:"kind"`
	Tick    int         `json:"tick"`
	State   rules.State `json:"state"`
}

// Empty reports whether the cell has ever emitted anything.
func (o Output) Empty() bool { return o.Content == nil && o.Kind == "" }

// Transition records one rule firing for diagnosis.
type Transition struct {
	Tick   int          `json:"tick"`
	From   rules.State  `json:"from"`
	Signal rules.Signal `json:"signal"`
	Action rules.Action `json:"action"`
	To     rules.State  `json:"to"`
}

// Cell is a single lattice position: local state, a WIP-bounded inbox of
// fragments ordered by priority, a rule table and the last visible output.
// A cell never touches another cell's inbox; only the grid does, at tick
// boundaries.
type Cell struct {
	Pos       Pos
	Domain    string
	AgentType string
	Role      string
	State     rules.State
	Table     *rules.Table

	WIPLimit   int
	Strictness float64

	// Execution gate: minimum distinct contributing domains visible before
	// the cell is allowed to build. Zero disables the gate.
	MinDomainCoverage int

	StaleThreshold int
	StuckThreshold int

	Output Output

	inbox []Fragment

	// Counters.
	TicksActive          int
	ItemsProcessed       int
	InvokerCalls         int
	TicksIdleConsecutive int
	TicksWithUnprocessed int
	StuckTicks           int

	Transitions []Transition
}

// Cell tuning defaults, mirrored by config.
const (
	DefaultWIPLimit       = 3
	DefaultStaleThreshold = 4
	DefaultStuckThreshold = 2
)

// NewCell creates a cell with default thresholds and an idle state.
func NewCell(pos Pos, domain, agentType, role string, table *rules.Table) *Cell {
	return &Cell{
		Pos:            pos,
		Domain:         domain,
		AgentType:      agentType,
		Role:           role,
		State:          rules.StateIdle,
		Table:          table,
		WIPLimit:       DefaultWIPLimit,
		StaleThreshold: DefaultStaleThreshold,
		StuckThreshold: DefaultStuckThreshold,
	}
}

// HasWork reports whether the inbox is non-empty.
func (c *Cell) HasWork() bool { return len(c.inbox) > 0 }

// AtCapacity reports whether the inbox is at its WIP limit.
func (c *Cell) AtCapacity() bool { return len(c.inbox) >= c.WIPLimit }

// InboxLen returns the inbox size.
func (c *Cell) InboxLen() int { return len(c.inbox) }

// InboxIDs returns inbox fragment ids in priority order.
func (c *Cell) InboxIDs() []string {
	ids := make([]string, len(c.inbox))
	for i, f := range c.inbox {
		ids[i] = f.ID
	}
	return ids
}

// Receive accepts a fragment if the WIP limit allows, keeping the inbox sorted
// by priority descending. The sort is stable so equal-priority fragments stay
// in arrival order.
func (c *Cell) Receive(f Fragment) bool {
	if c.AtCapacity() {
		return false
	}
	c.inbox = append(c.inbox, f)
	sort.SliceStable(c.inbox, func(i, j int) bool {
		return c.inbox[i].Priority() > c.inbox[j].Priority()
	})
	return true
}

// Peek returns the highest-priority fragment without removing it.
func (c *Cell) Peek() *Fragment {
	if len(c.inbox) == 0 {
		return nil
	}
	return &c.inbox[0]
}

// Pop removes and returns the highest-priority fragment.
func (c *Cell) Pop() *Fragment {
	if len(c.inbox) == 0 {
		return nil
	}
	f := c.inbox[0]
	c.inbox = c.inbox[1:]
	return &f
}

// PopLowest removes and returns the lowest-priority fragment. Used by
// split-batch and pull, which shed the least urgent work first.
func (c *Cell) PopLowest() *Fragment {
	if len(c.inbox) == 0 {
		return nil
	}
	f := c.inbox[len(c.inbox)-1]
	c.inbox = c.inbox[:len(c.inbox)-1]
	return &f
}

// DetectSignal computes the cell's signal for this tick from local information
// only: its own inbox and state plus the neighbors' last outputs. Detection is
// totalistic -- it counts neighbor states, it never inspects which neighbor is
// which.
func (c *Cell) DetectSignal(neighbors []Output) rules.Signal {
	var nWorking, nCritiquing, nIdle, nActiveOutput int
	for _, n := range neighbors {
		switch n.State {
		case rules.StateWorking:
			nWorking++
		case rules.StateCritiquing:
			nCritiquing++
		case rules.StateIdle:
			nIdle++
		}
		if n.Content != nil && n.Kind != "" {
			nActiveOutput++
		}
	}

	if len(c.inbox) > 0 {
		// Execution gate: count distinct contributing domains from both
		// neighbor outputs and inbox provenance tags (broadcast arrivals).
		if c.MinDomainCoverage > 0 && c.Role == rules.RoleExecution {
			if c.domainCoverage(neighbors) < c.MinDomainCoverage {
				return rules.SignalInsufficientCoverage
			}
		}

		if c.Role == rules.RoleCritique && nWorking >= 3 {
			return rules.SignalCritiqueNeeded
		}

		// Too much critique in flight: execution waits for stability.
		if c.Role == rules.RoleExecution && nCritiquing >= 2 {
			return rules.SignalInsufficientCoverage
		}

		if nIdle >= 1 && len(c.inbox) > 1 {
			return rules.SignalNeighborIdle
		}

		top := c.inbox[0]
		if c.Role == rules.RoleCritique && reviewableKind(top.Kind) {
			return rules.SignalCritiqueNeeded
		}

		// Late enrichment arriving at an execution cell that already built
		// something is iteration feedback, not fresh work.
		if c.Role == rules.RoleExecution && c.Output.Content != nil && feedbackKind(top.Kind) {
			return rules.SignalIterationDone
		}

		if top.Iteration > 0 {
			return rules.SignalIterationDone
		}
		return rules.SignalNewItem
	}

	// Anti-quiescence: a cell idle too long while neighbors are still
	// producing must not settle. The idle counter resets when STALE fires.
	if c.State == rules.StateIdle &&
		c.TicksIdleConsecutive >= c.StaleThreshold &&
		(nWorking >= 2 || nActiveOutput >= 2) {
		c.TicksIdleConsecutive = 0
		return rules.SignalStale
	}

	if c.State == rules.StateIdle && c.TicksActive > 0 && nWorking >= 3 {
		return rules.SignalNeighborIdle
	}

	// Unreachable with an empty inbox, but reported defensively.
	if c.AtCapacity() {
		return rules.SignalQueueFull
	}
	return rules.SignalQueueEmpty
}

func (c *Cell) domainCoverage(neighbors []Output) int {
	domains := make(map[string]struct{})
	for _, n := range neighbors {
		if n.Content == nil || n.Kind == "" {
			continue
		}
		if d, ok := n.Content["domain"].(string); ok && d != "" {
			domains[d] = struct{}{}
		}
		switch n.Kind {
		case KindWorkSpec, KindResearch, KindCritique, KindConcept:
			domains[n.Kind] = struct{}{}
		}
	}
	for _, f := range c.inbox {
		if d := f.Tag(TagFromDomain); d != "" {
			domains[d] = struct{}{}
		}
	}
	return len(domains)
}

// ApplyRule looks up and applies the rule for a signal. On a match the cell
// transitions to the rule's next state and the transition is logged; on no
// match the cell's state is unchanged and nil is returned.
func (c *Cell) ApplyRule(signal rules.Signal) *rules.Rule {
	if c.Table == nil {
		return nil
	}
	rule := c.Table.Lookup(c.State, signal)
	if rule == nil {
		return nil
	}
	c.Transitions = append(c.Transitions, Transition{
		Tick:   c.TicksActive,
		From:   c.State,
		Signal: signal,
		Action: rule.Action,
		To:     rule.Next,
	})
	c.State = rule.Next
	return rule
}

// Emit records the cell's new output, visible to neighbors from the next tick.
func (c *Cell) Emit(content Payload, kind string, tick int) {
	c.Output = Output{Content: content, Kind: kind, Tick: tick, State: c.State}
	c.ItemsProcessed++
}

// Metrics is a read-only projection of the cell's counters for snapshots.
type Metrics struct {
	Pos                  Pos         `json:"pos"`
	Domain               string      `json:"domain"`
	AgentType            string      `json:"agent_type"`
	Role                 string      `json:"role"`
	State                rules.State `json:"state"`
	InboxSize            int         `json:"inbox_size"`
	WIPLimit             int         `json:"wip_limit"`
	Strictness           float64     `json:"strictness,omitempty"`
	TicksActive          int         `json:"ticks_active"`
	ItemsProcessed       int         `json:"items_processed"`
	InvokerCalls         int         `json:"invoker_calls"`
	LastOutputKind       string      `json:"last_output_kind"`
	LastOutputTick       int         `json:"last_output_tick"`
	StuckTicks           int         `json:"stuck_ticks"`
	TicksWithUnprocessed int         `json:"ticks_with_unprocessed"`
	TicksIdleConsecutive int         `json:"ticks_idle_consecutive"`
}

// Metrics returns the cell's counter snapshot.
func (c *Cell) Metrics() Metrics {
	return Metrics{
		Pos:                  c.Pos,
		Domain:               c.Domain,
		AgentType:            c.AgentType,
		Role:                 c.Role,
		State:                c.State,
		InboxSize:            len(c.inbox),
		WIPLimit:             c.WIPLimit,
		Strictness:           c.Strictness,
		TicksActive:          c.TicksActive,
		ItemsProcessed:       c.ItemsProcessed,
		InvokerCalls:         c.InvokerCalls,
		LastOutputKind:       c.Output.Kind,
		LastOutputTick:       c.Output.Tick,
		StuckTicks:           c.StuckTicks,
		TicksWithUnprocessed: c.TicksWithUnprocessed,
		TicksIdleConsecutive: c.TicksIdleConsecutive,
	}
}
