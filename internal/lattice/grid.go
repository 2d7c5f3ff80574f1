package lattice

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metalagman/gridca/internal/rules"
)

// Neighborhood selects the adjacency mode of the grid.
type Neighborhood string

const (
	// VonNeumann is 4-adjacency: N, S, E, W.
	VonNeumann Neighborhood = "von_neumann"
	// Moore is 8-adjacency: the full ring around a cell.
	Moore Neighborhood = "moore"
)

var vonNeumannOffsets = [][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}

var mooreOffsets = [][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// RoutingRecord captures one propagation attempt for routing analysis.
// Records are append-only and never mutated after creation.
type RoutingRecord struct {
	SourceRole   string `json:"source_role"`
	TargetRole   string `json:"target_role"`
	Kind         string `json:"kind"`
	Accepted     bool   `json:"accepted"`
	SourceDomain string `json:"source_domain"`
	TargetDomain string `json:"target_domain"`
	Broadcast    bool   `json:"broadcast"`
}

type delivery struct {
	target   Pos
	fragment Fragment
}

// Grid owns the cells, the neighbor topology and the pending-propagation
// buffer. Fragments scheduled during a tick are delivered only when the
// scheduler flushes the buffer at the tick boundary.
type Grid struct {
	Width        int
	Height       int
	Neighborhood Neighborhood
	TickCount    int

	cells   map[Pos]*Cell
	pending []delivery
}

// NewGrid creates an empty grid.
func NewGrid(width, height int, neighborhood Neighborhood) *Grid {
	return &Grid{
		Width:        width,
		Height:       height,
		Neighborhood: neighborhood,
		cells:        make(map[Pos]*Cell),
	}
}

// Place puts a cell on the grid at its position.
func (g *Grid) Place(c *Cell) error {
	if c.Pos.X < 0 || c.Pos.X >= g.Width || c.Pos.Y < 0 || c.Pos.Y >= g.Height {
		return fmt.Errorf("position %s out of bounds for %dx%d grid", c.Pos, g.Width, g.Height)
	}
	g.cells[c.Pos] = c
	return nil
}

// Get returns the cell at a position, or nil.
func (g *Grid) Get(pos Pos) *Cell { return g.cells[pos] }

// Len returns the number of placed cells.
func (g *Grid) Len() int { return len(g.cells) }

// NeighborPositions returns the occupied neighbor positions of pos, in the
// canonical offset order. The order is part of the determinism contract.
func (g *Grid) NeighborPositions(pos Pos) []Pos {
	offsets := vonNeumannOffsets
	if g.Neighborhood == Moore {
		offsets = mooreOffsets
	}
	var out []Pos
	for _, off := range offsets {
		n := Pos{X: pos.X + off[0], Y: pos.Y + off[1]}
		if n.X < 0 || n.X >= g.Width || n.Y < 0 || n.Y >= g.Height {
			continue
		}
		if _, ok := g.cells[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Neighbors returns the neighbor cells of pos.
func (g *Grid) Neighbors(pos Pos) []*Cell {
	positions := g.NeighborPositions(pos)
	out := make([]*Cell, len(positions))
	for i, p := range positions {
		out[i] = g.cells[p]
	}
	return out
}

// NeighborOutputs returns the last outputs of pos's neighbors. This is all a
// cell is allowed to see of its surroundings.
func (g *Grid) NeighborOutputs(pos Pos) []Output {
	positions := g.NeighborPositions(pos)
	out := make([]Output, len(positions))
	for i, p := range positions {
		out[i] = g.cells[p].Output
	}
	return out
}

// SchedulePropagation queues a fragment for delivery at the tick boundary.
func (g *Grid) SchedulePropagation(target Pos, f Fragment) {
	g.pending = append(g.pending, delivery{target: target, fragment: f})
}

// PendingPropagations returns the number of queued deliveries.
func (g *Grid) PendingPropagations() int { return len(g.pending) }

// FlushPropagations delivers every pending fragment to its target inbox in
// scheduling order and clears the buffer. A missing target or a full inbox
// rejects the fragment; rejection is recorded, never retried. Returns
// delivered and rejected counts plus one routing record per attempt.
func (g *Grid) FlushPropagations() (delivered, rejected int, records []RoutingRecord) {
	for _, d := range g.pending {
		cell := g.cells[d.target]
		var source *Cell
		if d.fragment.HasSource {
			source = g.cells[d.fragment.Source]
		}
		accepted := cell != nil && cell.Receive(d.fragment)
		if accepted {
			delivered++
		} else {
			rejected++
		}
		rec := RoutingRecord{
			Kind:      d.fragment.Kind,
			Accepted:  accepted,
			Broadcast: d.fragment.Tag(TagBroadcast) == "true",
		}
		if source != nil {
			rec.SourceRole = source.Role
			rec.SourceDomain = source.Domain
		} else {
			rec.SourceRole = "unknown"
		}
		if cell != nil {
			rec.TargetRole = cell.Role
			rec.TargetDomain = cell.Domain
		} else {
			rec.TargetRole = "unknown"
		}
		records = append(records, rec)
	}
	g.pending = g.pending[:0]
	return delivered, rejected, records
}

// Cells returns all cells in row-major order. This is the canonical iteration
// order for the scheduler.
func (g *Grid) Cells() []*Cell {
	positions := make([]Pos, 0, len(g.cells))
	for p := range g.cells {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Y != positions[j].Y {
			return positions[i].Y < positions[j].Y
		}
		return positions[i].X < positions[j].X
	})
	out := make([]*Cell, len(positions))
	for i, p := range positions {
		out[i] = g.cells[p]
	}
	return out
}

// CellsByRole returns cells with the given role, in row-major order.
func (g *Grid) CellsByRole(role string) []*Cell {
	var out []*Cell
	for _, c := range g.Cells() {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// CellsByDomain returns cells with the given domain, in row-major order.
func (g *Grid) CellsByDomain(domain string) []*Cell {
	var out []*Cell
	for _, c := range g.Cells() {
		if c.Domain == domain {
			out = append(out, c)
		}
	}
	return out
}

// CellsByState returns cells currently in the given state, in row-major order.
func (g *Grid) CellsByState(state rules.State) []*Cell {
	var out []*Cell
	for _, c := range g.Cells() {
		if c.State == state {
			out = append(out, c)
		}
	}
	return out
}

// Quiescent reports whether every cell is idle with an empty inbox.
func (g *Grid) Quiescent() bool {
	for _, c := range g.cells {
		if c.State != rules.StateIdle || c.HasWork() {
			return false
		}
	}
	return true
}

// HasPendingWork reports whether any inbox is non-empty or any propagation is
// still queued.
func (g *Grid) HasPendingWork() bool {
	if len(g.pending) > 0 {
		return true
	}
	for _, c := range g.cells {
		if c.HasWork() {
			return true
		}
	}
	return false
}

// Inject delivers a fragment directly into a cell's inbox, bypassing the
// propagation buffer. Used for initial conditions.
func (g *Grid) Inject(pos Pos, f Fragment) bool {
	cell := g.cells[pos]
	if cell == nil {
		return false
	}
	return cell.Receive(f)
}

// InjectBroadcast delivers a copy of the fragment to every cell matching the
// role and domain filters (empty filter matches all).
func (g *Grid) InjectBroadcast(f Fragment, role, domain string) int {
	accepted := 0
	for _, cell := range g.Cells() {
		if role != "" && cell.Role != role {
			continue
		}
		if domain != "" && cell.Domain != domain {
			continue
		}
		cp := f.WithID(fmt.Sprintf("%s-%s", f.ID, cell.Pos))
		if cell.Receive(cp) {
			accepted++
		}
	}
	return accepted
}

// Snapshot is a read-only projection of the whole grid for observation.
type Snapshot struct {
	Tick                int                 `json:"tick"`
	Width               int                 `json:"width"`
	Height              int                 `json:"height"`
	Neighborhood        Neighborhood        `json:"neighborhood"`
	TotalCells          int                 `json:"total_cells"`
	Quiescent           bool                `json:"quiescent"`
	PendingPropagations int                 `json:"pending_propagations"`
	Cells               map[string]Metrics  `json:"cells"`
	StateDistribution   map[rules.State]int `json:"state_distribution"`
}

// Snapshot captures the current grid state.
func (g *Grid) Snapshot() Snapshot {
	s := Snapshot{
		Tick:                g.TickCount,
		Width:               g.Width,
		Height:              g.Height,
		Neighborhood:        g.Neighborhood,
		TotalCells:          len(g.cells),
		Quiescent:           g.Quiescent(),
		PendingPropagations: len(g.pending),
		Cells:               make(map[string]Metrics, len(g.cells)),
		StateDistribution:   make(map[rules.State]int),
	}
	for _, state := range rules.AllStates {
		s.StateDistribution[state] = len(g.CellsByState(state))
	}
	for _, c := range g.Cells() {
		s.Cells[c.Pos.String()] = c.Metrics()
	}
	return s
}

var stateChars = map[rules.State]byte{
	rules.StateIdle:       '.',
	rules.StateWorking:    'W',
	rules.StateWaiting:    '~',
	rules.StateCritiquing: 'C',
	rules.StateBlocked:    'X',
}

// ASCII renders a one-character-per-cell view of the grid. Cells holding work
// show their inbox depth (idle) or a lowercase state letter.
func (g *Grid) ASCII() string {
	var b strings.Builder
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			cell := g.cells[Pos{X: x, Y: y}]
			if cell == nil {
				b.WriteByte(' ')
				continue
			}
			ch, ok := stateChars[cell.State]
			if !ok {
				ch = '?'
			}
			if cell.HasWork() {
				if ch == '.' {
					n := cell.InboxLen()
					if n > 9 {
						n = 9
					}
					ch = byte('0' + n)
				} else {
					ch = ch | 0x20 // lowercase
				}
			}
			b.WriteByte(ch)
		}
		if y < g.Height-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
