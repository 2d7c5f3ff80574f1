// Package search explores the rule table space: it mutates baseline tables,
// scores candidates by running short stubbed simulations, and keeps a
// persistent registry of tested fingerprints so the same table is never scored
// twice.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/metalagman/gridca/internal/invoke"
	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
	"github.com/metalagman/gridca/internal/sim"
	"github.com/rs/zerolog/log"
)

// RoleActions constrains which actions a mutation may assign per role; not
// every action makes sense everywhere.
var RoleActions = map[string][]rules.Action{
	rules.RoleMaster: {rules.ActionProcess, rules.ActionEmit, rules.ActionCritique,
		rules.ActionWait, rules.ActionEscalate, rules.ActionGapAnalysis},
	rules.RoleSub: {rules.ActionProcess, rules.ActionEmit, rules.ActionCritique,
		rules.ActionWait, rules.ActionPull, rules.ActionSplitBatch, rules.ActionGapAnalysis},
	rules.RoleCritique: {rules.ActionCritique, rules.ActionEmit, rules.ActionWait, rules.ActionChallenge},
	rules.RoleResearch: {rules.ActionProcess, rules.ActionEmit, rules.ActionWait,
		rules.ActionPull, rules.ActionGapAnalysis},
	rules.RoleExecution: {rules.ActionProcess, rules.ActionEmit, rules.ActionWait,
		rules.ActionPull, rules.ActionPatch, rules.ActionEscalate, rules.ActionGapAnalysis},
}

// Candidate is one tested rule table with its fitness score.
type Candidate struct {
	Table       *rules.Table
	Role        string
	Mutations   []string
	Fingerprint string
	Score       float64
	Generation  int
}

// Result summarizes a search run.
type Result struct {
	Role             string
	CandidatesTested int
	Best             *Candidate
	All              []*Candidate
	BaselineScore    float64
	Elapsed          time.Duration
}

// Params tunes a search.
type Params struct {
	Candidates            int
	SimTicks              int
	MutationsPerCandidate int
	GridWidth             int
	GridHeight            int
	Generations           int
	Population            int
	TopK                  int
}

// DefaultParams returns the standard search tuning.
func DefaultParams() Params {
	return Params{
		Candidates:            20,
		SimTicks:              8,
		MutationsPerCandidate: 2,
		GridWidth:             4,
		GridHeight:            4,
		Generations:           3,
		Population:            10,
		TopK:                  3,
	}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.Candidates <= 0 {
		p.Candidates = d.Candidates
	}
	if p.SimTicks <= 0 {
		p.SimTicks = d.SimTicks
	}
	if p.MutationsPerCandidate <= 0 {
		p.MutationsPerCandidate = d.MutationsPerCandidate
	}
	if p.GridWidth <= 0 {
		p.GridWidth = d.GridWidth
	}
	if p.GridHeight <= 0 {
		p.GridHeight = d.GridHeight
	}
	if p.Generations <= 0 {
		p.Generations = d.Generations
	}
	if p.Population <= 0 {
		p.Population = d.Population
	}
	if p.TopK <= 0 {
		p.TopK = d.TopK
	}
	return p
}

// Harness enumerates, scores and registers rule table variants.
type Harness struct {
	registry Registry
	rng      *rand.Rand
}

// NewHarness creates a search harness. The rng seed controls mutation choice,
// so a fixed seed reproduces a search exactly.
func NewHarness(registry Registry, rng *rand.Rand) *Harness {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Harness{registry: registry, rng: rng}
}

// Search scores the role's baseline table plus p.Candidates mutants.
// Fingerprints already in the registry are reused, never re-scored.
func (h *Harness) Search(ctx context.Context, role string, p Params) (*Result, error) {
	p = p.normalized()
	start := time.Now()

	baseline := rules.ForRole(role, 0.8)
	baselineScore := Evaluate(ctx, baseline, role, p)
	baselineCandidate := &Candidate{
		Table:       baseline,
		Role:        role,
		Mutations:   []string{"baseline"},
		Fingerprint: Fingerprint(baseline),
		Score:       baselineScore,
	}
	if err := h.register(ctx, baselineCandidate); err != nil {
		return nil, err
	}

	all := []*Candidate{baselineCandidate}
	for i := 0; i < p.Candidates; i++ {
		table := h.Mutate(baseline, role, p.MutationsPerCandidate)
		candidate, err := h.score(ctx, table, role, p, []string{fmt.Sprintf("mutation_%d", i)}, 1)
		if err != nil {
			return nil, err
		}
		all = append(all, candidate)
	}

	sortByScore(all)
	return &Result{
		Role:             role,
		CandidatesTested: len(all),
		Best:             all[0],
		All:              all,
		BaselineScore:    baselineScore,
		Elapsed:          time.Since(start),
	}, nil
}

// Evolve runs an elitist multi-generation search: each generation mutates the
// previous generation's top-K survivors. No crossover.
func (h *Harness) Evolve(ctx context.Context, role string, p Params) (*Result, error) {
	p = p.normalized()
	start := time.Now()

	gen0 := p
	gen0.Candidates = p.Population
	first, err := h.Search(ctx, role, gen0)
	if err != nil {
		return nil, err
	}
	all := append([]*Candidate{}, first.All...)
	parents := topK(first.All, p.TopK)

	perParent := p.Population / p.TopK
	if perParent < 1 {
		perParent = 1
	}
	for gen := 1; gen < p.Generations; gen++ {
		var genResults []*Candidate
		for _, parent := range parents {
			for i := 0; i < perParent; i++ {
				table := h.Mutate(parent.Table, role, 1)
				mutations := append(append([]string{}, parent.Mutations...), fmt.Sprintf("gen%d", gen))
				candidate, err := h.score(ctx, table, role, p, mutations, gen)
				if err != nil {
					return nil, err
				}
				genResults = append(genResults, candidate)
			}
		}
		all = append(all, genResults...)
		sortByScore(genResults)
		parents = topK(genResults, p.TopK)
		log.Debug().Str("role", role).Int("generation", gen).
			Float64("best", parents[0].Score).Msg("rule search generation complete")
	}

	sortByScore(all)
	return &Result{
		Role:             role,
		CandidatesTested: len(all),
		Best:             all[0],
		All:              all,
		BaselineScore:    first.BaselineScore,
		Elapsed:          time.Since(start),
	}, nil
}

// score evaluates a table unless its fingerprint is already registered.
func (h *Harness) score(ctx context.Context, table *rules.Table, role string, p Params, mutations []string, generation int) (*Candidate, error) {
	fp := Fingerprint(table)
	if existing, ok, err := h.registry.Get(ctx, fp); err != nil {
		return nil, fmt.Errorf("registry lookup: %w", err)
	} else if ok {
		return existing, nil
	}
	candidate := &Candidate{
		Table:       table,
		Role:        role,
		Mutations:   mutations,
		Fingerprint: fp,
		Score:       Evaluate(ctx, table, role, p),
		Generation:  generation,
	}
	if err := h.register(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

func (h *Harness) register(ctx context.Context, c *Candidate) error {
	if _, ok, err := h.registry.Get(ctx, c.Fingerprint); err != nil {
		return fmt.Errorf("registry lookup: %w", err)
	} else if ok {
		return nil
	}
	if err := h.registry.Put(ctx, c); err != nil {
		return fmt.Errorf("registry put: %w", err)
	}
	return nil
}

// Mutate returns a copy of the base table with n random mutations applied:
// change an action, change a next-state, add a rule for an unused
// (state, signal) pair, or remove a rule. Tables never shrink below 3 rules.
func (h *Harness) Mutate(base *rules.Table, role string, n int) *rules.Table {
	t := base.Clone()
	t.Name = base.Name + "-mutant"

	actions := RoleActions[role]
	if len(actions) == 0 {
		actions = rules.AllActions
	}

	for i := 0; i < n; i++ {
		switch h.rng.Intn(4) {
		case 0: // change_action
			if len(t.Rules) > 0 {
				r := &t.Rules[h.rng.Intn(len(t.Rules))]
				r.Action = actions[h.rng.Intn(len(actions))]
			}
		case 1: // change_next_state
			if len(t.Rules) > 0 {
				r := &t.Rules[h.rng.Intn(len(t.Rules))]
				r.Next = rules.AllStates[h.rng.Intn(len(rules.AllStates))]
			}
		case 2: // add_rule
			state := rules.AllStates[h.rng.Intn(len(rules.AllStates))]
			signal := rules.AllSignals[h.rng.Intn(len(rules.AllSignals))]
			if t.Lookup(state, signal) == nil {
				t.Add(state, signal, actions[h.rng.Intn(len(actions))],
					rules.AllStates[h.rng.Intn(len(rules.AllStates))])
			}
		case 3: // remove_rule
			if len(t.Rules) > 3 {
				idx := h.rng.Intn(len(t.Rules))
				t.Rules = append(t.Rules[:idx], t.Rules[idx+1:]...)
			}
		}
	}
	return t
}

// Evaluate scores a rule table by simulating a small synthetic grid around a
// single cell carrying the candidate table, with a stub collaborator and a
// fixed tick budget. Fitness rewards emitted items and activity, and
// penalizes settling early; late quiescence earns a sustained-activity bonus.
func Evaluate(ctx context.Context, table *rules.Table, role string, p Params) float64 {
	p = p.normalized()
	grid := lattice.NewGrid(p.GridWidth, p.GridHeight, lattice.Moore)

	target := lattice.Pos{X: p.GridWidth / 2, Y: p.GridHeight / 2}
	targetCell := lattice.NewCell(target, "test", role, role, table)
	targetCell.WIPLimit = 4
	_ = grid.Place(targetCell)

	neighborRoles := []string{rules.RoleSub, rules.RoleMaster, rules.RoleCritique, rules.RoleResearch}
	for i, npos := range vacantNeighborPositions(grid, target) {
		nrole := neighborRoles[i%len(neighborRoles)]
		_ = grid.Place(lattice.NewCell(npos, "test", nrole, nrole, rules.ForRole(nrole, 0.8)))
	}

	grid.Inject(target, lattice.Fragment{
		ID:          "eval-brief",
		Kind:        lattice.KindBriefChunk,
		Content:     lattice.Payload{"brief": "synthetic evaluation brief"},
		CostOfDelay: 5.0,
		JobSize:     2.0,
	})

	scheduler := sim.New(grid, invoke.NewStub(), sim.Config{
		MaxTicks:        p.SimTicks,
		QuiescenceTicks: 1,
		Workers:         1,
	})

	emitted := 0
	actions := 0
	ticksToQuiescence := p.SimTicks
	for t := 0; t < p.SimTicks; t++ {
		result := scheduler.Tick(ctx)
		emitted += result.ItemsEmitted
		actions += result.ActionsTaken
		if grid.Quiescent() && !grid.HasPendingWork() {
			ticksToQuiescence = t + 1
			break
		}
	}

	score := float64(emitted)*3.0 + float64(actions)*1.0 - float64(ticksToQuiescence)*0.5
	if float64(ticksToQuiescence) >= float64(p.SimTicks)*0.8 {
		score += 2.0
	}
	return score
}

// vacantNeighborPositions returns the would-be neighbor positions of pos that
// have no cell yet, in canonical order.
func vacantNeighborPositions(grid *lattice.Grid, pos lattice.Pos) []lattice.Pos {
	offsets := [][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
	var out []lattice.Pos
	for _, off := range offsets {
		n := lattice.Pos{X: pos.X + off[0], Y: pos.Y + off[1]}
		if n.X < 0 || n.X >= grid.Width || n.Y < 0 || n.Y >= grid.Height {
			continue
		}
		if grid.Get(n) == nil {
			out = append(out, n)
		}
	}
	return out
}

// Fingerprint returns a stable 16-hex-char hash over the sorted rule set,
// ignoring annotations. Tables with the same rules share a fingerprint.
func Fingerprint(t *rules.Table) string {
	entries := make([]string, len(t.Rules))
	for i, r := range t.Rules {
		entries[i] = fmt.Sprintf("%s,%s,%s,%s", r.State, r.Signal, r.Action, r.Next)
	}
	sort.Strings(entries)
	sum := sha256.Sum256([]byte(strings.Join(entries, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

func sortByScore(cs []*Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Score > cs[j].Score })
}

func topK(cs []*Candidate, k int) []*Candidate {
	sorted := append([]*Candidate{}, cs...)
	sortByScore(sorted)
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
