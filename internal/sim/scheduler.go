// Package sim drives the lattice: a synchronous, tick-based scheduler that
// advances every cell through four strictly ordered phases per tick and runs
// the grid to quiescence or a tick budget. The scheduler is the only component
// with cross-cell authority.
package sim

import (
	"context"
	"time"

	"github.com/metalagman/gridca/internal/invoke"
	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config tunes a scheduler.
type Config struct {
	MaxTicks        int
	QuiescenceTicks int
	// Workers bounds concurrent collaborator calls within EXECUTE. Values
	// below 1 mean sequential execution.
	Workers int
	// QualityBar is the canonical 0..100 critique score below which rework is
	// triggered even on a passing verdict.
	QualityBar float64
	// KeepCellActions retains per-cell action detail on tick results.
	KeepCellActions bool
}

// Defaults mirrored by internal/config.
const (
	DefaultMaxTicks        = 30
	DefaultQuiescenceTicks = 3
	DefaultWorkers         = 4
	DefaultQualityBar      = 75
)

// DefaultConfig returns the standard scheduler tuning.
func DefaultConfig() Config {
	return Config{
		MaxTicks:        DefaultMaxTicks,
		QuiescenceTicks: DefaultQuiescenceTicks,
		Workers:         DefaultWorkers,
		QualityBar:      DefaultQualityBar,
	}
}

// Scheduler advances a grid tick by tick through an injected collaborator.
// There is no hidden global state; everything the scheduler touches is here.
type Scheduler struct {
	grid    *lattice.Grid
	invoker invoke.Invoker
	cfg     Config
}

// New creates a scheduler for a grid and collaborator.
func New(grid *lattice.Grid, invoker invoke.Invoker, cfg Config) *Scheduler {
	if cfg.MaxTicks <= 0 {
		cfg.MaxTicks = DefaultMaxTicks
	}
	if cfg.QuiescenceTicks <= 0 {
		cfg.QuiescenceTicks = DefaultQuiescenceTicks
	}
	if cfg.QualityBar <= 0 {
		cfg.QualityBar = DefaultQualityBar
	}
	return &Scheduler{grid: grid, invoker: invoker, cfg: cfg}
}

// Grid returns the scheduler's grid.
func (s *Scheduler) Grid() *lattice.Grid { return s.grid }

// job is one collaborator invocation collected during EXECUTE.
type job struct {
	cell      *lattice.Cell
	action    rules.Action
	consumed  *lattice.Fragment
	neighbors []lattice.Output
	// emitKind decides the output kind when the call returns a payload.
	emitKind string
	result   lattice.Payload
}

// Tick executes one step of the automaton: READ, COMPUTE, EXECUTE, PROPAGATE,
// each phase completing for all cells before the next begins. Neighbor state
// observed during READ is always the previous tick's output.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	s.grid.TickCount++
	tickNum := s.grid.TickCount

	cells := s.grid.Cells()
	result := TickResult{Tick: tickNum}

	// READ: snapshot neighborhoods and detect signals.
	signals := make(map[lattice.Pos]rules.Signal, len(cells))
	neighborhoods := make(map[lattice.Pos][]lattice.Output, len(cells))
	for _, cell := range cells {
		outs := s.grid.NeighborOutputs(cell.Pos)
		neighborhoods[cell.Pos] = outs
		signals[cell.Pos] = cell.DetectSignal(outs)
	}

	// COMPUTE: apply rules and track stuck cells.
	fired := make(map[lattice.Pos]*rules.Rule, len(cells))
	for _, cell := range cells {
		signal := signals[cell.Pos]
		rule := cell.ApplyRule(signal)
		fired[cell.Pos] = rule

		// A non-empty inbox with no matching rule is a stall, unless the cell
		// is legitimately waiting out the execution coverage gate.
		waiting := cell.Role == rules.RoleExecution && signal == rules.SignalInsufficientCoverage
		if cell.HasWork() && rule == nil && !waiting {
			cell.TicksWithUnprocessed++
			if cell.TicksWithUnprocessed >= cell.StuckThreshold {
				cell.StuckTicks++
				result.StuckCells++
				log.Warn().
					Str("cell", cell.Pos.String()).
					Str("domain", cell.Domain).
					Str("agent", cell.AgentType).
					Str("state", string(cell.State)).
					Str("signal", string(signal)).
					Int("inbox", cell.InboxLen()).
					Int("tick", tickNum).
					Msg("stuck cell: inbox items but no matching rule")
			}
		} else {
			cell.TicksWithUnprocessed = 0
		}
	}

	// EXECUTE, pass 1: sequential sweep in canonical order. Local-only actions
	// run immediately; collaborator actions pop their work item here and are
	// queued for invocation.
	var jobs []*job
	for _, cell := range cells {
		cell.TicksActive++
		if cell.State == rules.StateIdle && !cell.HasWork() {
			cell.TicksIdleConsecutive++
		} else {
			cell.TicksIdleConsecutive = 0
		}

		rule := fired[cell.Pos]
		if rule == nil {
			continue
		}
		action := rule.Action

		if action == rules.ActionWait || action == rules.ActionSkip {
			if s.cfg.KeepCellActions {
				result.CellActions = append(result.CellActions, CellAction{Pos: cell.Pos, Action: action, Skipped: true})
			}
			continue
		}
		result.ActionsTaken++

		switch action {
		case rules.ActionSplitBatch:
			s.splitToNeighbor(cell)
			s.recordAction(&result, cell, action, nil, "")
			continue
		case rules.ActionPull:
			s.pullFromNeighbor(cell)
			s.recordAction(&result, cell, action, nil, "")
			continue
		case rules.ActionEscalate:
			s.escalateToNeighbor(cell, tickNum)
			s.recordAction(&result, cell, action, nil, "")
			continue
		}

		j := &job{cell: cell, action: action, neighbors: neighborhoods[cell.Pos]}
		switch action {
		case rules.ActionPatch:
			if !cell.HasWork() {
				continue
			}
			j.consumed = cell.Pop()
			j.emitKind = lattice.KindArtifact
		case rules.ActionChallenge:
			j.emitKind = lattice.KindChallenge
		case rules.ActionGapAnalysis:
			j.emitKind = lattice.KindWorkSpec
			if cell.Role == rules.RoleResearch {
				j.emitKind = lattice.KindEnrichment
			}
		case rules.ActionProcess, rules.ActionCritique, rules.ActionEmit:
			if !cell.HasWork() {
				// EMIT with an empty inbox is a pure state transition; the
				// cell's previous output stands.
				if action == rules.ActionEmit {
					s.recordAction(&result, cell, action, nil, "")
				}
				continue
			}
			j.consumed = cell.Pop()
			j.emitKind = outputKind(cell, action, j.consumed)
		default:
			continue
		}

		cell.InvokerCalls++
		result.InvokerCalls++
		jobs = append(jobs, j)
	}

	// EXECUTE, pass 2: collaborator calls. Calls across distinct cells are
	// independent, so they run on a bounded pool; results are applied in job
	// order below, keeping the tick deterministic regardless of completion
	// order.
	s.runJobs(ctx, tickNum, jobs)

	// EXECUTE, pass 3: apply results in canonical order.
	for _, j := range jobs {
		emitted := ""
		if j.result != nil {
			j.cell.Emit(j.result, j.emitKind, tickNum)
			result.ItemsEmitted++
			s.propagateOutput(j.cell, j.result, j.emitKind, tickNum)
			emitted = j.emitKind
		}
		s.recordAction(&result, j.cell, j.action, j.consumed, emitted)
	}

	// PROPAGATE: flush the buffer in scheduling order.
	delivered, rejected, records := s.grid.FlushPropagations()
	result.Propagations = delivered
	result.Rejected = rejected
	result.RoutingRecords = records

	// Quality accumulation from this tick's critique outputs.
	for _, cell := range cells {
		if cell.Output.Tick != tickNum || cell.Output.Kind != lattice.KindCritique {
			continue
		}
		if score, ok := payloadScore(cell.Output.Content); ok {
			result.CritiqueScores = append(result.CritiqueScores, score)
		}
		if verdict := payloadVerdict(cell.Output.Content); verdict != "" {
			result.CritiqueVerdicts = append(result.CritiqueVerdicts, verdict)
			if verdict == "fail" || verdict == "iterate" {
				result.ReworkCount++
			}
		}
	}

	result.Elapsed = time.Since(start)
	return result
}

func (s *Scheduler) runJobs(ctx context.Context, tickNum int, jobs []*job) {
	if len(jobs) == 0 {
		return
	}
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, j := range jobs {
		g.Go(func() error {
			payload, err := s.invoker.Invoke(gctx, invoke.Info(j.cell), j.action, j.consumed, j.neighbors)
			if err != nil {
				// Collaborator failure degrades to "no result this cycle".
				log.Warn().Err(err).
					Str("cell", j.cell.Pos.String()).
					Str("action", string(j.action)).
					Int("tick", tickNum).
					Msg("collaborator call failed")
				return nil
			}
			j.result = payload
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes the pool before
	// PROPAGATE may begin.
	_ = g.Wait()
}

func (s *Scheduler) recordAction(result *TickResult, cell *lattice.Cell, action rules.Action, consumed *lattice.Fragment, emitted string) {
	if !s.cfg.KeepCellActions {
		return
	}
	a := CellAction{Pos: cell.Pos, Action: action, Domain: cell.Domain, Agent: cell.AgentType}
	if consumed != nil {
		a.Consumed = consumed.Kind
	}
	a.Emitted = emitted
	result.CellActions = append(result.CellActions, a)
}

// outputKind decides what kind of output a cell emits for an action.
func outputKind(cell *lattice.Cell, action rules.Action, consumed *lattice.Fragment) string {
	if action == rules.ActionCritique {
		return lattice.KindCritique
	}
	if cell.Role == rules.RoleMaster && action == rules.ActionProcess {
		return lattice.KindWorkSpec
	}
	if cell.Role == rules.RoleExecution {
		return lattice.KindArtifact
	}
	if cell.Role == rules.RoleResearch {
		return lattice.KindResearch
	}
	if cell.AgentType == AgentTypeConsultant && consumed != nil &&
		(consumed.Kind == lattice.KindArtifact || consumed.Kind == lattice.KindCode) {
		return lattice.KindEnrichment
	}
	if consumed != nil {
		return consumed.Kind
	}
	return lattice.KindOutput
}

func payloadScore(p lattice.Payload) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p["score"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func payloadVerdict(p lattice.Payload) string {
	if p == nil {
		return ""
	}
	v, _ := p["verdict"].(string)
	return v
}
