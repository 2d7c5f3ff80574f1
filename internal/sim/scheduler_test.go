package sim

import (
	"context"
	"testing"

	"github.com/metalagman/gridca/internal/invoke"
	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeRole(t *testing.T, g *lattice.Grid, x, y int, role string) *lattice.Cell {
	t.Helper()
	c := lattice.NewCell(lattice.Pos{X: x, Y: y}, "design", role, role, rules.ForRole(role, 0.8))
	require.NoError(t, g.Place(c))
	return c
}

func brief() lattice.Fragment {
	return lattice.Fragment{
		ID:          "brief-1",
		Kind:        lattice.KindBriefChunk,
		Content:     lattice.Payload{"brief": "build the thing"},
		CostOfDelay: 5,
		JobSize:     2,
	}
}

func TestTick_MasterProcessesBrief(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	master := placeRole(t, g, 0, 0, rules.RoleMaster)
	require.True(t, g.Inject(master.Pos, brief()))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5, Workers: 2})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.Tick)
	assert.Equal(t, 1, result.ActionsTaken)
	assert.Equal(t, 1, result.InvokerCalls)
	assert.Equal(t, 1, result.ItemsEmitted)
	assert.Equal(t, 0, result.Propagations)

	assert.Equal(t, rules.StateWorking, master.State)
	assert.Equal(t, lattice.KindWorkSpec, master.Output.Kind)
	assert.Equal(t, 1, master.Output.Tick)
	assert.False(t, master.HasWork())
}

func TestTick_EmitWithEmptyInboxTransitionsOnly(t *testing.T) {
	t.Parallel()

	table := &rules.Table{Name: "flush"}
	table.Add(rules.StateWorking, rules.SignalQueueEmpty, rules.ActionEmit, rules.StateIdle)

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	cell := lattice.NewCell(lattice.Pos{}, "design", "agent", rules.RoleSub, table)
	cell.State = rules.StateWorking
	require.NoError(t, g.Place(cell))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.ActionsTaken)
	assert.Equal(t, 0, result.InvokerCalls)
	assert.Equal(t, 0, result.ItemsEmitted)
	assert.Equal(t, rules.StateIdle, cell.State)
	assert.True(t, cell.Output.Empty())
}

func TestTick_OverCapacityDeliveryIsRejected(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(3, 1, lattice.VonNeumann)
	left := placeRole(t, g, 0, 0, rules.RoleExecution)
	reviewer := placeRole(t, g, 1, 0, rules.RoleCritique)
	right := placeRole(t, g, 2, 0, rules.RoleExecution)
	reviewer.WIPLimit = 1

	spec := lattice.Fragment{ID: "spec", Kind: lattice.KindWorkSpec, CostOfDelay: 3, JobSize: 1}
	require.True(t, g.Inject(left.Pos, spec))
	require.True(t, g.Inject(right.Pos, spec.WithID("spec-2")))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	// Both execution cells emit an artifact toward the single reviewer slot.
	assert.Equal(t, 2, result.ItemsEmitted)
	assert.Equal(t, 1, result.Propagations)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, reviewer.InboxLen())
	require.Len(t, result.RoutingRecords, 2)
	assert.NotEqual(t, result.RoutingRecords[0].Accepted, result.RoutingRecords[1].Accepted)
}

func TestTick_StuckCellDetection(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	cell := lattice.NewCell(lattice.Pos{}, "design", "agent", rules.RoleSub, &rules.Table{Name: "empty"})
	require.NoError(t, g.Place(cell))
	require.True(t, g.Inject(cell.Pos, brief()))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})

	first := s.Tick(context.Background())
	assert.Equal(t, 0, first.StuckCells)

	second := s.Tick(context.Background())
	assert.Equal(t, 1, second.StuckCells)
	assert.Equal(t, 1, cell.StuckTicks)
}

func TestTick_CoverageWaitIsNotStuck(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	cell := placeRole(t, g, 0, 0, rules.RoleExecution)
	cell.MinDomainCoverage = 2
	cell.StuckThreshold = 1
	require.True(t, g.Inject(cell.Pos, brief()))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	for i := 0; i < 3; i++ {
		result := s.Tick(context.Background())
		assert.Equal(t, 0, result.StuckCells)
	}
	assert.Equal(t, 0, cell.StuckTicks)
	assert.True(t, cell.HasWork())
}

func TestTick_LowCritiqueScoreTriggersRework(t *testing.T) {
	t.Parallel()

	table := &rules.Table{Name: "reviewer"}
	table.Add(rules.StateIdle, rules.SignalCritiqueNeeded, rules.ActionCritique, rules.StateCritiquing)

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	reviewer := lattice.NewCell(lattice.Pos{X: 0, Y: 0}, "design", "critique", rules.RoleCritique, table)
	require.NoError(t, g.Place(reviewer))
	master := placeRole(t, g, 1, 0, rules.RoleMaster)

	artifact := lattice.Fragment{ID: "art", Kind: lattice.KindArtifact, CostOfDelay: 2, JobSize: 1}
	require.True(t, g.Inject(reviewer.Pos, artifact))

	stub := invoke.NewStub()
	stub.CritiqueScore = 50
	s := New(g, stub, Config{MaxTicks: 5, QualityBar: 75})
	result := s.Tick(context.Background())

	assert.Equal(t, []float64{50}, result.CritiqueScores)
	assert.Equal(t, []string{"approve"}, result.CritiqueVerdicts)
	assert.Equal(t, 0, result.ReworkCount)

	// The master neighbor got the critique output plus exactly one rework
	// fragment with iteration economics applied.
	require.Equal(t, 2, master.InboxLen())
	var rework *lattice.Fragment
	for {
		f := master.Pop()
		if f == nil {
			break
		}
		if f.Kind == lattice.KindRework {
			require.Nil(t, rework, "expected exactly one rework fragment")
			rework = f
		}
	}
	require.NotNil(t, rework)
	assert.Equal(t, 1, rework.Iteration)
	assert.InDelta(t, 1.2, rework.CostOfDelay, 1e-9)
	assert.InDelta(t, 0.7, rework.JobSize, 1e-9)
	assert.Equal(t, "true", rework.Tag(lattice.TagRework))
}

func TestTick_FailVerdictCountsAsRework(t *testing.T) {
	t.Parallel()

	table := &rules.Table{Name: "reviewer"}
	table.Add(rules.StateIdle, rules.SignalCritiqueNeeded, rules.ActionCritique, rules.StateCritiquing)

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	reviewer := lattice.NewCell(lattice.Pos{}, "design", "critique", rules.RoleCritique, table)
	require.NoError(t, g.Place(reviewer))
	require.True(t, g.Inject(reviewer.Pos, lattice.Fragment{ID: "art", Kind: lattice.KindArtifact, CostOfDelay: 1, JobSize: 1}))

	stub := invoke.NewStub()
	stub.CritiqueScore = 90
	stub.CritiqueVerdict = "fail"
	s := New(g, stub, Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.ReworkCount)
}

func TestTick_SplitBatchShedsLowestPriority(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	donor := placeRole(t, g, 0, 0, rules.RoleSub)
	helper := placeRole(t, g, 1, 0, rules.RoleSub)

	donor.State = rules.StateWorking
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "urgent", CostOfDelay: 8, JobSize: 1}))
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "later", CostOfDelay: 1, JobSize: 2}))
	// The helper's published output marks it idle so the donor offers to share.
	helper.Output = lattice.Output{State: rules.StateIdle}

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.Propagations)
	assert.Equal(t, []string{"urgent"}, donor.InboxIDs())
	assert.Equal(t, []string{"later"}, helper.InboxIDs())
}

func buildScenario(t *testing.T) *Scheduler {
	t.Helper()
	g := lattice.NewGrid(3, 3, lattice.VonNeumann)
	placeRole(t, g, 1, 1, rules.RoleMaster)
	placeRole(t, g, 0, 1, rules.RoleResearch)
	placeRole(t, g, 2, 1, rules.RoleExecution)
	placeRole(t, g, 1, 0, rules.RoleSub)
	placeRole(t, g, 1, 2, rules.RoleCritique)
	require.Equal(t, 1, g.InjectBroadcast(brief(), rules.RoleMaster, ""))
	return New(g, invoke.NewStub(), Config{MaxTicks: 6, QuiescenceTicks: 2, Workers: 4})
}

type tickTrace struct {
	Actions, Calls, Emitted, Delivered, Rejected int
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()

	runOnce := func() ([]tickTrace, RunResult) {
		s := buildScenario(t)
		var traces []tickTrace
		result := s.Run(context.Background(), func(tr TickResult) {
			traces = append(traces, tickTrace{
				Actions:   tr.ActionsTaken,
				Calls:     tr.InvokerCalls,
				Emitted:   tr.ItemsEmitted,
				Delivered: tr.Propagations,
				Rejected:  tr.Rejected,
			})
		})
		return traces, result
	}

	traces1, result1 := runOnce()
	traces2, result2 := runOnce()

	assert.Equal(t, traces1, traces2)
	assert.Equal(t, result1.TotalTicks, result2.TotalTicks)
	assert.Equal(t, result1.TotalItemsEmitted, result2.TotalItemsEmitted)
	assert.Equal(t, result1.TotalInvokerCalls, result2.TotalInvokerCalls)
	assert.Equal(t, result1.Routing, result2.Routing)
	assert.Equal(t, result1.Quality.CritiqueScores, result2.Quality.CritiqueScores)
}

func TestRun_WIPInvariantHolds(t *testing.T) {
	t.Parallel()

	s := buildScenario(t)
	s.Run(context.Background(), func(TickResult) {
		for _, cell := range s.Grid().Cells() {
			assert.LessOrEqual(t, cell.InboxLen(), cell.WIPLimit)
		}
	})
}

func TestRun_OutputTicksMonotonic(t *testing.T) {
	t.Parallel()

	s := buildScenario(t)
	last := map[lattice.Pos]int{}
	s.Run(context.Background(), func(tr TickResult) {
		for _, cell := range s.Grid().Cells() {
			tick := cell.Output.Tick
			assert.LessOrEqual(t, tick, tr.Tick)
			assert.GreaterOrEqual(t, tick, last[cell.Pos])
			last[cell.Pos] = tick
		}
	})
}

func TestRun_QuiescenceDebounce(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	placeRole(t, g, 0, 0, rules.RoleSub)
	placeRole(t, g, 1, 0, rules.RoleSub)

	s := New(g, invoke.NewStub(), Config{MaxTicks: 10, QuiescenceTicks: 3})
	result := s.Run(context.Background(), nil)

	assert.True(t, result.Quiescent)
	assert.Equal(t, 3, result.TotalTicks)
}

func TestRun_BudgetExhaustionIsNotAnError(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	master := placeRole(t, g, 0, 0, rules.RoleMaster)
	require.True(t, g.Inject(master.Pos, brief()))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 4, QuiescenceTicks: 2})
	result := s.Run(context.Background(), nil)

	// The master processes the brief and stays working; the budget runs out.
	assert.False(t, result.Quiescent)
	assert.Equal(t, 4, result.TotalTicks)
	assert.Len(t, result.TickHistory, 4)
}

func TestRun_CollectsExecutionArtifacts(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(1, 1, lattice.VonNeumann)
	coder := placeRole(t, g, 0, 0, rules.RoleExecution)
	require.True(t, g.Inject(coder.Pos, lattice.Fragment{ID: "spec", Kind: lattice.KindWorkSpec, CostOfDelay: 3, JobSize: 1}))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 3, QuiescenceTicks: 2})
	result := s.Run(context.Background(), nil)

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, lattice.KindArtifact, result.Artifacts[0].Kind)
	assert.Equal(t, "design/execution", result.Artifacts[0].Source)
	assert.Equal(t, 1, result.Artifacts[0].Tick)
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := buildScenario(t)
	result := s.Run(ctx, nil)

	assert.Equal(t, 1, result.TotalTicks)
}

func TestOutputKind_PerRoleAndAction(t *testing.T) {
	t.Parallel()

	master := lattice.NewCell(lattice.Pos{}, "design", "master", rules.RoleMaster, nil)
	assert.Equal(t, lattice.KindWorkSpec, outputKind(master, rules.ActionProcess, nil))
	assert.Equal(t, lattice.KindCritique, outputKind(master, rules.ActionCritique, nil))

	coder := lattice.NewCell(lattice.Pos{}, "execution", "coder", rules.RoleExecution, nil)
	assert.Equal(t, lattice.KindArtifact, outputKind(coder, rules.ActionProcess, nil))

	scout := lattice.NewCell(lattice.Pos{}, "design", "research", rules.RoleResearch, nil)
	assert.Equal(t, lattice.KindResearch, outputKind(scout, rules.ActionProcess, nil))

	consultant := lattice.NewCell(lattice.Pos{}, "design", AgentTypeConsultant, rules.RoleSub, nil)
	art := &lattice.Fragment{Kind: lattice.KindArtifact}
	assert.Equal(t, lattice.KindEnrichment, outputKind(consultant, rules.ActionProcess, art))

	sub := lattice.NewCell(lattice.Pos{}, "design", "sub", rules.RoleSub, nil)
	spec := &lattice.Fragment{Kind: lattice.KindConcept}
	assert.Equal(t, lattice.KindConcept, outputKind(sub, rules.ActionProcess, spec))
	assert.Equal(t, lattice.KindOutput, outputKind(sub, rules.ActionEmit, nil))
}
