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

func TestShouldReceive_RoleAllowList(t *testing.T) {
	t.Parallel()

	source := lattice.NewCell(lattice.Pos{}, "design", "src", rules.RoleSub, nil)
	foreign := lattice.NewCell(lattice.Pos{}, "editorial", "src", rules.RoleSub, nil)

	master := lattice.NewCell(lattice.Pos{}, "design", "m", rules.RoleMaster, nil)
	assert.True(t, shouldReceive(master, lattice.KindArtifact, foreign))
	assert.True(t, shouldReceive(master, lattice.KindCritique, foreign))
	assert.False(t, shouldReceive(master, lattice.KindWorkSpec, foreign))

	critique := lattice.NewCell(lattice.Pos{}, "design", "c", rules.RoleCritique, nil)
	assert.True(t, shouldReceive(critique, lattice.KindArtifact, foreign))
	assert.True(t, shouldReceive(critique, lattice.KindWorkSpec, foreign))
	assert.False(t, shouldReceive(critique, lattice.KindRework, foreign))

	execution := lattice.NewCell(lattice.Pos{}, "design", "x", rules.RoleExecution, nil)
	assert.True(t, shouldReceive(execution, lattice.KindWorkSpec, foreign))
	assert.True(t, shouldReceive(execution, lattice.KindRework, foreign))
	assert.False(t, shouldReceive(execution, lattice.KindArtifact, foreign))

	sub := lattice.NewCell(lattice.Pos{}, "design", "s", rules.RoleSub, nil)
	assert.True(t, shouldReceive(sub, lattice.KindWorkSpec, foreign))
	assert.False(t, shouldReceive(sub, lattice.KindArtifact, foreign))

	// Consultants additionally accept artifacts for review.
	consultant := lattice.NewCell(lattice.Pos{}, "design", AgentTypeConsultant, rules.RoleSub, nil)
	assert.True(t, shouldReceive(consultant, lattice.KindArtifact, foreign))

	// Same-domain cells share knowledge kinds even off the role list.
	assert.True(t, shouldReceive(sub, lattice.KindConcept, source))
	assert.False(t, shouldReceive(sub, lattice.KindConcept, foreign))
}

func TestBroadcastToExecution_KindAndRole(t *testing.T) {
	t.Parallel()

	assert.True(t, broadcastToExecution(lattice.KindWorkSpec, rules.RoleMaster))
	assert.True(t, broadcastToExecution(lattice.KindResearch, rules.RoleResearch))
	assert.True(t, broadcastToExecution(lattice.KindEnrichment, rules.RoleSub))
	assert.False(t, broadcastToExecution(lattice.KindArtifact, rules.RoleMaster))
	assert.False(t, broadcastToExecution(lattice.KindWorkSpec, rules.RoleExecution))
}

func TestPropagateOutput_BroadcastReachesDistantExecution(t *testing.T) {
	t.Parallel()

	// Master and execution cells are not adjacent; the work spec must still
	// arrive, tagged as a broadcast.
	g := lattice.NewGrid(4, 1, lattice.VonNeumann)
	master := placeRole(t, g, 0, 0, rules.RoleMaster)
	require.True(t, g.Inject(master.Pos, brief()))
	coder := placeRole(t, g, 3, 0, rules.RoleExecution)

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.Propagations)
	require.Equal(t, 1, coder.InboxLen())
	spec := coder.Pop()
	assert.Equal(t, lattice.KindWorkSpec, spec.Kind)
	assert.Equal(t, "true", spec.Tag(lattice.TagBroadcast))
	assert.Equal(t, "design", spec.Tag(lattice.TagFromDomain))
}

func TestPropagateOutput_ArtifactFansOutToConsultants(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(4, 1, lattice.VonNeumann)
	coder := placeRole(t, g, 0, 0, rules.RoleExecution)
	require.True(t, g.Inject(coder.Pos, lattice.Fragment{ID: "spec", Kind: lattice.KindWorkSpec, CostOfDelay: 2, JobSize: 1}))

	consultant := lattice.NewCell(lattice.Pos{X: 3, Y: 0}, "design", AgentTypeConsultant, rules.RoleSub, rules.SubTable(0.8))
	require.NoError(t, g.Place(consultant))
	// A plain sub at the same distance gets nothing.
	plain := placeRole(t, g, 2, 0, rules.RoleSub)

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	result := s.Tick(context.Background())

	assert.Equal(t, 1, result.Propagations)
	require.Equal(t, 1, consultant.InboxLen())
	art := consultant.Pop()
	assert.Equal(t, lattice.KindArtifact, art.Kind)
	assert.Equal(t, "true", art.Tag(lattice.TagReviewRequested))
	assert.Equal(t, 0, plain.InboxLen())
}

func TestPullFromNeighbor_TakesFromMostLoaded(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(3, 1, lattice.VonNeumann)
	light := placeRole(t, g, 0, 0, rules.RoleSub)
	puller := placeRole(t, g, 1, 0, rules.RoleSub)
	heavy := placeRole(t, g, 2, 0, rules.RoleSub)

	require.True(t, g.Inject(light.Pos, lattice.Fragment{ID: "l1", CostOfDelay: 1, JobSize: 1}))
	require.True(t, g.Inject(light.Pos, lattice.Fragment{ID: "l2", CostOfDelay: 1, JobSize: 1}))
	for _, id := range []string{"h-high", "h-mid", "h-low"} {
		cod := map[string]float64{"h-high": 9, "h-mid": 5, "h-low": 1}[id]
		require.True(t, g.Inject(heavy.Pos, lattice.Fragment{ID: id, CostOfDelay: cod, JobSize: 1}))
	}

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	s.pullFromNeighbor(puller)

	assert.Equal(t, []string{"h-low"}, puller.InboxIDs())
	assert.Equal(t, 2, heavy.InboxLen())
	assert.Equal(t, 2, light.InboxLen())
}

func TestPullFromNeighbor_HandsBackWhenFull(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	puller := placeRole(t, g, 0, 0, rules.RoleSub)
	donor := placeRole(t, g, 1, 0, rules.RoleSub)

	puller.WIPLimit = 1
	require.True(t, g.Inject(puller.Pos, lattice.Fragment{ID: "own", CostOfDelay: 1, JobSize: 1}))
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "d1", CostOfDelay: 1, JobSize: 1}))
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "d2", CostOfDelay: 2, JobSize: 1}))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	s.pullFromNeighbor(puller)

	assert.Equal(t, []string{"own"}, puller.InboxIDs())
	assert.Equal(t, 2, donor.InboxLen())
}

func TestPullFromNeighbor_SkipsSingleItemNeighbors(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	puller := placeRole(t, g, 0, 0, rules.RoleSub)
	neighbor := placeRole(t, g, 1, 0, rules.RoleSub)
	require.True(t, g.Inject(neighbor.Pos, lattice.Fragment{ID: "only", CostOfDelay: 1, JobSize: 1}))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	s.pullFromNeighbor(puller)

	assert.Equal(t, 0, puller.InboxLen())
	assert.Equal(t, 1, neighbor.InboxLen())
}

func TestEscalateToNeighbor_DerivesWithProvenance(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	coder := placeRole(t, g, 0, 0, rules.RoleExecution)
	reviewer := placeRole(t, g, 1, 0, rules.RoleCritique)
	require.True(t, g.Inject(coder.Pos, lattice.Fragment{ID: "hard", Kind: lattice.KindWorkSpec, CostOfDelay: 5, JobSize: 2}))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	s.escalateToNeighbor(coder, 3)
	g.FlushPropagations()

	assert.False(t, coder.HasWork())
	require.Equal(t, 1, reviewer.InboxLen())
	esc := reviewer.Pop()
	assert.Equal(t, "hard-escalate-t3", esc.ID)
	assert.Equal(t, lattice.KindWorkSpec, esc.Kind)
	assert.Equal(t, 1, esc.Iteration)
	assert.InDelta(t, 6.0, esc.CostOfDelay, 1e-9)
	assert.InDelta(t, 1.4, esc.JobSize, 1e-9)
	assert.Equal(t, "design/execution", esc.Tags[lattice.TagEscalatedFrom])
}

func TestEscalateToNeighbor_NoEligibleTargetKeepsWork(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	coder := placeRole(t, g, 0, 0, rules.RoleExecution)
	placeRole(t, g, 1, 0, rules.RoleSub)
	require.True(t, g.Inject(coder.Pos, lattice.Fragment{ID: "w", CostOfDelay: 1, JobSize: 1}))

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})
	s.escalateToNeighbor(coder, 1)

	assert.Equal(t, 1, coder.InboxLen())
	assert.Equal(t, 0, g.PendingPropagations())
}

func TestSplitToNeighbor_RequiresBacklogAndIdleTarget(t *testing.T) {
	t.Parallel()

	g := lattice.NewGrid(2, 1, lattice.VonNeumann)
	donor := placeRole(t, g, 0, 0, rules.RoleSub)
	helper := placeRole(t, g, 1, 0, rules.RoleSub)

	s := New(g, invoke.NewStub(), Config{MaxTicks: 5})

	// A single item is never split away.
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "a", CostOfDelay: 1, JobSize: 1}))
	s.splitToNeighbor(donor)
	assert.Equal(t, 0, g.PendingPropagations())

	// Busy neighbors are not offered work.
	require.True(t, g.Inject(donor.Pos, lattice.Fragment{ID: "b", CostOfDelay: 1, JobSize: 1}))
	helper.State = rules.StateWorking
	s.splitToNeighbor(donor)
	assert.Equal(t, 0, g.PendingPropagations())

	helper.State = rules.StateIdle
	s.splitToNeighbor(donor)
	assert.Equal(t, 1, g.PendingPropagations())
	assert.Equal(t, 1, donor.InboxLen())
}

func TestRoutingMetrics_EfficiencyAndPerRole(t *testing.T) {
	t.Parallel()

	m := RoutingMetrics{ItemsScheduled: 4, ItemsDelivered: 3, ItemsRejected: 1}
	assert.InDelta(t, 0.75, m.Efficiency(), 1e-9)
	assert.Zero(t, RoutingMetrics{}.Efficiency())

	records := []lattice.RoutingRecord{
		{TargetRole: rules.RoleCritique, Accepted: true},
		{TargetRole: rules.RoleCritique, Accepted: false},
		{TargetRole: rules.RoleMaster, Accepted: true},
	}
	perRole := m.PerRole(records)
	assert.Equal(t, RoleBreakdown{Scheduled: 2, Delivered: 1, Rejected: 1, Efficiency: 0.5}, perRole[rules.RoleCritique])
	assert.Equal(t, RoleBreakdown{Scheduled: 1, Delivered: 1, Efficiency: 1}, perRole[rules.RoleMaster])
}
