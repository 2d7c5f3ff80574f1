package search

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/metalagman/gridca/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		Candidates:            5,
		SimTicks:              3,
		MutationsPerCandidate: 2,
		GridWidth:             3,
		GridHeight:            3,
	}
}

func TestFingerprint_StableAcrossRuleOrder(t *testing.T) {
	t.Parallel()

	a := &rules.Table{Name: "a"}
	a.Add(rules.StateIdle, rules.SignalNewItem, rules.ActionProcess, rules.StateWorking)
	a.Add(rules.StateWorking, rules.SignalBatchComplete, rules.ActionEmit, rules.StateIdle)

	b := &rules.Table{Name: "b"}
	b.Add(rules.StateWorking, rules.SignalBatchComplete, rules.ActionEmit, rules.StateIdle)
	b.AddNote(rules.StateIdle, rules.SignalNewItem, rules.ActionProcess, rules.StateWorking, "annotation only")

	// Same rule set: same fingerprint, regardless of order, name or notes.
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 16)

	b.Add(rules.StateIdle, rules.SignalStale, rules.ActionWait, rules.StateIdle)
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestMutate_KeepsTablesValid(t *testing.T) {
	t.Parallel()

	h := NewHarness(NewMemRegistry(), rand.New(rand.NewSource(7)))
	base := rules.CritiqueTable()
	baseLen := len(base.Rules)
	allowed := make(map[rules.Action]bool)
	for _, a := range RoleActions[rules.RoleCritique] {
		allowed[a] = true
	}

	for i := 0; i < 100; i++ {
		mutant := h.Mutate(base, rules.RoleCritique, 6)

		assert.GreaterOrEqual(t, len(mutant.Rules), 3)
		assert.Equal(t, "critique-mutant", mutant.Name)

		seen := make(map[[2]string]bool)
		for _, r := range mutant.Rules {
			key := [2]string{string(r.State), string(r.Signal)}
			assert.False(t, seen[key], "duplicate rule for %v", key)
			seen[key] = true
			assert.True(t, allowed[r.Action], "action %s not allowed for critique", r.Action)
		}
	}

	// The base table is never modified in place.
	assert.Len(t, base.Rules, baseLen)
}

func TestEvaluate_DeterministicAndFinite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	table := rules.SubTable(0.8)
	p := testParams()

	first := Evaluate(ctx, table, rules.RoleSub, p)
	second := Evaluate(ctx, table, rules.RoleSub, p)

	assert.Equal(t, first, second)
	assert.False(t, math.IsNaN(first))
	assert.False(t, math.IsInf(first, 0))
}

type countingRegistry struct {
	*MemRegistry
	puts int
}

func (r *countingRegistry) Put(ctx context.Context, c *Candidate) error {
	r.puts++
	return r.MemRegistry.Put(ctx, c)
}

func TestSearch_ScoresBaselinePlusMutants(t *testing.T) {
	t.Parallel()

	reg := &countingRegistry{MemRegistry: NewMemRegistry()}
	h := NewHarness(reg, rand.New(rand.NewSource(42)))

	result, err := h.Search(context.Background(), rules.RoleSub, testParams())
	require.NoError(t, err)

	assert.Equal(t, rules.RoleSub, result.Role)
	assert.Equal(t, 6, result.CandidatesTested)
	require.Len(t, result.All, 6)

	// Sorted best-first, baseline included.
	for i := 1; i < len(result.All); i++ {
		assert.GreaterOrEqual(t, result.All[i-1].Score, result.All[i].Score)
	}
	assert.Same(t, result.All[0], result.Best)
	assert.GreaterOrEqual(t, result.Best.Score, result.BaselineScore)
}

func TestSearch_NeverRescoresKnownFingerprints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := &countingRegistry{MemRegistry: NewMemRegistry()}

	_, err := NewHarness(reg, rand.New(rand.NewSource(42))).Search(ctx, rules.RoleSub, testParams())
	require.NoError(t, err)

	count, err := reg.Count(ctx)
	require.NoError(t, err)
	// One Put per distinct fingerprint; colliding mutants are reused.
	assert.Equal(t, count, reg.puts)
	assert.LessOrEqual(t, count, 6)

	// Replaying the same seeded search adds nothing to the registry.
	putsBefore := reg.puts
	_, err = NewHarness(reg, rand.New(rand.NewSource(42))).Search(ctx, rules.RoleSub, testParams())
	require.NoError(t, err)
	assert.Equal(t, putsBefore, reg.puts)
}

func TestEvolve_ElitistGenerations(t *testing.T) {
	t.Parallel()

	p := testParams()
	p.Generations = 2
	p.Population = 4
	p.TopK = 2

	h := NewHarness(NewMemRegistry(), rand.New(rand.NewSource(3)))
	result, err := h.Evolve(context.Background(), rules.RoleExecution, p)
	require.NoError(t, err)

	// Generation 0 scores the baseline plus Population mutants; each later
	// generation adds Population/TopK children per survivor.
	assert.Equal(t, 9, result.CandidatesTested)
	assert.GreaterOrEqual(t, result.Best.Score, result.BaselineScore)
	for _, c := range result.All {
		assert.NotEmpty(t, c.Fingerprint)
		assert.Equal(t, rules.RoleExecution, c.Role)
	}
}

func TestMemRegistry_PutOnceAndBestPerRole(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewMemRegistry()

	a := &Candidate{Fingerprint: "fp-a", Role: rules.RoleSub, Score: 10}
	require.NoError(t, reg.Put(ctx, a))
	// A second Put under the same fingerprint does not overwrite.
	require.NoError(t, reg.Put(ctx, &Candidate{Fingerprint: "fp-a", Role: rules.RoleSub, Score: 99}))

	got, ok, err := reg.Get(ctx, "fp-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, got.Score)

	require.NoError(t, reg.Put(ctx, &Candidate{Fingerprint: "fp-b", Role: rules.RoleSub, Score: 20}))
	require.NoError(t, reg.Put(ctx, &Candidate{Fingerprint: "fp-c", Role: rules.RoleMaster, Score: 50}))

	best, ok, err := reg.Best(ctx, rules.RoleSub)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fp-b", best.Fingerprint)

	_, ok, err = reg.Best(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
