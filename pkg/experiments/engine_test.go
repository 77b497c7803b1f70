package experiments

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "skills.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func activeSkill(t *testing.T, s *store.Store, name string, confidence float64) *skills.Skill {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	skill := &skills.Skill{
		Name:       name,
		Category:   skills.CategoryCreation,
		Version:    1,
		Status:     skills.StatusSeed,
		Confidence: confidence,
		Doc: skills.Document{
			WhenToUse:    "Writing tweet openers.",
			CorePatterns: "- Lead with the number.",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, s.CreateSkill(ctx, skill))
	require.NoError(t, s.SetStatus(ctx, name, 1, skills.StatusActive, created))
	return skill
}

func candidateDoc() skills.Document {
	return skills.Document{
		WhenToUse:    "Writing tweet openers.",
		CorePatterns: "- Keep the opener under 40 characters.",
	}
}

func testEngine(s *store.Store, now time.Time) *Engine {
	return NewEngine(s, DefaultConfig()).WithClock(func() time.Time { return now })
}

func TestOpenMovesSkillUnderReview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)

	exp, err := testEngine(s, now).Open(ctx, "twitter_hooks", "shorter is better", candidateDoc())
	require.NoError(t, err)
	assert.Equal(t, 1, exp.BaselineVersion)
	assert.Equal(t, skills.ExperimentRunning, exp.Status)

	got, err := s.GetCurrent(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.Equal(t, skills.StatusUnderReview, got.Status)
}

func TestOpenRejectsSecondExperiment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	_, err := engine.Open(ctx, "twitter_hooks", "first", candidateDoc())
	require.NoError(t, err)

	_, err = engine.Open(ctx, "twitter_hooks", "second", candidateDoc())
	assert.Error(t, err)
}

func TestAssignIsDeterministicAndSplit(t *testing.T) {
	exp := &skills.Experiment{ID: "exp-determinism", SplitPercent: 25}

	counts := map[skills.Arm]int{}
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("task-%d", i)
		arm := Assign(exp, key)
		assert.Equal(t, arm, Assign(exp, key), "assignment must be stable for a key")
		counts[arm]++
	}

	// With a 25% split the candidate arm should get roughly a quarter.
	assert.Greater(t, counts[skills.ArmB], 150)
	assert.Less(t, counts[skills.ArmB], 350)
	assert.Equal(t, 1000, counts[skills.ArmA]+counts[skills.ArmB])
}

func TestAssignDiffersAcrossExperiments(t *testing.T) {
	a := &skills.Experiment{ID: "exp-a", SplitPercent: 50}
	b := &skills.Experiment{ID: "exp-b", SplitPercent: 50}

	differs := false
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("task-%d", i)
		if Assign(a, key) != Assign(b, key) {
			differs = true
			break
		}
	}
	assert.True(t, differs, "different experiments should shuffle keys differently")
}

func fillArms(t *testing.T, engine *Engine, exp *skills.Experiment, rewardsA, rewardsB []float64, base time.Time) {
	t.Helper()
	ctx := context.Background()
	for i, r := range rewardsA {
		require.NoError(t, engine.Record(ctx, exp, skills.ArmA, r, nil, base.Add(time.Duration(i)*time.Minute)))
	}
	for i, r := range rewardsB {
		require.NoError(t, engine.Record(ctx, exp, skills.ArmB, r, nil, base.Add(time.Duration(i)*time.Minute)))
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// A candidate that clearly beats the baseline wins and gets promoted to the
// next version with the evidence written into Performance Notes.
func TestResolvePromotesClearWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "shorter is better", candidateDoc())
	require.NoError(t, err)

	rewardsA := make([]float64, 40)
	rewardsB := make([]float64, 40)
	for i := range rewardsA {
		rewardsA[i] = 0.45 + float64(i%5)*0.02
		rewardsB[i] = 0.75 + float64(i%5)*0.02
	}
	fillArms(t, engine, exp, rewardsA, rewardsB, now)

	res, err := engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, "B", res.Verdict.Winner)
	assert.Less(t, res.Verdict.PValue, 0.05)

	require.NotNil(t, res.Promoted)
	assert.Equal(t, 2, res.Promoted.Version)
	assert.Equal(t, skills.StatusActive, res.Promoted.Status)
	assert.Contains(t, res.Promoted.Doc.PerformanceNotes, exp.ID)
	assert.Contains(t, res.Promoted.Doc.CorePatterns, "40 characters")

	old, err := s.GetVersion(ctx, "twitter_hooks", 1)
	require.NoError(t, err)
	assert.Equal(t, skills.StatusSuperseded, old.Status)
}

// Arms with no spread at all still resolve: the verdict must stay
// serializable even though the pooled standard deviation is zero.
func TestResolvePromotesZeroVarianceWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "flat but better", candidateDoc())
	require.NoError(t, err)
	fillArms(t, engine, exp, repeat(0.5, 40), repeat(0.75, 40), now)

	res, err := engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, "B", res.Verdict.Winner)
	assert.False(t, math.IsInf(res.Verdict.EffectSize, 0))

	require.NotNil(t, res.Promoted)
	assert.Equal(t, 2, res.Promoted.Version)

	// The verdict survived the round trip through storage.
	stored, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Verdict)
	assert.Equal(t, "B", stored.Verdict.Winner)
}

// Near-identical arms resolve inconclusive and the baseline goes back to
// serving traffic unchanged.
func TestResolveInconclusiveRevertsToActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "marginal tweak", candidateDoc())
	require.NoError(t, err)

	rewardsA := make([]float64, 10)
	rewardsB := make([]float64, 10)
	for i := range rewardsA {
		rewardsA[i] = 0.60 + float64(i%4)*0.03
		rewardsB[i] = 0.61 + float64(i%4)*0.03
	}
	fillArms(t, engine, exp, rewardsA, rewardsB, now)

	res, err := engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, "inconclusive", res.Verdict.Winner)
	assert.Nil(t, res.Promoted)

	got, err := s.GetCurrent(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, skills.StatusActive, got.Status)

	// The resolution examined the version's evidence, so it counts as a
	// validation touch.
	require.NotNil(t, got.LastValidatedAt)
	assert.True(t, got.LastValidatedAt.Equal(now))
}

// A significant but tiny difference is not worth a promotion.
func TestResolveRespectsMinimumDetectableEffect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "micro tweak", candidateDoc())
	require.NoError(t, err)

	// Zero variance makes any difference significant; the 0.02 effect is
	// still below the 0.05 threshold.
	fillArms(t, engine, exp, repeat(0.60, 20), repeat(0.62, 20), now)

	res, err := engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, "inconclusive", res.Verdict.Winner)
}

func TestResolveInsufficientEvidenceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "needs data", candidateDoc())
	require.NoError(t, err)
	fillArms(t, engine, exp, repeat(0.6, 3), repeat(0.7, 2), now)

	res, err := engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Contains(t, res.Reason, "insufficient evidence")

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, skills.ExperimentRunning, got.Status)
}

func TestExpireStaleForcesInconclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, start)

	exp, err := engine.Open(ctx, "twitter_hooks", "never fills", candidateDoc())
	require.NoError(t, err)
	fillArms(t, engine, exp, repeat(0.6, 2), repeat(0.7, 1), start)

	// Nothing expires before the deadline.
	resolutions, err := engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, resolutions)

	late := testEngine(s, start.Add(15*24*time.Hour))
	resolutions, err = late.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "inconclusive", resolutions[0].Verdict.Winner)
	assert.True(t, resolutions[0].Verdict.Forced)

	got, err := s.GetCurrent(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.Equal(t, skills.StatusActive, got.Status)
}

func TestResolveTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	activeSkill(t, s, "twitter_hooks", 0.7)
	engine := testEngine(s, now)

	exp, err := engine.Open(ctx, "twitter_hooks", "done once", candidateDoc())
	require.NoError(t, err)
	fillArms(t, engine, exp, repeat(0.6, 10), repeat(0.6, 10), now)

	_, err = engine.Resolve(ctx, exp.ID)
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, exp.ID)
	assert.ErrorIs(t, err, skills.ErrExperimentResolved)
}

func TestWelchTest(t *testing.T) {
	t.Run("identical samples are not significant", func(t *testing.T) {
		same := []float64{0.5, 0.6, 0.55, 0.65, 0.6}
		res := welchTest(same, same)
		assert.Greater(t, res.PValue, 0.9)
	})

	t.Run("separated samples are significant", func(t *testing.T) {
		low := []float64{0.40, 0.42, 0.41, 0.43, 0.39, 0.41, 0.42, 0.40}
		high := []float64{0.80, 0.82, 0.81, 0.83, 0.79, 0.81, 0.82, 0.80}
		res := welchTest(low, high)
		assert.Less(t, res.PValue, 0.001)
		assert.Greater(t, res.MeanB, res.MeanA)
	})

	t.Run("zero variance identical means", func(t *testing.T) {
		res := welchTest(repeat(0.5, 5), repeat(0.5, 5))
		assert.InDelta(t, 1.0, res.PValue, 1e-9)
	})

	t.Run("zero variance different means", func(t *testing.T) {
		res := welchTest(repeat(0.5, 5), repeat(0.7, 5))
		assert.InDelta(t, 0.0, res.PValue, 1e-9)
		assert.InDelta(t, maxEffectSize, res.EffectSize, 1e-9)
	})
}
