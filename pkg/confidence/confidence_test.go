package confidence

import (
	"context"
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

func seedSkill(t *testing.T, s *store.Store, name string, confidence float64) *skills.Skill {
	t.Helper()
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	skill := &skills.Skill{
		Name:       name,
		Category:   skills.CategoryCreation,
		Version:    1,
		Status:     skills.StatusSeed,
		Confidence: confidence,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, s.CreateSkill(context.Background(), skill))
	return skill
}

func TestComputeEmptyWindowReturnsPrior(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.5, Compute(0.5, nil, cfg), 1e-9)
	assert.InDelta(t, 0.82, Compute(0.82, []float64{}, cfg), 1e-9)
}

func TestComputeConvergesOnConsistentEvidence(t *testing.T) {
	cfg := DefaultConfig()

	rewards := make([]float64, 50)
	for i := range rewards {
		rewards[i] = 0.9
	}

	got := Compute(NeutralPrior, rewards, cfg)
	assert.Less(t, math.Abs(got-0.9), 0.05,
		"50 consistent outcomes at 0.9 should pull confidence within 0.05 of 0.9, got %f", got)
}

func TestComputeShrinksThinEvidence(t *testing.T) {
	cfg := DefaultConfig()

	// One great outcome barely moves a neutral prior.
	one := Compute(NeutralPrior, []float64{1.0}, cfg)
	assert.Less(t, one, 0.65)
	assert.Greater(t, one, 0.5)

	// The same evidence repeated pulls harder.
	many := Compute(NeutralPrior, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, cfg)
	assert.Greater(t, many, one)
}

func TestComputeStaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	for _, rewards := range [][]float64{
		{0, 0, 0, 0, 0, 0, 0, 0},
		{1, 1, 1, 1, 1, 1, 1, 1},
		{0.5},
	} {
		got := Compute(NeutralPrior, rewards, cfg)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestUpdaterPersistsConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	seedSkill(t, s, "twitter_hooks", 0.5)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1, Reward: 0.85,
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}))
	}

	updater := NewUpdater(s, DefaultConfig()).WithClock(func() time.Time { return now })
	res, err := updater.Update(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, 20, res.Samples)
	assert.Greater(t, res.Confidence, 0.7)

	got, err := s.GetVersion(ctx, "twitter_hooks", 1)
	require.NoError(t, err)
	assert.InDelta(t, res.Confidence, got.Confidence, 1e-9)
	require.NotNil(t, got.LastValidatedAt)
}

func TestUpdaterEmptyWindowIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	seedSkill(t, s, "twitter_hooks", 0.64)

	updater := NewUpdater(s, DefaultConfig()).WithClock(func() time.Time { return now })
	res, err := updater.Update(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.InDelta(t, 0.64, res.Confidence, 1e-9)

	got, err := s.GetVersion(ctx, "twitter_hooks", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.64, got.Confidence, 1e-9)
	assert.Nil(t, got.LastValidatedAt)
}

func TestUpdaterIgnoresOutcomesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	seedSkill(t, s, "twitter_hooks", 0.5)
	// All evidence is older than the 30-day window.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1, Reward: 0.1,
			RecordedAt: now.Add(-40*24*time.Hour - time.Duration(i)*time.Hour),
		}))
	}

	updater := NewUpdater(s, DefaultConfig()).WithClock(func() time.Time { return now })
	res, err := updater.Update(ctx, "twitter_hooks")
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Equal(t, 0, res.Samples)
}

func TestUpdaterDerivedVersionPrior(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	skill := seedSkill(t, s, "twitter_hooks", 0.9)
	require.NoError(t, s.SetStatus(ctx, "twitter_hooks", 1, skills.StatusActive, now))
	_, err := s.PromoteVersion(ctx, store.PromoteParams{
		Name: "twitter_hooks", ExpectedVersion: 1, Doc: skill.Doc,
		Confidence: skills.DerivedPrior(0.9, 0.8), At: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
		SkillName: "twitter_hooks", SkillVersion: 2, Reward: 0.8, RecordedAt: now,
	}))

	updater := NewUpdater(s, DefaultConfig()).WithClock(func() time.Time { return now })
	res, err := updater.Update(ctx, "twitter_hooks")
	require.NoError(t, err)

	// The prior is the predecessor's confidence decayed toward neutral.
	assert.InDelta(t, 0.82, res.Prior, 1e-9)
	assert.Equal(t, 2, res.Version)
}

func TestUpdateAllSweepsEveryLineage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

	seedSkill(t, s, "alpha", 0.5)
	seedSkill(t, s, "beta", 0.5)
	require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
		SkillName: "alpha", SkillVersion: 1, Reward: 0.9, RecordedAt: now,
	}))

	updater := NewUpdater(s, DefaultConfig()).WithClock(func() time.Time { return now })
	results, err := updater.UpdateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	updated := 0
	for _, r := range results {
		if r.Updated {
			updated++
		}
	}
	assert.Equal(t, 1, updated)
}
