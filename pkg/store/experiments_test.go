package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/skillloop/pkg/skills"
)

func testExperiment(name string) *skills.Experiment {
	started := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return &skills.Experiment{
		SkillName:       name,
		Hypothesis:      "shorter hooks engage better",
		BaselineVersion: 1,
		CandidateDoc: skills.Document{
			WhenToUse:    "Writing tweet openers.",
			CorePatterns: "- Keep it under 40 characters.",
		},
		SplitPercent:  25,
		MinSampleSize: 10,
		StartedAt:     started,
		ExpiresAt:     started.Add(14 * 24 * time.Hour),
	}
}

func TestOpenAndGetExperiment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exp := testExperiment("twitter_hooks")
	require.NoError(t, s.OpenExperiment(ctx, exp))
	require.NotEmpty(t, exp.ID)

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.SkillName, got.SkillName)
	assert.Equal(t, exp.CandidateDoc, got.CandidateDoc)
	assert.Equal(t, skills.ExperimentRunning, got.Status)
	assert.Nil(t, got.Verdict)
}

func TestOneRunningExperimentPerLineage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.OpenExperiment(ctx, testExperiment("twitter_hooks")))

	err := s.OpenExperiment(ctx, testExperiment("twitter_hooks"))
	assert.ErrorIs(t, err, skills.ErrExperimentOpen)

	// A different lineage is fine.
	require.NoError(t, s.OpenExperiment(ctx, testExperiment("evening_posting")))
}

func TestResolveExperiment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	exp := testExperiment("twitter_hooks")
	require.NoError(t, s.OpenExperiment(ctx, exp))

	verdict := &skills.Verdict{
		Winner: "B", MeanA: 0.5, MeanB: 0.7, SamplesA: 20, SamplesB: 18,
		EffectSize: 0.8, PValue: 0.01, ConfidenceLevel: 0.95, Method: "welch_t_normal_approx",
	}
	require.NoError(t, s.ResolveExperiment(ctx, exp.ID, skills.ExperimentResolvedB, verdict, at))

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, skills.ExperimentResolvedB, got.Status)
	require.NotNil(t, got.Verdict)
	assert.Equal(t, "B", got.Verdict.Winner)
	require.NotNil(t, got.ResolvedAt)

	t.Run("resolved experiments are immutable", func(t *testing.T) {
		err := s.ResolveExperiment(ctx, exp.ID, skills.ExperimentResolvedA, verdict, at)
		assert.ErrorIs(t, err, skills.ErrExperimentResolved)
	})

	t.Run("lineage can host a new experiment afterwards", func(t *testing.T) {
		require.NoError(t, s.OpenExperiment(ctx, testExperiment("twitter_hooks")))
	})
}

func TestResolveExperimentValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	exp := testExperiment("twitter_hooks")
	require.NoError(t, s.OpenExperiment(ctx, exp))

	t.Run("non-terminal status", func(t *testing.T) {
		err := s.ResolveExperiment(ctx, exp.ID, skills.ExperimentRunning, &skills.Verdict{}, at)
		assert.Error(t, err)
	})

	t.Run("missing verdict", func(t *testing.T) {
		err := s.ResolveExperiment(ctx, exp.ID, skills.ExperimentResolvedA, nil, at)
		assert.Error(t, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.ResolveExperiment(ctx, "nope", skills.ExperimentResolvedA, &skills.Verdict{}, at)
		assert.ErrorIs(t, err, skills.ErrNotFound)
	})
}

func TestListRunningExperiments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	first := testExperiment("alpha")
	second := testExperiment("beta")
	second.StartedAt = first.StartedAt.Add(time.Hour)
	require.NoError(t, s.OpenExperiment(ctx, first))
	require.NoError(t, s.OpenExperiment(ctx, second))

	running, err := s.ListRunningExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "alpha", running[0].SkillName)

	require.NoError(t, s.ResolveExperiment(ctx, first.ID, skills.ExperimentResolvedInconclusive, &skills.Verdict{Winner: "inconclusive"}, at))

	running, err = s.ListRunningExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "beta", running[0].SkillName)
}

func TestExperimentOutcomesSplitByArm(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateSkill(ctx, testSkill("twitter_hooks")))
	exp := testExperiment("twitter_hooks")
	require.NoError(t, s.OpenExperiment(ctx, exp))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1,
			ExperimentID: exp.ID, Arm: skills.ArmA,
			Reward: 0.5, RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1,
			ExperimentID: exp.ID, Arm: skills.ArmB,
			Reward: 0.8, RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	armA, armB, err := s.ExperimentOutcomes(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, armA, 3)
	assert.Len(t, armB, 2)
}
