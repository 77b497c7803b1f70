package synthesis

import (
	"context"
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

func addSkill(t *testing.T, s *store.Store, name string, confidence float64) {
	t.Helper()
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSkill(context.Background(), &skills.Skill{
		Name:       name,
		Category:   skills.CategoryCreation,
		Platform:   "twitter",
		Version:    1,
		Status:     skills.StatusSeed,
		Confidence: confidence,
		Doc: skills.Document{
			WhenToUse:    "Writing tweet openers.",
			CorePatterns: "- Lead with the number.",
			WhatToAvoid:  "- Empty clickbait.",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}))
}

func recordTagged(t *testing.T, s *store.Store, name string, reward float64, at time.Time, tags ...string) {
	t.Helper()
	require.NoError(t, s.AppendOutcome(context.Background(), &skills.Outcome{
		SkillName: name, SkillVersion: 1, Reward: reward, Tags: tags, RecordedAt: at,
	}))
}

func TestAnalyzeFindsHighUpliftCluster(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.5)
	for i := 0; i < 6; i++ {
		recordTagged(t, s, "twitter_hooks", 0.9, now.Add(-time.Duration(i+1)*time.Hour), "evening")
	}

	synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	candidates, err := synth.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "twitter_hooks_evening", c.Skill.Name)
	assert.Equal(t, "twitter_hooks", c.Source)
	assert.Equal(t, "evening", c.Tag)
	assert.Equal(t, 6, c.Samples)
	assert.InDelta(t, 0.4, c.Uplift, 1e-9)

	// Candidates inherit the parent's scope and document spine.
	assert.Equal(t, skills.CategoryCreation, c.Skill.Category)
	assert.Equal(t, "twitter", c.Skill.Platform)
	assert.Equal(t, skills.StatusSeed, c.Skill.Status)
	assert.Contains(t, c.Skill.Doc.CorePatterns, "Lead with the number.")
	assert.Contains(t, c.Skill.Doc.PerformanceNotes, "twitter_hooks")
}

func TestAnalyzeIgnoresWeakClusters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.5)

	t.Run("too few samples", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			recordTagged(t, s, "twitter_hooks", 0.95, now.Add(-time.Duration(i+1)*time.Minute), "thin")
		}
		synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
		candidates, err := synth.Analyze(ctx)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("uplift below threshold", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			recordTagged(t, s, "twitter_hooks", 0.6, now.Add(-time.Duration(i+1)*time.Minute), "mild")
		}
		synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
		candidates, err := synth.Analyze(ctx)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestAnalyzeIgnoresOutcomesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.5)
	for i := 0; i < 6; i++ {
		recordTagged(t, s, "twitter_hooks", 0.9, now.Add(-40*24*time.Hour), "ancient")
	}

	synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	candidates, err := synth.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestAnalyzeSkipsExistingLineages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.5)
	addSkill(t, s, "twitter_hooks_evening", 0.5)
	for i := 0; i < 6; i++ {
		recordTagged(t, s, "twitter_hooks", 0.9, now.Add(-time.Duration(i+1)*time.Hour), "evening")
	}

	synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	candidates, err := synth.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestProposeCapsConfidenceAndPersists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.5)
	for i := 0; i < 6; i++ {
		recordTagged(t, s, "twitter_hooks", 1.0, now.Add(-time.Duration(i+1)*time.Hour), "evening")
	}

	synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	candidates, err := synth.Propose(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	stored, err := s.GetCurrent(ctx, "twitter_hooks_evening")
	require.NoError(t, err)
	assert.Equal(t, skills.StatusSeed, stored.Status)
	assert.InDelta(t, 0.5, stored.Confidence, 1e-9, "confidence is capped even on perfect evidence")

	t.Run("second pass does not duplicate", func(t *testing.T) {
		candidates, err := synth.Propose(ctx)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestMaxCandidatesCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	addSkill(t, s, "twitter_hooks", 0.4)
	for _, tag := range []string{"evening", "morning", "weekend", "threads", "images"} {
		for i := 0; i < 6; i++ {
			recordTagged(t, s, "twitter_hooks", 0.9, now.Add(-time.Duration(i+1)*time.Hour), tag)
		}
	}

	synth := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	candidates, err := synth.Analyze(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestDerivedNameSanitizesTags(t *testing.T) {
	assert.Equal(t, "hooks_late_night", derivedName("hooks", "Late Night"))
	assert.Equal(t, "hooks_q_a", derivedName("hooks", "q&a"))
}
