package loop

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

func addActiveSkill(t *testing.T, s *store.Store, name string, confidence float64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	skill := &skills.Skill{
		Name:       name,
		Category:   skills.CategoryCreation,
		Version:    1,
		Status:     skills.StatusSeed,
		Confidence: confidence,
		Doc:        skills.Document{WhenToUse: "Writing tweet openers."},
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	require.NoError(t, s.CreateSkill(ctx, skill))
	require.NoError(t, s.SetStatus(ctx, name, 1, skills.StatusActive, createdAt))
}

func TestRunCycleOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	summary, err := New(s, DefaultConfig()).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.SkillsUpdated)
	assert.Empty(t, summary.Flagged)
	assert.Empty(t, summary.Resolutions)
	assert.Empty(t, summary.Proposed)
}

func TestRunCycleUpdatesFlagsAndResolves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Busy skill with fresh evidence: gets a confidence refresh.
	addActiveSkill(t, s, "busy_skill", 0.5, now.Add(-5*24*time.Hour))
	for i := 0; i < 12; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "busy_skill", SkillVersion: 1, Reward: 0.85,
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}))
	}

	// Idle skill: flagged and marked stale.
	addActiveSkill(t, s, "idle_skill", 0.6, now.Add(-45*24*time.Hour))

	// Skill with a running experiment whose candidate clearly wins.
	addActiveSkill(t, s, "tested_skill", 0.6, now.Add(-5*24*time.Hour))
	l := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	exp, err := l.Engine().Open(ctx, "tested_skill", "clear winner", skills.Document{
		WhenToUse:    "Writing tweet openers.",
		CorePatterns: "- Keep it short.",
	})
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, l.Engine().Record(ctx, exp, skills.ArmA, 0.4+float64(i%3)*0.02, nil, now.Add(-time.Duration(i)*time.Minute)))
		require.NoError(t, l.Engine().Record(ctx, exp, skills.ArmB, 0.8+float64(i%3)*0.02, nil, now.Add(-time.Duration(i)*time.Minute)))
	}

	summary, err := l.RunCycle(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, summary.SkillsUpdated, 1)

	require.NotEmpty(t, summary.Flagged)
	flaggedNames := make([]string, 0, len(summary.Flagged))
	for _, f := range summary.Flagged {
		flaggedNames = append(flaggedNames, f.Skill.Name)
	}
	assert.Contains(t, flaggedNames, "idle_skill")

	stale, err := s.GetCurrent(ctx, "idle_skill")
	require.NoError(t, err)
	assert.Equal(t, skills.StatusStale, stale.Status)

	require.Len(t, summary.Resolutions, 1)
	assert.Contains(t, summary.Promoted, "tested_skill")

	promoted, err := s.GetCurrent(ctx, "tested_skill")
	require.NoError(t, err)
	assert.Equal(t, 2, promoted.Version)
	assert.Equal(t, skills.StatusActive, promoted.Status)
}

func TestRunCycleSynthesizesFromTagClusters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	addActiveSkill(t, s, "twitter_hooks", 0.5, now.Add(-10*24*time.Hour))

	// A tag niche that ran far above the skill's overall level, followed by
	// ordinary outcomes that keep the skill's own confidence modest.
	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1, Reward: 0.9, Tags: []string{"evening"},
			RecordedAt: now.Add(-time.Duration(20-i) * time.Hour),
		}))
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendOutcome(ctx, &skills.Outcome{
			SkillName: "twitter_hooks", SkillVersion: 1, Reward: 0.4,
			RecordedAt: now.Add(-time.Duration(8-i) * time.Hour),
		}))
	}

	l := New(s, DefaultConfig()).WithClock(func() time.Time { return now })
	summary, err := l.RunCycle(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, summary.Proposed)
	candidate := summary.Proposed[0]
	assert.Equal(t, "twitter_hooks_evening", candidate.Skill.Name)

	stored, err := s.GetCurrent(ctx, "twitter_hooks_evening")
	require.NoError(t, err)
	assert.Equal(t, skills.StatusSeed, stored.Status)
	assert.LessOrEqual(t, stored.Confidence, 0.5)
}
