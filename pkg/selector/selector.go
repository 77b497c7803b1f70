// Package selector answers "which skills apply to this task": a ranked,
// point-in-time snapshot of current skills matching a task context. Reading
// a seed skill is what activates it.
package selector

import (
	"context"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

// Options narrows a selection beyond the task context.
type Options struct {
	// Allowlist restricts results to skill names matching any of these glob
	// patterns (e.g. "twitter_*", "hook_writing"). Empty means no restriction.
	Allowlist []string
	// Limit caps the number of returned skills. Zero means unlimited.
	Limit int
}

// Selector serves ranked skill snapshots for task contexts.
type Selector struct {
	store *store.Store
	now   func() time.Time
}

// New creates a selector over the given store.
func New(s *store.Store) *Selector {
	return &Selector{store: s, now: time.Now}
}

// WithClock overrides the time source, for tests and replay.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select returns the current skills applicable to the task, ranked by tag
// overlap, then confidence, then recency of validation. The result is a
// consistent snapshot; an empty result is a valid answer. Seed skills
// returned here are transitioned to active, since selection is their first
// real use.
func (s *Selector) Select(ctx context.Context, tc skills.TaskContext, opts Options) ([]*skills.Skill, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	matchers, err := compileAllowlist(opts.Allowlist)
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.ListCurrent(ctx, store.Filter{
		Category: tc.Category,
		Platform: tc.Platform,
	})
	if err != nil {
		return nil, err
	}

	var selected []*skills.Skill
	for _, skill := range candidates {
		if skill.Status == skills.StatusUnderReview {
			continue
		}
		if !allowed(skill.Name, matchers) {
			continue
		}
		if len(tc.Tags) > 0 && len(skill.Tags) > 0 && tagOverlap(skill.Tags, tc.Tags) == 0 {
			continue
		}
		selected = append(selected, skill)
	}

	// Store order is confidence desc with validation recency tie-break;
	// tag overlap takes precedence on top of that.
	if len(tc.Tags) > 0 {
		sort.SliceStable(selected, func(i, j int) bool {
			return tagOverlap(selected[i].Tags, tc.Tags) > tagOverlap(selected[j].Tags, tc.Tags)
		})
	}

	if opts.Limit > 0 && len(selected) > opts.Limit {
		selected = selected[:opts.Limit]
	}

	if err := s.activateSeeds(ctx, selected); err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("category", string(tc.Category)).WithField("selected", len(selected)).
		Debug("selected skills for task")
	return selected, nil
}

// activateSeeds flips returned seed skills to active. A seed that was
// concurrently activated is fine; any other transition failure is not.
func (s *Selector) activateSeeds(ctx context.Context, selected []*skills.Skill) error {
	now := s.now().UTC()
	for _, skill := range selected {
		if skill.Status != skills.StatusSeed {
			continue
		}
		err := s.store.SetStatus(ctx, skill.Name, skill.Version, skills.StatusActive, now)
		if err != nil && !errors.Is(err, skills.ErrInvalidTransition) {
			return errors.Wrapf(err, "failed to activate seed skill %q", skill.Name)
		}
		skill.Status = skills.StatusActive
	}
	return nil
}

func compileAllowlist(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allowlist pattern %q", p)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func allowed(name string, matchers []glob.Glob) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, g := range matchers {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func tagOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}
