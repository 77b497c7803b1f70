// Package synthesis mines the outcome ledger for context niches where a
// skill outperforms its own confidence, and turns them into candidate
// skills. Candidates always enter the knowledge base as unproven seeds; no
// amount of observational evidence skips the experiment path.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

// Config tunes candidate mining.
type Config struct {
	// Window is how far back the ledger analysis reaches.
	Window time.Duration
	// MinClusterSize is the minimum outcomes sharing a tag before the
	// cluster counts as evidence.
	MinClusterSize int
	// MinUplift is how far a cluster's mean reward must exceed the
	// governing skill's confidence.
	MinUplift float64
	// MaxCandidates caps how many candidates one pass may produce.
	MaxCandidates int
	// ConfidenceCap bounds a candidate's starting confidence. Candidates
	// earn anything above it through the normal loop.
	ConfidenceCap float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Window:         30 * 24 * time.Hour,
		MinClusterSize: 5,
		MinUplift:      0.2,
		MaxCandidates:  3,
		ConfidenceCap:  0.5,
	}
}

// Candidate is a proposed skill together with the evidence behind it.
type Candidate struct {
	Skill   *skills.Skill
	Source  string // lineage the cluster was observed under
	Tag     string
	Mean    float64
	Uplift  float64
	Samples int
}

// Synthesizer proposes new skills from ledger patterns.
type Synthesizer struct {
	store *store.Store
	cfg   Config
	now   func() time.Time
}

// New creates a synthesizer over the given store.
func New(s *store.Store, cfg Config) *Synthesizer {
	return &Synthesizer{store: s, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests and replay.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	s.now = now
	return s
}

type cluster struct {
	source  string
	tag     string
	rewards []float64
}

// Analyze scans the recent ledger and returns candidate skills, strongest
// uplift first, without writing anything. Clusters whose derived name
// already exists as a lineage are skipped.
func (s *Synthesizer) Analyze(ctx context.Context) ([]Candidate, error) {
	now := s.now().UTC()

	outcomes, err := s.store.ListOutcomesSince(ctx, now.Add(-s.cfg.Window))
	if err != nil {
		return nil, err
	}

	clusters := map[string]*cluster{}
	for _, o := range outcomes {
		for _, tag := range o.Tags {
			key := o.SkillName + "\x00" + tag
			c, ok := clusters[key]
			if !ok {
				c = &cluster{source: o.SkillName, tag: tag}
				clusters[key] = c
			}
			c.rewards = append(c.rewards, o.Reward)
		}
	}

	var candidates []Candidate
	for _, c := range clusters {
		if len(c.rewards) < s.cfg.MinClusterSize {
			continue
		}

		parent, err := s.store.GetCurrent(ctx, c.source)
		if errors.Is(err, skills.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "skill %q", c.source)
		}

		clusterMean := mean(c.rewards)
		uplift := clusterMean - parent.Confidence
		if uplift < s.cfg.MinUplift {
			continue
		}

		name := derivedName(c.source, c.tag)
		if exists, err := s.lineageExists(ctx, name); err != nil {
			return nil, err
		} else if exists {
			continue
		}

		candidates = append(candidates, Candidate{
			Skill:   s.buildCandidate(parent, name, c.tag, clusterMean, len(c.rewards), now),
			Source:  c.source,
			Tag:     c.tag,
			Mean:    clusterMean,
			Uplift:  uplift,
			Samples: len(c.rewards),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Uplift != candidates[j].Uplift {
			return candidates[i].Uplift > candidates[j].Uplift
		}
		return candidates[i].Skill.Name < candidates[j].Skill.Name
	})
	if s.cfg.MaxCandidates > 0 && len(candidates) > s.cfg.MaxCandidates {
		candidates = candidates[:s.cfg.MaxCandidates]
	}

	logger.G(ctx).WithField("outcomes", len(outcomes)).WithField("candidates", len(candidates)).
		Debug("synthesis analysis complete")
	return candidates, nil
}

// Propose runs Analyze and persists every candidate as version 1 of a new
// seed lineage.
func (s *Synthesizer) Propose(ctx context.Context) ([]Candidate, error) {
	candidates, err := s.Analyze(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if err := s.store.CreateSkill(ctx, c.Skill); err != nil {
			return nil, errors.Wrapf(err, "candidate %q", c.Skill.Name)
		}
		logger.G(ctx).WithField("skill", c.Skill.Name).WithField("source", c.Source).
			WithField("uplift", fmt.Sprintf("%.2f", c.Uplift)).Info("proposed synthesized skill")
	}
	return candidates, nil
}

func (s *Synthesizer) buildCandidate(parent *skills.Skill, name, tag string, clusterMean float64, samples int, now time.Time) *skills.Skill {
	confidence := clusterMean
	if confidence > s.cfg.ConfidenceCap {
		confidence = s.cfg.ConfidenceCap
	}

	pattern := fmt.Sprintf("- Specialize %q for %q contexts, where observed rewards run well above the general case.", parent.Name, tag)
	patterns := pattern
	if parent.Doc.CorePatterns != "" {
		patterns = parent.Doc.CorePatterns + "\n" + pattern
	}

	return &skills.Skill{
		Name:       name,
		Category:   parent.Category,
		Platform:   parent.Platform,
		Version:    1,
		Status:     skills.StatusSeed,
		Confidence: confidence,
		Tags:       []string{tag},
		Doc: skills.Document{
			WhenToUse:    fmt.Sprintf("Tasks matching %q where %q would otherwise apply.", tag, parent.Name),
			CorePatterns: patterns,
			WhatToAvoid:  parent.Doc.WhatToAvoid,
			PerformanceNotes: fmt.Sprintf(
				"Synthesized %s from %d outcomes of %q tagged %q: mean reward %.3f against skill confidence %.3f.",
				now.Format("2006-01-02"), samples, parent.Name, tag, clusterMean, parent.Confidence),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Synthesizer) lineageExists(ctx context.Context, name string) (bool, error) {
	_, err := s.store.ListLineage(ctx, name)
	if errors.Is(err, skills.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// derivedName builds the candidate lineage name from its source and tag.
func derivedName(source, tag string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, tag)
	return source + "_" + clean
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
