// Package loop runs one pass of the learning cycle: refresh confidence,
// flag stale skills, settle experiments, and mine the ledger for new
// candidates. Each step is best-effort; a failure in one does not stop the
// others, and every failure is carried in the returned error.
package loop

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/confidence"
	"github.com/cadencehq/skillloop/pkg/experiments"
	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/staleness"
	"github.com/cadencehq/skillloop/pkg/store"
	"github.com/cadencehq/skillloop/pkg/synthesis"
)

// Config aggregates the tuning of every step.
type Config struct {
	Confidence  confidence.Config
	Staleness   staleness.Config
	Experiments experiments.Config
	Synthesis   synthesis.Config
}

// DefaultConfig returns the standard tuning for all steps.
func DefaultConfig() Config {
	return Config{
		Confidence:  confidence.DefaultConfig(),
		Staleness:   staleness.DefaultConfig(),
		Experiments: experiments.DefaultConfig(),
		Synthesis:   synthesis.DefaultConfig(),
	}
}

// Loop wires the learning-cycle steps over a shared store.
type Loop struct {
	updater   *confidence.Updater
	evaluator *staleness.Evaluator
	engine    *experiments.Engine
	synth     *synthesis.Synthesizer
	now       func() time.Time
}

// New creates a loop over the given store.
func New(s *store.Store, cfg Config) *Loop {
	return &Loop{
		updater:   confidence.NewUpdater(s, cfg.Confidence),
		evaluator: staleness.NewEvaluator(s, cfg.Staleness),
		engine:    experiments.NewEngine(s, cfg.Experiments),
		synth:     synthesis.New(s, cfg.Synthesis),
		now:       time.Now,
	}
}

// WithClock overrides the time source for every step, for tests and replay.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	l.updater.WithClock(now)
	l.evaluator.WithClock(now)
	l.engine.WithClock(now)
	l.synth.WithClock(now)
	return l
}

// Engine exposes the loop's experiment engine so callers can open and route
// experiments with the same tuning the cycle resolves them with.
func (l *Loop) Engine() *experiments.Engine {
	return l.engine
}

// Summary reports what one cycle did.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	SkillsUpdated int
	Flagged       []staleness.Flag
	Resolutions   []*experiments.Resolution
	Promoted      []string
	Proposed      []synthesis.Candidate
}

// RunCycle runs one full pass: confidence refresh, staleness scan and
// marking, experiment resolution (due and expired), then synthesis. Step
// failures are aggregated, not fatal, so a broken experiment cannot starve
// the confidence sweep.
func (l *Loop) RunCycle(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: l.now().UTC()}
	var merr *multierror.Error

	results, err := l.updater.UpdateAll(ctx)
	if err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "confidence sweep"))
	}
	for _, r := range results {
		if r.Updated {
			summary.SkillsUpdated++
		}
	}

	flags, err := l.evaluator.Scan(ctx)
	if err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "staleness scan"))
	} else {
		summary.Flagged = flags
		if err := l.evaluator.MarkStale(ctx, flags); err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, "staleness marking"))
		}
	}

	if err := l.settleExperiments(ctx, summary); err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "experiment resolution"))
	}

	proposed, err := l.synth.Propose(ctx)
	if err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "synthesis"))
	} else {
		summary.Proposed = proposed
	}

	summary.FinishedAt = l.now().UTC()
	logger.G(ctx).WithField("updated", summary.SkillsUpdated).
		WithField("flagged", len(summary.Flagged)).
		WithField("resolutions", len(summary.Resolutions)).
		WithField("proposed", len(summary.Proposed)).
		Info("learning cycle complete")
	return summary, merr.ErrorOrNil()
}

// settleExperiments tries to resolve every running experiment on its
// evidence, then force-closes whatever is past its deadline.
func (l *Loop) settleExperiments(ctx context.Context, summary *Summary) error {
	var merr *multierror.Error

	running, err := l.engine.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, exp := range running {
		res, err := l.engine.Resolve(ctx, exp.ID)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "experiment %q", exp.ID))
			continue
		}
		if !res.Resolved {
			continue
		}
		summary.Resolutions = append(summary.Resolutions, res)
		if res.Promoted != nil {
			summary.Promoted = append(summary.Promoted, res.Promoted.Name)
		}
	}

	expired, err := l.engine.ExpireStale(ctx)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	summary.Resolutions = append(summary.Resolutions, expired...)

	return merr.ErrorOrNil()
}
