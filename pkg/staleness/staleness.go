// Package staleness decides when a skill's guidance has stopped earning its
// confidence: performance decline against its own baseline, an absolute
// confidence floor, or plain disuse. Scans are caller-driven and read-only;
// marking flagged skills stale is a separate, explicit step.
package staleness

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

// Reason classifies why a skill was flagged.
type Reason string

const (
	// ReasonDeclined means recent rewards fell beyond the margin below the
	// skill's own earlier baseline.
	ReasonDeclined Reason = "declined"
	// ReasonLowConfidence means confidence dropped under the absolute floor.
	ReasonLowConfidence Reason = "low_confidence"
	// ReasonStaleByAge means the skill has not been used or validated within
	// the idle threshold.
	ReasonStaleByAge Reason = "stale_by_age"
)

// Trend classifies the recent reward direction of a skill.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// Health is the summary grade of a skill for reporting.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Config tunes the staleness checks.
type Config struct {
	// DeclineMargin is how far the recent mean reward must fall below the
	// baseline mean before the skill counts as declined.
	DeclineMargin float64
	// ConfidenceFloor flags any skill whose confidence drops below it.
	ConfidenceFloor float64
	// IdleThreshold flags skills not used or validated within this duration.
	IdleThreshold time.Duration
	// RecentWindow is how many trailing outcomes form the recent sample.
	RecentWindow int
	// MinRecentSamples is the minimum recent sample size before the decline
	// check applies. Skills with thinner evidence are only flagged by age.
	MinRecentSamples int
	// TrendMargin is the mean-reward difference between the newer and older
	// halves of the window before a trend counts as a move.
	TrendMargin float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		DeclineMargin:    0.15,
		ConfidenceFloor:  0.35,
		IdleThreshold:    30 * 24 * time.Hour,
		RecentWindow:     10,
		MinRecentSamples: 5,
		TrendMargin:      0.05,
	}
}

// Flag is one finding of a scan.
type Flag struct {
	Skill  *skills.Skill
	Reason Reason
	Detail string
}

// Evaluator scans active skills for staleness signals.
type Evaluator struct {
	store *store.Store
	cfg   Config
	now   func() time.Time
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(s *store.Store, cfg Config) *Evaluator {
	return &Evaluator{store: s, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests and replay.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Scan examines every active skill and returns the ones that look stale,
// each with the first reason that tripped. Skills with no recorded outcomes
// are only ever flagged by age.
func (e *Evaluator) Scan(ctx context.Context) ([]Flag, error) {
	active, err := e.store.ListCurrent(ctx, store.Filter{
		Statuses: []skills.Status{skills.StatusActive},
	})
	if err != nil {
		return nil, err
	}

	var flags []Flag
	for _, skill := range active {
		flag, err := e.evaluate(ctx, skill)
		if err != nil {
			return nil, errors.Wrapf(err, "skill %q", skill.Name)
		}
		if flag != nil {
			flags = append(flags, *flag)
		}
	}

	logger.G(ctx).WithField("scanned", len(active)).WithField("flagged", len(flags)).
		Debug("staleness scan complete")
	return flags, nil
}

func (e *Evaluator) evaluate(ctx context.Context, skill *skills.Skill) (*Flag, error) {
	now := e.now().UTC()

	if skill.Confidence < e.cfg.ConfidenceFloor {
		return &Flag{
			Skill:  skill,
			Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("confidence %.2f below floor %.2f", skill.Confidence, e.cfg.ConfidenceFloor),
		}, nil
	}

	recent, baseline, err := e.windows(ctx, skill)
	if err != nil {
		return nil, err
	}

	if len(recent) >= e.cfg.MinRecentSamples && len(baseline) > 0 {
		recentMean := mean(recent)
		baselineMean := mean(baseline)
		if baselineMean-recentMean > e.cfg.DeclineMargin {
			return &Flag{
				Skill:  skill,
				Reason: ReasonDeclined,
				Detail: fmt.Sprintf("recent mean reward %.2f fell %.2f below baseline %.2f",
					recentMean, baselineMean-recentMean, baselineMean),
			}, nil
		}
	}

	if idle := now.Sub(lastActivity(skill)); idle > e.cfg.IdleThreshold {
		return &Flag{
			Skill:  skill,
			Reason: ReasonStaleByAge,
			Detail: fmt.Sprintf("no activity for %d days", int(idle.Hours()/24)),
		}, nil
	}

	return nil, nil
}

// windows splits a skill's outcome history into the recent sample and the
// earlier baseline it is compared against.
func (e *Evaluator) windows(ctx context.Context, skill *skills.Skill) (recent, baseline []float64, err error) {
	outcomes, err := e.store.ListOutcomes(ctx, store.OutcomeQuery{
		Name:    skill.Name,
		Version: skill.Version,
	})
	if err != nil {
		return nil, nil, err
	}

	rewards := make([]float64, len(outcomes))
	for i, o := range outcomes {
		rewards[i] = o.Reward
	}

	split := len(rewards) - e.cfg.RecentWindow
	if split < 0 {
		split = 0
	}
	return rewards[split:], rewards[:split], nil
}

// lastActivity is the most recent of a skill's creation, use, and validation
// timestamps.
func lastActivity(skill *skills.Skill) time.Time {
	last := skill.CreatedAt
	if skill.LastUsedAt != nil && skill.LastUsedAt.After(last) {
		last = *skill.LastUsedAt
	}
	if skill.LastValidatedAt != nil && skill.LastValidatedAt.After(last) {
		last = *skill.LastValidatedAt
	}
	return last
}

// MarkStale transitions every flagged skill from active to stale. Failures
// on individual skills do not stop the pass.
func (e *Evaluator) MarkStale(ctx context.Context, flags []Flag) error {
	now := e.now().UTC()

	var merr *multierror.Error
	for _, flag := range flags {
		err := e.store.SetStatus(ctx, flag.Skill.Name, flag.Skill.Version, skills.StatusStale, now)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "skill %q", flag.Skill.Name))
			continue
		}
		logger.G(ctx).WithField("skill", flag.Skill.Name).WithField("reason", string(flag.Reason)).
			Info("marked skill stale")
	}
	return merr.ErrorOrNil()
}

// ComputeTrend classifies the direction of a skill's recent rewards by
// comparing the newer half of the window against the older half. Fewer than
// four samples is always stable.
func (e *Evaluator) ComputeTrend(ctx context.Context, name string) (Trend, error) {
	skill, err := e.store.GetCurrent(ctx, name)
	if err != nil {
		return "", err
	}

	outcomes, err := e.store.ListOutcomes(ctx, store.OutcomeQuery{
		Name:    skill.Name,
		Version: skill.Version,
		Limit:   e.cfg.RecentWindow,
	})
	if err != nil {
		return "", err
	}
	if len(outcomes) < 4 {
		return TrendStable, nil
	}

	rewards := make([]float64, len(outcomes))
	for i, o := range outcomes {
		rewards[i] = o.Reward
	}

	mid := len(rewards) / 2
	diff := mean(rewards[mid:]) - mean(rewards[:mid])
	switch {
	case diff > e.cfg.TrendMargin:
		return TrendImproving, nil
	case diff < -e.cfg.TrendMargin:
		return TrendDegrading, nil
	default:
		return TrendStable, nil
	}
}

// Report is the health summary of one skill.
type Report struct {
	Skill   *skills.Skill
	Health  Health
	Trend   Trend
	Reasons []string
}

// CheckHealth grades every current skill for reporting: critical when the
// confidence floor is breached or failures are streaking, warning on decline,
// idleness, or a degrading trend.
func (e *Evaluator) CheckHealth(ctx context.Context) ([]Report, error) {
	current, err := e.store.ListCurrent(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(current))
	for _, skill := range current {
		report := Report{Skill: skill, Health: HealthHealthy, Trend: TrendStable}

		trend, err := e.ComputeTrend(ctx, skill.Name)
		if err != nil && !errors.Is(err, skills.ErrNotFound) {
			return nil, errors.Wrapf(err, "skill %q", skill.Name)
		}
		if err == nil {
			report.Trend = trend
		}

		if skill.Confidence < e.cfg.ConfidenceFloor {
			report.Health = HealthCritical
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("confidence %.2f below floor %.2f", skill.Confidence, e.cfg.ConfidenceFloor))
		}
		if skill.FailureStreak >= 5 {
			report.Health = HealthCritical
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("%d consecutive failures", skill.FailureStreak))
		}

		if report.Health == HealthHealthy {
			flag, err := e.evaluate(ctx, skill)
			if err != nil {
				return nil, errors.Wrapf(err, "skill %q", skill.Name)
			}
			if flag != nil {
				report.Health = HealthWarning
				report.Reasons = append(report.Reasons, flag.Detail)
			} else if report.Trend == TrendDegrading {
				report.Health = HealthWarning
				report.Reasons = append(report.Reasons, "reward trend degrading")
			}
		}

		reports = append(reports, report)
	}
	return reports, nil
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
