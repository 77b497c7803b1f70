// Package confidence recomputes skill confidence from recent outcomes. The
// estimate is an exponentially weighted moving average over a recency window,
// shrunk toward the lineage's prior so a handful of lucky outcomes cannot
// swing a skill's score.
package confidence

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

// Config tunes the confidence estimate.
type Config struct {
	// Alpha is the EWMA smoothing factor. Higher values weight recent
	// outcomes more heavily.
	Alpha float64
	// EvidenceWeight is k in the shrinkage weight w = n/(n+k). Larger k
	// keeps the estimate closer to the prior for longer.
	EvidenceWeight float64
	// WindowCount caps how many recent outcomes feed the estimate.
	WindowCount int
	// WindowAge excludes outcomes older than this from the window.
	WindowAge time.Duration
	// PriorDecay pulls a derived version's prior toward neutral: the
	// predecessor's confidence keeps this fraction of its distance from 0.5.
	PriorDecay float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:          0.3,
		EvidenceWeight: 5,
		WindowCount:    50,
		WindowAge:      30 * 24 * time.Hour,
		PriorDecay:     0.8,
	}
}

// NeutralPrior is the prior for a brand-new lineage with no predecessor.
const NeutralPrior = 0.5

// Compute folds a chronological reward series into a confidence score:
// EWMA over the rewards, then shrinkage toward the prior weighted by sample
// count. An empty series returns the prior unchanged.
func Compute(prior float64, rewards []float64, cfg Config) float64 {
	if len(rewards) == 0 {
		return prior
	}

	ewma := rewards[0]
	for _, r := range rewards[1:] {
		ewma = cfg.Alpha*r + (1-cfg.Alpha)*ewma
	}

	n := float64(len(rewards))
	w := n / (n + cfg.EvidenceWeight)
	return clamp(w*ewma + (1-w)*prior)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Result describes one confidence recomputation.
type Result struct {
	Skill      string
	Version    int
	Prior      float64
	Previous   float64
	Confidence float64
	Samples    int
	// Updated is false when the outcome window was empty and nothing was
	// written.
	Updated bool
}

// Updater recomputes and persists confidence for current skill versions.
type Updater struct {
	store *store.Store
	cfg   Config
	now   func() time.Time
}

// NewUpdater creates an updater over the given store.
func NewUpdater(s *store.Store, cfg Config) *Updater {
	return &Updater{store: s, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests and replay.
func (u *Updater) WithClock(now func() time.Time) *Updater {
	u.now = now
	return u
}

// Update recomputes the named lineage's current version confidence from its
// recent outcome window and persists the new value. An empty window leaves
// the record untouched.
func (u *Updater) Update(ctx context.Context, name string) (Result, error) {
	skill, err := u.store.GetCurrent(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return u.update(ctx, skill)
}

func (u *Updater) update(ctx context.Context, skill *skills.Skill) (Result, error) {
	now := u.now().UTC()
	res := Result{
		Skill:    skill.Name,
		Version:  skill.Version,
		Previous: skill.Confidence,
	}

	prior, err := u.prior(ctx, skill)
	if err != nil {
		return res, err
	}
	res.Prior = prior

	outcomes, err := u.store.ListOutcomes(ctx, store.OutcomeQuery{
		Name:    skill.Name,
		Version: skill.Version,
		Since:   now.Add(-u.cfg.WindowAge),
		Limit:   u.cfg.WindowCount,
	})
	if err != nil {
		return res, err
	}
	res.Samples = len(outcomes)

	if len(outcomes) == 0 {
		res.Confidence = skill.Confidence
		return res, nil
	}

	rewards := make([]float64, len(outcomes))
	for i, o := range outcomes {
		rewards[i] = o.Reward
	}
	res.Confidence = Compute(prior, rewards, u.cfg)

	if err := u.store.UpdateConfidence(ctx, skill.Name, skill.Version, res.Confidence, now); err != nil {
		return res, err
	}
	res.Updated = true

	logger.G(ctx).WithField("skill", skill.Name).WithField("version", skill.Version).
		WithField("confidence", res.Confidence).WithField("samples", res.Samples).
		Debug("recomputed skill confidence")
	return res, nil
}

// prior returns the shrinkage target for a version: neutral for version 1,
// the predecessor's confidence decayed toward neutral for derived versions.
func (u *Updater) prior(ctx context.Context, skill *skills.Skill) (float64, error) {
	if skill.Version <= 1 {
		return NeutralPrior, nil
	}
	pred, err := u.store.GetVersion(ctx, skill.Name, skill.Version-1)
	if errors.Is(err, skills.ErrNotFound) {
		return NeutralPrior, nil
	}
	if err != nil {
		return 0, err
	}
	return skills.DerivedPrior(pred.Confidence, u.cfg.PriorDecay), nil
}

// UpdateAll recomputes confidence for the current version of every lineage.
// Per-skill failures do not stop the sweep; they are aggregated into the
// returned error.
func (u *Updater) UpdateAll(ctx context.Context) ([]Result, error) {
	current, err := u.store.ListCurrent(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	var (
		results []Result
		merr    *multierror.Error
	)
	for _, skill := range current {
		res, err := u.update(ctx, skill)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "skill %q", skill.Name))
			continue
		}
		results = append(results, res)
	}
	return results, merr.ErrorOrNil()
}
