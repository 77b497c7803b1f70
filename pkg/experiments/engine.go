// Package experiments runs controlled A/B comparisons between a skill's
// current version and a candidate rewrite. Arm assignment is a deterministic
// hash so the same context key always lands on the same arm, and resolution
// is a fixed statistical procedure so two runs over the same ledger reach
// the same verdict.
package experiments

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/cadencehq/skillloop/pkg/logger"
	"github.com/cadencehq/skillloop/pkg/skills"
	"github.com/cadencehq/skillloop/pkg/store"
)

// Config tunes experiment behavior.
type Config struct {
	// SplitPercent is the share of context keys routed to the candidate arm.
	SplitPercent int
	// MinSampleSize is how many outcomes each arm needs before resolution.
	MinSampleSize int
	// Alpha is the significance level for the winner test.
	Alpha float64
	// MinDetectableEffect is the smallest mean-reward difference worth
	// promoting; significant-but-tiny differences resolve inconclusive.
	MinDetectableEffect float64
	// MaxDuration bounds how long an experiment may run before a scan
	// forcibly resolves it as inconclusive.
	MaxDuration time.Duration
	// PriorDecay sets the promoted version's starting confidence: the
	// baseline's confidence decayed toward neutral by this factor.
	PriorDecay float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		SplitPercent:        25,
		MinSampleSize:       10,
		Alpha:               0.05,
		MinDetectableEffect: 0.05,
		MaxDuration:         14 * 24 * time.Hour,
		PriorDecay:          0.8,
	}
}

// Engine opens, routes, and resolves experiments.
type Engine struct {
	store *store.Store
	cfg   Config
	now   func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(s *store.Store, cfg Config) *Engine {
	return &Engine{store: s, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests and replay.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Open starts an experiment pitting the named skill's current version
// against a candidate document, and moves the skill to under_review so it
// stops being served outside the experiment. A lineage can host one running
// experiment at a time.
func (e *Engine) Open(ctx context.Context, skillName, hypothesis string, candidate skills.Document) (*skills.Experiment, error) {
	now := e.now().UTC()

	current, err := e.store.GetCurrent(ctx, skillName)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(skills.StatusUnderReview) {
		return nil, errors.Wrapf(skills.ErrInvalidTransition,
			"cannot open experiment on skill %q in status %q", skillName, current.Status)
	}

	exp := &skills.Experiment{
		SkillName:       skillName,
		Hypothesis:      hypothesis,
		BaselineVersion: current.Version,
		CandidateDoc:    candidate,
		SplitPercent:    e.cfg.SplitPercent,
		MinSampleSize:   e.cfg.MinSampleSize,
		StartedAt:       now,
		ExpiresAt:       now.Add(e.cfg.MaxDuration),
	}
	if err := e.store.OpenExperiment(ctx, exp); err != nil {
		return nil, err
	}

	if err := e.store.SetStatus(ctx, skillName, current.Version, skills.StatusUnderReview, now); err != nil {
		return nil, errors.Wrapf(err, "experiment %q opened but skill %q not moved to review", exp.ID, skillName)
	}

	logger.G(ctx).WithField("experiment", exp.ID).WithField("skill", skillName).
		WithField("baseline_version", current.Version).Info("opened experiment")
	return exp, nil
}

// Assign routes a context key to an arm. The assignment is a pure function
// of the experiment id and the key, so retries and replays of the same task
// always see the same variant.
func Assign(exp *skills.Experiment, contextKey string) skills.Arm {
	h := fnv.New32a()
	h.Write([]byte(exp.ID))
	h.Write([]byte{0})
	h.Write([]byte(contextKey))
	if int(h.Sum32()%100) < exp.SplitPercent {
		return skills.ArmB
	}
	return skills.ArmA
}

// Record appends an outcome to the experiment's ledger bucket for the given
// arm. Both arms record against the baseline version; the arm field is what
// separates them at resolution.
func (e *Engine) Record(ctx context.Context, exp *skills.Experiment, arm skills.Arm, reward float64, tags []string, at time.Time) error {
	if exp.Status.Resolved() {
		return errors.Wrapf(skills.ErrExperimentResolved, "experiment %q", exp.ID)
	}
	return e.store.AppendOutcome(ctx, &skills.Outcome{
		SkillName:    exp.SkillName,
		SkillVersion: exp.BaselineVersion,
		ExperimentID: exp.ID,
		Arm:          arm,
		Reward:       reward,
		Tags:         tags,
		RecordedAt:   at,
	})
}

// Resolution is the outcome of a resolution attempt. Resolved false means
// the evidence is still insufficient and the experiment keeps running; that
// is an answer, not an error.
type Resolution struct {
	Experiment *skills.Experiment
	Resolved   bool
	Reason     string
	Verdict    *skills.Verdict
	// Promoted is the new skill version, set only when the candidate won.
	Promoted *skills.Skill
}

// Resolve examines a running experiment's evidence and, if both arms have
// reached minimum sample size, settles it: the candidate wins only on a
// significant difference at least as large as the minimum detectable
// effect, in its favor. A winning candidate is promoted to a new version;
// anything else reverts the skill to active.
func (e *Engine) Resolve(ctx context.Context, experimentID string) (*Resolution, error) {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status.Resolved() {
		return nil, errors.Wrapf(skills.ErrExperimentResolved, "experiment %q", experimentID)
	}
	return e.resolve(ctx, exp, false)
}

func (e *Engine) resolve(ctx context.Context, exp *skills.Experiment, force bool) (*Resolution, error) {
	now := e.now().UTC()

	armA, armB, err := e.store.ExperimentOutcomes(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	if len(armA) < exp.MinSampleSize || len(armB) < exp.MinSampleSize {
		if !force {
			return &Resolution{
				Experiment: exp,
				Reason: fmt.Sprintf("insufficient evidence: arm A has %d/%d samples, arm B has %d/%d",
					len(armA), exp.MinSampleSize, len(armB), exp.MinSampleSize),
			}, nil
		}
		verdict := &skills.Verdict{
			Winner:          "inconclusive",
			MeanA:           mean(rewards(armA)),
			MeanB:           mean(rewards(armB)),
			SamplesA:        len(armA),
			SamplesB:        len(armB),
			ConfidenceLevel: 1 - e.cfg.Alpha,
			Method:          welchMethod,
			Forced:          true,
		}
		return e.settle(ctx, exp, skills.ExperimentResolvedInconclusive, verdict, now)
	}

	test := welchTest(rewards(armA), rewards(armB))
	verdict := &skills.Verdict{
		Winner:          "inconclusive",
		MeanA:           test.MeanA,
		MeanB:           test.MeanB,
		SamplesA:        len(armA),
		SamplesB:        len(armB),
		EffectSize:      test.EffectSize,
		PValue:          test.PValue,
		ConfidenceLevel: 1 - e.cfg.Alpha,
		Method:          welchMethod,
	}

	status := skills.ExperimentResolvedInconclusive
	if test.PValue < e.cfg.Alpha && math.Abs(test.MeanB-test.MeanA) >= e.cfg.MinDetectableEffect {
		if test.MeanB > test.MeanA {
			verdict.Winner = "B"
			status = skills.ExperimentResolvedB
		} else {
			verdict.Winner = "A"
			status = skills.ExperimentResolvedA
		}
	}

	return e.settle(ctx, exp, status, verdict, now)
}

// settle records the verdict and applies the consequence: candidate wins
// promote a new version, everything else reverts the baseline to active.
func (e *Engine) settle(ctx context.Context, exp *skills.Experiment, status skills.ExperimentStatus, verdict *skills.Verdict, now time.Time) (*Resolution, error) {
	if err := e.store.ResolveExperiment(ctx, exp.ID, status, verdict, now); err != nil {
		return nil, err
	}
	exp.Status = status
	exp.Verdict = verdict
	exp.ResolvedAt = &now

	res := &Resolution{
		Experiment: exp,
		Resolved:   true,
		Reason:     "winner: " + verdict.Winner,
		Verdict:    verdict,
	}

	if status == skills.ExperimentResolvedB {
		promoted, err := e.promote(ctx, exp, verdict, now)
		if err != nil {
			return nil, err
		}
		res.Promoted = promoted
	} else {
		err := e.store.ReactivateVersion(ctx, exp.SkillName, exp.BaselineVersion, now)
		if err != nil && !errors.Is(err, skills.ErrInvalidTransition) {
			return nil, errors.Wrapf(err, "failed to reactivate skill %q after experiment %q", exp.SkillName, exp.ID)
		}
	}

	logger.G(ctx).WithField("experiment", exp.ID).WithField("skill", exp.SkillName).
		WithField("winner", verdict.Winner).WithField("p_value", verdict.PValue).
		Info("resolved experiment")
	return res, nil
}

// promote installs the winning candidate as the lineage's next version, with
// Performance Notes rewritten to carry the evidence. A promotion that loses
// a version race is retried once against the new current version before the
// conflict is surfaced.
func (e *Engine) promote(ctx context.Context, exp *skills.Experiment, verdict *skills.Verdict, now time.Time) (*skills.Skill, error) {
	notes := fmt.Sprintf(
		"Promoted %s after experiment %s: mean reward %.3f vs %.3f baseline (n=%d/%d, effect size %.2f, p=%.4f).\n\nHypothesis: %s",
		now.Format("2006-01-02"), exp.ID, verdict.MeanB, verdict.MeanA,
		verdict.SamplesB, verdict.SamplesA, verdict.EffectSize, verdict.PValue, exp.Hypothesis)
	doc := exp.CandidateDoc.WithPerformanceNotes(notes)

	var promoted *skills.Skill
	err := retry.Do(
		func() error {
			current, err := e.store.GetCurrent(ctx, exp.SkillName)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			promoted, err = e.store.PromoteVersion(ctx, store.PromoteParams{
				Name:            exp.SkillName,
				ExpectedVersion: current.Version,
				Doc:             doc,
				Confidence:      skills.DerivedPrior(current.Confidence, e.cfg.PriorDecay),
				At:              now,
			})
			return err
		},
		retry.Attempts(2),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, skills.ErrConflictingPromotion)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to promote experiment %q winner", exp.ID)
	}
	return promoted, nil
}

// ListRunning returns all open experiments, oldest first.
func (e *Engine) ListRunning(ctx context.Context) ([]*skills.Experiment, error) {
	return e.store.ListRunningExperiments(ctx)
}

// ExpireStale forcibly resolves running experiments past their deadline.
// Experiments with enough evidence get a real verdict; the rest are closed
// as inconclusive so their skills do not stay under review forever.
func (e *Engine) ExpireStale(ctx context.Context) ([]*Resolution, error) {
	now := e.now().UTC()

	running, err := e.store.ListRunningExperiments(ctx)
	if err != nil {
		return nil, err
	}

	var resolutions []*Resolution
	for _, exp := range running {
		if now.Before(exp.ExpiresAt) {
			continue
		}
		res, err := e.resolve(ctx, exp, true)
		if err != nil {
			return resolutions, errors.Wrapf(err, "experiment %q", exp.ID)
		}
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}

func rewards(outcomes []skills.Outcome) []float64 {
	out := make([]float64, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Reward
	}
	return out
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
