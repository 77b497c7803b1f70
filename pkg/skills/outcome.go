package skills

import (
	"time"

	"github.com/pkg/errors"
)

// Outcome is one immutable observation of a skill version's use. Timestamps
// are always explicit so that backfill and replay are just another producer.
type Outcome struct {
	ID           string
	SkillName    string
	SkillVersion int
	ExperimentID string // set when the outcome belongs to an experiment arm
	Arm          Arm    // set together with ExperimentID
	Reward       float64
	Tags         []string
	RecordedAt   time.Time
}

// Validate rejects malformed outcomes at the boundary so they are never
// partially recorded.
func (o *Outcome) Validate() error {
	if o.SkillName == "" {
		return errors.Wrap(ErrInvalidOutcome, "skill name is required")
	}
	if o.SkillVersion < 1 {
		return errors.Wrapf(ErrInvalidOutcome, "skill version must be >= 1, got %d", o.SkillVersion)
	}
	if o.Reward < 0 || o.Reward > 1 {
		return errors.Wrapf(ErrInvalidOutcome, "reward must be in [0,1], got %f", o.Reward)
	}
	if o.RecordedAt.IsZero() {
		return errors.Wrap(ErrInvalidOutcome, "recorded_at timestamp is required")
	}
	if (o.ExperimentID == "") != (o.Arm == "") {
		return errors.Wrap(ErrInvalidOutcome, "experiment id and arm must be set together")
	}
	return nil
}

// RewardFromResult normalizes a categorical success/failure with a magnitude
// in [0,1] into a reward. Failures map to the lower half of the range,
// successes to the upper half, so magnitude still differentiates outcomes of
// the same kind.
func RewardFromResult(success bool, magnitude float64) float64 {
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > 1 {
		magnitude = 1
	}
	if success {
		return 0.5 + magnitude/2
	}
	return 0.5 - magnitude/2
}
