package skills

import "time"

// Arm identifies which experiment variant an outcome was assigned to.
type Arm string

const (
	// ArmA is the baseline: the existing skill version.
	ArmA Arm = "A"
	// ArmB is the candidate variant under test.
	ArmB Arm = "B"
)

// ExperimentStatus tracks an experiment's lifecycle. Resolved experiments
// are immutable.
type ExperimentStatus string

const (
	ExperimentRunning              ExperimentStatus = "running"
	ExperimentResolvedA            ExperimentStatus = "resolved:A"
	ExperimentResolvedB            ExperimentStatus = "resolved:B"
	ExperimentResolvedInconclusive ExperimentStatus = "resolved:inconclusive"
)

// Resolved reports whether the experiment has reached a terminal status.
func (s ExperimentStatus) Resolved() bool {
	return s != ExperimentRunning && s != ""
}

// Experiment is a controlled comparison between the current version of a
// skill (variant A) and a candidate document (variant B). Outcomes tagged
// with the experiment id are routed into per-arm buckets by a deterministic
// hash of the caller's context key.
type Experiment struct {
	ID              string
	SkillName       string
	Hypothesis      string
	BaselineVersion int      // variant A: the skill version under test
	CandidateDoc    Document // variant B: the proposed replacement content
	SplitPercent    int      // share of context keys routed to the candidate arm
	MinSampleSize   int
	Status          ExperimentStatus
	Verdict         *Verdict
	StartedAt       time.Time
	ExpiresAt       time.Time
	ResolvedAt      *time.Time
}

// Verdict is the evidentiary basis recorded alongside every resolution.
type Verdict struct {
	Winner          string  `json:"winner"` // "A", "B", or "inconclusive"
	MeanA           float64 `json:"mean_a"`
	MeanB           float64 `json:"mean_b"`
	SamplesA        int     `json:"samples_a"`
	SamplesB        int     `json:"samples_b"`
	EffectSize      float64 `json:"effect_size"` // Cohen's d
	PValue          float64 `json:"p_value"`
	ConfidenceLevel float64 `json:"confidence_level"` // 1 - alpha
	Method          string  `json:"method"`
	Forced          bool    `json:"forced,omitempty"` // resolved by timeout, not evidence
}
