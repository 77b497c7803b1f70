package skills

// Status is a skill lineage's lifecycle state. The state machine applies to
// the current version of a lineage only; prior versions are frozen at
// StatusSuperseded and retired lineages stay at StatusRetired.
type Status string

const (
	// StatusSeed marks a newly created skill that no agent has read yet.
	StatusSeed Status = "seed"
	// StatusActive marks the current, in-use version of a lineage.
	StatusActive Status = "active"
	// StatusStale marks a skill flagged by the staleness evaluator.
	StatusStale Status = "stale"
	// StatusUnderReview marks a skill with an open experiment or scheduled review.
	StatusUnderReview Status = "under_review"
	// StatusRefined marks a freshly promoted successor version before activation.
	StatusRefined Status = "refined"
	// StatusSuperseded marks a version replaced by a newer one. Terminal.
	StatusSuperseded Status = "superseded"
	// StatusRetired marks an explicitly retired lineage. Terminal, kept for audit.
	StatusRetired Status = "retired"
)

var transitions = map[Status][]Status{
	StatusSeed:        {StatusActive, StatusRetired},
	StatusActive:      {StatusStale, StatusUnderReview, StatusSuperseded, StatusRetired},
	StatusStale:       {StatusUnderReview, StatusSuperseded, StatusRetired},
	StatusUnderReview: {StatusRefined, StatusActive, StatusSuperseded, StatusRetired},
	StatusRefined:     {StatusActive, StatusRetired},
	StatusSuperseded:  nil,
	StatusRetired:     nil,
}

func (s Status) valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuperseded || s == StatusRetired
}

// Current reports whether a version with this status is the lineage's
// current version. At most one version per name may hold such a status.
func (s Status) Current() bool {
	switch s {
	case StatusSeed, StatusActive, StatusStale, StatusUnderReview, StatusRefined:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving to the
// given status.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CurrentStatuses returns the statuses a lineage's current version may hold.
func CurrentStatuses() []Status {
	return []Status{StatusSeed, StatusActive, StatusStale, StatusUnderReview, StatusRefined}
}
