package skills

import "github.com/pkg/errors"

var (
	// ErrNotFound indicates a referenced skill name or version does not exist.
	ErrNotFound = errors.New("skill not found")

	// ErrConflictingPromotion indicates a concurrent version-creation race:
	// the version number this promotion wanted to create already exists.
	ErrConflictingPromotion = errors.New("conflicting promotion")

	// ErrInvalidOutcome indicates a malformed outcome report, rejected at the
	// boundary before anything is recorded.
	ErrInvalidOutcome = errors.New("invalid outcome")

	// ErrInvalidTransition indicates a status change the lifecycle state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrExperimentResolved indicates a write against an already-resolved
	// experiment, which is immutable.
	ErrExperimentResolved = errors.New("experiment already resolved")

	// ErrExperimentOpen indicates a second experiment was opened against a
	// lineage that already has one running.
	ErrExperimentOpen = errors.New("experiment already open for skill")
)
