package skills

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"seed activates", StatusSeed, StatusActive, true},
		{"seed retires", StatusSeed, StatusRetired, true},
		{"seed cannot go stale", StatusSeed, StatusStale, false},
		{"active goes stale", StatusActive, StatusStale, true},
		{"active enters review", StatusActive, StatusUnderReview, true},
		{"active superseded", StatusActive, StatusSuperseded, true},
		{"stale enters review", StatusStale, StatusUnderReview, true},
		{"stale cannot reactivate directly", StatusStale, StatusActive, false},
		{"review reverts to active", StatusUnderReview, StatusActive, true},
		{"review refines", StatusUnderReview, StatusRefined, true},
		{"refined activates", StatusRefined, StatusActive, true},
		{"superseded is terminal", StatusSuperseded, StatusActive, false},
		{"retired is terminal", StatusRetired, StatusActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTerminalStatusesAdmitNothing(t *testing.T) {
	all := []Status{
		StatusSeed, StatusActive, StatusStale, StatusUnderReview,
		StatusRefined, StatusSuperseded, StatusRetired,
	}
	for _, terminal := range []Status{StatusSuperseded, StatusRetired} {
		require.True(t, terminal.Terminal())
		for _, to := range all {
			assert.False(t, terminal.CanTransition(to), "%s -> %s should be forbidden", terminal, to)
		}
	}
}

// Random walks through the state machine must never leave a terminal status
// or visit a status outside the declared set.
func TestRandomTransitionWalks(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	all := []Status{
		StatusSeed, StatusActive, StatusStale, StatusUnderReview,
		StatusRefined, StatusSuperseded, StatusRetired,
	}

	for walk := 0; walk < 200; walk++ {
		current := StatusSeed
		for step := 0; step < 20; step++ {
			next := all[rng.Intn(len(all))]
			if current.Terminal() {
				require.False(t, current.CanTransition(next))
				break
			}
			if current.CanTransition(next) {
				require.True(t, next.Current() || next.Terminal())
				current = next
			}
		}
	}
}

func TestCurrentStatuses(t *testing.T) {
	for _, st := range CurrentStatuses() {
		assert.True(t, st.Current())
		assert.False(t, st.Terminal())
	}
	assert.False(t, StatusSuperseded.Current())
	assert.False(t, StatusRetired.Current())
}
