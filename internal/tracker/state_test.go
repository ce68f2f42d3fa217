package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextStateTimeline(t *testing.T) {
	scheduled := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		want   State
	}{
		{"well before the slot", -15 * time.Minute, StatePending},
		{"early warning boundary", -10 * time.Minute, StateAlertYellow},
		{"five minutes before", -5 * time.Minute, StateAlertYellow},
		{"exactly on time", 0, StateAlertRed},
		{"nine minutes past", 9 * time.Minute, StateAlertRed},
		{"ten minutes past", 10 * time.Minute, StateLate},
		{"fifty nine minutes past", 59 * time.Minute, StateLate},
		{"one hour past", time.Hour, StateMissed},
		{"long after", 3 * time.Hour, StateMissed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextState(StatePending, scheduled, scheduled.Add(tt.offset), false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStateTakenIsAbsorbing(t *testing.T) {
	scheduled := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	assert.Equal(t, StateTaken, NextState(StateAlertRed, scheduled, scheduled, true))
	// Even hours later a taken dose stays taken.
	assert.Equal(t, StateTaken, NextState(StateTaken, scheduled, scheduled.Add(5*time.Hour), false))
}

func TestNextStateNeverRegresses(t *testing.T) {
	scheduled := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	// An event already late stays late even when observed with a clock that
	// would place it earlier in the lifecycle.
	got := NextState(StateLate, scheduled, scheduled.Add(-30*time.Minute), false)
	assert.Equal(t, StateLate, got)

	// Missed is terminal for an unclaimed dose.
	got = NextState(StateMissed, scheduled, scheduled, false)
	assert.Equal(t, StateMissed, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "alert_yellow", StateAlertYellow.String())
	assert.Equal(t, "missed", StateMissed.String())
	assert.Equal(t, "unknown", State(99).String())
}
