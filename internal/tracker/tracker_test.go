package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medminder/medminder/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMedication() *domain.Medication {
	return &domain.Medication{
		ID:          "med-1",
		Name:        "Paracetamol",
		DosesPerDay: 2,
		DoseTimes:   []string{"08:00", "20:00"},
		Active:      true,
	}
}

func TestInitializeDayCreatesTodaysEvents(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()

	tr.InitializeDay(med)

	events := tr.EventsFor(med.ID)
	require.Len(t, events, 2)
	assert.Equal(t, "08:00", events[0].TimeOfDay)
	assert.Equal(t, "20:00", events[1].TimeOfDay)
	assert.Equal(t, StatePending, events[1].State)
	assert.True(t, events[0].ScheduledAt.Before(events[1].ScheduledAt))
}

func TestInitializeDayIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 55, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()

	tr.InitializeDay(med)
	require.True(t, tr.Postpone(med.ID, "08:00"))

	// Re-initializing the same day must not duplicate events or lose the
	// postponement already applied.
	tr.InitializeDay(med)

	events := tr.EventsFor(med.ID)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Postponements)
}

func TestInitializeDaySkipsMalformedTimes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	med.DoseTimes = []string{"08:00", "no-es-hora"}

	tr.InitializeDay(med)

	assert.Len(t, tr.EventsFor(med.ID), 1)
}

func TestLifecycleAdvancesWithClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	assert.Equal(t, StatePending, tr.StateOf(med.ID, "08:00"))

	clock.now = time.Date(2026, 3, 10, 7, 50, 0, 0, time.UTC)
	assert.Equal(t, StateAlertYellow, tr.StateOf(med.ID, "08:00"))

	clock.now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, StateAlertRed, tr.StateOf(med.ID, "08:00"))

	clock.now = time.Date(2026, 3, 10, 8, 10, 0, 0, time.UTC)
	assert.Equal(t, StateLate, tr.StateOf(med.ID, "08:00"))

	clock.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, StateMissed, tr.StateOf(med.ID, "08:00"))

	// The evening dose is still waiting.
	assert.Equal(t, StatePending, tr.StateOf(med.ID, "20:00"))
}

func TestMarkTakenFreezesState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	require.True(t, tr.MarkTaken(med.ID, "08:00"))

	// Hours later the dose is still taken, never missed.
	clock.advance(6 * time.Hour)
	assert.Equal(t, StateTaken, tr.StateOf(med.ID, "08:00"))

	// A second claim on the same dose fails.
	assert.False(t, tr.MarkTaken(med.ID, "08:00"))
	assert.False(t, tr.MarkTaken("unknown", "08:00"))
}

func TestPostponeBound(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	scheduled := tr.EventsFor(med.ID)[0].ScheduledAt

	for i := 1; i <= MaxPostponements; i++ {
		require.True(t, tr.Postpone(med.ID, "08:00"), "postponement %d", i)
		events := tr.EventsFor(med.ID)
		assert.Equal(t, i, events[0].Postponements)
		assert.Equal(t, scheduled.Add(time.Duration(i)*PostponeShift), events[0].ScheduledAt)
	}

	// The fourth attempt fails and flips the dose to missed.
	assert.False(t, tr.Postpone(med.ID, "08:00"))
	assert.Equal(t, StateMissed, tr.StateOf(med.ID, "08:00"))
}

func TestPostponeResetsAlertState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	require.Equal(t, StateAlertRed, tr.StateOf(med.ID, "08:00"))
	require.True(t, tr.Postpone(med.ID, "08:00"))

	// The shifted slot is 10 minutes away: back inside the warning window.
	assert.Equal(t, StateAlertYellow, tr.StateOf(med.ID, "08:00"))
}

func TestUnrecordedMissedPromotion(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	clock.now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	missed := tr.UnrecordedMissed(med.ID)
	require.Len(t, missed, 1)
	assert.Equal(t, "08:00", missed[0].TimeOfDay)

	tr.MarkMissedRecorded(med.ID, "08:00")
	assert.Empty(t, tr.UnrecordedMissed(med.ID))
	assert.True(t, tr.HasMissedEvents(med.ID))
}

func TestDropPastDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	clock.now = time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)
	tr.DropPastDays()

	assert.Empty(t, tr.EventsFor(med.ID))

	// A fresh day produces fresh events.
	tr.InitializeDay(med)
	assert.Len(t, tr.EventsFor(med.ID), 2)
}

func TestReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)}
	tr := New(clock)
	med := newTestMedication()
	tr.InitializeDay(med)

	tr.Reset(med.ID)
	assert.Empty(t, tr.EventsFor(med.ID))
}
