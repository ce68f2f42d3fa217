// Package tracker holds the in-memory dose events of the current day and
// advances each one through its lifecycle as wall-clock time passes. State
// evaluation is lazy: events are re-evaluated on read, never pushed.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/utils"
)

// Event is one expected administration slot for one medication on one day.
type Event struct {
	MedicationID  string
	TimeOfDay     string // Format: "HH:MM"
	ScheduledAt   time.Time
	State         State
	Postponements int
	Taken         bool

	// Transition timestamps, kept for debugging and for the missed-record
	// promotion guard.
	YellowAt       *time.Time
	RedAt          *time.Time
	LateAt         *time.Time
	MissedAt       *time.Time
	MissedRecorded bool
}

// Tracker owns the per-day event collection, keyed by medication id. It is an
// explicit store object: construct one per session and pass it where needed.
type Tracker struct {
	clock  domain.Clock
	mu     sync.RWMutex
	events map[string][]*Event
}

// New creates an empty tracker evaluating against the given clock.
func New(clock domain.Clock) *Tracker {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Tracker{
		clock:  clock,
		events: make(map[string][]*Event),
	}
}

// InitializeDay derives today's dose events from the medication's schedule.
// Idempotent per medication and day: events already present for today are
// kept as-is, only missing time slots are added. Events left over from prior
// days are dropped. Malformed schedule entries are skipped.
func (t *Tracker) InitializeDay(med *domain.Medication) {
	if med == nil || med.ID == "" || len(med.DoseTimes) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	kept := make([]*Event, 0, len(med.DoseTimes))
	present := make(map[string]bool)
	for _, ev := range t.events[med.ID] {
		if !utils.SameDay(ev.ScheduledAt, now) {
			continue
		}
		kept = append(kept, ev)
		present[ev.TimeOfDay] = true
	}

	for _, timeOfDay := range med.DoseTimes {
		if present[timeOfDay] {
			continue
		}
		scheduledAt, err := utils.AtTimeOfDay(now, timeOfDay)
		if err != nil {
			continue
		}
		// A slot that is already in the past but does not belong to today was
		// handled on its own day; never resurrect it.
		if scheduledAt.Before(now) && !utils.SameDay(scheduledAt, now) {
			continue
		}
		kept = append(kept, &Event{
			MedicationID: med.ID,
			TimeOfDay:    timeOfDay,
			ScheduledAt:  scheduledAt,
			State:        StatePending,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].ScheduledAt.Before(kept[j].ScheduledAt)
	})
	t.events[med.ID] = kept
}

// EventsFor returns the medication's current dose events, re-evaluated
// against the clock, in ascending scheduled order.
func (t *Tracker) EventsFor(medicationID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.events[medicationID]
	result := make([]Event, 0, len(events))
	for _, ev := range events {
		t.advance(ev)
		result = append(result, *ev)
	}
	return result
}

// StateOf returns the current state of the dose at the given time of day.
// Unknown medications or slots read as pending.
func (t *Tracker) StateOf(medicationID, timeOfDay string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events[medicationID] {
		if ev.TimeOfDay == timeOfDay {
			t.advance(ev)
			return ev.State
		}
	}
	return StatePending
}

// MarkTaken marks the matching unclaimed dose event as taken and freezes its
// state. Returns false when no such event exists.
func (t *Tracker) MarkTaken(medicationID, timeOfDay string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events[medicationID] {
		if ev.TimeOfDay == timeOfDay && !ev.Taken {
			ev.Taken = true
			ev.State = StateTaken
			return true
		}
	}
	return false
}

// Postpone pushes the matching dose event 10 minutes forward and resets it to
// pending, up to 3 times. Once the bound is exhausted the event transitions to
// missed and Postpone returns false: running out of postponements is itself a
// missed-dose signal.
func (t *Tracker) Postpone(medicationID, timeOfDay string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events[medicationID] {
		if ev.TimeOfDay != timeOfDay || ev.Taken {
			continue
		}
		if ev.Postponements < MaxPostponements {
			ev.Postponements++
			ev.ScheduledAt = ev.ScheduledAt.Add(PostponeShift)
			ev.State = StatePending
			return true
		}
		if ev.State != StateMissed {
			ev.State = StateMissed
			now := t.clock.Now()
			ev.MissedAt = &now
		}
		return false
	}
	return false
}

// HasMissedEvents reports whether any of the medication's doses is missed.
// Consumed by UI sorting to rank medications needing attention last.
func (t *Tracker) HasMissedEvents(medicationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events[medicationID] {
		t.advance(ev)
		if ev.State == StateMissed {
			return true
		}
	}
	return false
}

// UnrecordedMissed returns the medication's missed events that have not yet
// been promoted to a durable dose record.
func (t *Tracker) UnrecordedMissed(medicationID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Event
	for _, ev := range t.events[medicationID] {
		t.advance(ev)
		if ev.State == StateMissed && !ev.MissedRecorded {
			result = append(result, *ev)
		}
	}
	return result
}

// MarkMissedRecorded flags the matching missed event as promoted, so the next
// evaluation pass does not re-emit its record.
func (t *Tracker) MarkMissedRecorded(medicationID, timeOfDay string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events[medicationID] {
		if ev.TimeOfDay == timeOfDay && ev.State == StateMissed {
			ev.MissedRecorded = true
		}
	}
}

// DropPastDays discards events belonging to a prior calendar day. Their
// outcomes live on as dose records only.
func (t *Tracker) DropPastDays() {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := utils.StartOfDay(t.clock.Now())
	for id, events := range t.events {
		kept := events[:0]
		for _, ev := range events {
			if !ev.ScheduledAt.Before(today) {
				kept = append(kept, ev)
			}
		}
		t.events[id] = kept
	}
}

// Reset discards the medication's events entirely. Called before a schedule
// edit or a deletion.
func (t *Tracker) Reset(medicationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, medicationID)
}

// advance re-evaluates one event and stamps newly reached states. Callers
// hold the lock.
func (t *Tracker) advance(ev *Event) {
	next := NextState(ev.State, ev.ScheduledAt, t.clock.Now(), ev.Taken)
	if next == ev.State {
		return
	}
	ev.State = next

	now := t.clock.Now()
	switch next {
	case StateAlertYellow:
		if ev.YellowAt == nil {
			ev.YellowAt = &now
		}
	case StateAlertRed:
		if ev.RedAt == nil {
			ev.RedAt = &now
		}
	case StateLate:
		if ev.LateAt == nil {
			ev.LateAt = &now
		}
	case StateMissed:
		if ev.MissedAt == nil {
			ev.MissedAt = &now
		}
	}
}
