// Package reminder arranges and delivers dose reminders. The orchestrator
// never decides lifecycle states itself: it reads them from the tracker and
// turns transitions into notifications.
package reminder

import (
	"fmt"
	"sync"
	"time"

	"github.com/medminder/medminder/internal/config"
	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/tracker"
	"github.com/medminder/medminder/internal/utils"
)

// Notifier delivers one reminder to the user.
type Notifier interface {
	Notify(chatID int64, med *domain.Medication, timeOfDay string, state tracker.State) error
}

// Wakeup is one arranged wake-up for a dose time: the early warning 10
// minutes ahead, or the exact-time alert.
type Wakeup struct {
	MedicationID string
	TimeOfDay    string        // the dose's "HH:MM" slot
	Offset       time.Duration // 0 or -10min relative to the slot
	FireAt       string        // "HH:MM" of the wake-up itself
}

type delivery struct {
	day   string // calendar day of the dose event, "2006-01-02"
	state tracker.State
	count int
}

// Orchestrator keeps the wake-up registry and pushes notifications when the
// tracker reports a dose entering yellow, red, late or missed.
type Orchestrator struct {
	cfg      config.ReminderConfig
	notifier Notifier

	mu        sync.Mutex
	scheduled map[string][]Wakeup
	delivered map[string]map[string]delivery // medication id -> time of day
}

// New creates an orchestrator delivering through the given notifier.
func New(cfg config.ReminderConfig, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		notifier:  notifier,
		scheduled: make(map[string][]Wakeup),
		delivered: make(map[string]map[string]delivery),
	}
}

// Plan returns the wake-ups a medication needs: two per dose time, at minus
// ten minutes and at the exact time. Occasional medications need none.
func Plan(med *domain.Medication) []Wakeup {
	if med == nil || med.IsOccasional() {
		return nil
	}

	wakeups := make([]Wakeup, 0, len(med.DoseTimes)*2)
	for _, timeOfDay := range med.DoseTimes {
		slot := utils.TimeToMinutes(timeOfDay)
		wakeups = append(wakeups,
			Wakeup{
				MedicationID: med.ID,
				TimeOfDay:    timeOfDay,
				Offset:       -tracker.YellowLead,
				FireAt:       utils.MinutesToTime(slot - 10),
			},
			Wakeup{
				MedicationID: med.ID,
				TimeOfDay:    timeOfDay,
				Offset:       0,
				FireAt:       timeOfDay,
			},
		)
	}
	return wakeups
}

// Schedule registers the medication's wake-ups, replacing any previous plan.
// Paused or inactive medications end up with no wake-ups at all. Delivery
// history is left alone so a plan refresh, such as a repository watch
// emission, does not re-send one-shot alerts already delivered today.
func (o *Orchestrator) Schedule(med *domain.Medication) error {
	if med == nil || med.ID == "" {
		return fmt.Errorf("medication has no id")
	}

	plan := Plan(med)

	o.mu.Lock()
	if !med.Active || med.Paused || len(plan) == 0 {
		delete(o.scheduled, med.ID)
		o.mu.Unlock()
		return nil
	}
	o.scheduled[med.ID] = plan
	o.mu.Unlock()

	logger.Debug("Reminders scheduled", "medication_id", med.ID, "wakeups", len(plan))
	return nil
}

// Cancel drops the medication's wake-ups and delivery history. Safe to call
// when nothing was ever scheduled.
func (o *Orchestrator) Cancel(medicationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.scheduled, medicationID)
	delete(o.delivered, medicationID)
}

// Scheduled returns the medication's current wake-up plan.
func (o *Orchestrator) Scheduled(medicationID string) []Wakeup {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Wakeup(nil), o.scheduled[medicationID]...)
}

// Deliver pushes notifications for the given dose events. The yellow, late
// and missed alerts fire once per dose; the red alert repeats on consecutive
// passes up to the configured repeat count. Already-delivered states are
// never re-sent. Delivery history is scoped to the event's calendar day, so
// a slot that ended yesterday in late or missed alerts normally again today.
func (o *Orchestrator) Deliver(chatID int64, med *domain.Medication, events []tracker.Event) {
	if !o.cfg.NotificationsEnabled || o.notifier == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.scheduled[med.ID]; !ok {
		return
	}
	if o.delivered[med.ID] == nil {
		o.delivered[med.ID] = make(map[string]delivery)
	}

	for _, ev := range events {
		if ev.Taken {
			continue
		}
		switch ev.State {
		case tracker.StateAlertYellow, tracker.StateAlertRed, tracker.StateLate, tracker.StateMissed:
		default:
			continue
		}

		day := ev.ScheduledAt.Format("2006-01-02")
		last := o.delivered[med.ID][ev.TimeOfDay]
		if last.day != day {
			last = delivery{day: day}
		}
		if ev.State < last.state {
			continue
		}
		if ev.State == last.state {
			repeatable := ev.State == tracker.StateAlertRed && last.count < o.cfg.RepeatCount
			if !repeatable {
				continue
			}
		}

		if err := o.notifier.Notify(chatID, med, ev.TimeOfDay, ev.State); err != nil {
			logger.Error("Failed to deliver reminder",
				"medication_id", med.ID, "time_of_day", ev.TimeOfDay, "error", err)
			continue
		}

		if ev.State == last.state {
			last.count++
		} else {
			last = delivery{day: day, state: ev.State, count: 1}
		}
		o.delivered[med.ID][ev.TimeOfDay] = last
	}
}
