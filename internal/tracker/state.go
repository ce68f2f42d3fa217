package tracker

import "time"

// State is the lifecycle state of a scheduled dose event.
type State int

const (
	StatePending     State = iota // waiting for its time slot
	StateAlertYellow              // 10 minutes before the slot
	StateAlertRed                 // slot reached
	StateLate                     // 10 minutes past without confirmation
	StateMissed                   // one hour past without confirmation
	StateTaken                    // confirmed by the user; absorbing
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAlertYellow:
		return "alert_yellow"
	case StateAlertRed:
		return "alert_red"
	case StateLate:
		return "late"
	case StateMissed:
		return "missed"
	case StateTaken:
		return "taken"
	default:
		return "unknown"
	}
}

const (
	// YellowLead is how far before the scheduled time the early warning starts.
	YellowLead = 10 * time.Minute
	// LateGrace is how far past the scheduled time a dose turns late.
	LateGrace = 10 * time.Minute
	// MissCutoff is how far past the scheduled time a dose counts as missed.
	MissCutoff = time.Hour
	// PostponeShift is how far each postponement pushes the scheduled time.
	PostponeShift = 10 * time.Minute
	// MaxPostponements bounds how often one dose may be postponed.
	MaxPostponements = 3
)

// NextState returns the lifecycle state of a dose scheduled at scheduled when
// observed at now. A taken dose is frozen. States only advance: the result is
// never earlier in the lifecycle than current, so repeated evaluation with an
// increasing clock cannot regress (postponement resets current externally).
func NextState(current State, scheduled, now time.Time, taken bool) State {
	if taken || current == StateTaken {
		return StateTaken
	}
	if current == StateMissed {
		return StateMissed
	}

	var byTime State
	switch {
	case !now.Before(scheduled.Add(MissCutoff)):
		byTime = StateMissed
	case !now.Before(scheduled.Add(LateGrace)):
		byTime = StateLate
	case !now.Before(scheduled):
		byTime = StateAlertRed
	case !now.Before(scheduled.Add(-YellowLead)):
		byTime = StateAlertYellow
	default:
		byTime = StatePending
	}

	if byTime > current {
		return byTime
	}
	return current
}
