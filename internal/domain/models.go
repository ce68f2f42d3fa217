package domain

import (
	"time"
)

// User represents a telegram user in the system
type User struct {
	ID         string
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChronicTreatment is the sentinel for treatments with no finite day count.
const ChronicTreatment = -1

// Medication is a user-owned treatment definition.
type Medication struct {
	ID             string
	UserID         string
	Name           string
	Presentation   string // tablet, capsule, syrup, ...
	Condition      string // what the medication treats
	Notes          string
	Color          string
	DosesPerDay    int      // 0 means occasional/as-needed
	FirstDoseTime  string   // Format: "HH:MM"
	DoseTimes      []string // derived from DosesPerDay + FirstDoseTime
	StockInitial   int
	StockCurrent   int
	TreatmentDays  int // ChronicTreatment (or 0) means indefinite
	DaysRemaining  int // estimated days of stock left
	TreatmentStart *time.Time
	ExpiresAt      *time.Time
	Active         bool
	Paused         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOccasional reports whether the medication has no fixed daily schedule.
func (m *Medication) IsOccasional() bool {
	return m.DosesPerDay == 0
}

// IsChronic reports whether the treatment has no finite day count.
func (m *Medication) IsChronic() bool {
	return m.TreatmentDays <= 0
}

// DoseOutcome is the persisted outcome of a dose record.
type DoseOutcome string

const (
	OutcomePending  DoseOutcome = "pending"
	OutcomeUpcoming DoseOutcome = "upcoming"
	OutcomeTaken    DoseOutcome = "taken"
	OutcomeMissed   DoseOutcome = "missed"
)

// DoseRecord is an immutable historical fact about one dose outcome.
// Only taken and missed records are durable; they are never updated in place.
type DoseRecord struct {
	ID             string
	UserID         string
	MedicationID   string
	MedicationName string
	ScheduledAt    time.Time
	TakenAt        *time.Time // nil if the dose was missed
	Outcome        DoseOutcome
	Notes          string
	CreatedAt      time.Time
}

// EffectiveTime returns the taken time when present, the scheduled time otherwise.
func (r *DoseRecord) EffectiveTime() time.Time {
	if r.TakenAt != nil {
		return *r.TakenAt
	}
	return r.ScheduledAt
}

// AdherenceSummary is a computed view of expected vs actual doses over a
// medication's whole tracked window. Never persisted.
type AdherenceSummary struct {
	MedicationID   string
	MedicationName string
	Expected       int
	Actual         int
	Percentage     float64
	Chronic        bool
}

// AdherenceInterval is one labeled sub-window bucket (a day or a week).
type AdherenceInterval struct {
	Label      string
	Expected   int
	Actual     int
	Percentage float64
}
