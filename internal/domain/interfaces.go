package domain

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so the dose lifecycle can be tested
// without waiting on a real clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// MedicationRepository is the remote document store boundary. Implementations
// must treat dose records as append-only.
type MedicationRepository interface {
	GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*User, error)

	ListMedications(ctx context.Context, userID string) ([]Medication, error)
	ListActiveMedications(ctx context.Context, userID string) ([]Medication, error)
	SaveMedication(ctx context.Context, med *Medication) error
	UpdateMedication(ctx context.Context, med *Medication) error
	// DeleteMedication also deletes the medication's dose records.
	DeleteMedication(ctx context.Context, medicationID string) error

	SaveDoseRecord(ctx context.Context, record *DoseRecord) (string, error)
	ListDoseRecords(ctx context.Context, userID string) ([]DoseRecord, error)
	ListDoseRecordsForMedication(ctx context.Context, medicationID string) ([]DoseRecord, error)

	// WatchMedications emits the full medication set on every change until ctx
	// is canceled. Consumers replace their working set with each emission.
	WatchMedications(ctx context.Context, userID string) (<-chan []Medication, error)

	Close() error
}

// ReminderScheduler arranges wake-ups for a medication's dose times and must
// be idempotent: Cancel is safe when nothing was ever scheduled.
type ReminderScheduler interface {
	Schedule(med *Medication) error
	Cancel(medicationID string)
}

// ConnectivityChecker reports whether the remote store is reachable. Write
// actions are refused up front when it is not.
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// MedicationService handles medication lifecycle operations
type MedicationService interface {
	Create(ctx context.Context, med *Medication) error
	Update(ctx context.Context, med *Medication) error
	Delete(ctx context.Context, medicationID string) error
	List(ctx context.Context, userID string) ([]Medication, error)
	ListActive(ctx context.Context, userID string) ([]Medication, error)
	Pause(ctx context.Context, med *Medication) error
	Resume(ctx context.Context, med *Medication) error
	Refill(ctx context.Context, med *Medication, units int) error
}

// AdherenceService computes adherence views from persisted dose history
type AdherenceService interface {
	Summary(ctx context.Context, med *Medication) (*AdherenceSummary, error)
	DailyIntervals(ctx context.Context, med *Medication) ([]AdherenceInterval, error)
	WeeklyIntervals(ctx context.Context, med *Medication) ([]AdherenceInterval, error)
	Overview(ctx context.Context, userID string) ([]AdherenceSummary, error)
}

// BotService handles telegram bot operations
type BotService interface {
	Start(ctx context.Context) error
	Stop()
}
