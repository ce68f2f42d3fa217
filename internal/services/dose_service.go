package services

import (
	"context"
	"fmt"
	"time"

	"github.com/medminder/medminder/internal/domain"
	apperrors "github.com/medminder/medminder/internal/errors"
	"github.com/medminder/medminder/internal/ledger"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/schedule"
	"github.com/medminder/medminder/internal/tracker"
	"github.com/medminder/medminder/internal/utils"
)

// DoseService turns user actions on doses into durable records, keeping the
// medication's stock ledger consistent with what was persisted. The dose
// record is written before the medication update: a dose fact without a
// decremented stock is recoverable, the reverse is not.
type DoseService struct {
	repo    domain.MedicationRepository
	track   *tracker.Tracker
	network domain.ConnectivityChecker
	clock   domain.Clock
}

func NewDoseService(
	repo domain.MedicationRepository,
	track *tracker.Tracker,
	network domain.ConnectivityChecker,
	clock domain.Clock,
) *DoseService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &DoseService{repo: repo, track: track, network: network, clock: clock}
}

// MarkTakenAt records the dose at the given time slot as taken. The slot must
// exist as an unclaimed event for today; anything else is a validation error.
// On a failed write every ledger mutation is rolled back.
func (s *DoseService) MarkTakenAt(ctx context.Context, med *domain.Medication, timeOfDay string) error {
	if med == nil || med.ID == "" {
		return apperrors.ErrMedicationNoID
	}
	if !s.network.Online(ctx) {
		return apperrors.ErrOffline
	}

	var found, claimed bool
	for _, ev := range s.track.EventsFor(med.ID) {
		if ev.TimeOfDay != timeOfDay {
			continue
		}
		found = true
		claimed = ev.Taken
	}
	if !found {
		return apperrors.ErrRecordNotCounted
	}
	if claimed {
		return apperrors.NewValidationError(fmt.Sprintf("dose at %s is already taken", timeOfDay))
	}

	scheduledAt, err := utils.AtTimeOfDay(s.clock.Now(), timeOfDay)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid dose time %q", timeOfDay))
	}

	return s.recordTaken(ctx, med, timeOfDay, scheduledAt)
}

// MarkTakenNow records a dose taken from the medication panel. Scheduled
// medications claim the dose slot nearest to now; occasional ones get an ad
// hoc record scheduled at the moment of taking.
func (s *DoseService) MarkTakenNow(ctx context.Context, med *domain.Medication) error {
	if med == nil || med.ID == "" {
		return apperrors.ErrMedicationNoID
	}
	if !s.network.Online(ctx) {
		return apperrors.ErrOffline
	}

	now := s.clock.Now()
	if med.IsOccasional() {
		return s.recordTaken(ctx, med, "", now)
	}

	timeOfDay := schedule.NearestTime(med.DoseTimes, now)
	if timeOfDay == "" {
		return apperrors.NewValidationError("medication has no dose schedule")
	}
	scheduledAt, err := utils.AtTimeOfDay(now, timeOfDay)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid dose time %q", timeOfDay))
	}
	return s.recordTaken(ctx, med, timeOfDay, scheduledAt)
}

// recordTaken performs the consume-persist-update sequence with rollback. An
// empty timeOfDay means an ad hoc occasional dose with no tracked event.
func (s *DoseService) recordTaken(ctx context.Context, med *domain.Medication, timeOfDay string, scheduledAt time.Time) error {
	snapshot := ledger.Capture(med)
	ledger.Consume(med)
	if ledger.Exhausted(med) {
		ledger.Pause(med)
	}

	now := s.clock.Now()
	record := &domain.DoseRecord{
		UserID:         med.UserID,
		MedicationID:   med.ID,
		MedicationName: med.Name,
		ScheduledAt:    scheduledAt,
		TakenAt:        &now,
		Outcome:        domain.OutcomeTaken,
	}
	if _, err := s.repo.SaveDoseRecord(ctx, record); err != nil {
		snapshot.Restore(med)
		return apperrors.NewPersistenceError(err)
	}

	if timeOfDay != "" {
		s.track.MarkTaken(med.ID, timeOfDay)
	}

	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		snapshot.Restore(med)
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

// Postpone shifts the dose 10 minutes forward, up to 3 times. When the bound
// is exhausted the dose becomes missed, a missed record is persisted, and
// false is returned so the caller can tell the user.
func (s *DoseService) Postpone(ctx context.Context, med *domain.Medication, timeOfDay string) (bool, error) {
	if med == nil || med.ID == "" {
		return false, apperrors.ErrMedicationNoID
	}

	if s.track.Postpone(med.ID, timeOfDay) {
		return true, nil
	}

	// Exhaustion: the tracker flipped the event to missed. Persist that
	// outcome now; the checker retries on the next pass if this fails.
	if !s.network.Online(ctx) {
		return false, apperrors.ErrOffline
	}
	for _, ev := range s.track.UnrecordedMissed(med.ID) {
		if ev.TimeOfDay != timeOfDay {
			continue
		}
		if err := s.persistMissed(ctx, med, ev); err != nil {
			logger.Error("Failed to persist missed dose",
				"medication_id", med.ID, "time_of_day", timeOfDay, "error", err)
			return false, err
		}
	}
	return false, nil
}

// PersistMissed promotes a missed tracker event to a durable dose record,
// marking it recorded so it is emitted exactly once.
func (s *DoseService) PersistMissed(ctx context.Context, med *domain.Medication, ev tracker.Event) error {
	return s.persistMissed(ctx, med, ev)
}

func (s *DoseService) persistMissed(ctx context.Context, med *domain.Medication, ev tracker.Event) error {
	record := &domain.DoseRecord{
		UserID:         med.UserID,
		MedicationID:   med.ID,
		MedicationName: med.Name,
		ScheduledAt:    ev.ScheduledAt,
		Outcome:        domain.OutcomeMissed,
		Notes:          "expired automatically",
	}
	if _, err := s.repo.SaveDoseRecord(ctx, record); err != nil {
		return apperrors.NewPersistenceError(err)
	}
	s.track.MarkMissedRecorded(med.ID, ev.TimeOfDay)
	return nil
}

// History returns the user's dose records, newest first.
func (s *DoseService) History(ctx context.Context, userID string) ([]domain.DoseRecord, error) {
	records, err := s.repo.ListDoseRecords(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return records, nil
}
