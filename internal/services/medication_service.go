package services

import (
	"context"
	"sort"
	"time"

	"github.com/medminder/medminder/internal/domain"
	apperrors "github.com/medminder/medminder/internal/errors"
	"github.com/medminder/medminder/internal/ledger"
	"github.com/medminder/medminder/internal/logger"
	"github.com/medminder/medminder/internal/schedule"
	"github.com/medminder/medminder/internal/tracker"
	"github.com/medminder/medminder/internal/utils"
)

// MedicationService owns the medication lifecycle: creation with schedule
// derivation, edits, pause/resume, refills and the live working-set watch.
type MedicationService struct {
	repo      domain.MedicationRepository
	track     *tracker.Tracker
	reminders domain.ReminderScheduler
	network   domain.ConnectivityChecker
	clock     domain.Clock
	leadDays  int
}

func NewMedicationService(
	repo domain.MedicationRepository,
	track *tracker.Tracker,
	reminders domain.ReminderScheduler,
	network domain.ConnectivityChecker,
	clock domain.Clock,
	stockAlertLeadDays int,
) *MedicationService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MedicationService{
		repo:      repo,
		track:     track,
		reminders: reminders,
		network:   network,
		clock:     clock,
		leadDays:  stockAlertLeadDays,
	}
}

// Create derives the dose schedule, persists the medication and arranges its
// reminders.
func (s *MedicationService) Create(ctx context.Context, med *domain.Medication) error {
	if med.Name == "" {
		return apperrors.NewValidationError("medication name is required")
	}
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("create medication")
	}

	med.DoseTimes = schedule.DeriveTimes(med.DosesPerDay, med.FirstDoseTime)
	med.Active = true
	if med.StockCurrent == 0 {
		med.StockCurrent = med.StockInitial
	}
	initDaysRemaining(med)
	if med.TreatmentStart == nil {
		now := s.clock.Now()
		med.TreatmentStart = &now
	}

	if err := s.repo.SaveMedication(ctx, med); err != nil {
		return apperrors.NewPersistenceError(err)
	}

	s.track.InitializeDay(med)
	if err := s.reminders.Schedule(med); err != nil {
		logger.Error("Failed to schedule reminders", "medication_id", med.ID, "error", err)
	}
	return nil
}

// Update cancels the medication's reminders before touching its schedule,
// re-derives the dose times, persists, and re-arms tracking and reminders.
func (s *MedicationService) Update(ctx context.Context, med *domain.Medication) error {
	if med.ID == "" {
		return apperrors.ErrMedicationNoID
	}
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("update medication")
	}

	s.reminders.Cancel(med.ID)
	med.DoseTimes = schedule.DeriveTimes(med.DosesPerDay, med.FirstDoseTime)
	initDaysRemaining(med)

	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		return apperrors.NewPersistenceError(err)
	}

	s.track.Reset(med.ID)
	s.track.InitializeDay(med)
	if err := s.reminders.Schedule(med); err != nil {
		logger.Error("Failed to schedule reminders", "medication_id", med.ID, "error", err)
	}
	return nil
}

// Delete cancels reminders, drops tracking state and removes the medication
// together with its dose history.
func (s *MedicationService) Delete(ctx context.Context, medicationID string) error {
	if medicationID == "" {
		return apperrors.ErrMedicationNoID
	}
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("delete medication")
	}

	s.reminders.Cancel(medicationID)
	s.track.Reset(medicationID)

	if err := s.repo.DeleteMedication(ctx, medicationID); err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func (s *MedicationService) List(ctx context.Context, userID string) ([]domain.Medication, error) {
	meds, err := s.repo.ListMedications(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return meds, nil
}

func (s *MedicationService) ListActive(ctx context.Context, userID string) ([]domain.Medication, error) {
	meds, err := s.repo.ListActiveMedications(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return meds, nil
}

// Pause stops dose generation and reminders for the medication.
func (s *MedicationService) Pause(ctx context.Context, med *domain.Medication) error {
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("pause medication")
	}

	snapshot := ledger.Capture(med)
	ledger.Pause(med)
	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		snapshot.Restore(med)
		return apperrors.NewPersistenceError(err)
	}

	s.reminders.Cancel(med.ID)
	s.track.Reset(med.ID)
	return nil
}

// Resume re-activates a paused medication and re-arms its schedule.
func (s *MedicationService) Resume(ctx context.Context, med *domain.Medication) error {
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("resume medication")
	}

	snapshot := ledger.Capture(med)
	ledger.Resume(med)
	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		snapshot.Restore(med)
		return apperrors.NewPersistenceError(err)
	}

	s.track.InitializeDay(med)
	if err := s.reminders.Schedule(med); err != nil {
		logger.Error("Failed to schedule reminders", "medication_id", med.ID, "error", err)
	}
	return nil
}

// Refill adds stock units. A medication that was paused on stock exhaustion
// comes back automatically once the refill covers it again.
func (s *MedicationService) Refill(ctx context.Context, med *domain.Medication, units int) error {
	if units <= 0 {
		return apperrors.NewValidationError("refill units must be positive")
	}
	if !s.network.Online(ctx) {
		return apperrors.NewConnectivityError("refill medication")
	}

	snapshot := ledger.Capture(med)
	ledger.Refill(med, units)
	resumed := false
	if med.Paused && !ledger.Exhausted(med) {
		ledger.Resume(med)
		resumed = true
	}
	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		snapshot.Restore(med)
		return apperrors.NewPersistenceError(err)
	}

	if resumed {
		s.track.InitializeDay(med)
		if err := s.reminders.Schedule(med); err != nil {
			logger.Error("Failed to schedule reminders", "medication_id", med.ID, "error", err)
		}
	}
	return nil
}

// LowStock reports whether the medication's stock runs out within the
// configured alert lead time.
func (s *MedicationService) LowStock(med *domain.Medication) bool {
	return ledger.LowStock(med, s.leadDays)
}

// StartWatch consumes the repository's live subscription until ctx ends.
// Each emission replaces the tracked working set: day events are initialized
// and reminders re-armed for every active medication.
func (s *MedicationService) StartWatch(ctx context.Context, userID string) error {
	emissions, err := s.repo.WatchMedications(ctx, userID)
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	go func() {
		for meds := range emissions {
			s.applyWorkingSet(meds)
		}
	}()
	return nil
}

func (s *MedicationService) applyWorkingSet(meds []domain.Medication) {
	for i := range meds {
		med := &meds[i]
		if !med.Active || med.Paused {
			s.reminders.Cancel(med.ID)
			continue
		}
		s.track.InitializeDay(med)
		if err := s.reminders.Schedule(med); err != nil {
			logger.Error("Failed to schedule reminders", "medication_id", med.ID, "error", err)
		}
	}
}

// SortForDisplay orders medications by their next upcoming dose time, with
// medications carrying missed doses ranked last so they stand out at the
// bottom of the panel.
func (s *MedicationService) SortForDisplay(meds []domain.Medication) {
	now := s.clock.Now()
	sort.SliceStable(meds, func(i, j int) bool {
		missedI := s.track.HasMissedEvents(meds[i].ID)
		missedJ := s.track.HasMissedEvents(meds[j].ID)
		if missedI != missedJ {
			return !missedI
		}
		return nextDoseDistance(&meds[i], now) < nextDoseDistance(&meds[j], now)
	})
}

func nextDoseDistance(med *domain.Medication, now time.Time) int {
	next := schedule.NearestTime(med.DoseTimes, now)
	if next == "" {
		return 24 * 60 // occasional meds sort after any scheduled one
	}
	current := now.Hour()*60 + now.Minute()
	distance := utils.TimeToMinutes(next) - current
	if distance < 0 {
		distance += 24 * 60
	}
	return distance
}

func initDaysRemaining(med *domain.Medication) {
	if med.DosesPerDay > 0 {
		med.DaysRemaining = med.StockCurrent / med.DosesPerDay
		return
	}
	if med.TreatmentDays > 0 {
		med.DaysRemaining = med.TreatmentDays
	}
}
