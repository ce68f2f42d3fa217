package services

import (
	"context"

	"github.com/medminder/medminder/internal/adherence"
	"github.com/medminder/medminder/internal/domain"
	apperrors "github.com/medminder/medminder/internal/errors"
)

// AdherenceService computes adherence views from the persisted dose history.
// All math lives in the adherence package; this layer only fetches records.
type AdherenceService struct {
	repo  domain.MedicationRepository
	clock domain.Clock
}

func NewAdherenceService(repo domain.MedicationRepository, clock domain.Clock) *AdherenceService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AdherenceService{repo: repo, clock: clock}
}

// Summary computes the whole-treatment adherence for one medication.
func (s *AdherenceService) Summary(ctx context.Context, med *domain.Medication) (*domain.AdherenceSummary, error) {
	records, err := s.repo.ListDoseRecordsForMedication(ctx, med.ID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	summary := adherence.Summarize(med, records, s.clock.Now())
	return &summary, nil
}

// DailyIntervals returns the medication's last-7-days adherence buckets.
func (s *AdherenceService) DailyIntervals(ctx context.Context, med *domain.Medication) ([]domain.AdherenceInterval, error) {
	records, err := s.repo.ListDoseRecordsForMedication(ctx, med.ID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return adherence.DailyIntervals(med, records, s.clock.Now()), nil
}

// WeeklyIntervals returns the medication's last-4-weeks adherence buckets.
func (s *AdherenceService) WeeklyIntervals(ctx context.Context, med *domain.Medication) ([]domain.AdherenceInterval, error) {
	records, err := s.repo.ListDoseRecordsForMedication(ctx, med.ID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return adherence.WeeklyIntervals(med, records, s.clock.Now()), nil
}

// Overview computes one summary per medication in a single history fetch.
// Occasional medications with no logged doses are left out: there is nothing
// to report.
func (s *AdherenceService) Overview(ctx context.Context, userID string) ([]domain.AdherenceSummary, error) {
	meds, err := s.repo.ListMedications(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	records, err := s.repo.ListDoseRecords(ctx, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	now := s.clock.Now()
	summaries := make([]domain.AdherenceSummary, 0, len(meds))
	for i := range meds {
		med := &meds[i]
		medRecords := adherence.FilterByMedication(records, med.ID)
		if med.IsOccasional() && len(medRecords) == 0 {
			continue
		}
		summaries = append(summaries, adherence.Summarize(med, medRecords, now))
	}
	return summaries, nil
}
