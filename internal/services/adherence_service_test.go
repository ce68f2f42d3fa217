package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medminder/medminder/internal/domain"
)

func newAdherenceFixture(t *testing.T) (*AdherenceService, *fakeRepo, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newFakeRepo()
	return NewAdherenceService(repo, clock), repo, clock
}

func saveAdherenceMed(t *testing.T, repo *fakeRepo, med *domain.Medication) {
	t.Helper()
	require.NoError(t, repo.SaveMedication(context.Background(), med))
}

func findSummary(summaries []domain.AdherenceSummary, name string) *domain.AdherenceSummary {
	for i := range summaries {
		if summaries[i].MedicationName == name {
			return &summaries[i]
		}
	}
	return nil
}

func TestOverviewLeavesOutUnusedOccasional(t *testing.T) {
	svc, repo, clock := newAdherenceFixture(t)

	start := clock.now.AddDate(0, 0, -2)
	saveAdherenceMed(t, repo, &domain.Medication{
		UserID:         "user-1",
		Name:           "Enalapril",
		DosesPerDay:    2,
		DoseTimes:      []string{"08:00", "20:00"},
		TreatmentStart: &start,
		Active:         true,
	})
	saveAdherenceMed(t, repo, &domain.Medication{
		UserID: "user-1",
		Name:   "Ibuprofeno",
		Active: true,
	})

	summaries, err := svc.Overview(context.Background(), "user-1")
	require.NoError(t, err)

	// The occasional medication was never taken: nothing to report.
	require.Len(t, summaries, 1)
	assert.Equal(t, "Enalapril", summaries[0].MedicationName)
}

func TestOverviewIncludesOccasionalOnceTaken(t *testing.T) {
	svc, repo, clock := newAdherenceFixture(t)

	occ := &domain.Medication{
		UserID: "user-1",
		Name:   "Ibuprofeno",
		Active: true,
	}
	saveAdherenceMed(t, repo, occ)

	takenAt := clock.now.Add(-2 * time.Hour)
	_, err := repo.SaveDoseRecord(context.Background(), &domain.DoseRecord{
		UserID:         "user-1",
		MedicationID:   occ.ID,
		MedicationName: occ.Name,
		ScheduledAt:    takenAt,
		TakenAt:        &takenAt,
		Outcome:        domain.OutcomeTaken,
	})
	require.NoError(t, err)

	summaries, err := svc.Overview(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	// Occasional doses count against themselves: always fully adherent.
	summary := findSummary(summaries, "Ibuprofeno")
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Actual)
	assert.Equal(t, 1, summary.Expected)
	assert.Equal(t, 100.0, summary.Percentage)
}

func TestOverviewSeparatesHistoriesPerMedication(t *testing.T) {
	svc, repo, clock := newAdherenceFixture(t)

	start := clock.now.AddDate(0, 0, -1)
	enalapril := &domain.Medication{
		UserID:         "user-1",
		Name:           "Enalapril",
		DosesPerDay:    2,
		DoseTimes:      []string{"08:00", "20:00"},
		TreatmentStart: &start,
		Active:         true,
	}
	metformina := &domain.Medication{
		UserID:         "user-1",
		Name:           "Metformina",
		DosesPerDay:    1,
		DoseTimes:      []string{"09:00"},
		TreatmentStart: &start,
		Active:         true,
	}
	saveAdherenceMed(t, repo, enalapril)
	saveAdherenceMed(t, repo, metformina)

	takenAt := start.Add(8 * time.Hour)
	_, err := repo.SaveDoseRecord(context.Background(), &domain.DoseRecord{
		UserID:       "user-1",
		MedicationID: enalapril.ID,
		ScheduledAt:  takenAt,
		TakenAt:      &takenAt,
		Outcome:      domain.OutcomeTaken,
	})
	require.NoError(t, err)

	summaries, err := svc.Overview(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Two treatment days at two doses each, one dose logged.
	withDose := findSummary(summaries, "Enalapril")
	require.NotNil(t, withDose)
	assert.Equal(t, 1, withDose.Actual)
	assert.Equal(t, 4, withDose.Expected)

	// The other medication's record count is untouched by its neighbour.
	without := findSummary(summaries, "Metformina")
	require.NotNil(t, without)
	assert.Equal(t, 0, without.Actual)
}
