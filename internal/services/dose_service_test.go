package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medminder/medminder/internal/domain"
	apperrors "github.com/medminder/medminder/internal/errors"
	"github.com/medminder/medminder/internal/tracker"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeConnectivity struct {
	online bool
}

func (c *fakeConnectivity) Online(context.Context) bool { return c.online }

// fakeRepo is an in-memory MedicationRepository with switchable failures.
type fakeRepo struct {
	mu             sync.Mutex
	meds           map[string]domain.Medication
	records        []domain.DoseRecord
	failSaveRecord bool
	failUpdate     bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{meds: make(map[string]domain.Medication)}
}

func (r *fakeRepo) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*domain.User, error) {
	return &domain.User{ID: fmt.Sprintf("user-%d", telegramID), TelegramID: telegramID}, nil
}

func (r *fakeRepo) ListMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var meds []domain.Medication
	for _, med := range r.meds {
		if med.UserID == userID {
			meds = append(meds, med)
		}
	}
	return meds, nil
}

func (r *fakeRepo) ListActiveMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	meds, _ := r.ListMedications(ctx, userID)
	var active []domain.Medication
	for _, med := range meds {
		if med.Active && !med.Paused {
			active = append(active, med)
		}
	}
	return active, nil
}

func (r *fakeRepo) SaveMedication(ctx context.Context, med *domain.Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if med.ID == "" {
		med.ID = fmt.Sprintf("med-%d", len(r.meds)+1)
	}
	r.meds[med.ID] = *med
	return nil
}

func (r *fakeRepo) UpdateMedication(ctx context.Context, med *domain.Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errors.New("update refused")
	}
	r.meds[med.ID] = *med
	return nil
}

func (r *fakeRepo) DeleteMedication(ctx context.Context, medicationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meds, medicationID)
	kept := r.records[:0]
	for _, record := range r.records {
		if record.MedicationID != medicationID {
			kept = append(kept, record)
		}
	}
	r.records = kept
	return nil
}

func (r *fakeRepo) SaveDoseRecord(ctx context.Context, record *domain.DoseRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaveRecord {
		return "", errors.New("store unavailable")
	}
	record.ID = fmt.Sprintf("rec-%d", len(r.records)+1)
	r.records = append(r.records, *record)
	return record.ID, nil
}

func (r *fakeRepo) ListDoseRecords(ctx context.Context, userID string) ([]domain.DoseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DoseRecord(nil), r.records...), nil
}

func (r *fakeRepo) ListDoseRecordsForMedication(ctx context.Context, medicationID string) ([]domain.DoseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []domain.DoseRecord
	for _, record := range r.records {
		if record.MedicationID == medicationID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (r *fakeRepo) WatchMedications(ctx context.Context, userID string) (<-chan []domain.Medication, error) {
	out := make(chan []domain.Medication)
	close(out)
	return out, nil
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func newDoseFixture(t *testing.T) (*DoseService, *fakeRepo, *tracker.Tracker, *domain.Medication, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	repo := newFakeRepo()
	track := tracker.New(clock)

	med := &domain.Medication{
		ID:            "med-1",
		UserID:        "user-1",
		Name:          "Enalapril",
		DosesPerDay:   2,
		DoseTimes:     []string{"08:00", "20:00"},
		StockInitial:  20,
		StockCurrent:  20,
		TreatmentDays: domain.ChronicTreatment,
		DaysRemaining: 10,
		Active:        true,
	}
	require.NoError(t, repo.SaveMedication(context.Background(), med))
	track.InitializeDay(med)

	svc := NewDoseService(repo, track, &fakeConnectivity{online: true}, clock)
	return svc, repo, track, med, clock
}

func TestMarkTakenAtPersistsAndConsumes(t *testing.T) {
	svc, repo, track, med, _ := newDoseFixture(t)

	require.NoError(t, svc.MarkTakenAt(context.Background(), med, "08:00"))

	assert.Equal(t, 19, med.StockCurrent)
	assert.Equal(t, tracker.StateTaken, track.StateOf(med.ID, "08:00"))

	records, err := repo.ListDoseRecordsForMedication(context.Background(), med.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OutcomeTaken, records[0].Outcome)
	require.NotNil(t, records[0].TakenAt)

	// The stored medication reflects the consumption.
	stored := repo.meds[med.ID]
	assert.Equal(t, 19, stored.StockCurrent)
}

func TestMarkTakenAtRollsBackOnRecordFailure(t *testing.T) {
	svc, repo, track, med, _ := newDoseFixture(t)
	repo.failSaveRecord = true

	err := svc.MarkTakenAt(context.Background(), med, "08:00")
	require.Error(t, err)

	// Every ledger field is exactly as before the attempt.
	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 10, med.DaysRemaining)
	assert.False(t, med.Paused)
	assert.Equal(t, 0, repo.recordCount())
	assert.NotEqual(t, tracker.StateTaken, track.StateOf(med.ID, "08:00"))
}

func TestMarkTakenAtRollsBackOnUpdateFailure(t *testing.T) {
	svc, repo, _, med, _ := newDoseFixture(t)
	repo.failUpdate = true

	err := svc.MarkTakenAt(context.Background(), med, "08:00")
	require.Error(t, err)

	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 10, med.DaysRemaining)
	assert.False(t, med.Paused)
}

func TestMarkTakenAtRefusedOffline(t *testing.T) {
	_, repo, track, med, clock := newDoseFixture(t)
	offline := NewDoseService(repo, track, &fakeConnectivity{online: false}, clock)

	err := offline.MarkTakenAt(context.Background(), med, "08:00")
	require.Error(t, err)
	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 0, repo.recordCount())
}

func TestMarkTakenAtRejectsDoubleClaim(t *testing.T) {
	svc, _, _, med, _ := newDoseFixture(t)

	require.NoError(t, svc.MarkTakenAt(context.Background(), med, "08:00"))
	err := svc.MarkTakenAt(context.Background(), med, "08:00")
	require.Error(t, err)
	assert.Equal(t, 19, med.StockCurrent)
}

func TestMarkTakenAtUnknownSlotNotCounted(t *testing.T) {
	svc, repo, _, med, _ := newDoseFixture(t)

	err := svc.MarkTakenAt(context.Background(), med, "13:37")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRecordNotCounted))
	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 0, repo.recordCount())
}

func TestMarkTakenNowClaimsNearestSlot(t *testing.T) {
	svc, repo, track, med, clock := newDoseFixture(t)
	clock.now = time.Date(2026, 3, 10, 19, 55, 0, 0, time.UTC)

	require.NoError(t, svc.MarkTakenNow(context.Background(), med))

	assert.Equal(t, tracker.StateTaken, track.StateOf(med.ID, "20:00"))
	records, _ := repo.ListDoseRecordsForMedication(context.Background(), med.ID)
	require.Len(t, records, 1)
	assert.Equal(t, 20, records[0].ScheduledAt.Hour())
}

func TestMarkTakenNowOccasional(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)}
	repo := newFakeRepo()
	track := tracker.New(clock)
	svc := NewDoseService(repo, track, &fakeConnectivity{online: true}, clock)

	med := &domain.Medication{
		ID:           "med-2",
		UserID:       "user-1",
		Name:         "Ibuprofeno",
		DosesPerDay:  0,
		StockCurrent: 10,
		Active:       true,
	}
	require.NoError(t, repo.SaveMedication(context.Background(), med))

	require.NoError(t, svc.MarkTakenNow(context.Background(), med))

	assert.Equal(t, 9, med.StockCurrent)
	records, _ := repo.ListDoseRecordsForMedication(context.Background(), med.ID)
	require.Len(t, records, 1)
	assert.Equal(t, clock.now, records[0].ScheduledAt)
}

func TestMarkTakenPausesExhaustedTreatment(t *testing.T) {
	svc, repo, _, med, _ := newDoseFixture(t)
	med.TreatmentDays = 5
	med.StockCurrent = 1
	med.DaysRemaining = 1

	require.NoError(t, svc.MarkTakenAt(context.Background(), med, "08:00"))

	assert.Equal(t, 0, med.StockCurrent)
	assert.True(t, med.Paused)
	stored := repo.meds[med.ID]
	assert.True(t, stored.Paused)
}

func TestPostponeExhaustionPersistsMissed(t *testing.T) {
	svc, repo, track, med, _ := newDoseFixture(t)

	for i := 0; i < tracker.MaxPostponements; i++ {
		ok, err := svc.Postpone(context.Background(), med, "08:00")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := svc.Postpone(context.Background(), med, "08:00")
	require.NoError(t, err)
	assert.False(t, ok)

	records, _ := repo.ListDoseRecordsForMedication(context.Background(), med.ID)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OutcomeMissed, records[0].Outcome)
	assert.Nil(t, records[0].TakenAt)

	// The event is flagged recorded: no duplicate on later passes.
	assert.Empty(t, track.UnrecordedMissed(med.ID))
}

func TestPostponeExhaustionRefusedOffline(t *testing.T) {
	_, repo, track, med, clock := newDoseFixture(t)
	offline := NewDoseService(repo, track, &fakeConnectivity{online: false}, clock)

	// Postponing itself is a local tracker operation and needs no network.
	for i := 0; i < tracker.MaxPostponements; i++ {
		ok, err := offline.Postpone(context.Background(), med, "08:00")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Exhaustion writes a missed record, which the offline guard refuses.
	ok, err := offline.Postpone(context.Background(), med, "08:00")
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrOffline))
	assert.Equal(t, 0, repo.recordCount())

	// The event stays unrecorded so the checker persists it later.
	assert.Len(t, track.UnrecordedMissed(med.ID), 1)
}

func TestHistory(t *testing.T) {
	svc, _, _, med, _ := newDoseFixture(t)

	require.NoError(t, svc.MarkTakenAt(context.Background(), med, "08:00"))

	records, err := svc.History(context.Background(), med.UserID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
