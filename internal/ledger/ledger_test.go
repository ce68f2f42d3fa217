package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medminder/medminder/internal/domain"
)

func scheduledMed() *domain.Medication {
	return &domain.Medication{
		ID:            "med-1",
		Name:          "Enalapril",
		DosesPerDay:   2,
		StockInitial:  20,
		StockCurrent:  20,
		TreatmentDays: 10,
		DaysRemaining: 10,
		Active:        true,
	}
}

func occasionalMed() *domain.Medication {
	return &domain.Medication{
		ID:            "med-2",
		Name:          "Ibuprofeno",
		DosesPerDay:   0,
		StockInitial:  10,
		StockCurrent:  10,
		TreatmentDays: domain.ChronicTreatment,
		Active:        true,
	}
}

func TestConsumeScheduled(t *testing.T) {
	med := scheduledMed()

	Consume(med)
	assert.Equal(t, 19, med.StockCurrent)
	// 19 units at 2 doses a day last 9 whole days.
	assert.Equal(t, 9, med.DaysRemaining)
}

func TestConsumeFloorsAtZero(t *testing.T) {
	med := scheduledMed()
	med.StockCurrent = 0
	med.DaysRemaining = 0

	Consume(med)
	assert.Equal(t, 0, med.StockCurrent)
	assert.Equal(t, 0, med.DaysRemaining)
}

func TestConsumeOccasionalFiniteTreatment(t *testing.T) {
	med := occasionalMed()
	med.TreatmentDays = 5
	med.DaysRemaining = 5

	Consume(med)
	assert.Equal(t, 9, med.StockCurrent)
	assert.Equal(t, 4, med.DaysRemaining)
}

func TestRefill(t *testing.T) {
	med := scheduledMed()
	med.StockCurrent = 3
	med.DaysRemaining = 1

	Refill(med, 17)
	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 20, med.StockInitial)
	assert.Equal(t, 10, med.DaysRemaining)

	// Refilling past the original package size raises the reference.
	Refill(med, 10)
	assert.Equal(t, 30, med.StockCurrent)
	assert.Equal(t, 30, med.StockInitial)

	// Non-positive refills are ignored.
	Refill(med, 0)
	Refill(med, -5)
	assert.Equal(t, 30, med.StockCurrent)
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*domain.Medication)
		med  *domain.Medication
		want bool
	}{
		{"scheduled with stock and days", func(m *domain.Medication) {}, scheduledMed(), false},
		{"finite out of stock", func(m *domain.Medication) { m.StockCurrent = 0 }, scheduledMed(), true},
		{"finite out of days", func(m *domain.Medication) { m.DaysRemaining = 0 }, scheduledMed(), true},
		{"chronic out of stock keeps going", func(m *domain.Medication) {
			m.TreatmentDays = domain.ChronicTreatment
			m.StockCurrent = 0
		}, scheduledMed(), false},
		{"occasional with stock", func(m *domain.Medication) {}, occasionalMed(), false},
		{"occasional out of stock", func(m *domain.Medication) { m.StockCurrent = 0 }, occasionalMed(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mut(tt.med)
			assert.Equal(t, tt.want, Exhausted(tt.med))
		})
	}
}

func TestSnapshotRestore(t *testing.T) {
	med := scheduledMed()
	snapshot := Capture(med)

	Consume(med)
	Pause(med)
	assert.Equal(t, 19, med.StockCurrent)
	assert.True(t, med.Paused)

	snapshot.Restore(med)
	assert.Equal(t, 20, med.StockCurrent)
	assert.Equal(t, 10, med.DaysRemaining)
	assert.False(t, med.Paused)
}

func TestLowStock(t *testing.T) {
	med := scheduledMed()
	assert.False(t, LowStock(med, 7))

	med.DaysRemaining = 7
	assert.True(t, LowStock(med, 7))

	med.DaysRemaining = 2
	assert.True(t, LowStock(med, 7))

	// Occasional medications have no burn rate to alert on.
	assert.False(t, LowStock(occasionalMed(), 7))
	// A disabled lead time never alerts.
	assert.False(t, LowStock(med, 0))
}
