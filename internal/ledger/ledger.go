// Package ledger keeps a medication's stock and remaining treatment length in
// lock-step with recorded doses. Mutations are in-memory only; persistence
// failures are undone with a captured snapshot (compensating action, not a
// transaction).
package ledger

import (
	"github.com/medminder/medminder/internal/domain"
)

// Snapshot captures the ledger fields of a medication before a consumption,
// so a failed downstream write can be rolled back exactly.
type Snapshot struct {
	StockCurrent  int
	DaysRemaining int
	Paused        bool
}

// Capture records the medication's pre-consumption ledger state.
func Capture(med *domain.Medication) Snapshot {
	return Snapshot{
		StockCurrent:  med.StockCurrent,
		DaysRemaining: med.DaysRemaining,
		Paused:        med.Paused,
	}
}

// Restore puts the medication's ledger fields back to the captured state.
func (s Snapshot) Restore(med *domain.Medication) {
	med.StockCurrent = s.StockCurrent
	med.DaysRemaining = s.DaysRemaining
	med.Paused = s.Paused
}

// Consume decrements the stock by one dose, floored at zero, and refreshes
// the remaining-days estimate.
func Consume(med *domain.Medication) {
	if med.StockCurrent > 0 {
		med.StockCurrent--
	}
	if med.IsOccasional() {
		// No burn rate to estimate from; each consumption burns one tracked
		// day of a finite treatment, if any.
		if med.DaysRemaining > 0 {
			med.DaysRemaining--
		}
		return
	}
	refreshDaysRemaining(med)
}

// Refill adds units to the stock and refreshes the remaining-days estimate.
func Refill(med *domain.Medication, units int) {
	if units <= 0 {
		return
	}
	med.StockCurrent += units
	if med.StockCurrent > med.StockInitial {
		med.StockInitial = med.StockCurrent
	}
	if !med.IsOccasional() {
		refreshDaysRemaining(med)
	}
}

// Exhausted reports whether the treatment has run its course: the stock hit
// zero for occasional consumption, or a finite-length treatment ran out of
// stock or days.
func Exhausted(med *domain.Medication) bool {
	if med.TreatmentDays > 0 {
		return med.StockCurrent == 0 || med.DaysRemaining == 0
	}
	return med.IsOccasional() && med.StockCurrent == 0
}

// Pause sets the paused flag. Every pause, manual or automatic on exhaustion,
// funnels through here.
func Pause(med *domain.Medication) {
	med.Paused = true
}

// Resume clears the paused flag.
func Resume(med *domain.Medication) {
	med.Paused = false
}

// LowStock reports whether the stock covers fewer scheduled days than the
// configured alert lead time. Occasional medications have no burn rate and
// never alert.
func LowStock(med *domain.Medication, leadDays int) bool {
	if med.IsOccasional() || leadDays <= 0 {
		return false
	}
	return med.DaysRemaining <= leadDays
}

// refreshDaysRemaining re-estimates how many days the current stock lasts at
// the scheduled burn rate.
func refreshDaysRemaining(med *domain.Medication) {
	if med.DosesPerDay > 0 {
		med.DaysRemaining = med.StockCurrent / med.DosesPerDay
	}
}
