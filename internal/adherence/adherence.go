// Package adherence computes expected-vs-actual dose metrics over day, week
// and whole-treatment windows. All functions are pure; the caller supplies
// the medication's history and the evaluation time.
package adherence

import (
	"fmt"
	"time"

	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/utils"
)

const (
	dailyBuckets  = 7
	weeklyBuckets = 4
	daysPerWeek   = 7
)

// Summarize computes the whole-treatment adherence summary.
//
// The window starts at the treatment start date, falling back to the earliest
// record and then to now, clamped out of the future. It ends now, or after the
// configured treatment length for finite treatments, again clamped to now.
// Occasional medications have no fixed expectation: expected tracks actual by
// definition, so the percentage is 100 as soon as anything was logged.
func Summarize(med *domain.Medication, records []domain.DoseRecord, now time.Time) domain.AdherenceSummary {
	start := now
	if med.TreatmentStart != nil {
		start = *med.TreatmentStart
	} else if earliest, ok := earliestRecordTime(records); ok {
		start = earliest
	}
	if start.After(now) {
		start = now
	}

	end := now
	if med.TreatmentDays > 0 {
		end = utils.AddDays(start, med.TreatmentDays-1)
		if end.After(now) {
			end = now
		}
	}

	days := utils.DaysBetween(start, end) + 1
	if days < 1 {
		days = 1
	}

	actual := countTaken(records, start, end)
	expected := actual
	if !med.IsOccasional() {
		expected = med.DosesPerDay * days
	}

	return domain.AdherenceSummary{
		MedicationID:   med.ID,
		MedicationName: med.Name,
		Expected:       expected,
		Actual:         actual,
		Percentage:     percentage(expected, actual),
		Chronic:        med.TreatmentDays == domain.ChronicTreatment,
	}
}

// DailyIntervals buckets the last 7 calendar days, oldest to newest, ending
// today. Labels are short weekday names.
func DailyIntervals(med *domain.Medication, records []domain.DoseRecord, now time.Time) []domain.AdherenceInterval {
	intervals := make([]domain.AdherenceInterval, 0, dailyBuckets)
	day := utils.StartOfDay(utils.AddDays(now, -(dailyBuckets - 1)))

	for i := 0; i < dailyBuckets; i++ {
		start := day
		end := utils.EndOfDay(day)

		actual := countTaken(records, start, end)
		expected := actual
		if !med.IsOccasional() {
			expected = med.DosesPerDay
		}

		intervals = append(intervals, domain.AdherenceInterval{
			Label:      day.Format("Mon"),
			Expected:   expected,
			Actual:     actual,
			Percentage: percentage(expected, actual),
		})
		day = utils.AddDays(day, 1)
	}
	return intervals
}

// WeeklyIntervals buckets the last 4 weeks of 7 days each, oldest to newest,
// ending today, labeled "Week 1" through "Week 4".
func WeeklyIntervals(med *domain.Medication, records []domain.DoseRecord, now time.Time) []domain.AdherenceInterval {
	intervals := make([]domain.AdherenceInterval, 0, weeklyBuckets)
	cursor := utils.StartOfDay(utils.AddDays(now, -(weeklyBuckets*daysPerWeek - 1)))

	for week := 0; week < weeklyBuckets; week++ {
		start := cursor
		end := utils.EndOfDay(utils.AddDays(start, daysPerWeek-1))

		actual := countTaken(records, start, end)
		expected := actual
		if !med.IsOccasional() {
			expected = med.DosesPerDay * daysPerWeek
		}

		intervals = append(intervals, domain.AdherenceInterval{
			Label:      fmt.Sprintf("Week %d", week+1),
			Expected:   expected,
			Actual:     actual,
			Percentage: percentage(expected, actual),
		})
		cursor = utils.AddDays(cursor, daysPerWeek)
	}
	return intervals
}

// FilterByMedication keeps the records belonging to one medication.
func FilterByMedication(records []domain.DoseRecord, medicationID string) []domain.DoseRecord {
	if medicationID == "" {
		return nil
	}
	var result []domain.DoseRecord
	for _, record := range records {
		if record.MedicationID == medicationID {
			result = append(result, record)
		}
	}
	return result
}

// countTaken counts records with outcome taken whose effective timestamp
// falls inside [start, end]. Pending, upcoming and missed records never
// count as actual doses.
func countTaken(records []domain.DoseRecord, start, end time.Time) int {
	count := 0
	for _, record := range records {
		if record.Outcome != domain.OutcomeTaken {
			continue
		}
		ts := record.EffectiveTime()
		if !ts.Before(start) && !ts.After(end) {
			count++
		}
	}
	return count
}

// percentage caps at 100 even when actual exceeds expected, which happens
// with duplicate manual logging.
func percentage(expected, actual int) float64 {
	if expected == 0 {
		if actual > 0 {
			return 100
		}
		return 0
	}
	pct := float64(actual) * 100 / float64(expected)
	if pct > 100 {
		return 100
	}
	return pct
}

func earliestRecordTime(records []domain.DoseRecord) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, record := range records {
		ts := record.EffectiveTime()
		if ts.IsZero() {
			continue
		}
		if !found || ts.Before(earliest) {
			earliest = ts
			found = true
		}
	}
	return earliest, found
}
