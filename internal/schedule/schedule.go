// Package schedule derives the times of day at which a medication's doses
// are expected. Derivation is pure: no clock, no side effects.
package schedule

import (
	"math"
	"time"

	"github.com/medminder/medminder/internal/utils"
)

// DeriveTimes returns dosesPerDay times of day starting at firstDose and
// spaced evenly across 24 hours, wrapping past midnight. The interval is
// rounded to the minute. An occasional medication (dosesPerDay == 0) has no
// fixed schedule and yields nil, as does an unparseable first dose time.
func DeriveTimes(dosesPerDay int, firstDose string) []string {
	if dosesPerDay <= 0 {
		return nil
	}

	hour, minute, err := utils.ParseTimeOfDay(firstDose)
	if err != nil {
		return nil
	}
	start := hour*60 + minute

	interval := int(math.Round(24 * 60 / float64(dosesPerDay)))
	times := make([]string, 0, dosesPerDay)
	for i := 0; i < dosesPerDay; i++ {
		times = append(times, utils.MinutesToTime(start+i*interval))
	}
	return times
}

// NearestTime returns the schedule entry closest ahead of now, wrapping to
// the next day when every slot has passed. Malformed entries are skipped.
// Returns "" when no valid entry exists.
func NearestTime(times []string, now time.Time) string {
	current := now.Hour()*60 + now.Minute()

	nearest := ""
	best := math.MaxInt
	for _, tod := range times {
		hour, minute, err := utils.ParseTimeOfDay(tod)
		if err != nil {
			continue
		}
		slot := hour*60 + minute

		distance := slot - current
		if distance < 0 {
			distance += 24 * 60
		}
		if distance < best {
			best = distance
			nearest = tod
		}
	}
	return nearest
}
