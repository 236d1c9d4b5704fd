package etl

import (
	"time"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

// DefaultReleaseLagMonths is how long after quarter end BACEN publishes the
// quarter's filings.
const DefaultReleaseLagMonths = 3

// ShouldRun reports whether a run is due: the most recent quarter whose
// release lag has elapsed was released after the last successful run.
func ShouldRun(now time.Time, lastSuccess *time.Time, lagMonths int) bool {
	if lastSuccess == nil {
		return true
	}
	available, ok := releaseDate(now, lagMonths)
	if !ok {
		return false
	}
	return lastSuccess.Before(available)
}

// LatestReleasedPeriod returns the most recent quarter expected to be
// published by now.
func LatestReleasedPeriod(now time.Time, lagMonths int) model.Period {
	qEnd := mostRecentQuarterEnd(now)
	for now.Before(qEnd.AddDate(0, lagMonths, 0)) {
		qEnd = mostRecentQuarterEnd(qEnd.AddDate(0, 0, -1))
	}
	return model.NewPeriod(qEnd.Year(), int(qEnd.Month()-1)/3+1)
}

// releaseDate returns the release date of the most recent quarter that is
// already available, looking back at most one quarter.
func releaseDate(now time.Time, lagMonths int) (time.Time, bool) {
	qEnd := mostRecentQuarterEnd(now)
	available := qEnd.AddDate(0, lagMonths, 0)
	if now.Before(available) {
		qEnd = mostRecentQuarterEnd(qEnd.AddDate(0, 0, -1))
		available = qEnd.AddDate(0, lagMonths, 0)
		if now.Before(available) {
			return time.Time{}, false
		}
	}
	return available, true
}

// mostRecentQuarterEnd returns the last instant of the most recent completed
// quarter.
func mostRecentQuarterEnd(t time.Time) time.Time {
	year := t.Year()
	var qEndMonth time.Month

	switch month := t.Month(); {
	case month <= time.March:
		qEndMonth = time.December
		year--
	case month <= time.June:
		qEndMonth = time.March
	case month <= time.September:
		qEndMonth = time.June
	default:
		qEndMonth = time.September
	}

	return time.Date(year, qEndMonth+1, 0, 23, 59, 59, 0, time.UTC)
}
