package appointments

import (
	"fmt"
	"time"
)

// MaxOccurrences is the hard cap on series length, anchor included.
const MaxOccurrences = 52

// RecurrenceBound limits expansion: a total occurrence count (anchor
// included), an end date, or both. At least one must be set.
type RecurrenceBound struct {
	Occurrences int
	EndDate     *time.Time
}

// ExpandRecurrence generates the future dates of a recurring series. The
// anchor itself is not included; it is the original booking. Dates are
// produced in order by repeatedly stepping one interval (7 days, 14 days, or
// one calendar month) until the occurrence cap is reached or a generated date
// would pass the end date.
//
// Monthly steps keep the anchor's day of month, clamped to the last day of
// shorter months: an anchor on Jan 31 yields Feb 28 (29 in leap years) then
// Mar 31.
func ExpandRecurrence(anchor time.Time, pattern Pattern, bound RecurrenceBound) ([]time.Time, error) {
	if !pattern.Valid() {
		return nil, fmt.Errorf("appointments: unknown recurrence pattern %q", pattern)
	}
	if bound.Occurrences <= 0 && bound.EndDate == nil {
		return nil, fmt.Errorf("appointments: recurrence needs an occurrence count or end date")
	}

	occurrences := bound.Occurrences
	if occurrences <= 0 || occurrences > MaxOccurrences {
		occurrences = MaxOccurrences
	}

	anchor = truncateToDay(anchor)
	var out []time.Time
	for step := 1; step < occurrences; step++ {
		var next time.Time
		switch pattern {
		case PatternWeekly:
			next = anchor.AddDate(0, 0, 7*step)
		case PatternBiweekly:
			next = anchor.AddDate(0, 0, 14*step)
		case PatternMonthly:
			next = addMonthsClamped(anchor, step)
		}
		if bound.EndDate != nil && next.After(truncateToDay(*bound.EndDate)) {
			break
		}
		out = append(out, next)
	}
	return out, nil
}

// addMonthsClamped advances by whole calendar months, clamping the day of
// month instead of rolling into the following month the way AddDate does.
func addMonthsClamped(date time.Time, months int) time.Time {
	year, month, day := date.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
