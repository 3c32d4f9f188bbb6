package httpapi

import (
	"fmt"
	"time"
)

// logDateLayout is the wire format for a log-date: MMDDYY in the
// vehicle's home-terminal timezone, matching eldevent.Event.LogDate.
const logDateLayout = "010206"

// logDateRange resolves a [from, to] pair of MMDDYY log-date strings into
// the half-open UTC timestamp range [from 00:00, to+1day 00:00) that
// FindByScope's partition-aligned range predicate requires.
func logDateRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(logDateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid log date %q: %w", from, err)
	}
	end, err := time.Parse(logDateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid log date %q: %w", to, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate %q precedes startDate %q", to, from)
	}
	return start, end.AddDate(0, 0, 1), nil
}
