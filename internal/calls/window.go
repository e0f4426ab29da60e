package calls

import "time"

// InWindow reports whether now, in loc, falls within [start, end) hours.
func InWindow(now time.Time, loc *time.Location, start, end int) bool {
	h := now.In(loc).Hour()
	return start <= h && h < end
}

// NextEligibleInstant returns now when inside the window, today's start when
// before it, and tomorrow's start otherwise. The result is in UTC.
func NextEligibleInstant(now time.Time, loc *time.Location, start, end int) time.Time {
	local := now.In(loc)
	h := local.Hour()
	switch {
	case start <= h && h < end:
		return now.UTC()
	case h < start:
		return time.Date(local.Year(), local.Month(), local.Day(), start, 0, 0, 0, loc).UTC()
	default:
		return time.Date(local.Year(), local.Month(), local.Day()+1, start, 0, 0, 0, loc).UTC()
	}
}
