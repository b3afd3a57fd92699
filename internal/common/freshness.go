package common

import "time"

// StaleTrackerAfter is how old the newest snapshot may get before status
// reports the tracker as stale. It covers a long weekend.
const StaleTrackerAfter = 4 * 24 * time.Hour

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
