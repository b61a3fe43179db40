package app

import "time"

// calculateNextDelay returns the time until the next full hour. Truncate
// works on absolute time so this holds across DST changes in zones with
// whole hour offsets.
func calculateNextDelay(now time.Time) time.Duration {
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}
