// Package market provides wall-clock access and the equities trading-hours
// gate used by the worker.
package market

import "time"

// RealClock reads the system clock. Tests substitute a fixed implementation
// of core.Clock.
type RealClock struct{}

// Now returns the current UTC instant.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

const (
	sessionOpenMinute  = 13*60 + 30
	sessionCloseMinute = 20 * 60
)

// IsRegularHours reports whether US equities trade at t. The regular session
// runs Monday through Friday, 13:30 to 20:00 UTC. Crypto symbols bypass this
// gate entirely; callers check asset class first.
func IsRegularHours(t time.Time) bool {
	utc := t.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := utc.Hour()*60 + utc.Minute()
	return minute >= sessionOpenMinute && minute < sessionCloseMinute
}
