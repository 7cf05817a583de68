package clock

import "time"

// Zone is the single civil time zone used for every instant-to-date
// conversion in the service. Day boundaries must not depend on where the
// binary happens to run, so the host zone and UTC are never used.
var Zone = time.FixedZone("GMT-5", -5*60*60)

// Clock supplies the current instant in Zone. Services take a Clock instead
// of calling time.Now so calendar logic stays deterministic under test.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock and shifts it into Zone.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time { return time.Now().In(Zone) }

// Func adapts an ordinary function to the Clock interface.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

// StartOfDay truncates t to midnight in Zone.
func StartOfDay(t time.Time) time.Time {
	t = t.In(Zone)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Zone)
}

// EndOfDay returns 23:59:59 of t's day in Zone.
func EndOfDay(t time.Time) time.Time {
	t = t.In(Zone)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, Zone)
}

// DateKey renders t's calendar date in Zone as YYYY-MM-DD.
func DateKey(t time.Time) string { return t.In(Zone).Format("2006-01-02") }

// MinuteOfDay returns minutes elapsed since midnight of t's day in Zone.
func MinuteOfDay(t time.Time) int {
	t = t.In(Zone)
	return t.Hour()*60 + t.Minute()
}
