package calendar

// Status is the derived compliance classification for one calendar day.
type Status string

const (
	StatusNone   Status = "NONE"   // nothing planned
	StatusBlue   Status = "BLUE"   // planned, nothing due yet
	StatusRed    Status = "RED"    // planned, nothing worked
	StatusYellow Status = "YELLOW" // worked less than planned
	StatusGreen  Status = "GREEN"  // planned hours fulfilled
	StatusOrange Status = "ORANGE" // justification on file, dominates all
)

// graceMinutes is the tolerance after a planned start before a missed
// check-in turns the day red.
const graceMinutes = 1

// dayWindow is the planned start/end envelope of one day, in minutes since
// midnight. Overnight ends arrive pre-clamped to 23:59.
type dayWindow struct {
	earliestStart int
	latestEnd     int
}

// computeStatus classifies one day. Dates are YYYY-MM-DD keys, which order
// lexicographically; nowMinute is the current minute of today in the fixed
// zone. The precedence is strict: justification, then no plan, then the
// future/past/today rules.
func computeStatus(day, today string, planned, worked int64, hasJustification bool, window *dayWindow, nowMinute int) Status {
	if hasJustification {
		return StatusOrange
	}
	if planned == 0 {
		return StatusNone
	}
	if day > today {
		return StatusBlue
	}

	if day < today {
		switch {
		case worked == 0:
			return StatusRed
		case worked < planned:
			return StatusYellow
		default:
			return StatusGreen
		}
	}

	// Today. Without window data fall back to the past-day rule, except
	// that "nothing happened yet" is BLUE, not RED.
	if window == nil {
		switch {
		case worked == 0:
			return StatusBlue
		case worked < planned:
			return StatusYellow
		default:
			return StatusGreen
		}
	}

	if nowMinute < window.earliestStart {
		return StatusBlue
	}
	// Worked time wins over the window-closed test.
	if worked > 0 {
		if worked < planned {
			return StatusYellow
		}
		return StatusGreen
	}
	if nowMinute > window.latestEnd {
		return StatusRed
	}
	// Inside the window with nothing worked: red once the grace period
	// after the earliest start has passed.
	if nowMinute > window.earliestStart+graceMinutes {
		return StatusRed
	}
	return StatusBlue
}
