package calendar

import (
	"context"
	"math"
	"time"

	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/session"
)

// DayStatus is the derived classification for one day of a month view. It
// is produced fresh on every request and never persisted.
type DayStatus struct {
	Date                string  `json:"date"`
	PlannedSeconds      int64   `json:"plannedSeconds"`
	WorkedSeconds       int64   `json:"workedSeconds"`
	Status              Status  `json:"status"`
	JustificationStatus *string `json:"justificationStatus,omitempty"`
}

// MonthView is the caller-facing month payload.
type MonthView struct {
	Year           int                `json:"year"`
	Month          int                `json:"month"`
	Days           []DayStatus        `json:"days"`
	Plans          []PlanDTO          `json:"plans"`
	Justifications []JustificationDTO `json:"justifications"`
	DisciplineID   *int64             `json:"disciplineId,omitempty"`
}

// SessionSource supplies the worked-time series. *session.Repository and
// the session service's store both satisfy it.
type SessionSource interface {
	ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]session.Session, error)
}

// Compiler merges planned entries, worked sessions and justifications into
// per-day statuses. It performs pure reads and needs no locking.
type Compiler struct {
	plans    PlanStore
	justs    JustificationStore
	sessions SessionSource
	clk      clock.Clock
}

// NewCompiler creates a compiler.
func NewCompiler(plans PlanStore, justs JustificationStore, sessions SessionSource, clk clock.Clock) *Compiler {
	return &Compiler{plans: plans, justs: justs, sessions: sessions, clk: clk}
}

// MonthView compiles the status of every day in the month. The discipline
// filter, when given, scopes plans and sessions; justifications are
// date-scoped excuses and are never filtered.
func (c *Compiler) MonthView(ctx context.Context, studentID int64, year int, month time.Month, disciplineID *int64) (MonthView, error) {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, clock.Zone)
	monthEnd := monthStart.AddDate(0, 1, -1)

	plans, err := c.plans.ListRange(ctx, studentID, monthStart, monthEnd, disciplineID)
	if err != nil {
		return MonthView{}, err
	}
	justs, err := c.justs.ListRange(ctx, studentID, monthStart, monthEnd)
	if err != nil {
		return MonthView{}, err
	}
	sessions, err := c.sessions.ListRange(ctx, studentID, monthStart, clock.EndOfDay(monthEnd), disciplineID)
	if err != nil {
		return MonthView{}, err
	}

	plannedByDay := make(map[string]int64)
	windowByDay := make(map[string]*dayWindow)
	for i := range plans {
		p := &plans[i]
		key := p.DateKey()
		plannedByDay[key] += p.PlannedSeconds()

		w := windowByDay[key]
		if w == nil {
			w = &dayWindow{earliestStart: p.StartMinute, latestEnd: p.endForComparison()}
			windowByDay[key] = w
			continue
		}
		if p.StartMinute < w.earliestStart {
			w.earliestStart = p.StartMinute
		}
		if end := p.endForComparison(); end > w.latestEnd {
			w.latestEnd = end
		}
	}

	justsByDay := make(map[string][]*Justification)
	for i := range justs {
		j := &justs[i]
		justsByDay[j.DateKey()] = append(justsByDay[j.DateKey()], j)
	}

	workedByDay := workedSecondsByDay(sessions, monthStart, monthEnd)

	now := c.clk.Now()
	today := clock.DateKey(now)
	nowMinute := clock.MinuteOfDay(now)

	daysInMonth := monthEnd.Day()
	days := make([]DayStatus, 0, daysInMonth)
	for d := 1; d <= daysInMonth; d++ {
		key := time.Date(year, month, d, 0, 0, 0, 0, clock.Zone).Format("2006-01-02")
		planned := plannedByDay[key]
		worked := workedByDay[key]
		dayJusts := justsByDay[key]

		day := DayStatus{
			Date:           key,
			PlannedSeconds: planned,
			WorkedSeconds:  worked,
			Status:         computeStatus(key, today, planned, worked, len(dayJusts) > 0, windowByDay[key], nowMinute),
		}
		if len(dayJusts) > 0 {
			day.JustificationStatus = &dayJusts[0].Status
		}
		days = append(days, day)
	}

	out := MonthView{
		Year:           year,
		Month:          int(month),
		Days:           days,
		Plans:          make([]PlanDTO, 0, len(plans)),
		Justifications: make([]JustificationDTO, 0, len(justs)),
		DisciplineID:   disciplineID,
	}
	for i := range plans {
		out.Plans = append(out.Plans, plans[i].DTO())
	}
	for i := range justs {
		out.Justifications = append(out.Justifications, justs[i].DTO())
	}
	return out, nil
}

// workedSecondsByDay clips sessions to the month, splits any span crossing
// midnight across the days it touches, and rounds each day to the nearest
// minute. A strictly positive raw total that rounds to zero is floored to
// one second so a recorded check-in never vanishes from the aggregate.
// Open sessions contribute nothing here; live progress is the status
// endpoint's job.
func workedSecondsByDay(sessions []session.Session, monthStart, monthEnd time.Time) map[string]int64 {
	raw := make(map[string]int64)
	rangeStart := clock.StartOfDay(monthStart)
	rangeEnd := clock.EndOfDay(monthEnd)

	for i := range sessions {
		s := &sessions[i]
		in := s.CheckInTime.In(clock.Zone)
		out := in
		if s.CheckOutTime != nil {
			out = s.CheckOutTime.In(clock.Zone)
		}
		if out.Before(in) {
			out = in
		}

		from := in
		if from.Before(rangeStart) {
			from = rangeStart
		}
		to := out
		if to.After(rangeEnd) {
			to = rangeEnd
		}
		if to.Before(from) {
			continue
		}

		cursor := from
		for !clock.StartOfDay(cursor).After(clock.StartOfDay(to)) {
			dayEnd := clock.EndOfDay(cursor)
			segEnd := to
			if dayEnd.Before(segEnd) {
				segEnd = dayEnd
			}
			if secs := int64(segEnd.Sub(cursor) / time.Second); secs > 0 {
				raw[clock.DateKey(cursor)] += secs
			}
			cursor = clock.StartOfDay(cursor).AddDate(0, 0, 1)
		}
	}

	rounded := make(map[string]int64, len(raw))
	for key, secs := range raw {
		toMinute := int64(math.Round(float64(secs)/60.0)) * 60
		if secs > 0 && toMinute == 0 {
			toMinute = 1
		}
		rounded[key] = toMinute
	}
	return rounded
}
