package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Justification review states.
const (
	JustificationPending  = "PENDING"
	JustificationApproved = "APPROVED"
	JustificationRejected = "REJECTED"
)

var (
	// ErrNotFound is returned when a plan or justification does not exist
	// or belongs to another student.
	ErrNotFound = errors.New("entity not found")

	// ErrJustificationReviewed is returned when a student tries to edit or
	// delete a justification that has already been reviewed.
	ErrJustificationReviewed = errors.New("justification already reviewed")

	// ErrInvalidAction is returned when a review action is neither
	// APPROVED nor REJECTED.
	ErrInvalidAction = errors.New("invalid review action")

	// ErrLocationRequired is returned when a plan omits its location.
	ErrLocationRequired = errors.New("location required")

	// ErrInvalidTime is returned when a date or HH:MM field does not parse.
	ErrInvalidTime = errors.New("invalid date or time")
)

const lastMinuteOfDay = 23*60 + 59

// Plan is a scheduled work block for a student on a calendar date. Times
// are minutes since midnight; an end before the start means the block runs
// into the next day.
type Plan struct {
	ID           int64
	StudentID    int64
	DisciplineID *int64
	Date         time.Time
	StartMinute  int
	EndMinute    int
	Location     string
	Note         *string
	WeekNumber   *int
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// PlannedSeconds is the planned duration. Overnight blocks span into the
// next day and never yield a negative duration.
func (p *Plan) PlannedSeconds() int64 {
	minutes := p.EndMinute - p.StartMinute
	if p.EndMinute < p.StartMinute {
		minutes = p.EndMinute + 24*60 - p.StartMinute
	}
	return int64(minutes) * 60
}

// endForComparison clamps an overnight end to 23:59 so window comparisons
// stay within the plan's own day. Duration math is unaffected.
func (p *Plan) endForComparison() int {
	if p.EndMinute < p.StartMinute {
		return lastMinuteOfDay
	}
	return p.EndMinute
}

// DateKey renders the plan's calendar date as YYYY-MM-DD. DATE columns scan
// as bare midnights, so no zone conversion is applied here.
func (p *Plan) DateKey() string { return p.Date.Format("2006-01-02") }

// PlanDTO is the wire shape for a plan.
type PlanDTO struct {
	ID             int64   `json:"id"`
	Date           string  `json:"date"`
	StartTime      string  `json:"startTime"`
	EndTime        string  `json:"endTime"`
	Location       string  `json:"location"`
	Note           *string `json:"note,omitempty"`
	WeekNumber     *int    `json:"weekNumber,omitempty"`
	DisciplineID   *int64  `json:"disciplineId,omitempty"`
	PlannedSeconds int64   `json:"plannedSeconds"`
}

// DTO renders the plan for the wire.
func (p *Plan) DTO() PlanDTO {
	return PlanDTO{
		ID:             p.ID,
		Date:           p.DateKey(),
		StartTime:      formatMinute(p.StartMinute),
		EndTime:        formatMinute(p.EndMinute),
		Location:       p.Location,
		Note:           p.Note,
		WeekNumber:     p.WeekNumber,
		DisciplineID:   p.DisciplineID,
		PlannedSeconds: p.PlannedSeconds(),
	}
}

// Justification is a student-submitted excuse for a date. Only a PENDING
// justification may be edited or deleted by its student; a reviewed one is
// immutable except through the review action itself.
type Justification struct {
	ID           int64
	StudentID    int64
	PlanID       *int64
	DisciplineID *int64
	Date         time.Time
	Type         string
	Reason       string
	Status       string
	ReviewedBy   *int64
	ReviewedAt   *time.Time
	ReviewNote   *string
	CreatedAt    time.Time
}

// DateKey renders the justification's calendar date as YYYY-MM-DD.
func (j *Justification) DateKey() string { return j.Date.Format("2006-01-02") }

// JustificationDTO is the wire shape for a justification.
type JustificationDTO struct {
	ID         int64   `json:"id"`
	Date       string  `json:"date"`
	Type       string  `json:"type"`
	Reason     string  `json:"reason"`
	Status     string  `json:"status"`
	PlanID     *int64  `json:"planId"`
	ReviewedBy *int64  `json:"reviewedBy,omitempty"`
	ReviewNote *string `json:"reviewNote,omitempty"`
}

// DTO renders the justification for the wire.
func (j *Justification) DTO() JustificationDTO {
	return JustificationDTO{
		ID:         j.ID,
		Date:       j.DateKey(),
		Type:       j.Type,
		Reason:     j.Reason,
		Status:     j.Status,
		PlanID:     j.PlanID,
		ReviewedBy: j.ReviewedBy,
		ReviewNote: j.ReviewNote,
	}
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// parseMinute parses HH:MM into minutes since midnight.
func parseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, ErrInvalidTime
	}
	return t.Hour()*60 + t.Minute(), nil
}

// parseDate parses YYYY-MM-DD into a bare midnight.
func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, ErrInvalidTime
	}
	return t, nil
}
