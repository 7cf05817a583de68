package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/DayanFA/MedCheck/internal/auth"
	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/session"
)

// PlanStore is the persistence surface for planned entries.
type PlanStore interface {
	Get(ctx context.Context, id int64) (*Plan, error)
	ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Plan, error)
	ListWeek(ctx context.Context, studentID int64, weekNumber int) ([]Plan, error)
	Upsert(ctx context.Context, p *Plan) error
	Delete(ctx context.Context, id int64) error
}

// JustificationStore is the persistence surface for justifications.
type JustificationStore interface {
	Get(ctx context.Context, id int64) (*Justification, error)
	FirstByDate(ctx context.Context, studentID int64, dateKey string) (*Justification, error)
	ListRange(ctx context.Context, studentID int64, from, to time.Time) ([]Justification, error)
	Upsert(ctx context.Context, j *Justification) error
	Delete(ctx context.Context, id int64) error
}

// DisciplineLinker answers whether a supervisor is linked to a discipline.
type DisciplineLinker interface {
	LinkedToSupervisor(ctx context.Context, disciplineID, supervisorID int64) (bool, error)
}

// PlanInput is the request shape for creating or updating a plan.
type PlanInput struct {
	ID           *int64  `json:"id"`
	Date         string  `json:"date" binding:"required"`
	StartTime    string  `json:"startTime" binding:"required"`
	EndTime      string  `json:"endTime" binding:"required"`
	Location     string  `json:"location"`
	Note         *string `json:"note"`
	WeekNumber   *int    `json:"weekNumber"`
	DisciplineID *int64  `json:"disciplineId"`
}

// JustificationInput is the request shape for creating or updating a
// justification.
type JustificationInput struct {
	ID           *int64 `json:"id"`
	Date         string `json:"date" binding:"required"`
	PlanID       *int64 `json:"planId"`
	Type         string `json:"type"`
	Reason       string `json:"reason"`
	DisciplineID *int64 `json:"disciplineId"`
}

// Service owns plan and justification mutations; the compiler consumes
// their records read-only.
type Service struct {
	plans       PlanStore
	justs       JustificationStore
	disciplines DisciplineLinker
	clk         clock.Clock
}

// NewService creates a calendar service.
func NewService(plans PlanStore, justs JustificationStore, disciplines DisciplineLinker, clk clock.Clock) *Service {
	return &Service{plans: plans, justs: justs, disciplines: disciplines, clk: clk}
}

// UpsertPlan creates or updates one of the student's planned entries.
func (s *Service) UpsertPlan(ctx context.Context, actor auth.Actor, in PlanInput) (*Plan, error) {
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}
	start, err := parseMinute(in.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseMinute(in.EndTime)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Location) == "" {
		return nil, ErrLocationRequired
	}

	week := in.WeekNumber
	if week != nil && (*week < 1 || *week > 52) {
		week = nil
	}

	p := &Plan{StudentID: actor.ID}
	if in.ID != nil {
		existing, err := s.plans.Get(ctx, *in.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil || existing.StudentID != actor.ID {
			return nil, ErrNotFound
		}
		p = existing
	}

	now := s.clk.Now()
	p.Date = date
	p.StartMinute = start
	p.EndMinute = end
	p.Location = strings.TrimSpace(in.Location)
	p.Note = in.Note
	p.WeekNumber = week
	p.DisciplineID = in.DisciplineID
	if p.ID != 0 {
		p.UpdatedAt = &now
	} else {
		p.CreatedAt = now
	}

	if err := s.plans.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePlan removes one of the student's planned entries.
func (s *Service) DeletePlan(ctx context.Context, actor auth.Actor, id int64) error {
	p, err := s.plans.Get(ctx, id)
	if err != nil {
		return err
	}
	if p == nil || p.StudentID != actor.ID {
		return ErrNotFound
	}
	return s.plans.Delete(ctx, id)
}

// WeekPlans lists a student's plans carrying the given week number.
func (s *Service) WeekPlans(ctx context.Context, studentID int64, weekNumber int) ([]Plan, error) {
	return s.plans.ListWeek(ctx, studentID, weekNumber)
}

// UpsertJustification creates or updates a student's justification. Any
// edit resets the status to PENDING; a reviewed record is immutable.
func (s *Service) UpsertJustification(ctx context.Context, actor auth.Actor, in JustificationInput) (*Justification, error) {
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}

	j := &Justification{StudentID: actor.ID, CreatedAt: s.clk.Now()}
	if in.ID != nil {
		existing, err := s.justs.Get(ctx, *in.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil || existing.StudentID != actor.ID {
			return nil, ErrNotFound
		}
		if existing.Status != JustificationPending {
			return nil, ErrJustificationReviewed
		}
		j = existing
	}

	j.Date = date
	j.PlanID = in.PlanID
	j.Type = in.Type
	if j.Type == "" {
		j.Type = "GENERAL"
	}
	j.Reason = in.Reason
	j.Status = JustificationPending
	j.DisciplineID = in.DisciplineID
	j.ReviewedBy = nil
	j.ReviewedAt = nil
	j.ReviewNote = nil

	if err := s.justs.Upsert(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// DeleteJustification removes a student's PENDING justification by id.
func (s *Service) DeleteJustification(ctx context.Context, actor auth.Actor, id int64) error {
	j, err := s.justs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j == nil || j.StudentID != actor.ID {
		return ErrNotFound
	}
	if j.Status != JustificationPending {
		return ErrJustificationReviewed
	}
	return s.justs.Delete(ctx, j.ID)
}

// DeleteJustificationByDate removes a student's PENDING justification on a
// date.
func (s *Service) DeleteJustificationByDate(ctx context.Context, actor auth.Actor, dateKey string) error {
	if _, err := parseDate(dateKey); err != nil {
		return err
	}
	j, err := s.justs.FirstByDate(ctx, actor.ID, dateKey)
	if err != nil {
		return err
	}
	if j == nil {
		return ErrNotFound
	}
	if j.Status != JustificationPending {
		return ErrJustificationReviewed
	}
	return s.justs.Delete(ctx, j.ID)
}

// Review approves or rejects a student's PENDING justification. Supervisors
// must be linked to the justification's discipline when one is set;
// coordinators and admins review freely.
func (s *Service) Review(ctx context.Context, actor auth.Actor, studentID int64, dateKey, action string, note string) (*Justification, error) {
	if !actor.Elevated() {
		return nil, session.ErrInvalidRole
	}
	action = strings.ToUpper(action)
	if action != JustificationApproved && action != JustificationRejected {
		return nil, ErrInvalidAction
	}
	if _, err := parseDate(dateKey); err != nil {
		return nil, err
	}

	j, err := s.justs.FirstByDate(ctx, studentID, dateKey)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNotFound
	}
	if j.Status != JustificationPending {
		return nil, ErrJustificationReviewed
	}

	if actor.Role == auth.RoleSupervisor && j.DisciplineID != nil {
		linked, err := s.disciplines.LinkedToSupervisor(ctx, *j.DisciplineID, actor.ID)
		if err != nil {
			return nil, err
		}
		if !linked {
			return nil, session.ErrDisciplineNotLinked
		}
	}

	now := s.clk.Now()
	j.Status = action
	j.ReviewedBy = &actor.ID
	j.ReviewedAt = &now
	if note != "" {
		j.ReviewNote = &note
	}
	if err := s.justs.Upsert(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
