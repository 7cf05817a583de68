package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DayanFA/MedCheck/internal/auth"
	"github.com/DayanFA/MedCheck/internal/checkcode"
	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/discipline"
)

var (
	// ErrInvalidRole is returned when the actor's role cannot perform the
	// operation.
	ErrInvalidRole = errors.New("invalid role for operation")

	// ErrAlreadyInService is returned when a student with an open session
	// tries to check in again.
	ErrAlreadyInService = errors.New("already in service")

	// ErrNoOpenSession is returned by check-out when no session is open.
	ErrNoOpenSession = errors.New("no open session")

	// ErrDisciplineRequired is returned when check-in omits the discipline.
	ErrDisciplineRequired = errors.New("discipline required")

	// ErrDisciplineNotFound is returned when the discipline does not exist.
	ErrDisciplineNotFound = errors.New("discipline not found")

	// ErrDisciplineNotLinked is returned when the supervisor is not linked
	// to the requested discipline.
	ErrDisciplineNotLinked = errors.New("supervisor not linked to discipline")
)

// Session is one check-in/check-out pair. CheckOutTime is nil while the
// student is in service; a session is mutated exactly once, at check-out.
type Session struct {
	ID           string
	StudentID    int64
	SupervisorID int64
	DisciplineID *int64
	CheckInTime  time.Time
	CheckOutTime *time.Time
	CheckInLat   *float64
	CheckInLng   *float64
	CheckOutLat  *float64
	CheckOutLng  *float64
	Validated    bool
	CreatedAt    time.Time
}

// WorkedSeconds returns the worked span in seconds. Open sessions count up
// to now; nothing is ever persisted as a running total.
func (s *Session) WorkedSeconds(now time.Time) int64 {
	end := now
	if s.CheckOutTime != nil {
		end = *s.CheckOutTime
	}
	if end.Before(s.CheckInTime) {
		return 0
	}
	return int64(end.Sub(s.CheckInTime) / time.Second)
}

// Coords is an optional check-in/check-out location. Recorded verbatim,
// never validated.
type Coords struct {
	Lat *float64
	Lng *float64
}

// Status is the live answer to "is this student in service right now".
type Status struct {
	InService     bool      `json:"inService"`
	OpenSession   *Response `json:"openSession"`
	WorkedSeconds int64     `json:"workedSeconds"`
}

// Response is the wire shape for a session.
type Response struct {
	ID           string                 `json:"id"`
	StudentID    int64                  `json:"studentId"`
	SupervisorID int64                  `json:"supervisorId"`
	Discipline   *discipline.Discipline `json:"discipline,omitempty"`
	CheckInTime  time.Time              `json:"checkInTime"`
	CheckOutTime *time.Time             `json:"checkOutTime"`
	Validated    bool                   `json:"validated"`
	Worked       *string                `json:"worked"`
}

// Store is the persistence surface for sessions. Insert must be backstopped
// by a store-level uniqueness guarantee on open sessions per student and
// return ErrAlreadyInService when it fires.
type Store interface {
	Open(ctx context.Context, studentID int64) (*Session, error)
	Insert(ctx context.Context, s *Session) error
	Close(ctx context.Context, id string, out time.Time, coords Coords) error
	ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Session, error)
}

// CodeRedeemer validates rotating codes at check-in.
type CodeRedeemer interface {
	Redeem(ctx context.Context, supervisorID int64, code string) (*checkcode.Code, error)
}

// DisciplineStore resolves disciplines and supervisor linkage.
type DisciplineStore interface {
	Get(ctx context.Context, id int64) (*discipline.Discipline, error)
	LinkedToSupervisor(ctx context.Context, disciplineID, supervisorID int64) (bool, error)
}

// Service owns the check-in/check-out lifecycle.
type Service struct {
	store       Store
	codes       CodeRedeemer
	disciplines DisciplineStore
	clk         clock.Clock
}

// NewService creates a session manager.
func NewService(store Store, codes CodeRedeemer, disciplines DisciplineStore, clk clock.Clock) *Service {
	return &Service{store: store, codes: codes, disciplines: disciplines, clk: clk}
}

// CheckIn opens a session for a student after redeeming the supervisor's
// rotating code. The discipline is mandatory; the supervisor must be linked
// to it unless the actor holds admin privilege.
func (s *Service) CheckIn(ctx context.Context, actor auth.Actor, supervisorID int64, code string, disciplineID *int64, coords Coords) (*Session, error) {
	if actor.Role != auth.RoleStudent {
		return nil, ErrInvalidRole
	}
	if disciplineID == nil {
		return nil, ErrDisciplineRequired
	}

	disc, err := s.disciplines.Get(ctx, *disciplineID)
	if err != nil {
		return nil, err
	}
	if disc == nil {
		return nil, ErrDisciplineNotFound
	}
	if actor.Role != auth.RoleAdmin {
		linked, err := s.disciplines.LinkedToSupervisor(ctx, *disciplineID, supervisorID)
		if err != nil {
			return nil, err
		}
		if !linked {
			return nil, ErrDisciplineNotLinked
		}
	}

	if _, err := s.codes.Redeem(ctx, supervisorID, code); err != nil {
		return nil, err
	}

	if open, err := s.store.Open(ctx, actor.ID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, ErrAlreadyInService
	}

	sess := &Session{
		StudentID:    actor.ID,
		SupervisorID: supervisorID,
		DisciplineID: disciplineID,
		CheckInTime:  s.clk.Now(),
		CheckInLat:   coords.Lat,
		CheckInLng:   coords.Lng,
		Validated:    true,
	}
	if err := s.store.Insert(ctx, sess); err != nil {
		return nil, err
	}
	checkIns.Inc()
	return sess, nil
}

// CheckOut closes the student's open session at the current instant.
func (s *Service) CheckOut(ctx context.Context, studentID int64, coords Coords) (*Session, error) {
	open, err := s.store.Open(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrNoOpenSession
	}

	now := s.clk.Now()
	if err := s.store.Close(ctx, open.ID, now, coords); err != nil {
		return nil, err
	}
	open.CheckOutTime = &now
	open.CheckOutLat = coords.Lat
	open.CheckOutLng = coords.Lng
	checkOuts.Inc()
	return open, nil
}

// TodayStatus reports whether the student is in service and how many
// seconds they have worked today, counting elapsed time on an open session
// without waiting for check-out.
func (s *Service) TodayStatus(ctx context.Context, studentID int64) (Status, error) {
	now := s.clk.Now()
	from := clock.StartOfDay(now)
	to := clock.EndOfDay(now)

	sessions, err := s.store.ListRange(ctx, studentID, from, to, nil)
	if err != nil {
		return Status{}, err
	}

	var status Status
	for i := range sessions {
		sess := &sessions[i]
		status.WorkedSeconds += sess.WorkedSeconds(now)
		if sess.CheckOutTime == nil {
			status.InService = true
			resp := s.ToResponse(sess, nil)
			status.OpenSession = &resp
		}
	}
	return status, nil
}

// ListSessions returns the student's sessions in a date range, newest
// check-in first, optionally scoped to one discipline.
func (s *Service) ListSessions(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Session, error) {
	return s.store.ListRange(ctx, studentID, clock.StartOfDay(from), clock.EndOfDay(to), disciplineID)
}

// ToResponse renders a session for the wire. Worked is only set once the
// session is closed; live progress belongs to TodayStatus.
func (s *Service) ToResponse(sess *Session, disc *discipline.Discipline) Response {
	resp := Response{
		ID:           sess.ID,
		StudentID:    sess.StudentID,
		SupervisorID: sess.SupervisorID,
		Discipline:   disc,
		CheckInTime:  sess.CheckInTime.In(clock.Zone),
		Validated:    sess.Validated,
	}
	if sess.CheckOutTime != nil {
		out := sess.CheckOutTime.In(clock.Zone)
		resp.CheckOutTime = &out
		worked := FormatWorked(sess.WorkedSeconds(out))
		resp.Worked = &worked
	}
	return resp
}

// FormatWorked renders seconds as HH:MM:SS.
func FormatWorked(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	sec := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
