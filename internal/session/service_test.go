package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DayanFA/MedCheck/internal/auth"
	"github.com/DayanFA/MedCheck/internal/checkcode"
	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/discipline"
)

type memSessionStore struct {
	sessions []*Session
}

func (m *memSessionStore) Open(ctx context.Context, studentID int64) (*Session, error) {
	for _, s := range m.sessions {
		if s.StudentID == studentID && s.CheckOutTime == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) Insert(ctx context.Context, s *Session) error {
	for _, existing := range m.sessions {
		if existing.StudentID == s.StudentID && existing.CheckOutTime == nil {
			return ErrAlreadyInService
		}
	}
	s.ID = uuid.NewString()
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *memSessionStore) Close(ctx context.Context, id string, out time.Time, coords Coords) error {
	for _, s := range m.sessions {
		if s.ID == id && s.CheckOutTime == nil {
			s.CheckOutTime = &out
			s.CheckOutLat = coords.Lat
			s.CheckOutLng = coords.Lng
			return nil
		}
	}
	return ErrNoOpenSession
}

func (m *memSessionStore) ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.StudentID != studentID {
			continue
		}
		if s.CheckInTime.Before(from) || s.CheckInTime.After(to) {
			continue
		}
		if disciplineID != nil && (s.DisciplineID == nil || *s.DisciplineID != *disciplineID) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

type fakeRedeemer struct {
	code string
}

func (f *fakeRedeemer) Redeem(ctx context.Context, supervisorID int64, code string) (*checkcode.Code, error) {
	if !strings.EqualFold(code, f.code) {
		return nil, checkcode.ErrCodeInvalidOrExpired
	}
	return &checkcode.Code{SupervisorID: supervisorID, Code: f.code, UsageCount: 1}, nil
}

type fakeDisciplines struct {
	byID   map[int64]*discipline.Discipline
	linked map[int64]int64 // discipline -> supervisor
}

func (f *fakeDisciplines) Get(ctx context.Context, id int64) (*discipline.Discipline, error) {
	return f.byID[id], nil
}

func (f *fakeDisciplines) LinkedToSupervisor(ctx context.Context, disciplineID, supervisorID int64) (bool, error) {
	return f.linked[disciplineID] == supervisorID, nil
}

func i64(v int64) *int64 { return &v }

func testFixture(at time.Time) (*Service, *memSessionStore, *time.Time) {
	now := at
	store := &memSessionStore{}
	disciplines := &fakeDisciplines{
		byID: map[int64]*discipline.Discipline{
			10: {ID: 10, Code: "MED101", Name: "Internal Medicine"},
		},
		linked: map[int64]int64{10: 5},
	}
	svc := NewService(store, &fakeRedeemer{code: "ABC234"}, disciplines, clock.Func(func() time.Time { return now }))
	return svc, store, &now
}

var student = auth.Actor{ID: 1, Role: auth.RoleStudent}

func TestCheckInOpensSession(t *testing.T) {
	svc, store, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	sess, err := svc.CheckIn(ctx, student, 5, "abc234", i64(10), Coords{})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected a generated session id")
	}
	if !sess.Validated {
		t.Error("expected session validated at check-in")
	}
	if len(store.sessions) != 1 {
		t.Fatalf("stored sessions = %d, want 1", len(store.sessions))
	}
}

func TestCheckInRejectsSecondOpenSession(t *testing.T) {
	svc, _, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != nil {
		t.Fatalf("first CheckIn: %v", err)
	}
	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != ErrAlreadyInService {
		t.Fatalf("second CheckIn error = %v, want ErrAlreadyInService", err)
	}
}

func TestCheckInRejectsNonStudent(t *testing.T) {
	svc, _, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	actor := auth.Actor{ID: 5, Role: auth.RoleSupervisor}

	if _, err := svc.CheckIn(context.Background(), actor, 5, "ABC234", i64(10), Coords{}); err != ErrInvalidRole {
		t.Fatalf("CheckIn error = %v, want ErrInvalidRole", err)
	}
}

func TestCheckInDisciplineValidation(t *testing.T) {
	svc, _, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", nil, Coords{}); err != ErrDisciplineRequired {
		t.Fatalf("missing discipline error = %v, want ErrDisciplineRequired", err)
	}
	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(99), Coords{}); err != ErrDisciplineNotFound {
		t.Fatalf("unknown discipline error = %v, want ErrDisciplineNotFound", err)
	}
	// Supervisor 6 is not linked to discipline 10.
	if _, err := svc.CheckIn(ctx, student, 6, "ABC234", i64(10), Coords{}); err != ErrDisciplineNotLinked {
		t.Fatalf("unlinked supervisor error = %v, want ErrDisciplineNotLinked", err)
	}
}

func TestCheckInBadCode(t *testing.T) {
	svc, store, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))

	if _, err := svc.CheckIn(context.Background(), student, 5, "WRONG9", i64(10), Coords{}); err != checkcode.ErrCodeInvalidOrExpired {
		t.Fatalf("CheckIn error = %v, want ErrCodeInvalidOrExpired", err)
	}
	if len(store.sessions) != 0 {
		t.Error("no session should be opened on a failed redemption")
	}
}

func TestCheckOutClosesAndComputesWorked(t *testing.T) {
	svc, _, now := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	*now = now.Add(3*time.Hour + 25*time.Minute + 7*time.Second)
	sess, err := svc.CheckOut(ctx, student.ID, Coords{})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if sess.CheckOutTime == nil {
		t.Fatal("CheckOutTime not set")
	}

	resp := svc.ToResponse(sess, nil)
	if resp.Worked == nil || *resp.Worked != "03:25:07" {
		t.Errorf("Worked = %v, want 03:25:07", resp.Worked)
	}
}

func TestCheckOutWithoutOpenSession(t *testing.T) {
	svc, _, _ := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))

	if _, err := svc.CheckOut(context.Background(), student.ID, Coords{}); err != ErrNoOpenSession {
		t.Fatalf("CheckOut error = %v, want ErrNoOpenSession", err)
	}
}

func TestTodayStatusCountsLiveSession(t *testing.T) {
	svc, _, now := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	*now = now.Add(90 * time.Minute)
	status, err := svc.TodayStatus(ctx, student.ID)
	if err != nil {
		t.Fatalf("TodayStatus: %v", err)
	}
	if !status.InService {
		t.Error("expected InService")
	}
	if status.WorkedSeconds != 90*60 {
		t.Errorf("WorkedSeconds = %d, want %d", status.WorkedSeconds, 90*60)
	}
	if status.OpenSession == nil {
		t.Fatal("expected OpenSession")
	}
	if status.OpenSession.Worked != nil {
		t.Error("open session must not carry a final worked duration")
	}
}

func TestTodayStatusSumsClosedSessions(t *testing.T) {
	svc, _, now := testFixture(time.Date(2026, 3, 10, 8, 0, 0, 0, clock.Zone))
	ctx := context.Background()

	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	*now = now.Add(time.Hour)
	if _, err := svc.CheckOut(ctx, student.ID, Coords{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	*now = now.Add(time.Hour)
	if _, err := svc.CheckIn(ctx, student, 5, "ABC234", i64(10), Coords{}); err != nil {
		t.Fatalf("second CheckIn: %v", err)
	}
	*now = now.Add(30 * time.Minute)

	status, err := svc.TodayStatus(ctx, student.ID)
	if err != nil {
		t.Fatalf("TodayStatus: %v", err)
	}
	if status.WorkedSeconds != 90*60 {
		t.Errorf("WorkedSeconds = %d, want %d", status.WorkedSeconds, 90*60)
	}
}

func TestFormatWorked(t *testing.T) {
	cases := []struct {
		seconds int64
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{36*3600 + 5, "36:00:05"},
	}
	for _, tc := range cases {
		if got := FormatWorked(tc.seconds); got != tc.want {
			t.Errorf("FormatWorked(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
