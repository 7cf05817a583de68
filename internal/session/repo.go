package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index on open sessions — the race-safety backstop for check-in.
const uniqueViolation = "23505"

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `
	id, student_id, supervisor_id, discipline_id,
	check_in_time, check_out_time,
	check_in_lat, check_in_lng, check_out_lat, check_out_lng,
	validated, created_at`

// Open implements Store. It returns the most recent open session, or nil.
func (r *Repository) Open(ctx context.Context, studentID int64) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM check_sessions
		WHERE student_id = $1 AND check_out_time IS NULL
		ORDER BY check_in_time DESC
		LIMIT 1
	`, studentID)
	return scanSession(row)
}

// Insert implements Store.
func (r *Repository) Insert(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO check_sessions
			(id, student_id, supervisor_id, discipline_id,
			 check_in_time, check_in_lat, check_in_lng, validated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.StudentID, s.SupervisorID, s.DisciplineID,
		s.CheckInTime, s.CheckInLat, s.CheckInLng, s.Validated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyInService
		}
		return errors.Wrap(err, "inserting session")
	}
	return nil
}

// Close implements Store.
func (r *Repository) Close(ctx context.Context, id string, out time.Time, coords Coords) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE check_sessions
		SET check_out_time = $2, check_out_lat = $3, check_out_lng = $4
		WHERE id = $1 AND check_out_time IS NULL
	`, id, out, coords.Lat, coords.Lng)
	if err != nil {
		return errors.Wrap(err, "closing session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoOpenSession
	}
	return nil
}

// ListRange implements Store.
func (r *Repository) ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM check_sessions
		WHERE student_id = $1 AND check_in_time BETWEEN $2 AND $3`
	args := []any{studentID, from, to}
	if disciplineID != nil {
		query += ` AND discipline_id = $4`
		args = append(args, *disciplineID)
	}
	query += ` ORDER BY check_in_time DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "selecting sessions")
	}
	defer rows.Close()

	var list []Session
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*Session, error) {
	var s Session
	var disciplineID sql.NullInt64
	var checkOut sql.NullTime
	var inLat, inLng, outLat, outLng sql.NullFloat64

	err := sc.Scan(
		&s.ID, &s.StudentID, &s.SupervisorID, &disciplineID,
		&s.CheckInTime, &checkOut,
		&inLat, &inLng, &outLat, &outLng,
		&s.Validated, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if disciplineID.Valid {
		s.DisciplineID = &disciplineID.Int64
	}
	if checkOut.Valid {
		t := checkOut.Time
		s.CheckOutTime = &t
	}
	if inLat.Valid {
		s.CheckInLat = &inLat.Float64
	}
	if inLng.Valid {
		s.CheckInLng = &inLng.Float64
	}
	if outLat.Valid {
		s.CheckOutLat = &outLat.Float64
	}
	if outLng.Valid {
		s.CheckOutLng = &outLng.Float64
	}
	return &s, nil
}

func scanSession(row *sql.Row) (*Session, error) {
	s, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning session")
	}
	return s, nil
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	s, err := scanInto(rows)
	if err != nil {
		return nil, errors.Wrap(err, "scanning session")
	}
	return s, nil
}
