package calendar

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// PlanRepository persists planned entries in Postgres.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a repo.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `
	id, student_id, discipline_id, date, start_minute, end_minute,
	location, note, week_number, created_at, updated_at`

// Get implements PlanStore.
func (r *PlanRepository) Get(ctx context.Context, id int64) (*Plan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM internship_plans WHERE id = $1
	`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting plan")
	}
	return p, nil
}

// ListRange implements PlanStore.
func (r *PlanRepository) ListRange(ctx context.Context, studentID int64, from, to time.Time, disciplineID *int64) ([]Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM internship_plans
		WHERE student_id = $1 AND date BETWEEN $2 AND $3`
	args := []any{studentID, from.Format("2006-01-02"), to.Format("2006-01-02")}
	if disciplineID != nil {
		query += ` AND discipline_id = $4`
		args = append(args, *disciplineID)
	}
	query += ` ORDER BY date ASC, start_minute ASC`
	return r.list(ctx, query, args...)
}

// ListWeek implements PlanStore.
func (r *PlanRepository) ListWeek(ctx context.Context, studentID int64, weekNumber int) ([]Plan, error) {
	return r.list(ctx, `
		SELECT `+planColumns+`
		FROM internship_plans
		WHERE student_id = $1 AND week_number = $2
		ORDER BY date ASC, start_minute ASC
	`, studentID, weekNumber)
}

// Upsert implements PlanStore.
func (r *PlanRepository) Upsert(ctx context.Context, p *Plan) error {
	if p.ID == 0 {
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO internship_plans
				(student_id, discipline_id, date, start_minute, end_minute,
				 location, note, week_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, p.StudentID, p.DisciplineID, p.Date.Format("2006-01-02"), p.StartMinute,
			p.EndMinute, p.Location, p.Note, p.WeekNumber, p.CreatedAt)
		if err := row.Scan(&p.ID); err != nil {
			return errors.Wrap(err, "inserting plan")
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE internship_plans SET
			discipline_id = $2, date = $3, start_minute = $4, end_minute = $5,
			location = $6, note = $7, week_number = $8, updated_at = $9
		WHERE id = $1
	`, p.ID, p.DisciplineID, p.Date.Format("2006-01-02"), p.StartMinute,
		p.EndMinute, p.Location, p.Note, p.WeekNumber, p.UpdatedAt)
	return errors.Wrap(err, "updating plan")
}

// Delete implements PlanStore.
func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM internship_plans WHERE id = $1`, id)
	return errors.Wrap(err, "deleting plan")
}

func (r *PlanRepository) list(ctx context.Context, query string, args ...any) ([]Plan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "selecting plans")
	}
	defer rows.Close()

	var list []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning plan")
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(sc rowScanner) (*Plan, error) {
	var p Plan
	var disciplineID sql.NullInt64
	var note sql.NullString
	var week sql.NullInt64
	var updatedAt sql.NullTime

	err := sc.Scan(
		&p.ID, &p.StudentID, &disciplineID, &p.Date, &p.StartMinute, &p.EndMinute,
		&p.Location, &note, &week, &p.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if disciplineID.Valid {
		p.DisciplineID = &disciplineID.Int64
	}
	if note.Valid {
		p.Note = &note.String
	}
	if week.Valid {
		w := int(week.Int64)
		p.WeekNumber = &w
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		p.UpdatedAt = &t
	}
	return &p, nil
}

// JustificationRepository persists justifications in Postgres.
type JustificationRepository struct {
	db *sql.DB
}

// NewJustificationRepository creates a repo.
func NewJustificationRepository(db *sql.DB) *JustificationRepository {
	return &JustificationRepository{db: db}
}

const justificationColumns = `
	id, student_id, plan_id, discipline_id, date, type, reason, status,
	reviewed_by, reviewed_at, review_note, created_at`

// Get implements JustificationStore.
func (r *JustificationRepository) Get(ctx context.Context, id int64) (*Justification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+justificationColumns+` FROM internship_justifications WHERE id = $1
	`, id)
	j, err := scanJustification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting justification")
	}
	return j, nil
}

// FirstByDate implements JustificationStore.
func (r *JustificationRepository) FirstByDate(ctx context.Context, studentID int64, dateKey string) (*Justification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+justificationColumns+`
		FROM internship_justifications
		WHERE student_id = $1 AND date = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, studentID, dateKey)
	j, err := scanJustification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting justification by date")
	}
	return j, nil
}

// ListRange implements JustificationStore.
func (r *JustificationRepository) ListRange(ctx context.Context, studentID int64, from, to time.Time) ([]Justification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+justificationColumns+`
		FROM internship_justifications
		WHERE student_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`, studentID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, errors.Wrap(err, "selecting justifications")
	}
	defer rows.Close()

	var list []Justification
	for rows.Next() {
		j, err := scanJustification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning justification")
		}
		list = append(list, *j)
	}
	return list, rows.Err()
}

// Upsert implements JustificationStore.
func (r *JustificationRepository) Upsert(ctx context.Context, j *Justification) error {
	if j.ID == 0 {
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO internship_justifications
				(student_id, plan_id, discipline_id, date, type, reason, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, j.StudentID, j.PlanID, j.DisciplineID, j.Date.Format("2006-01-02"),
			j.Type, j.Reason, j.Status, j.CreatedAt)
		if err := row.Scan(&j.ID); err != nil {
			return errors.Wrap(err, "inserting justification")
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE internship_justifications SET
			plan_id = $2, discipline_id = $3, date = $4, type = $5, reason = $6,
			status = $7, reviewed_by = $8, reviewed_at = $9, review_note = $10
		WHERE id = $1
	`, j.ID, j.PlanID, j.DisciplineID, j.Date.Format("2006-01-02"), j.Type,
		j.Reason, j.Status, j.ReviewedBy, j.ReviewedAt, j.ReviewNote)
	return errors.Wrap(err, "updating justification")
}

// Delete implements JustificationStore.
func (r *JustificationRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM internship_justifications WHERE id = $1`, id)
	return errors.Wrap(err, "deleting justification")
}

func scanJustification(sc rowScanner) (*Justification, error) {
	var j Justification
	var planID, disciplineID, reviewedBy sql.NullInt64
	var reviewedAt sql.NullTime
	var reviewNote sql.NullString

	err := sc.Scan(
		&j.ID, &j.StudentID, &planID, &disciplineID, &j.Date, &j.Type, &j.Reason,
		&j.Status, &reviewedBy, &reviewedAt, &reviewNote, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		j.PlanID = &planID.Int64
	}
	if disciplineID.Valid {
		j.DisciplineID = &disciplineID.Int64
	}
	if reviewedBy.Valid {
		j.ReviewedBy = &reviewedBy.Int64
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		j.ReviewedAt = &t
	}
	if reviewNote.Valid {
		j.ReviewNote = &reviewNote.String
	}
	return &j, nil
}
