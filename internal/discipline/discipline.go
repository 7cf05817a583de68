package discipline

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Discipline is a rotation/course a student can be linked to. Supervisor
// links are a plain join table of ids, not an embedded object graph.
type Discipline struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Hours int    `json:"hours"`
	Cycle int    `json:"cycle"`
}

// Repository reads disciplines and supervisor linkage from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a discipline by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id int64) (*Discipline, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, hours, cycle FROM disciplines WHERE id = $1
	`, id)
	var d Discipline
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Hours, &d.Cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting discipline")
	}
	return &d, nil
}

// LinkedToSupervisor reports whether the supervisor is attached to the
// discipline.
func (r *Repository) LinkedToSupervisor(ctx context.Context, disciplineID, supervisorID int64) (bool, error) {
	var linked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM discipline_supervisors
			WHERE discipline_id = $1 AND supervisor_id = $2
		)
	`, disciplineID, supervisorID).Scan(&linked)
	if err != nil {
		return false, errors.Wrap(err, "checking discipline link")
	}
	return linked, nil
}

// ListForSupervisor returns the disciplines a supervisor is linked to.
func (r *Repository) ListForSupervisor(ctx context.Context, supervisorID int64) ([]Discipline, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.id, d.code, d.name, d.hours, d.cycle
		FROM disciplines d
		JOIN discipline_supervisors ds ON ds.discipline_id = d.id
		WHERE ds.supervisor_id = $1
		ORDER BY d.code
	`, supervisorID)
	if err != nil {
		return nil, errors.Wrap(err, "listing supervisor disciplines")
	}
	defer rows.Close()

	var list []Discipline
	for rows.Next() {
		var d Discipline
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Hours, &d.Cycle); err != nil {
			return nil, errors.Wrap(err, "scanning discipline")
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
