package checkcode

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Repository persists rotating codes in Postgres. The table keys on
// supervisor_id, so the store itself can never hold two codes for one
// supervisor; Mint's conditional upsert is the race-safety backstop.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Active implements Store.
func (r *Repository) Active(ctx context.Context, supervisorID int64, now time.Time) (*Code, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT supervisor_id, code, generated_at, expires_at, usage_count, last_accessed_at
		FROM check_codes
		WHERE supervisor_id = $1 AND expires_at > $2
	`, supervisorID, now)
	return scanCode(row)
}

// Mint implements Store. The upsert only replaces an existing row when it
// has expired; when a concurrent caller won the race, the follow-up select
// returns their still-valid code.
func (r *Repository) Mint(ctx context.Context, c Code) (*Code, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO check_codes (supervisor_id, code, generated_at, expires_at, usage_count, last_accessed_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (supervisor_id) DO UPDATE SET
			code = EXCLUDED.code,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at,
			usage_count = 0,
			last_accessed_at = EXCLUDED.last_accessed_at
		WHERE check_codes.expires_at <= EXCLUDED.generated_at
		RETURNING supervisor_id, code, generated_at, expires_at, usage_count, last_accessed_at
	`, c.SupervisorID, c.Code, c.GeneratedAt, c.ExpiresAt, c.LastAccessedAt)

	minted, err := scanCode(row)
	if err != nil {
		return nil, err
	}
	if minted != nil {
		return minted, nil
	}

	// Lost the race against a still-valid code.
	winner, err := r.Active(ctx, c.SupervisorID, c.GeneratedAt)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, errors.New("minting check code: no row after upsert")
	}
	return winner, nil
}

// Redeem implements Store.
func (r *Repository) Redeem(ctx context.Context, supervisorID int64, code string, now time.Time) (*Code, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE check_codes
		SET usage_count = usage_count + 1, last_accessed_at = $3
		WHERE supervisor_id = $1
		  AND lower(code) = lower($2)
		  AND generated_at <= $3
		  AND expires_at > $3
		RETURNING supervisor_id, code, generated_at, expires_at, usage_count, last_accessed_at
	`, supervisorID, code, now)
	return scanCode(row)
}

// DeleteUnused implements Store.
func (r *Repository) DeleteUnused(ctx context.Context, threshold time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM check_codes
		WHERE usage_count = 0
		  AND generated_at < $1
		  AND (last_accessed_at IS NULL OR last_accessed_at < $1)
	`, threshold)
	if err != nil {
		return 0, errors.Wrap(err, "deleting unused check codes")
	}
	return res.RowsAffected()
}

func scanCode(row *sql.Row) (*Code, error) {
	var c Code
	var lastAccessed sql.NullTime
	err := row.Scan(&c.SupervisorID, &c.Code, &c.GeneratedAt, &c.ExpiresAt, &c.UsageCount, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning check code")
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		c.LastAccessedAt = &t
	}
	return &c, nil
}
