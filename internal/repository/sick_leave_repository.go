package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// SickLeaveRepository manages sick-leave records.
type SickLeaveRepository struct {
	db *database.DB
}

// NewSickLeaveRepository creates a new SickLeaveRepository.
func NewSickLeaveRepository(db *database.DB) *SickLeaveRepository {
	return &SickLeaveRepository{db: db}
}

const sickLeaveColumns = `
	id, user_id, start_date, end_date, source_request_id, status,
	created_at, updated_at
`

// Create inserts a sick-leave record. source_request_id carries a unique
// constraint, so re-running the conversion sweep cannot duplicate records.
func (r *SickLeaveRepository) Create(ctx context.Context, s *SickLeave) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sick_leaves
		    (id, user_id, start_date, end_date, source_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6::sick_leave_status)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.UserID,
		s.StartDate,
		s.EndDate,
		s.SourceRequestID,
		s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create sick leave")
	}
	return nil
}

// GetBySourceRequestID returns the record created for a request, or nil.
func (r *SickLeaveRepository) GetBySourceRequestID(ctx context.Context, requestID string) (*SickLeave, error) {
	query := `SELECT ` + sickLeaveColumns + ` FROM sick_leaves WHERE source_request_id = $1`

	s, err := scanSickLeave(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListActiveToComplete returns active sick leaves whose end date has passed.
func (r *SickLeaveRepository) ListActiveToComplete(ctx context.Context, today time.Time) ([]*SickLeave, error) {
	query := `
		SELECT ` + sickLeaveColumns + `
		FROM sick_leaves
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date
	`

	rows, err := r.db.Query(ctx, query, today)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list sick leaves to complete")
	}
	defer rows.Close()

	var leaves []*SickLeave
	for rows.Next() {
		s, err := scanSickLeave(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan sick leave")
		}
		leaves = append(leaves, s)
	}
	return leaves, rows.Err()
}

// UpdateStatus transitions a sick-leave record.
func (r *SickLeaveRepository) UpdateStatus(ctx context.Context, id string, status SickLeaveStatus) error {
	query := `
		UPDATE sick_leaves
		SET status = $2::sick_leave_status, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("sick_leave", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update sick leave status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type sickLeaveScanner interface {
	Scan(dest ...any) error
}

func scanSickLeave(row sickLeaveScanner) (*SickLeave, error) {
	s := &SickLeave{}
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StartDate,
		&s.EndDate,
		&s.SourceRequestID,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
