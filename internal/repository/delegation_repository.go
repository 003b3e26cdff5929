package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// DelegationRepository reads approval delegations. Delegations are written by
// the portal's admin surface, which is outside this service.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// FindActiveFor returns the delegation in force for an approver on the given
// day, or nil when none exists. When several overlap, the most recently
// created wins.
func (r *DelegationRepository) FindActiveFor(ctx context.Context, approverID string, day time.Time) (*ApprovalDelegation, error) {
	query := `
		SELECT id, from_user_id, to_user_id, start_date, end_date, is_active, created_at
		FROM approval_delegations
		WHERE from_user_id = $1
		  AND is_active
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY created_at DESC
		LIMIT 1
	`

	d := &ApprovalDelegation{}
	err := r.db.QueryRow(ctx, query, approverID, TruncateToDay(day)).Scan(
		&d.ID,
		&d.FromUserID,
		&d.ToUserID,
		&d.StartDate,
		&d.EndDate,
		&d.IsActive,
		&d.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to find active delegation")
	}
	return d, nil
}
