package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// AuditRepository appends and reads immutable audit log entries. The table
// has a delete-prevention trigger, so Append is the only mutation exposed.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditLogEntry) error {
	query := `
		INSERT INTO audit_log
		    (entity_type, entity_id, action, actor_id,
		     old_value, new_value, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, performed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.ActorID,
		entry.OldValue,
		entry.NewValue,
		entry.Reason,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// GetByEntity returns the audit trail for one entity ordered oldest-first.
func (r *AuditRepository) GetByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor_id,
		       old_value, new_value, reason, performed_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	for rows.Next() {
		entry := &AuditLogEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.ActorID,
			&entry.OldValue,
			&entry.NewValue,
			&entry.Reason,
			&entry.PerformedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
