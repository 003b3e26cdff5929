package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// ScheduleRepository manages vacation schedules. Status updates carry a
// version guard so the daily sweep and interactive cancellations cannot race
// each other into a double transition.
type ScheduleRepository struct {
	db *database.DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *database.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `
	id, user_id, substitute_user_id, start_date, end_date,
	source_request_id, status, version, created_at, updated_at
`

// Create inserts a schedule. The id is generated here when empty.
func (r *ScheduleRepository) Create(ctx context.Context, s *VacationSchedule) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO vacation_schedules
		    (id, user_id, substitute_user_id, start_date, end_date,
		     source_request_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7::schedule_status)
		RETURNING version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.UserID,
		s.SubstituteUserID,
		s.StartDate,
		s.EndDate,
		s.SourceRequestID,
		s.Status,
	).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create vacation schedule")
	}
	return nil
}

// GetByID returns one schedule.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*VacationSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM vacation_schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("vacation_schedule", id)
	}
	return s, err
}

// UpdateStatus transitions a schedule, guarded by version. Returns CONFLICT
// when the row changed since it was read.
func (r *ScheduleRepository) UpdateStatus(ctx context.Context, s *VacationSchedule, status ScheduleStatus) error {
	query := `
		UPDATE vacation_schedules
		SET status     = $2::schedule_status,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING version
	`

	err := r.db.QueryRow(ctx, query, s.ID, status, s.Version).Scan(&s.Version)
	if err == pgx.ErrNoRows {
		return errors.New(errors.CodeConflict, "vacation schedule changed concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update schedule status")
	}
	s.Status = status
	return nil
}

// ListByDepartmentAndRange returns scheduled or active vacations of a
// department that overlap [start, end] at all (not just containment).
func (r *ScheduleRepository) ListByDepartmentAndRange(ctx context.Context, departmentID string, start, end time.Time) ([]*VacationSchedule, error) {
	query := `
		SELECT s.id, s.user_id, s.substitute_user_id, s.start_date, s.end_date,
		       s.source_request_id, s.status, s.version, s.created_at, s.updated_at
		FROM vacation_schedules s
		JOIN users u ON u.id = s.user_id
		WHERE u.department_id = $1
		  AND s.status IN ('scheduled', 'active')
		  AND s.start_date <= $3
		  AND s.end_date >= $2
		ORDER BY s.start_date
	`

	rows, err := r.db.Query(ctx, query, departmentID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list department schedules")
	}
	defer rows.Close()

	return scanScheduleRows(rows)
}

// ListByUserAndRange returns scheduled or active vacations of one user
// overlapping [start, end].
func (r *ScheduleRepository) ListByUserAndRange(ctx context.Context, userID string, start, end time.Time) ([]*VacationSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM vacation_schedules
		WHERE user_id = $1
		  AND status IN ('scheduled', 'active')
		  AND start_date <= $3
		  AND end_date >= $2
		ORDER BY start_date
	`

	rows, err := r.db.Query(ctx, query, userID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list user schedules")
	}
	defer rows.Close()

	return scanScheduleRows(rows)
}

// ListScheduledToActivate returns schedules still in 'scheduled' whose start
// date has arrived.
func (r *ScheduleRepository) ListScheduledToActivate(ctx context.Context, today time.Time) ([]*VacationSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM vacation_schedules
		WHERE status = 'scheduled' AND start_date <= $1
		ORDER BY start_date
	`

	rows, err := r.db.Query(ctx, query, today)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list schedules to activate")
	}
	defer rows.Close()

	return scanScheduleRows(rows)
}

// ListActiveToComplete returns active schedules whose end date has passed.
func (r *ScheduleRepository) ListActiveToComplete(ctx context.Context, today time.Time) ([]*VacationSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM vacation_schedules
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date
	`

	rows, err := r.db.Query(ctx, query, today)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list schedules to complete")
	}
	defer rows.Close()

	return scanScheduleRows(rows)
}

// ListScheduledStartingOn returns schedules starting exactly on the given
// day. The reminder sweep derives all its "is today == X" checks from this.
func (r *ScheduleRepository) ListScheduledStartingOn(ctx context.Context, day time.Time) ([]*VacationSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM vacation_schedules
		WHERE status IN ('scheduled', 'active') AND start_date = $1
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query, TruncateToDay(day))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list schedules by start date")
	}
	defer rows.Close()

	return scanScheduleRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type scheduleScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scheduleScanner) (*VacationSchedule, error) {
	s := &VacationSchedule{}
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.SubstituteUserID,
		&s.StartDate,
		&s.EndDate,
		&s.SourceRequestID,
		&s.Status,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanScheduleRows(rows pgx.Rows) ([]*VacationSchedule, error) {
	var schedules []*VacationSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan vacation schedule")
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
