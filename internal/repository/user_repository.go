package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// UserRepository reads users and writes their leave counters. Counter writes
// use a version column so concurrent mutations (ledger vs. scheduler) fail
// fast instead of silently overwriting each other.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, name, email, department_id, supervisor_id, substitute_id,
	employment_start_date, is_admin, is_active,
	annual_vacation_days, vacation_days_used,
	on_demand_vacation_days_used, circumstantial_leave_days_used,
	carried_over_vacation_days, carried_over_expiry_date,
	version, created_at, updated_at
`

// GetByID returns one user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	return u, err
}

// UpdateCounters persists the leave counters of u, guarded by u.Version.
// Returns a CONFLICT error when the row changed since it was read; callers
// re-read and retry.
func (r *UserRepository) UpdateCounters(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET annual_vacation_days           = $2,
		    vacation_days_used             = $3,
		    on_demand_vacation_days_used   = $4,
		    circumstantial_leave_days_used = $5,
		    carried_over_vacation_days     = $6,
		    carried_over_expiry_date       = $7,
		    version                        = version + 1,
		    updated_at                     = NOW()
		WHERE id = $1 AND version = $8
		RETURNING version
	`

	err := r.db.QueryRow(ctx, query,
		u.ID,
		u.AnnualVacationDays,
		u.VacationDaysUsed,
		u.OnDemandVacationDaysUsed,
		u.CircumstantialLeaveDaysUsed,
		u.CarriedOverVacationDays,
		u.CarriedOverExpiryDate,
		u.Version,
	).Scan(&u.Version)
	if err == pgx.ErrNoRows {
		return errors.New(errors.CodeConflict, "user counters changed concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update user counters")
	}
	return nil
}

// ListActiveUsers returns all active users, for batch jobs.
func (r *UserRepository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list active users")
	}
	defer rows.Close()

	return scanUserRows(rows)
}

// ListActiveByDepartment returns the active members of one department.
func (r *UserRepository) ListActiveByDepartment(ctx context.Context, departmentID string) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE department_id = $1 AND is_active ORDER BY id`

	rows, err := r.db.Query(ctx, query, departmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list department users")
	}
	defer rows.Close()

	return scanUserRows(rows)
}

// ListUsersWithCarriedOverDays returns active users still holding a nonzero
// carry-over balance.
func (r *UserRepository) ListUsersWithCarriedOverDays(ctx context.Context) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_active
		  AND carried_over_vacation_days IS NOT NULL
		  AND carried_over_vacation_days > 0
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list users with carry-over")
	}
	defer rows.Close()

	return scanUserRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.DepartmentID,
		&u.SupervisorID,
		&u.SubstituteID,
		&u.EmploymentStartDate,
		&u.IsAdmin,
		&u.IsActive,
		&u.AnnualVacationDays,
		&u.VacationDaysUsed,
		&u.OnDemandVacationDaysUsed,
		&u.CircumstantialLeaveDaysUsed,
		&u.CarriedOverVacationDays,
		&u.CarriedOverExpiryDate,
		&u.Version,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUserRows(rows pgx.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
