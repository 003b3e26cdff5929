package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// RequestRepository manages leave requests and their approval steps.
// Request + step creation is always done together in a single transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, user_id, department_id, type, status, start_date, end_date,
	reason_category, has_documentation, form_data, submitted_at,
	created_at, updated_at
`

const stepColumns = `
	id, request_id, template_id, step_order, approver_id, parallel_group_id,
	status, started_at, finished_at, requires_quiz, passing_score, quiz_score,
	quiz_passed, acted_by, decision_notes, due_at, created_at, updated_at
`

// Create inserts a request and its approval steps in one transaction.
func (r *RequestRepository) Create(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	formJSON, err := json.Marshal(req.FormData)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to marshal request form data")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		reqQuery := `
			INSERT INTO leave_requests
			    (id, user_id, department_id, type, status, start_date, end_date,
			     reason_category, has_documentation, form_data, submitted_at)
			VALUES ($1, $2, $3, $4::request_type, $5::request_status, $6, $7,
			        $8, $9, $10, $11)
			RETURNING created_at, updated_at
		`

		err := tx.QueryRow(ctx, reqQuery,
			req.ID,
			req.UserID,
			req.DepartmentID,
			req.Type,
			req.Status,
			req.StartDate,
			req.EndDate,
			req.ReasonCategory,
			req.HasDocumentation,
			formJSON,
			req.SubmittedAt,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to create leave request")
		}

		stepQuery := `
			INSERT INTO request_approval_steps
			    (id, request_id, template_id, step_order, approver_id,
			     parallel_group_id, status, started_at, requires_quiz,
			     passing_score, due_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::step_status, $8, $9, $10, $11)
			RETURNING created_at, updated_at
		`

		for _, step := range req.Steps {
			if step.ID == "" {
				step.ID = uuid.New().String()
			}
			step.RequestID = req.ID

			err := tx.QueryRow(ctx, stepQuery,
				step.ID,
				step.RequestID,
				step.TemplateID,
				step.StepOrder,
				step.ApproverID,
				step.ParallelGroupID,
				step.Status,
				step.StartedAt,
				step.RequiresQuiz,
				step.PassingScore,
				step.DueAt,
			).Scan(&step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.CodeInternal, "failed to create approval step")
			}
		}

		return nil
	})
}

// GetByID returns a request with its steps eagerly loaded, ordered by
// step_order.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, err
	}

	stepQuery := `
		SELECT ` + stepColumns + `
		FROM request_approval_steps
		WHERE request_id = $1
		ORDER BY step_order ASC, approver_id ASC
	`

	rows, err := r.db.Query(ctx, stepQuery, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	req.Steps, err = scanStepRows(rows)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateStatus sets the overall request status.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, status RequestStatus) error {
	query := `
		UPDATE leave_requests
		SET status = $2::request_status, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update request status")
	}
	return nil
}

// UpdateFormData replaces the editable fields of a request. Status checks are
// the caller's responsibility.
func (r *RequestRepository) UpdateFormData(ctx context.Context, id string, formData map[string]any, startDate, endDate time.Time) error {
	formJSON, err := json.Marshal(formData)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to marshal request form data")
	}

	query := `
		UPDATE leave_requests
		SET form_data  = $2,
		    start_date = $3,
		    end_date   = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err = r.db.QueryRow(ctx, query, id, formJSON, startDate, endDate).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update request form data")
	}
	return nil
}

// UpdateStep persists the mutable decision fields of one step.
func (r *RequestRepository) UpdateStep(ctx context.Context, step *RequestApprovalStep) error {
	query := `
		UPDATE request_approval_steps
		SET status         = $2::step_status,
		    started_at     = $3,
		    finished_at    = $4,
		    quiz_score     = $5,
		    quiz_passed    = $6,
		    acted_by       = $7,
		    decision_notes = $8,
		    due_at         = $9,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		step.ID,
		step.Status,
		step.StartedAt,
		step.FinishedAt,
		step.QuizScore,
		step.QuizPassed,
		step.ActedBy,
		step.DecisionNotes,
		step.DueAt,
	).Scan(&step.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", step.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to update approval step")
	}
	return nil
}

// ListOverdueApprovalSteps returns in-review steps whose decision deadline
// passed before the threshold, for SLA reminders.
func (r *RequestRepository) ListOverdueApprovalSteps(ctx context.Context, threshold time.Time) ([]*RequestApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM request_approval_steps
		WHERE status = 'in_review' AND due_at IS NOT NULL AND due_at < $1
		ORDER BY due_at ASC
	`

	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list overdue steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ListPendingForApprover returns in-review steps awaiting action from a user.
func (r *RequestRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*RequestApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM request_approval_steps
		WHERE status = 'in_review' AND approver_id = $1
		ORDER BY started_at ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ListApprovedSickLeaveRequests returns approved sick-leave requests that
// have no materialized sick-leave record yet. The daily sweep converts them.
func (r *RequestRepository) ListApprovedSickLeaveRequests(ctx context.Context) ([]*Request, error) {
	query := `
		SELECT ` + prefixRequestColumns("r.") + `
		FROM leave_requests r
		LEFT JOIN sick_leaves sl ON sl.source_request_id = r.id
		WHERE r.type = 'sick_leave'
		  AND r.status = 'approved'
		  AND sl.id IS NULL
		ORDER BY r.start_date
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list approved sick-leave requests")
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan request")
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func prefixRequestColumns(prefix string) string {
	return prefix + `id, ` + prefix + `user_id, ` + prefix + `department_id, ` +
		prefix + `type, ` + prefix + `status, ` + prefix + `start_date, ` +
		prefix + `end_date, ` + prefix + `reason_category, ` +
		prefix + `has_documentation, ` + prefix + `form_data, ` +
		prefix + `submitted_at, ` + prefix + `created_at, ` + prefix + `updated_at`
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*Request, error) {
	req := &Request{}
	var formJSON []byte

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.DepartmentID,
		&req.Type,
		&req.Status,
		&req.StartDate,
		&req.EndDate,
		&req.ReasonCategory,
		&req.HasDocumentation,
		&formJSON,
		&req.SubmittedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &req.FormData); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to unmarshal request form data")
		}
	}
	return req, nil
}

func scanStepRows(rows pgx.Rows) ([]*RequestApprovalStep, error) {
	var steps []*RequestApprovalStep
	for rows.Next() {
		s := &RequestApprovalStep{}
		err := rows.Scan(
			&s.ID,
			&s.RequestID,
			&s.TemplateID,
			&s.StepOrder,
			&s.ApproverID,
			&s.ParallelGroupID,
			&s.Status,
			&s.StartedAt,
			&s.FinishedAt,
			&s.RequiresQuiz,
			&s.PassingScore,
			&s.QuizScore,
			&s.QuizPassed,
			&s.ActedBy,
			&s.DecisionNotes,
			&s.DueAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
