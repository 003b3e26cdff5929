package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
)

// TemplateRepository reads the approval-chain templates that requests are
// instantiated from, and the quiz questions attached to quiz-gated templates.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListForRequest returns the ordered step templates matching a department and
// request type. Department-specific templates take priority over global ones
// (department_id IS NULL); the two sets are never mixed.
func (r *TemplateRepository) ListForRequest(ctx context.Context, departmentID string, requestType RequestType) ([]*ApprovalStepTemplate, error) {
	query := `
		SELECT id, department_id, request_type, step_order, approver_role,
		       approver_id, parallel_group_id, requires_quiz, passing_score
		FROM approval_step_templates
		WHERE request_type = $2
		  AND (department_id = $1 OR department_id IS NULL)
		ORDER BY (department_id IS NULL) ASC, step_order ASC
	`

	rows, err := r.db.Query(ctx, query, departmentID, requestType)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list step templates")
	}
	defer rows.Close()

	var all []*ApprovalStepTemplate
	for rows.Next() {
		t := &ApprovalStepTemplate{}
		err := rows.Scan(
			&t.ID,
			&t.DepartmentID,
			&t.RequestType,
			&t.StepOrder,
			&t.ApproverRole,
			&t.ApproverID,
			&t.ParallelGroupID,
			&t.RequiresQuiz,
			&t.PassingScore,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan step template")
		}
		all = append(all, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list step templates")
	}

	// Keep only the highest-priority set: department-specific when present.
	var departmentSpecific []*ApprovalStepTemplate
	for _, t := range all {
		if t.DepartmentID != nil {
			departmentSpecific = append(departmentSpecific, t)
		}
	}
	if len(departmentSpecific) > 0 {
		return departmentSpecific, nil
	}
	return all, nil
}

// ListQuizQuestions returns the questions of a quiz-gated template.
func (r *TemplateRepository) ListQuizQuestions(ctx context.Context, templateID string) ([]*QuizQuestion, error) {
	query := `
		SELECT id, template_id, prompt, correct_option
		FROM quiz_questions
		WHERE template_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list quiz questions")
	}
	defer rows.Close()

	return scanQuizRows(rows)
}

// ListQuizQuestionsForStep returns the questions backing an instantiated
// step, resolved through the step's originating template.
func (r *TemplateRepository) ListQuizQuestionsForStep(ctx context.Context, stepID string) ([]*QuizQuestion, error) {
	query := `
		SELECT q.id, q.template_id, q.prompt, q.correct_option
		FROM quiz_questions q
		JOIN request_approval_steps s ON s.template_id = q.template_id
		WHERE s.id = $1
		ORDER BY q.id
	`

	rows, err := r.db.Query(ctx, query, stepID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list quiz questions for step")
	}
	defer rows.Close()

	return scanQuizRows(rows)
}

func scanQuizRows(rows pgx.Rows) ([]*QuizQuestion, error) {
	var questions []*QuizQuestion
	for rows.Next() {
		q := &QuizQuestion{}
		if err := rows.Scan(&q.ID, &q.TemplateID, &q.Prompt, &q.CorrectOption); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan quiz question")
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
