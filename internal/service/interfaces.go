package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// Persistence is consumed through narrow interfaces so the workflow logic can
// be exercised against in-memory fakes. The pgx implementations live in
// internal/repository.

// UserStore reads and writes user rows and their leave counters.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
	UpdateCounters(ctx context.Context, u *repository.User) error
	ListActiveUsers(ctx context.Context) ([]*repository.User, error)
	ListActiveByDepartment(ctx context.Context, departmentID string) ([]*repository.User, error)
	ListUsersWithCarriedOverDays(ctx context.Context) ([]*repository.User, error)
}

// ScheduleStore persists materialized vacation periods.
type ScheduleStore interface {
	Create(ctx context.Context, s *repository.VacationSchedule) error
	GetByID(ctx context.Context, id string) (*repository.VacationSchedule, error)
	UpdateStatus(ctx context.Context, s *repository.VacationSchedule, status repository.ScheduleStatus) error
	ListByDepartmentAndRange(ctx context.Context, departmentID string, start, end time.Time) ([]*repository.VacationSchedule, error)
	ListByUserAndRange(ctx context.Context, userID string, start, end time.Time) ([]*repository.VacationSchedule, error)
	ListScheduledToActivate(ctx context.Context, today time.Time) ([]*repository.VacationSchedule, error)
	ListActiveToComplete(ctx context.Context, today time.Time) ([]*repository.VacationSchedule, error)
	ListScheduledStartingOn(ctx context.Context, day time.Time) ([]*repository.VacationSchedule, error)
}

// SickLeaveStore persists sick-leave records.
type SickLeaveStore interface {
	Create(ctx context.Context, s *repository.SickLeave) error
	GetBySourceRequestID(ctx context.Context, requestID string) (*repository.SickLeave, error)
	ListActiveToComplete(ctx context.Context, today time.Time) ([]*repository.SickLeave, error)
	UpdateStatus(ctx context.Context, id string, status repository.SickLeaveStatus) error
}

// RequestStore persists requests and their approval steps.
type RequestStore interface {
	Create(ctx context.Context, req *repository.Request) error
	GetByID(ctx context.Context, id string) (*repository.Request, error)
	UpdateStatus(ctx context.Context, id string, status repository.RequestStatus) error
	UpdateFormData(ctx context.Context, id string, formData map[string]any, startDate, endDate time.Time) error
	UpdateStep(ctx context.Context, step *repository.RequestApprovalStep) error
	ListOverdueApprovalSteps(ctx context.Context, threshold time.Time) ([]*repository.RequestApprovalStep, error)
	ListPendingForApprover(ctx context.Context, approverID string) ([]*repository.RequestApprovalStep, error)
	ListApprovedSickLeaveRequests(ctx context.Context) ([]*repository.Request, error)
}

// TemplateStore reads approval chain templates and their quiz questions.
type TemplateStore interface {
	ListForRequest(ctx context.Context, departmentID string, requestType repository.RequestType) ([]*repository.ApprovalStepTemplate, error)
	ListQuizQuestionsForStep(ctx context.Context, stepID string) ([]*repository.QuizQuestion, error)
}

// DelegationStore resolves active approval delegations.
type DelegationStore interface {
	FindActiveFor(ctx context.Context, approverID string, day time.Time) (*repository.ApprovalDelegation, error)
}

// AuditStore appends to and reads the audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditLogEntry) error
	GetByEntity(ctx context.Context, entityType, entityID string) ([]*repository.AuditLogEntry, error)
}

// Notifier delivers user-facing notifications. Delivery is best effort; the
// implementation must never return delivery failures to the workflow.
type Notifier interface {
	Send(ctx context.Context, n client.Notification)
}
