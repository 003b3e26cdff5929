package repository

import "time"

// ── Domain types for the leave workflow ──────────────────────────────────────

// RequestType classifies a leave request.
type RequestType string

const (
	RequestTypeVacation       RequestType = "vacation"
	RequestTypeOnDemand       RequestType = "on_demand_vacation"
	RequestTypeCircumstantial RequestType = "circumstantial_leave"
	RequestTypeSickLeave      RequestType = "sick_leave"
)

// RequestStatus is the overall lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusDraft          RequestStatus = "draft"
	RequestStatusInReview       RequestStatus = "in_review"
	RequestStatusApproved       RequestStatus = "approved"
	RequestStatusRejected       RequestStatus = "rejected"
	RequestStatusAwaitingSurvey RequestStatus = "awaiting_survey"
	RequestStatusCancelled      RequestStatus = "cancelled"
)

// StepStatus is the state of a single approval step.
// Terminal states (approved, rejected) are final; steps never reopen.
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusInReview StepStatus = "in_review"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
)

// ScheduleStatus is the lifecycle state of a materialized vacation period.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// SickLeaveStatus is the lifecycle state of a sick-leave record.
type SickLeaveStatus string

const (
	SickLeaveStatusActive    SickLeaveStatus = "active"
	SickLeaveStatusCompleted SickLeaveStatus = "completed"
)

// User carries the leave counters mutated only by the ledger and the
// lifecycle scheduler. Version backs per-row optimistic concurrency.
type User struct {
	ID                          string
	Name                        string
	Email                       string
	DepartmentID                string
	SupervisorID                *string
	SubstituteID                *string
	EmploymentStartDate         time.Time
	IsAdmin                     bool
	IsActive                    bool
	AnnualVacationDays          int
	VacationDaysUsed            int
	OnDemandVacationDaysUsed    int
	CircumstantialLeaveDaysUsed int
	CarriedOverVacationDays     *int
	CarriedOverExpiryDate       *time.Time
	Version                     int
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// VacationSchedule is one materialized leave period. It is owned by the
// originating request via SourceRequestID but lives independently once
// created.
type VacationSchedule struct {
	ID               string
	UserID           string
	SubstituteUserID *string
	StartDate        time.Time
	EndDate          time.Time
	SourceRequestID  string
	Status           ScheduleStatus
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DaysCount is the inclusive calendar-day length of the schedule.
// Re-derived on read, never stored.
func (s *VacationSchedule) DaysCount() int {
	return calendarDays(s.StartDate, s.EndDate)
}

// Covers reports whether day falls inside the schedule (inclusive bounds).
func (s *VacationSchedule) Covers(day time.Time) bool {
	d := truncateToDay(day)
	return !d.Before(truncateToDay(s.StartDate)) && !d.After(truncateToDay(s.EndDate))
}

// Overlaps reports whether the schedule intersects [start, end] at all.
func (s *VacationSchedule) Overlaps(start, end time.Time) bool {
	return !truncateToDay(s.EndDate).Before(truncateToDay(start)) &&
		!truncateToDay(s.StartDate).After(truncateToDay(end))
}

// SickLeave is the auto-approved analogue of VacationSchedule.
type SickLeave struct {
	ID              string
	UserID          string
	StartDate       time.Time
	EndDate         time.Time
	SourceRequestID string
	Status          SickLeaveStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DaysCount is the inclusive calendar-day length of the leave.
func (s *SickLeave) DaysCount() int {
	return calendarDays(s.StartDate, s.EndDate)
}

// RequiresZusDocument reports whether the leave exceeds the statutory
// certification threshold. Derived, never stored.
func (s *SickLeave) RequiresZusDocument(thresholdDays int) bool {
	return s.DaysCount() > thresholdDays
}

// Request is a user-submitted leave request advancing through approval steps.
type Request struct {
	ID               string
	UserID           string
	DepartmentID     string
	Type             RequestType
	Status           RequestStatus
	StartDate        time.Time
	EndDate          time.Time
	ReasonCategory   *string
	HasDocumentation bool
	FormData         map[string]any
	SubmittedAt      *time.Time
	Steps            []*RequestApprovalStep
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DaysCount is the inclusive calendar-day length of the requested period.
func (r *Request) DaysCount() int {
	return calendarDays(r.StartDate, r.EndDate)
}

// RequestApprovalStep is one step in a request's ordered approval chain.
// Steps sharing a ParallelGroupID are concurrent alternatives rather than a
// strict sequence.
type RequestApprovalStep struct {
	ID              string
	RequestID       string
	TemplateID      *string
	StepOrder       int
	ApproverID      string
	ParallelGroupID *string
	Status          StepStatus
	StartedAt       *time.Time
	FinishedAt      *time.Time
	RequiresQuiz    bool
	PassingScore    *int
	QuizScore       *int
	QuizPassed      *bool
	ActedBy         *string
	DecisionNotes   *string
	DueAt           *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the step has reached a final state.
func (s *RequestApprovalStep) Terminal() bool {
	return s.Status == StepStatusApproved || s.Status == StepStatusRejected
}

// ApprovalStepTemplate defines one step of the chain instantiated on request
// submission. Either ApproverID names a fixed approver or ApproverRole is
// resolved against the submitting user (currently only "supervisor").
type ApprovalStepTemplate struct {
	ID              string
	DepartmentID    *string
	RequestType     RequestType
	StepOrder       int
	ApproverRole    string
	ApproverID      *string
	ParallelGroupID *string
	RequiresQuiz    bool
	PassingScore    *int
}

// QuizQuestion is one scored question attached to a quiz-gated step template.
type QuizQuestion struct {
	ID            string
	TemplateID    string
	Prompt        string
	CorrectOption int
}

// ApprovalDelegation is a time-bounded authority transfer. The delegate may
// act in the original approver's place while [StartDate, EndDate] covers the
// decision date.
type ApprovalDelegation struct {
	ID         string
	FromUserID string
	ToUserID   string
	StartDate  time.Time
	EndDate    *time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// CoversDate reports whether the delegation is in force on the given day.
func (d *ApprovalDelegation) CoversDate(day time.Time) bool {
	if !d.IsActive {
		return false
	}
	t := truncateToDay(day)
	if t.Before(truncateToDay(d.StartDate)) {
		return false
	}
	if d.EndDate != nil && t.After(truncateToDay(*d.EndDate)) {
		return false
	}
	return true
}

// AuditLogEntry is one immutable record in the audit trail.
type AuditLogEntry struct {
	ID          string
	EntityType  string
	EntityID    string
	Action      string
	ActorID     string
	OldValue    *string
	NewValue    *string
	Reason      *string
	PerformedAt time.Time
}

// ── date helpers ─────────────────────────────────────────────────────────────

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func calendarDays(start, end time.Time) int {
	s := truncateToDay(start)
	e := truncateToDay(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// CalendarDays is the inclusive day count between two dates, used by callers
// that work on raw ranges rather than schedules.
func CalendarDays(start, end time.Time) int {
	return calendarDays(start, end)
}

// TruncateToDay drops the time-of-day component.
func TruncateToDay(t time.Time) time.Time {
	return truncateToDay(t)
}
