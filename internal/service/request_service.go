package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// RequestService orchestrates the request lifecycle: submission with
// validation and approval chain instantiation, decision handling with
// ledger debit and schedule materialization on final approval, edits,
// cancellation with ledger credit, and the read endpoints.
type RequestService struct {
	requests   RequestStore
	users      UserStore
	schedules  ScheduleStore
	sickLeaves SickLeaveStore
	templates  TemplateStore
	audit      AuditStore
	notifier   Notifier
	ledger     *LedgerService
	approvals  *ApprovalService
	conflicts  *ConflictService
	policy     config.LeavePolicy
	log        *logger.Logger
	now        func() time.Time
}

// NewRequestService creates a new request service.
func NewRequestService(
	requests RequestStore,
	users UserStore,
	schedules ScheduleStore,
	sickLeaves SickLeaveStore,
	templates TemplateStore,
	audit AuditStore,
	notifier Notifier,
	ledger *LedgerService,
	approvals *ApprovalService,
	conflicts *ConflictService,
	policy config.LeavePolicy,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		requests:   requests,
		users:      users,
		schedules:  schedules,
		sickLeaves: sickLeaves,
		templates:  templates,
		audit:      audit,
		notifier:   notifier,
		ledger:     ledger,
		approvals:  approvals,
		conflicts:  conflicts,
		policy:     policy,
		log:        log,
		now:        time.Now,
	}
}

// SubmitRequestInput carries a new leave request.
type SubmitRequestInput struct {
	UserID           string
	Type             repository.RequestType
	StartDate        time.Time
	EndDate          time.Time
	ReasonCategory   *string
	HasDocumentation bool
	FormData         map[string]any
}

// DecideStepInput carries one approver decision.
type DecideStepInput struct {
	RequestID   string
	StepID      string
	ActorID     string
	Decision    Decision
	QuizAnswers map[string]int
	Notes       *string
}

// ── submission ───────────────────────────────────────────────────────────────

// SubmitRequest validates a new leave request, instantiates its approval
// chain from the matching templates, and persists it. Sick leave skips the
// chain entirely and lands directly in Approved; the daily sweep later
// materializes the SickLeave record.
func (s *RequestService) SubmitRequest(ctx context.Context, in *SubmitRequestInput) (*repository.Request, error) {
	if err := validateRange(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	days := repository.CalendarDays(in.StartDate, in.EndDate)
	if err := s.ledger.CheckAvailability(ctx, in.UserID, days, in.Type, in.ReasonCategory); err != nil {
		return nil, err
	}

	if in.Type == repository.RequestTypeCircumstantial && !in.HasDocumentation {
		if s.ledger.DocumentationRequired(*in.ReasonCategory, days) {
			return nil, errors.Validation(errors.ReasonDocumentationRequired,
				fmt.Sprintf("circumstantial leave of %d days for %q requires supporting documentation", days, *in.ReasonCategory))
		}
	}

	if in.Type == repository.RequestTypeVacation || in.Type == repository.RequestTypeOnDemand {
		analysis, err := s.conflicts.AnalyzeConflicts(ctx, in.UserID, user.DepartmentID, in.StartDate, in.EndDate)
		if err != nil {
			return nil, err
		}
		if !analysis.CanBeApproved {
			return nil, errors.Validation(errors.ReasonConflictingSchedule, firstCriticalMessage(analysis))
		}
	}

	now := s.now()
	req := &repository.Request{
		ID:               uuid.New().String(),
		UserID:           in.UserID,
		DepartmentID:     user.DepartmentID,
		Type:             in.Type,
		StartDate:        repository.TruncateToDay(in.StartDate),
		EndDate:          repository.TruncateToDay(in.EndDate),
		ReasonCategory:   in.ReasonCategory,
		HasDocumentation: in.HasDocumentation,
		FormData:         in.FormData,
		SubmittedAt:      &now,
	}

	if in.Type == repository.RequestTypeSickLeave {
		req.Status = repository.RequestStatusApproved
	} else {
		req.Status = repository.RequestStatusInReview
		steps, err := s.instantiateSteps(ctx, req, user, now)
		if err != nil {
			return nil, err
		}
		req.Steps = steps
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, "Request", req.ID, "request_submitted", in.UserID, nil, strPtr(string(req.Status)), nil)

	if req.Status == repository.RequestStatusApproved {
		s.notifier.Send(ctx, client.Notification{
			UserID:            req.UserID,
			Type:              "request_approved",
			Title:             "Sick leave registered",
			Message:           "Your sick leave has been registered and approved automatically.",
			RelatedEntityType: "Request",
			RelatedEntityID:   req.ID,
		})
	} else {
		for _, st := range req.Steps {
			if st.Status != repository.StepStatusInReview {
				continue
			}
			s.notifier.Send(ctx, client.Notification{
				UserID:            st.ApproverID,
				Type:              "approval_required",
				Title:             "Leave request awaiting your decision",
				Message:           fmt.Sprintf("A %s request for %d days awaits your decision.", req.Type, days),
				RelatedEntityType: "Request",
				RelatedEntityID:   req.ID,
				ActionURL:         "/requests/" + req.ID,
			})
		}
	}

	return req, nil
}

// instantiateSteps builds the approval chain from the department's templates,
// falling back to a single supervisor step when no template matches. The
// first tranche starts in review immediately.
func (s *RequestService) instantiateSteps(ctx context.Context, req *repository.Request, user *repository.User, now time.Time) ([]*repository.RequestApprovalStep, error) {
	tmpls, err := s.templates.ListForRequest(ctx, req.DepartmentID, req.Type)
	if err != nil {
		return nil, err
	}

	var steps []*repository.RequestApprovalStep
	for _, t := range tmpls {
		approverID, err := s.resolveApprover(t, user)
		if err != nil {
			return nil, err
		}
		tid := t.ID
		steps = append(steps, &repository.RequestApprovalStep{
			ID:              uuid.New().String(),
			RequestID:       req.ID,
			TemplateID:      &tid,
			StepOrder:       t.StepOrder,
			ApproverID:      approverID,
			ParallelGroupID: t.ParallelGroupID,
			Status:          repository.StepStatusPending,
			RequiresQuiz:    t.RequiresQuiz,
			PassingScore:    t.PassingScore,
		})
	}

	if len(steps) == 0 {
		if user.SupervisorID == nil {
			return nil, errors.InvalidInput("user", "no approval chain configured and user has no supervisor")
		}
		steps = append(steps, &repository.RequestApprovalStep{
			ID:         uuid.New().String(),
			RequestID:  req.ID,
			StepOrder:  1,
			ApproverID: *user.SupervisorID,
			Status:     repository.StepStatusPending,
		})
	}

	firstOrder := steps[0].StepOrder
	for _, st := range steps {
		if st.StepOrder < firstOrder {
			firstOrder = st.StepOrder
		}
	}
	due := now.AddDate(0, 0, s.policy.ApprovalSLADays)
	for _, st := range steps {
		if st.StepOrder == firstOrder {
			st.Status = repository.StepStatusInReview
			started := now
			st.StartedAt = &started
			d := due
			st.DueAt = &d
		}
	}
	return steps, nil
}

func (s *RequestService) resolveApprover(t *repository.ApprovalStepTemplate, user *repository.User) (string, error) {
	if t.ApproverID != nil && *t.ApproverID != "" {
		return *t.ApproverID, nil
	}
	switch t.ApproverRole {
	case "supervisor":
		if user.SupervisorID == nil {
			return "", errors.InvalidInput("user", "approval chain requires a supervisor but user has none")
		}
		return *user.SupervisorID, nil
	default:
		return "", errors.InvalidInput("approver_role", fmt.Sprintf("unknown approver role %q", t.ApproverRole))
	}
}

// ── decisions ────────────────────────────────────────────────────────────────

// DecideApprovalStep records a decision and, when it finalizes the request as
// approved, debits the ledger and materializes the vacation schedule.
func (s *RequestService) DecideApprovalStep(ctx context.Context, in *DecideStepInput) (*StepResult, error) {
	result, err := s.approvals.AdvanceStep(ctx, in.RequestID, in.StepID, in.ActorID, in.Decision, in.QuizAnswers, in.Notes)
	if err != nil {
		return nil, err
	}

	if result.Finalized && result.RequestStatus == repository.RequestStatusApproved {
		if err := s.finalizeApproval(ctx, in.RequestID, in.ActorID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// finalizeApproval debits the ledger and creates the schedule for a freshly
// approved request. Sick leave is materialized by the daily sweep instead.
//
// The debit runs first: a schedule must never exist without its days being
// accounted for, since the daily sweep would activate it as unaccounted
// leave. When the balance was consumed between submission and approval the
// approval cannot stand and the request is rejected. A schedule creation
// failure after a committed debit is compensated with a credit.
func (s *RequestService) finalizeApproval(ctx context.Context, requestID, actorID string) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Type == repository.RequestTypeSickLeave {
		return nil
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return err
	}

	if err := s.ledger.Debit(ctx, req.UserID, req.DaysCount(), req.Type, req.ReasonCategory, actorID); err != nil {
		if errors.CodeOf(err) == errors.CodeValidation {
			s.rejectUnfundedApproval(ctx, req, actorID)
		}
		return err
	}

	schedule := &repository.VacationSchedule{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		SubstituteUserID: user.SubstituteID,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		SourceRequestID:  req.ID,
		Status:           repository.ScheduleStatusScheduled,
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		if cerr := s.ledger.Credit(ctx, req.UserID, req.DaysCount(), req.Type, actorID); cerr != nil {
			s.log.Error().Err(cerr).Str("request_id", req.ID).Msg("request: failed to credit back after schedule creation failure")
		}
		return err
	}

	s.appendAudit(ctx, "VacationSchedule", schedule.ID, "schedule_created", actorID, nil, strPtr(string(schedule.Status)), nil)

	if user.SubstituteID != nil {
		s.notifier.Send(ctx, client.Notification{
			UserID:            *user.SubstituteID,
			Type:              "substitute_assigned",
			Title:             "You are assigned as a substitute",
			Message: fmt.Sprintf("You will substitute for %s from %s to %s.",
				user.Name, schedule.StartDate.Format("2006-01-02"), schedule.EndDate.Format("2006-01-02")),
			RelatedEntityType: "VacationSchedule",
			RelatedEntityID:   schedule.ID,
		})
	}
	return nil
}

// rejectUnfundedApproval flips an approved request back to Rejected when the
// finalizing debit cannot be funded, so no approved request exists without
// its accounting. Failures are logged, the original debit error is what the
// caller reports.
func (s *RequestService) rejectUnfundedApproval(ctx context.Context, req *repository.Request, actorID string) {
	if err := s.requests.UpdateStatus(ctx, req.ID, repository.RequestStatusRejected); err != nil {
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("request: failed to reject request after unfunded debit")
		return
	}
	old := string(repository.RequestStatusApproved)
	s.appendAudit(ctx, "Request", req.ID, "request_rejected", actorID, &old, strPtr(string(repository.RequestStatusRejected)), strPtr("insufficient balance at finalization"))
	s.notifier.Send(ctx, client.Notification{
		UserID:            req.UserID,
		Type:              "request_rejected",
		Title:             "Leave request rejected",
		Message:           "Your leave request was approved but could not be finalized: the remaining balance no longer covers it.",
		RelatedEntityType: "Request",
		RelatedEntityID:   req.ID,
		ActionURL:         "/requests/" + req.ID,
	})
}

// ── edits ────────────────────────────────────────────────────────────────────

// EditRequest updates the form data and dates of an in-flight request.
// Permitted only while the request is Draft or InReview. Approvers who have
// already decided are notified that the basis of their decision changed;
// approvers who have not yet acted are not.
func (s *RequestService) EditRequest(ctx context.Context, requestID, actorID string, formData map[string]any, startDate, endDate time.Time) (*repository.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if req.UserID != actorID && !actor.IsAdmin {
		return nil, errors.Forbidden("only the submitter or an admin may edit a request")
	}

	if req.Status != repository.RequestStatusDraft && req.Status != repository.RequestStatusInReview {
		return nil, errors.Validation(errors.ReasonInvalidStatusTransition,
			fmt.Sprintf("request is %s and can no longer be edited", req.Status))
	}
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}

	days := repository.CalendarDays(startDate, endDate)
	if err := s.ledger.CheckAvailability(ctx, req.UserID, days, req.Type, req.ReasonCategory); err != nil {
		return nil, err
	}

	oldRange := fmt.Sprintf("%s..%s", req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02"))
	newRange := fmt.Sprintf("%s..%s", repository.TruncateToDay(startDate).Format("2006-01-02"), repository.TruncateToDay(endDate).Format("2006-01-02"))

	if err := s.requests.UpdateFormData(ctx, requestID, formData, repository.TruncateToDay(startDate), repository.TruncateToDay(endDate)); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, "Request", requestID, "request_edited", actorID, &oldRange, &newRange, nil)

	for _, st := range req.Steps {
		if !st.Terminal() {
			continue
		}
		s.notifier.Send(ctx, client.Notification{
			UserID:            st.ApproverID,
			Type:              "request_edited",
			Title:             "A request you decided on was edited",
			Message:           "A leave request you already decided on has been modified; your decision's basis has changed.",
			RelatedEntityType: "Request",
			RelatedEntityID:   requestID,
			ActionURL:         "/requests/" + requestID,
		})
	}

	return s.requests.GetByID(ctx, requestID)
}

// ── cancellation ─────────────────────────────────────────────────────────────

// CancelVacation cancels a scheduled or active vacation and reverses the
// ledger debit. Admins may cancel at any time; the owner may cancel while the
// vacation has not started; an approver of the source request may cancel
// within the configured window after the start date.
func (s *RequestService) CancelVacation(ctx context.Context, scheduleID, actorID string, reason *string) error {
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if schedule.Status != repository.ScheduleStatusScheduled && schedule.Status != repository.ScheduleStatusActive {
		return errors.Validation(errors.ReasonInvalidStatusTransition,
			fmt.Sprintf("schedule is %s and cannot be cancelled", schedule.Status))
	}

	req, err := s.requests.GetByID(ctx, schedule.SourceRequestID)
	if err != nil {
		return err
	}

	if err := s.authorizeCancellation(ctx, schedule, req, actorID); err != nil {
		return err
	}

	oldStatus := schedule.Status
	old := string(oldStatus)
	if err := s.schedules.UpdateStatus(ctx, schedule, repository.ScheduleStatusCancelled); err != nil {
		return err
	}

	if err := s.ledger.Credit(ctx, schedule.UserID, schedule.DaysCount(), req.Type, actorID); err != nil {
		if rerr := s.schedules.UpdateStatus(ctx, schedule, oldStatus); rerr != nil {
			s.log.Error().Err(rerr).Str("schedule_id", scheduleID).Msg("request: failed to restore schedule status after credit failure")
		}
		return err
	}

	if err := s.requests.UpdateStatus(ctx, req.ID, repository.RequestStatusCancelled); err != nil {
		return err
	}

	s.appendAudit(ctx, "VacationSchedule", scheduleID, "schedule_cancelled", actorID, &old, strPtr(string(repository.ScheduleStatusCancelled)), reason)

	s.notifier.Send(ctx, client.Notification{
		UserID:            schedule.UserID,
		Type:              "vacation_cancelled",
		Title:             "Vacation cancelled",
		Message: fmt.Sprintf("Your vacation from %s to %s has been cancelled.",
			schedule.StartDate.Format("2006-01-02"), schedule.EndDate.Format("2006-01-02")),
		RelatedEntityType: "VacationSchedule",
		RelatedEntityID:   scheduleID,
	})
	if schedule.SubstituteUserID != nil {
		s.notifier.Send(ctx, client.Notification{
			UserID:            *schedule.SubstituteUserID,
			Type:              "vacation_cancelled",
			Title:             "Substitution no longer needed",
			Message:           "A vacation you were substituting for has been cancelled.",
			RelatedEntityType: "VacationSchedule",
			RelatedEntityID:   scheduleID,
		})
	}
	return nil
}

// authorizeCancellation enforces the cancellation authority rules.
func (s *RequestService) authorizeCancellation(ctx context.Context, schedule *repository.VacationSchedule, req *repository.Request, actorID string) error {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.IsAdmin {
		return nil
	}

	today := repository.TruncateToDay(s.now())

	if actorID == schedule.UserID {
		if !today.Before(repository.TruncateToDay(schedule.StartDate)) {
			return errors.Validation(errors.ReasonCancellationWindowClosed,
				"you can only cancel your own vacation before it starts")
		}
		return nil
	}

	for _, st := range req.Steps {
		if st.ApproverID != actorID {
			continue
		}
		deadline := repository.TruncateToDay(schedule.StartDate).AddDate(0, 0, s.policy.CancellationWindowDays)
		if today.After(deadline) {
			return errors.Validation(errors.ReasonCancellationWindowClosed,
				fmt.Sprintf("approvers may cancel only within %d day(s) of the start date", s.policy.CancellationWindowDays))
		}
		return nil
	}

	return errors.Forbidden("actor has no authority to cancel this vacation")
}

// ── reads ────────────────────────────────────────────────────────────────────

// CalendarEntry is one schedule on the team calendar, enriched with the
// owner's name.
type CalendarEntry struct {
	Schedule *repository.VacationSchedule
	UserName string
}

// GetTeamVacationCalendar lists the department's schedules overlapping the
// given range.
func (s *RequestService) GetTeamVacationCalendar(ctx context.Context, departmentID string, start, end time.Time) ([]*CalendarEntry, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	schedules, err := s.schedules.ListByDepartmentAndRange(ctx, departmentID, start, end)
	if err != nil {
		return nil, err
	}
	team, err := s.users.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(team))
	for _, u := range team {
		names[u.ID] = u.Name
	}

	entries := make([]*CalendarEntry, 0, len(schedules))
	for _, sch := range schedules {
		entries = append(entries, &CalendarEntry{Schedule: sch, UserName: names[sch.UserID]})
	}
	return entries, nil
}

// VacationSummary is the per-user balance view shown on the portal dashboard.
type VacationSummary struct {
	UserID                      string
	AnnualVacationDays          int
	VacationDaysUsed            int
	VacationDaysRemaining       int
	OnDemandDaysUsed            int
	OnDemandDaysRemaining       int
	CircumstantialLeaveDaysUsed int
	CarriedOverVacationDays     int
	CarriedOverExpiryDate       *time.Time
	UpcomingVacations           []*repository.VacationSchedule
}

// GetVacationSummary assembles a user's leave balances and upcoming
// schedules.
func (s *RequestService) GetVacationSummary(ctx context.Context, userID string) (*VacationSummary, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	upcoming, err := s.schedules.ListByUserAndRange(ctx, userID, now, now.AddDate(1, 0, 0))
	if err != nil {
		return nil, err
	}

	summary := &VacationSummary{
		UserID:                      u.ID,
		AnnualVacationDays:          u.AnnualVacationDays,
		VacationDaysUsed:            u.VacationDaysUsed,
		VacationDaysRemaining:       s.ledger.available(u, now),
		OnDemandDaysUsed:            u.OnDemandVacationDaysUsed,
		OnDemandDaysRemaining:       s.ledger.OnDemandRemaining(u),
		CircumstantialLeaveDaysUsed: u.CircumstantialLeaveDaysUsed,
		CarriedOverExpiryDate:       u.CarriedOverExpiryDate,
		UpcomingVacations:           upcoming,
	}
	if u.CarriedOverVacationDays != nil {
		summary.CarriedOverVacationDays = *u.CarriedOverVacationDays
	}
	return summary, nil
}

// GetPendingApprovals lists the steps currently awaiting the approver's
// decision.
func (s *RequestService) GetPendingApprovals(ctx context.Context, approverID string) ([]*repository.RequestApprovalStep, error) {
	return s.requests.ListPendingForApprover(ctx, approverID)
}

// GetAuditTrail returns the audit entries for one entity, oldest first.
func (s *RequestService) GetAuditTrail(ctx context.Context, entityType, entityID string) ([]*repository.AuditLogEntry, error) {
	return s.audit.GetByEntity(ctx, entityType, entityID)
}

// GetRequest loads a request with its steps.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*repository.Request, error) {
	return s.requests.GetByID(ctx, id)
}

// AnalyzeConflicts exposes the conflict analyzer for pre-submission checks
// from the portal UI.
func (s *RequestService) AnalyzeConflicts(ctx context.Context, userID string, start, end time.Time) (*ConflictResult, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.conflicts.AnalyzeConflicts(ctx, userID, u.DepartmentID, start, end)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errors.InvalidInput("dates", "start and end dates are required")
	}
	if repository.TruncateToDay(end).Before(repository.TruncateToDay(start)) {
		return errors.InvalidInput("end_date", "end date cannot be before start date")
	}
	return nil
}

func firstCriticalMessage(r *ConflictResult) string {
	for _, c := range r.Conflicts {
		if c.Severity == SeverityCritical {
			return c.Message
		}
	}
	return "critical scheduling conflict"
}

func strPtr(s string) *string { return &s }

// appendAudit is best effort, mirroring the approval engine's behavior.
func (s *RequestService) appendAudit(ctx context.Context, entityType, entityID, action, actorID string, oldVal, newVal, reason *string) {
	entry := &repository.AuditLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		OldValue:   oldVal,
		NewValue:   newVal,
		Reason:     reason,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("entity_id", entityID).Str("action", action).Msg("request: failed to write audit entry")
	}
}
