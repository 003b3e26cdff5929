package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// Decision is an approver's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// StepResult describes the outcome of advancing one approval step.
type StepResult struct {
	Step          *repository.RequestApprovalStep
	RequestStatus repository.RequestStatus
	// Finalized is true when this decision resolved the whole request
	// (approved or rejected). On approval the orchestrator reacts by
	// debiting the ledger and materializing the schedule.
	Finalized bool
	QuizScore *int
}

// ApprovalService is the state machine over a request's ordered approval
// steps: delegation resolution, quiz gating, parallel groups, and the
// audit/notification side effects of every transition. Decisions on one
// request are serialized through a per-request lock; the group outcome is
// therefore decided under the same lock that recorded its member decisions.
type ApprovalService struct {
	requests    RequestStore
	templates   TemplateStore
	delegations DelegationStore
	audit       AuditStore
	notifier    Notifier
	policy      config.LeavePolicy
	log         *logger.Logger
	locks       *keyedMutex
	now         func() time.Time
}

// NewApprovalService creates a new approval service.
func NewApprovalService(
	requests RequestStore,
	templates TemplateStore,
	delegations DelegationStore,
	audit AuditStore,
	notifier Notifier,
	policy config.LeavePolicy,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		requests:    requests,
		templates:   templates,
		delegations: delegations,
		audit:       audit,
		notifier:    notifier,
		policy:      policy,
		log:         log,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

// AdvanceStep records one approver decision and advances the request.
//
// The actor must be the step's approver or an active delegate of theirs; the
// decision is recorded against the original step either way, with the actual
// actor in the audit trail. A quiz-gated approval is only accepted once the
// supplied answers score at or above the passing threshold; a failing score
// rejects the step and surfaces a QuizFailed validation error.
func (s *ApprovalService) AdvanceStep(ctx context.Context, requestID, stepID, actorID string, decision Decision, quizAnswers map[string]int, notes *string) (*StepResult, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestStatusInReview {
		return nil, errors.Validation(errors.ReasonInvalidStatusTransition,
			fmt.Sprintf("request is %s, decisions are only accepted while in review", req.Status))
	}

	step := findStep(req.Steps, stepID)
	if step == nil {
		return nil, errors.NotFound("approval_step", stepID)
	}
	if step.Terminal() {
		return nil, errors.Validation(errors.ReasonInvalidStatusTransition, "step has already been decided")
	}
	if !inFrontier(req.Steps, step) {
		return nil, errors.Validation(errors.ReasonInvalidStatusTransition, "step is not up for decision yet")
	}

	if err := s.authorizeActor(ctx, step, actorID); err != nil {
		return nil, err
	}

	now := s.now()
	if step.StartedAt == nil {
		step.StartedAt = &now
	}

	var quizErr error
	if decision == DecisionApprove && step.RequiresQuiz {
		score, passed, err := s.scoreQuiz(ctx, step, quizAnswers)
		if err != nil {
			return nil, err
		}
		step.QuizScore = &score
		step.QuizPassed = &passed
		if !passed {
			decision = DecisionReject
			quizErr = errors.Validation(errors.ReasonQuizFailed,
				fmt.Sprintf("quiz failed with score %d, step rejected", score))
		}
	}

	oldStatus := string(step.Status)
	switch decision {
	case DecisionApprove:
		step.Status = repository.StepStatusApproved
	case DecisionReject:
		step.Status = repository.StepStatusRejected
	default:
		return nil, errors.InvalidInput("decision", fmt.Sprintf("unknown decision %q", decision))
	}
	step.FinishedAt = &now
	step.ActedBy = &actorID
	step.DecisionNotes = notes

	if err := s.requests.UpdateStep(ctx, step); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, "RequestApprovalStep", step.ID, "step_"+string(step.Status), actorID, oldStatus, string(step.Status), notes)

	result, err := s.resolveRequest(ctx, req, step, actorID)
	if err != nil {
		return nil, err
	}
	result.QuizScore = step.QuizScore
	if quizErr != nil {
		return nil, quizErr
	}
	return result, nil
}

// authorizeActor permits the step's approver or a delegate holding an active
// delegation covering today.
func (s *ApprovalService) authorizeActor(ctx context.Context, step *repository.RequestApprovalStep, actorID string) error {
	if actorID == step.ApproverID {
		return nil
	}
	d, err := s.delegations.FindActiveFor(ctx, step.ApproverID, s.now())
	if err != nil {
		return err
	}
	if d != nil && d.ToUserID == actorID {
		return nil
	}
	return errors.Forbidden("actor is neither the step approver nor an active delegate")
}

// scoreQuiz scores the supplied answers against the step's question set. A
// nil passing score means every question must be answered correctly.
func (s *ApprovalService) scoreQuiz(ctx context.Context, step *repository.RequestApprovalStep, answers map[string]int) (int, bool, error) {
	questions, err := s.templates.ListQuizQuestionsForStep(ctx, step.ID)
	if err != nil {
		return 0, false, err
	}
	if len(questions) == 0 {
		return 0, true, nil
	}

	score := 0
	for _, q := range questions {
		if got, ok := answers[q.ID]; ok && got == q.CorrectOption {
			score++
		}
	}

	passing := len(questions)
	if step.PassingScore != nil {
		passing = *step.PassingScore
	}
	return score, score >= passing, nil
}

// resolveRequest recomputes the request outcome after a step decision:
// reject-and-halt, activate the next tranche, or finalize.
func (s *ApprovalService) resolveRequest(ctx context.Context, req *repository.Request, decided *repository.RequestApprovalStep, actorID string) (*StepResult, error) {
	result := &StepResult{Step: decided, RequestStatus: req.Status}

	outcome := trancheOutcome(trancheOf(req.Steps, decided.StepOrder))
	switch outcome {
	case repository.StepStatusRejected:
		if err := s.transitionRequest(ctx, req, repository.RequestStatusRejected, actorID); err != nil {
			return nil, err
		}
		result.RequestStatus = repository.RequestStatusRejected
		result.Finalized = true
		s.notifySubmitter(ctx, req, "request_rejected", "Leave request rejected",
			"Your leave request has been rejected.")
		return result, nil

	case repository.StepStatusApproved:
		next := nextTranche(req.Steps, decided.StepOrder)
		if len(next) == 0 {
			if err := s.transitionRequest(ctx, req, repository.RequestStatusApproved, actorID); err != nil {
				return nil, err
			}
			result.RequestStatus = repository.RequestStatusApproved
			result.Finalized = true
			s.notifySubmitter(ctx, req, "request_approved", "Leave request approved",
				"Your leave request has been approved.")
			return result, nil
		}
		if err := s.activateTranche(ctx, req, next); err != nil {
			return nil, err
		}
		return result, nil

	default:
		// Parallel group not yet resolved; nothing to advance.
		return result, nil
	}
}

// activateTranche moves the next tranche's steps into review, stamps their
// decision deadline and notifies their approvers.
func (s *ApprovalService) activateTranche(ctx context.Context, req *repository.Request, steps []*repository.RequestApprovalStep) error {
	now := s.now()
	due := now.AddDate(0, 0, s.policy.ApprovalSLADays)
	for _, st := range steps {
		if st.Terminal() || st.Status == repository.StepStatusInReview {
			continue
		}
		st.Status = repository.StepStatusInReview
		st.StartedAt = &now
		st.DueAt = &due
		if err := s.requests.UpdateStep(ctx, st); err != nil {
			return err
		}
		s.notifier.Send(ctx, client.Notification{
			UserID:            st.ApproverID,
			Type:              "approval_required",
			Title:             "Leave request awaiting your decision",
			Message:           "A leave request has reached your approval step.",
			RelatedEntityType: "Request",
			RelatedEntityID:   req.ID,
			ActionURL:         "/requests/" + req.ID,
		})
	}
	return nil
}

func (s *ApprovalService) transitionRequest(ctx context.Context, req *repository.Request, status repository.RequestStatus, actorID string) error {
	old := string(req.Status)
	if err := s.requests.UpdateStatus(ctx, req.ID, status); err != nil {
		return err
	}
	req.Status = status
	s.appendAudit(ctx, "Request", req.ID, "request_"+string(status), actorID, old, string(status), nil)
	return nil
}

func (s *ApprovalService) notifySubmitter(ctx context.Context, req *repository.Request, eventType, title, message string) {
	s.notifier.Send(ctx, client.Notification{
		UserID:            req.UserID,
		Type:              eventType,
		Title:             title,
		Message:           message,
		RelatedEntityType: "Request",
		RelatedEntityID:   req.ID,
		ActionURL:         "/requests/" + req.ID,
	})
}

// appendAudit is best effort: failures are logged and never fail the
// transition.
func (s *ApprovalService) appendAudit(ctx context.Context, entityType, entityID, action, actorID, oldVal, newVal string, reason *string) {
	entry := &repository.AuditLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		OldValue:   &oldVal,
		NewValue:   &newVal,
		Reason:     reason,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("entity_id", entityID).Str("action", action).Msg("approval: failed to write audit entry")
	}
}

// ── step chain evaluation ────────────────────────────────────────────────────

func findStep(steps []*repository.RequestApprovalStep, id string) *repository.RequestApprovalStep {
	for _, st := range steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// trancheOf returns all steps at the given order. Steps sharing a step order
// form one tranche and are activated together; within a tranche, steps
// sharing a parallel group id settle as one group while ungrouped steps each
// settle on their own.
func trancheOf(steps []*repository.RequestApprovalStep, order int) []*repository.RequestApprovalStep {
	var out []*repository.RequestApprovalStep
	for _, st := range steps {
		if st.StepOrder == order {
			out = append(out, st)
		}
	}
	return out
}

// trancheOutcome resolves a tranche from its parallel groups: rejected as
// soon as any group rejects, approved once every group has approved, and
// pending otherwise.
func trancheOutcome(tranche []*repository.RequestApprovalStep) repository.StepStatus {
	if len(tranche) == 0 {
		return repository.StepStatusPending
	}
	pending := false
	for _, g := range groupsOf(tranche) {
		switch groupOutcome(g) {
		case repository.StepStatusRejected:
			return repository.StepStatusRejected
		case repository.StepStatusPending:
			pending = true
		}
	}
	if pending {
		return repository.StepStatusPending
	}
	return repository.StepStatusApproved
}

// groupsOf partitions a tranche by parallel group id. A step without a group
// id forms a singleton group.
func groupsOf(tranche []*repository.RequestApprovalStep) [][]*repository.RequestApprovalStep {
	byID := map[string][]*repository.RequestApprovalStep{}
	var ids []string
	var groups [][]*repository.RequestApprovalStep
	for _, st := range tranche {
		if st.ParallelGroupID == nil {
			groups = append(groups, []*repository.RequestApprovalStep{st})
			continue
		}
		if _, ok := byID[*st.ParallelGroupID]; !ok {
			ids = append(ids, *st.ParallelGroupID)
		}
		byID[*st.ParallelGroupID] = append(byID[*st.ParallelGroupID], st)
	}
	for _, id := range ids {
		groups = append(groups, byID[id])
	}
	return groups
}

// groupOutcome resolves one parallel group: approved once any member
// approves, or rejected once every member has rejected. The resolved outcome
// is the status of the earliest-finished terminal member, so racing decisions
// settle deterministically; ties fall to the lowest approver id.
func groupOutcome(group []*repository.RequestApprovalStep) repository.StepStatus {
	anyApproved := false
	allRejected := len(group) > 0
	for _, st := range group {
		switch st.Status {
		case repository.StepStatusApproved:
			anyApproved = true
			allRejected = false
		case repository.StepStatusRejected:
		default:
			allRejected = false
		}
	}
	if !anyApproved && !allRejected {
		return repository.StepStatusPending
	}

	var terminal []*repository.RequestApprovalStep
	for _, st := range group {
		if st.Terminal() {
			terminal = append(terminal, st)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		a, b := terminal[i], terminal[j]
		switch {
		case a.FinishedAt == nil:
			return false
		case b.FinishedAt == nil:
			return true
		case a.FinishedAt.Equal(*b.FinishedAt):
			return a.ApproverID < b.ApproverID
		default:
			return a.FinishedAt.Before(*b.FinishedAt)
		}
	})
	return terminal[0].Status
}

// inFrontier reports whether the step belongs to the earliest unresolved
// tranche, the only place a decision is accepted.
func inFrontier(steps []*repository.RequestApprovalStep, step *repository.RequestApprovalStep) bool {
	orders := stepOrders(steps)
	for _, o := range orders {
		outcome := trancheOutcome(trancheOf(steps, o))
		if outcome == repository.StepStatusRejected {
			return false
		}
		if outcome == repository.StepStatusPending {
			return step.StepOrder == o
		}
	}
	return false
}

// nextTranche returns the steps of the first tranche after the given order,
// if any.
func nextTranche(steps []*repository.RequestApprovalStep, after int) []*repository.RequestApprovalStep {
	orders := stepOrders(steps)
	for _, o := range orders {
		if o > after {
			return trancheOf(steps, o)
		}
	}
	return nil
}

func stepOrders(steps []*repository.RequestApprovalStep) []int {
	seen := map[int]bool{}
	var orders []int
	for _, st := range steps {
		if !seen[st.StepOrder] {
			seen[st.StepOrder] = true
			orders = append(orders, st.StepOrder)
		}
	}
	sort.Ints(orders)
	return orders
}
