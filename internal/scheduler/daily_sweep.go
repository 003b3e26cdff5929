package scheduler

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
	"github.com/pesio-ai/be-hr-leave/internal/service"
)

// DailySweepJob drives schedule status transitions and materializes
// newly-approved sick leave. Idempotent: every pass selects only rows still
// in the pre-transition state, so a second run on the same day finds nothing
// to do. Per-row failures are logged and skipped; a failed listing aborts the
// job so the scheduler can alert.
type DailySweepJob struct {
	schedules  service.ScheduleStore
	sickLeaves service.SickLeaveStore
	requests   service.RequestStore
	audit      service.AuditStore
	notifier   service.Notifier
	policy     config.LeavePolicy
	log        *logger.Logger
}

// NewDailySweepJob creates the daily status sweep.
func NewDailySweepJob(
	schedules service.ScheduleStore,
	sickLeaves service.SickLeaveStore,
	requests service.RequestStore,
	audit service.AuditStore,
	notifier service.Notifier,
	policy config.LeavePolicy,
	log *logger.Logger,
) *DailySweepJob {
	return &DailySweepJob{
		schedules:  schedules,
		sickLeaves: sickLeaves,
		requests:   requests,
		audit:      audit,
		notifier:   notifier,
		policy:     policy,
		log:        log,
	}
}

func (j *DailySweepJob) Name() string { return "daily_sweep" }

// Run executes the four sweep phases in order.
func (j *DailySweepJob) Run(ctx context.Context, now time.Time) error {
	today := repository.TruncateToDay(now)

	if err := j.activateSchedules(ctx, today); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "daily sweep: activating schedules")
	}
	if err := j.completeSchedules(ctx, today); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "daily sweep: completing schedules")
	}
	if err := j.materializeSickLeave(ctx); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "daily sweep: materializing sick leave")
	}
	if err := j.completeSickLeaves(ctx, today); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "daily sweep: completing sick leaves")
	}
	return nil
}

// activateSchedules flips Scheduled rows whose start date has arrived.
func (j *DailySweepJob) activateSchedules(ctx context.Context, today time.Time) error {
	due, err := j.schedules.ListScheduledToActivate(ctx, today)
	if err != nil {
		return err
	}
	for _, sch := range due {
		if err := j.schedules.UpdateStatus(ctx, sch, repository.ScheduleStatusActive); err != nil {
			j.log.Error().Err(err).Str("schedule_id", sch.ID).Msg("daily sweep: failed to activate schedule")
			continue
		}
		j.appendAudit(ctx, sch.ID, "schedule_activated", string(repository.ScheduleStatusScheduled), string(repository.ScheduleStatusActive))

		if sch.SubstituteUserID != nil {
			j.notifier.Send(ctx, client.Notification{
				UserID:            *sch.SubstituteUserID,
				Type:              "vacation_started",
				Title:             "Substitution period started",
				Message:           "The vacation you are covering has started today.",
				RelatedEntityType: "VacationSchedule",
				RelatedEntityID:   sch.ID,
			})
		}
	}
	return nil
}

// completeSchedules flips Active rows whose end date has passed.
func (j *DailySweepJob) completeSchedules(ctx context.Context, today time.Time) error {
	due, err := j.schedules.ListActiveToComplete(ctx, today)
	if err != nil {
		return err
	}
	for _, sch := range due {
		if err := j.schedules.UpdateStatus(ctx, sch, repository.ScheduleStatusCompleted); err != nil {
			j.log.Error().Err(err).Str("schedule_id", sch.ID).Msg("daily sweep: failed to complete schedule")
			continue
		}
		j.appendAudit(ctx, sch.ID, "schedule_completed", string(repository.ScheduleStatusActive), string(repository.ScheduleStatusCompleted))

		j.notifier.Send(ctx, client.Notification{
			UserID:            sch.UserID,
			Type:              "vacation_completed",
			Title:             "Welcome back",
			Message:           "Your vacation has ended. Welcome back!",
			RelatedEntityType: "VacationSchedule",
			RelatedEntityID:   sch.ID,
		})
		if sch.SubstituteUserID != nil {
			j.notifier.Send(ctx, client.Notification{
				UserID:            *sch.SubstituteUserID,
				Type:              "vacation_completed",
				Title:             "Substitution period ended",
				Message:           "The vacation you were covering has ended.",
				RelatedEntityType: "VacationSchedule",
				RelatedEntityID:   sch.ID,
			})
		}
	}
	return nil
}

// materializeSickLeave converts approved sick-leave requests without a
// record into SickLeave rows, the auto-approval path. The unique source
// request link makes a re-run skip already-converted requests.
func (j *DailySweepJob) materializeSickLeave(ctx context.Context) error {
	pending, err := j.requests.ListApprovedSickLeaveRequests(ctx)
	if err != nil {
		return err
	}
	for _, req := range pending {
		sl := &repository.SickLeave{
			ID:              uuid.New().String(),
			UserID:          req.UserID,
			StartDate:       req.StartDate,
			EndDate:         req.EndDate,
			SourceRequestID: req.ID,
			Status:          repository.SickLeaveStatusActive,
		}
		if err := j.sickLeaves.Create(ctx, sl); err != nil {
			j.log.Error().Err(err).Str("request_id", req.ID).Msg("daily sweep: failed to create sick leave record")
			continue
		}
		j.appendAudit(ctx, sl.ID, "sick_leave_created", "", string(sl.Status))

		if sl.RequiresZusDocument(j.policy.SickLeaveZusThresholdDays) {
			j.notifier.Send(ctx, client.Notification{
				UserID: req.UserID,
				Type:   "zus_document_required",
				Title:  "ZUS certification required",
				Message: fmt.Sprintf("Your sick leave spans %d days and requires a ZUS certification document (threshold: %d days).",
					sl.DaysCount(), j.policy.SickLeaveZusThresholdDays),
				RelatedEntityType: "SickLeave",
				RelatedEntityID:   sl.ID,
			})
		}
	}
	return nil
}

// completeSickLeaves closes sick-leave records whose end date has passed.
func (j *DailySweepJob) completeSickLeaves(ctx context.Context, today time.Time) error {
	due, err := j.sickLeaves.ListActiveToComplete(ctx, today)
	if err != nil {
		return err
	}
	for _, sl := range due {
		if err := j.sickLeaves.UpdateStatus(ctx, sl.ID, repository.SickLeaveStatusCompleted); err != nil {
			j.log.Error().Err(err).Str("sick_leave_id", sl.ID).Msg("daily sweep: failed to complete sick leave")
		}
	}
	return nil
}

func (j *DailySweepJob) appendAudit(ctx context.Context, entityID, action, oldVal, newVal string) {
	entry := &repository.AuditLogEntry{
		EntityType: "VacationSchedule",
		EntityID:   entityID,
		Action:     action,
		ActorID:    "system",
		NewValue:   &newVal,
	}
	if action == "sick_leave_created" {
		entry.EntityType = "SickLeave"
	}
	if oldVal != "" {
		entry.OldValue = &oldVal
	}
	if err := j.audit.Append(ctx, entry); err != nil {
		j.log.Warn().Err(err).Str("entity_id", entityID).Str("action", action).Msg("daily sweep: failed to write audit entry")
	}
}
