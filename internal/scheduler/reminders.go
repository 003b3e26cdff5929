package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/service"
)

// RemindersJob sends the day-relative vacation reminders and flags overdue
// approval steps. Every reminder is an exact "is today == X" check against
// the start date, never a range scan, so a missed run loses that day's
// reminders instead of firing them late. This is an accepted limitation.
type RemindersJob struct {
	schedules service.ScheduleStore
	requests  service.RequestStore
	notifier  service.Notifier
	policy    config.LeavePolicy
	log       *logger.Logger
}

// NewRemindersJob creates the daily reminder sweep.
func NewRemindersJob(
	schedules service.ScheduleStore,
	requests service.RequestStore,
	notifier service.Notifier,
	policy config.LeavePolicy,
	log *logger.Logger,
) *RemindersJob {
	return &RemindersJob{
		schedules: schedules,
		requests:  requests,
		notifier:  notifier,
		policy:    policy,
		log:       log,
	}
}

func (j *RemindersJob) Name() string { return "reminders" }

// Run sends the T-7, T-1 and start-day reminders, then the overdue approval
// notices.
func (j *RemindersJob) Run(ctx context.Context, now time.Time) error {
	today := repository.TruncateToDay(now)

	// 7 days ahead: both the user and the substitute.
	if err := j.remindForDay(ctx, today.AddDate(0, 0, 7), true, true, "vacation_upcoming",
		"Vacation in 7 days", "A vacation starts in 7 days."); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "reminders: 7-day reminder")
	}

	// The day before: the user only.
	if err := j.remindForDay(ctx, today.AddDate(0, 0, 1), true, false, "vacation_starting",
		"Vacation starts tomorrow", "Your vacation starts tomorrow."); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "reminders: day-before reminder")
	}

	// The start day: the substitute only.
	if err := j.remindForDay(ctx, today, false, true, "substitute_assigned",
		"Substitution starts today", "A vacation you are covering starts today."); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "reminders: start-day reminder")
	}

	if err := j.remindOverdueSteps(ctx, now); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "reminders: overdue steps")
	}
	return nil
}

// remindForDay notifies about schedules starting exactly on the given day.
func (j *RemindersJob) remindForDay(ctx context.Context, day time.Time, toUser, toSubstitute bool, eventType, title, message string) error {
	starting, err := j.schedules.ListScheduledStartingOn(ctx, day)
	if err != nil {
		return err
	}
	for _, sch := range starting {
		if toUser {
			j.notifier.Send(ctx, client.Notification{
				UserID:            sch.UserID,
				Type:              eventType,
				Title:             title,
				Message:           message,
				RelatedEntityType: "VacationSchedule",
				RelatedEntityID:   sch.ID,
			})
		}
		if toSubstitute && sch.SubstituteUserID != nil {
			j.notifier.Send(ctx, client.Notification{
				UserID:            *sch.SubstituteUserID,
				Type:              eventType,
				Title:             title,
				Message:           message,
				RelatedEntityType: "VacationSchedule",
				RelatedEntityID:   sch.ID,
			})
		}
	}
	return nil
}

// remindOverdueSteps notifies approvers whose in-review steps have passed
// their decision deadline.
func (j *RemindersJob) remindOverdueSteps(ctx context.Context, now time.Time) error {
	overdue, err := j.requests.ListOverdueApprovalSteps(ctx, now)
	if err != nil {
		return err
	}
	for _, st := range overdue {
		j.notifier.Send(ctx, client.Notification{
			UserID: st.ApproverID,
			Type:   "approval_overdue",
			Title:  "Approval step overdue",
			Message: fmt.Sprintf("A leave request has been waiting for your decision for more than %d days.",
				j.policy.ApprovalSLADays),
			RelatedEntityType: "Request",
			RelatedEntityID:   st.RequestID,
			ActionURL:         "/requests/" + st.RequestID,
		})
	}
	return nil
}
