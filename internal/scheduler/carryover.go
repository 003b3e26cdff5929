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

// CarryOverJob warns users holding carried-over days on the reminder date
// and voids the days once the statutory deadline has passed. It runs daily
// and decides from the date itself, so both edges survive restarts: the
// warning fires only on its exact day, the expiry fires on every run after
// the deadline but the ledger skips users already cleared.
type CarryOverJob struct {
	users    service.UserStore
	ledger   *service.LedgerService
	notifier service.Notifier
	policy   config.LeavePolicy
	log      *logger.Logger
}

// NewCarryOverJob creates the carry-over reminder/expiry job.
func NewCarryOverJob(
	users service.UserStore,
	ledger *service.LedgerService,
	notifier service.Notifier,
	policy config.LeavePolicy,
	log *logger.Logger,
) *CarryOverJob {
	return &CarryOverJob{
		users:    users,
		ledger:   ledger,
		notifier: notifier,
		policy:   policy,
		log:      log,
	}
}

func (j *CarryOverJob) Name() string { return "carry_over" }

// Run dispatches to the reminder or expiry phase depending on the date.
func (j *CarryOverJob) Run(ctx context.Context, now time.Time) error {
	today := repository.TruncateToDay(now)
	reminderDay := time.Date(today.Year(), j.policy.CarryOverReminderMonth, j.policy.CarryOverReminderDay, 0, 0, 0, 0, today.Location())
	expiryDay := time.Date(today.Year(), j.policy.CarryOverExpiryMonth, j.policy.CarryOverExpiryDay, 0, 0, 0, 0, today.Location())

	if today.Equal(reminderDay) {
		if err := j.remind(ctx, expiryDay); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "carry-over: reminder phase")
		}
	}
	if today.After(expiryDay) {
		if err := j.expire(ctx, now); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "carry-over: expiry phase")
		}
	}
	return nil
}

// remind warns every user still holding carried-over days.
func (j *CarryOverJob) remind(ctx context.Context, expiryDay time.Time) error {
	holders, err := j.users.ListUsersWithCarriedOverDays(ctx)
	if err != nil {
		return err
	}
	for _, u := range holders {
		days := 0
		if u.CarriedOverVacationDays != nil {
			days = *u.CarriedOverVacationDays
		}
		if days == 0 {
			continue
		}
		j.notifier.Send(ctx, client.Notification{
			UserID: u.ID,
			Type:   "carry_over_expiring",
			Title:  "Carried-over vacation days expire soon",
			Message: fmt.Sprintf("You have %d carried-over vacation day(s) that expire on %s. Use them before then.",
				days, expiryDay.Format("2006-01-02")),
		})
	}
	return nil
}

// expire voids carried-over days for every user still holding them.
func (j *CarryOverJob) expire(ctx context.Context, now time.Time) error {
	holders, err := j.users.ListUsersWithCarriedOverDays(ctx)
	if err != nil {
		return err
	}
	expired := 0
	for _, u := range holders {
		if err := j.ledger.ExpireCarryOver(ctx, u.ID, now); err != nil {
			j.log.Error().Err(err).Str("user_id", u.ID).Msg("carry-over: expiry failed for user, continuing")
			continue
		}
		expired++
	}
	if expired > 0 {
		j.log.Info().Int("users", expired).Msg("carry-over: expired carried-over days")
	}
	return nil
}
