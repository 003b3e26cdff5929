package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/service"
)

// annualResetWorkers bounds the per-user fan-out of the reset batch.
const annualResetWorkers = 8

// AnnualResetJob rolls every active user into the new leave year on Jan 1.
// One user's failure never aborts the batch; the ledger's cycle guard makes a
// re-run skip users already rolled over.
type AnnualResetJob struct {
	users  service.UserStore
	ledger *service.LedgerService
	log    *logger.Logger
}

// NewAnnualResetJob creates the annual reset batch.
func NewAnnualResetJob(users service.UserStore, ledger *service.LedgerService, log *logger.Logger) *AnnualResetJob {
	return &AnnualResetJob{users: users, ledger: ledger, log: log}
}

func (j *AnnualResetJob) Name() string { return "annual_reset" }

// Run resets all active users, bounded-parallel across users since their
// counters are independent.
func (j *AnnualResetJob) Run(ctx context.Context, now time.Time) error {
	users, err := j.users.ListActiveUsers(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "annual reset: listing active users")
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(annualResetWorkers)
	for _, u := range users {
		u := u
		g.Go(func() error {
			if err := j.ledger.AnnualReset(gctx, u.ID, now); err != nil {
				failed.Add(1)
				j.log.Error().Err(err).Str("user_id", u.ID).Msg("annual reset: user failed, continuing")
			}
			return nil
		})
	}
	_ = g.Wait()

	j.log.Info().
		Int("users", len(users)).
		Int64("failed", failed.Load()).
		Int("year", now.Year()).
		Msg("annual reset: batch finished")
	return nil
}
