// Package scheduler runs the four time-triggered lifecycle procedures: the
// daily status sweep, the daily reminder sweep, the annual reset, and the
// carry-over reminder/expiry. Each job is a standalone type with a
// Run(ctx, now) entry point so tests drive it with a fixed clock; the
// Scheduler only wires the cron triggers.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
)

// Job is one schedulable procedure. Run must be idempotent for a given day:
// the cron trigger may fire again after a restart.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// New creates a scheduler with overlap protection: a job still running when
// its next trigger fires is skipped, not stacked.
func New(log *logger.Logger) *Scheduler {
	cl := &cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cl))),
		log:  log,
	}
}

// Register adds a job on the given cron expression.
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx, start); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("scheduler: job failed")
			return
		}
		s.log.Info().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("scheduler: job finished")
	})
	return err
}

// RegisterAll wires the four lifecycle jobs on their configured expressions.
func (s *Scheduler) RegisterAll(cfg config.SchedulerConfig, sweep, reminders, annual, carryOver Job) error {
	if err := s.Register(cfg.DailySweepCron, sweep); err != nil {
		return err
	}
	if err := s.Register(cfg.RemindersCron, reminders); err != nil {
		return err
	}
	if err := s.Register(cfg.AnnualResetCron, annual); err != nil {
		return err
	}
	return s.Register(cfg.CarryOverCron, carryOver)
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts the structured logger to the cron Logger interface.
type cronLogger struct {
	log *logger.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
