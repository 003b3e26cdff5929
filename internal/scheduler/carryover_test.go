package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/service"
	"github.com/pesio-ai/be-hr-leave/internal/testutil"
)

func carryOverFixture(users ...*repository.User) (*CarryOverJob, *testutil.FakeUserStore, *testutil.FakeNotifier) {
	store := testutil.NewFakeUserStore(users...)
	notifier := &testutil.FakeNotifier{}
	policy := config.DefaultLeavePolicy()
	ledger := service.NewLedgerService(store, &testutil.FakeAuditStore{}, policy, logger.Nop())
	job := NewCarryOverJob(store, ledger, notifier, policy, logger.Nop())
	return job, store, notifier
}

func holder(id string, carried int) *repository.User {
	expiry := day("2025-09-30")
	return &repository.User{
		ID:                      id,
		IsActive:                true,
		AnnualVacationDays:      26,
		CarriedOverVacationDays: &carried,
		CarriedOverExpiryDate:   &expiry,
	}
}

func TestCarryOverReminderFiresOnlyOnReminderDay(t *testing.T) {
	ctx := context.Background()
	job, _, notifier := carryOverFixture(holder("alice", 5))

	if err := job.Run(ctx, day("2025-08-31")); err != nil {
		t.Fatalf("Run before reminder day: %v", err)
	}
	if len(notifier.Sent) != 0 {
		t.Errorf("reminder sent before the reminder day: %v", notifier.Sent)
	}

	if err := job.Run(ctx, day("2025-09-01")); err != nil {
		t.Fatalf("Run on reminder day: %v", err)
	}
	got := notifier.SentTo("alice")
	if len(got) != 1 || got[0] != "carry_over_expiring" {
		t.Errorf("alice notifications = %v, want [carry_over_expiring]", got)
	}

	if err := job.Run(ctx, day("2025-09-02")); err != nil {
		t.Fatalf("Run after reminder day: %v", err)
	}
	if got := notifier.SentTo("alice"); len(got) != 1 {
		t.Errorf("reminder repeated after its day: %v", got)
	}
}

func TestCarryOverExpiresAfterDeadline(t *testing.T) {
	ctx := context.Background()
	job, store, _ := carryOverFixture(holder("alice", 5), holder("bob", 3))

	// On the deadline itself the days are still usable.
	if err := job.Run(ctx, day("2025-09-30")); err != nil {
		t.Fatalf("Run on deadline: %v", err)
	}
	if store.Users["alice"].CarriedOverVacationDays == nil {
		t.Fatalf("carried days voided on the deadline day")
	}

	if err := job.Run(ctx, day("2025-10-01")); err != nil {
		t.Fatalf("Run after deadline: %v", err)
	}
	for _, id := range []string{"alice", "bob"} {
		u := store.Users[id]
		if u.CarriedOverVacationDays != nil {
			t.Errorf("%s still holds %d carried day(s) after expiry", id, *u.CarriedOverVacationDays)
		}
	}

	// The next run finds no holders left.
	if err := job.Run(ctx, day("2025-10-02")); err != nil {
		t.Fatalf("Run after expiry already applied: %v", err)
	}
}

func TestCarryOverSkipsZeroBalances(t *testing.T) {
	ctx := context.Background()
	job, _, notifier := carryOverFixture(holder("alice", 0))

	if err := job.Run(ctx, time.Date(2025, 9, 1, 6, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.Sent) != 0 {
		t.Errorf("zero-balance holder was reminded: %v", notifier.Sent)
	}
}
