package scheduler

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/testutil"
)

func scheduledOn(id, userID string, substitute *string, start string) *repository.VacationSchedule {
	return &repository.VacationSchedule{
		ID:               id,
		UserID:           userID,
		SubstituteUserID: substitute,
		StartDate:        day(start),
		EndDate:          day(start).AddDate(0, 0, 4),
		Status:           repository.ScheduleStatusScheduled,
	}
}

func TestRemindersTargetingByDay(t *testing.T) {
	ctx := context.Background()
	sub := "sub"
	schedules := testutil.NewFakeScheduleStore(
		scheduledOn("week-out", "alice", &sub, "2025-06-22"),
		scheduledOn("tomorrow", "bob", &sub, "2025-06-16"),
		scheduledOn("today", "carol", &sub, "2025-06-15"),
		scheduledOn("unrelated", "dave", &sub, "2025-06-25"),
	)
	notifier := &testutil.FakeNotifier{}
	job := NewRemindersJob(schedules, testutil.NewFakeRequestStore(), notifier, config.DefaultLeavePolicy(), logger.Nop())

	if err := job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Seven days out: owner and substitute.
	if got := notifier.SentTo("alice"); len(got) != 1 || got[0] != "vacation_upcoming" {
		t.Errorf("alice notifications = %v, want [vacation_upcoming]", got)
	}
	// Tomorrow: owner only.
	if got := notifier.SentTo("bob"); len(got) != 1 || got[0] != "vacation_starting" {
		t.Errorf("bob notifications = %v, want [vacation_starting]", got)
	}
	// Start day: substitute only, owner silent.
	if got := notifier.SentTo("carol"); len(got) != 0 {
		t.Errorf("carol notified on her own start day: %v", got)
	}
	if got := notifier.SentTo("dave"); len(got) != 0 {
		t.Errorf("dave notified with no reminder due: %v", got)
	}
	want := []string{"vacation_upcoming", "substitute_assigned"}
	got := notifier.SentTo("sub")
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("substitute notifications = %v, want %v", got, want)
	}
}

func TestRemindersFlagOverdueSteps(t *testing.T) {
	ctx := context.Background()
	started := sweepClock.AddDate(0, 0, -4)
	lapsed := sweepClock.AddDate(0, 0, -1)
	upcoming := sweepClock.AddDate(0, 0, 2)
	requests := testutil.NewFakeRequestStore(
		&repository.Request{
			ID:     "req-1",
			UserID: "alice",
			Type:   repository.RequestTypeVacation,
			Status: repository.RequestStatusInReview,
			Steps: []*repository.RequestApprovalStep{
				{ID: "s1", RequestID: "req-1", StepOrder: 1, ApproverID: "boss", Status: repository.StepStatusInReview, StartedAt: &started, DueAt: &lapsed},
				{ID: "s2", RequestID: "req-1", StepOrder: 2, ApproverID: "hr", Status: repository.StepStatusPending},
			},
		},
		&repository.Request{
			ID:     "req-2",
			UserID: "bob",
			Type:   repository.RequestTypeVacation,
			Status: repository.RequestStatusInReview,
			Steps: []*repository.RequestApprovalStep{
				{ID: "s3", RequestID: "req-2", StepOrder: 1, ApproverID: "boss", Status: repository.StepStatusInReview, StartedAt: &started, DueAt: &upcoming},
			},
		},
	)
	notifier := &testutil.FakeNotifier{}
	job := NewRemindersJob(testutil.NewFakeScheduleStore(), requests, notifier, config.DefaultLeavePolicy(), logger.Nop())

	if err := job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := notifier.SentTo("boss")
	if len(got) != 1 || got[0] != "approval_overdue" {
		t.Errorf("boss notifications = %v, want exactly one approval_overdue", got)
	}
	if got := notifier.SentTo("hr"); len(got) != 0 {
		t.Errorf("pending approver flagged as overdue: %v", got)
	}
}
