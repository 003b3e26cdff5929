package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/testutil"
)

var sweepClock = time.Date(2025, 6, 15, 4, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

type sweepFixture struct {
	job        *DailySweepJob
	schedules  *testutil.FakeScheduleStore
	sickLeaves *testutil.FakeSickLeaveStore
	requests   *testutil.FakeRequestStore
	audit      *testutil.FakeAuditStore
	notifier   *testutil.FakeNotifier
}

func newSweepFixture(schedules ...*repository.VacationSchedule) *sweepFixture {
	f := &sweepFixture{
		schedules:  testutil.NewFakeScheduleStore(schedules...),
		sickLeaves: testutil.NewFakeSickLeaveStore(),
		requests:   testutil.NewFakeRequestStore(),
		audit:      &testutil.FakeAuditStore{},
		notifier:   &testutil.FakeNotifier{},
	}
	f.requests.SickLeaves = f.sickLeaves
	f.job = NewDailySweepJob(
		f.schedules, f.sickLeaves, f.requests, f.audit, f.notifier,
		config.DefaultLeavePolicy(), logger.Nop(),
	)
	return f
}

func TestDailySweepActivatesAndCompletes(t *testing.T) {
	ctx := context.Background()
	sub := "sub"
	f := newSweepFixture(
		&repository.VacationSchedule{
			ID: "starting", UserID: "alice", SubstituteUserID: &sub,
			StartDate: day("2025-06-15"), EndDate: day("2025-06-20"),
			Status: repository.ScheduleStatusScheduled,
		},
		&repository.VacationSchedule{
			ID: "ended", UserID: "bob",
			StartDate: day("2025-06-01"), EndDate: day("2025-06-14"),
			Status: repository.ScheduleStatusActive,
		},
		&repository.VacationSchedule{
			ID: "future", UserID: "carol",
			StartDate: day("2025-07-01"), EndDate: day("2025-07-05"),
			Status: repository.ScheduleStatusScheduled,
		},
	)

	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.schedules.Schedules["starting"].Status; got != repository.ScheduleStatusActive {
		t.Errorf("starting schedule = %s, want active", got)
	}
	if got := f.schedules.Schedules["ended"].Status; got != repository.ScheduleStatusCompleted {
		t.Errorf("ended schedule = %s, want completed", got)
	}
	if got := f.schedules.Schedules["future"].Status; got != repository.ScheduleStatusScheduled {
		t.Errorf("future schedule = %s, want untouched scheduled", got)
	}

	if got := f.notifier.SentTo("sub"); len(got) != 1 || got[0] != "vacation_started" {
		t.Errorf("substitute notifications = %v, want [vacation_started]", got)
	}
	if got := f.notifier.SentTo("bob"); len(got) != 1 || got[0] != "vacation_completed" {
		t.Errorf("returning user notifications = %v, want [vacation_completed]", got)
	}
	if got := f.audit.Actions("VacationSchedule", "starting"); len(got) != 1 || got[0] != "schedule_activated" {
		t.Errorf("audit for starting = %v", got)
	}
}

func TestDailySweepIdempotentSameDay(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(
		&repository.VacationSchedule{
			ID: "starting", UserID: "alice",
			StartDate: day("2025-06-15"), EndDate: day("2025-06-20"),
			Status: repository.ScheduleStatusScheduled,
		},
		&repository.VacationSchedule{
			ID: "ended", UserID: "bob",
			StartDate: day("2025-06-01"), EndDate: day("2025-06-14"),
			Status: repository.ScheduleStatusActive,
		},
	)

	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sent := len(f.notifier.Sent)
	audited := len(f.audit.Entries)

	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.notifier.Sent) != sent {
		t.Errorf("second run sent %d extra notifications", len(f.notifier.Sent)-sent)
	}
	if len(f.audit.Entries) != audited {
		t.Errorf("second run wrote %d extra audit entries", len(f.audit.Entries)-audited)
	}
	if got := f.schedules.Schedules["ended"].Status; got != repository.ScheduleStatusCompleted {
		t.Errorf("ended schedule = %s after re-run, want completed", got)
	}
}

func TestDailySweepMaterializesSickLeave(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()
	// 40 calendar days, over the 33-day certification threshold.
	req := &repository.Request{
		ID:     "req-1",
		UserID: "alice",
		Type:   repository.RequestTypeSickLeave,
		Status: repository.RequestStatusApproved,
		StartDate: day("2025-05-01"),
		EndDate:   day("2025-06-09"),
	}
	if err := f.requests.Create(ctx, req); err != nil {
		t.Fatalf("seeding request: %v", err)
	}

	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sl, err := f.sickLeaves.GetBySourceRequestID(ctx, "req-1")
	if err != nil || sl == nil {
		t.Fatalf("sick leave not materialized: %v", err)
	}
	if sl.DaysCount() != 40 {
		t.Errorf("DaysCount = %d, want 40", sl.DaysCount())
	}
	if got := f.notifier.SentTo("alice"); len(got) != 1 || got[0] != "zus_document_required" {
		t.Errorf("notifications = %v, want [zus_document_required]", got)
	}

	// A re-run finds the record already present and creates nothing new.
	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.sickLeaves.SickLeaves) != 1 {
		t.Errorf("re-run created %d sick leave rows, want 1", len(f.sickLeaves.SickLeaves))
	}
	if got := f.notifier.SentTo("alice"); len(got) != 1 {
		t.Errorf("re-run duplicated the certification notice: %v", got)
	}
}

func TestDailySweepCompletesSickLeave(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()
	sl := &repository.SickLeave{
		ID: "sl-1", UserID: "alice", SourceRequestID: "req-old",
		StartDate: day("2025-06-01"), EndDate: day("2025-06-10"),
		Status: repository.SickLeaveStatusActive,
	}
	if err := f.sickLeaves.Create(ctx, sl); err != nil {
		t.Fatalf("seeding sick leave: %v", err)
	}

	if err := f.job.Run(ctx, sweepClock); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.sickLeaves.SickLeaves["sl-1"].Status; got != repository.SickLeaveStatusCompleted {
		t.Errorf("sick leave status = %s, want completed", got)
	}
}
