package service

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/testutil"
)

type requestFixture struct {
	svc       *RequestService
	users     *testutil.FakeUserStore
	schedules *testutil.FakeScheduleStore
	requests  *testutil.FakeRequestStore
	templates *testutil.FakeTemplateStore
	notifier  *testutil.FakeNotifier
	audit     *testutil.FakeAuditStore
}

func newRequestFixture(t *testing.T, users ...*repository.User) *requestFixture {
	t.Helper()
	// Pad the department so a single requester stays under the coverage
	// thresholds; coverage behavior has its own tests.
	for i := 0; i < 8; i++ {
		users = append(users, employee("filler-"+string(rune('a'+i))))
	}
	f := &requestFixture{
		users:     testutil.NewFakeUserStore(users...),
		schedules: testutil.NewFakeScheduleStore(),
		requests:  testutil.NewFakeRequestStore(),
		templates: testutil.NewFakeTemplateStore(),
		notifier:  &testutil.FakeNotifier{},
		audit:     &testutil.FakeAuditStore{},
	}
	sickLeaves := testutil.NewFakeSickLeaveStore()
	f.requests.SickLeaves = sickLeaves
	log := logger.Nop()
	policy := config.DefaultLeavePolicy()

	ledger := NewLedgerService(f.users, f.audit, policy, log)
	ledger.now = func() time.Time { return testClock }
	approvals := NewApprovalService(f.requests, f.templates, &testutil.FakeDelegationStore{}, f.audit, f.notifier, policy, log)
	approvals.now = func() time.Time { return testClock }
	conflicts := NewConflictService(f.users, f.schedules, log)

	f.svc = NewRequestService(
		f.requests, f.users, f.schedules, sickLeaves, f.templates,
		f.audit, f.notifier, ledger, approvals, conflicts, policy, log,
	)
	f.svc.now = func() time.Time { return testClock }
	return f
}

func employee(id string) *repository.User {
	supervisor := "boss"
	return &repository.User{
		ID:                 id,
		Name:               "Employee " + id,
		DepartmentID:       "d1",
		SupervisorID:       &supervisor,
		IsActive:           true,
		AnnualVacationDays: 26,
	}
}

func admin(id string) *repository.User {
	u := employee(id)
	u.IsAdmin = true
	u.SupervisorID = nil
	return u
}

func TestSubmitVacationRequestBuildsSupervisorChain(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-05"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	if req.Status != repository.RequestStatusInReview {
		t.Errorf("request status = %s, want in_review", req.Status)
	}
	if len(req.Steps) != 1 {
		t.Fatalf("steps = %d, want 1 supervisor fallback step", len(req.Steps))
	}
	step := req.Steps[0]
	if step.ApproverID != "boss" || step.Status != repository.StepStatusInReview {
		t.Errorf("fallback step = approver %s status %s, want boss in_review", step.ApproverID, step.Status)
	}
	if step.StartedAt == nil {
		t.Errorf("first step not started on submission")
	}
	if got := f.notifier.SentTo("boss"); len(got) != 1 || got[0] != "approval_required" {
		t.Errorf("boss notifications = %v, want [approval_required]", got)
	}
}

func TestSubmitUsesTemplateChain(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"), employee("hr"))

	hrID := "hr"
	f.templates.Templates = []*repository.ApprovalStepTemplate{
		{ID: "t1", RequestType: repository.RequestTypeVacation, StepOrder: 1, ApproverRole: "supervisor"},
		{ID: "t2", RequestType: repository.RequestTypeVacation, StepOrder: 2, ApproverID: &hrID},
	}

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-05"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if len(req.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(req.Steps))
	}
	if req.Steps[0].ApproverID != "boss" || req.Steps[1].ApproverID != "hr" {
		t.Errorf("approvers = %s, %s; want boss, hr", req.Steps[0].ApproverID, req.Steps[1].ApproverID)
	}
	if req.Steps[1].Status != repository.StepStatusPending {
		t.Errorf("second step status = %s, want pending", req.Steps[1].Status)
	}
}

func TestSubmitOnDemandAtCapRejected(t *testing.T) {
	ctx := context.Background()
	alice := employee("alice")
	alice.OnDemandVacationDaysUsed = 4
	f := newRequestFixture(t, alice, employee("boss"))

	_, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeOnDemand,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-01"),
	})
	if errors.ReasonOf(err) != errors.ReasonOnDemandLimitExceeded {
		t.Errorf("SubmitRequest error = %v, want OnDemandLimitExceeded", err)
	}
}

func TestSubmitSickLeaveAutoApproved(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeSickLeave,
		StartDate: day("2025-06-10"),
		EndDate:   day("2025-06-20"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if req.Status != repository.RequestStatusApproved {
		t.Errorf("sick leave status = %s, want approved", req.Status)
	}
	if len(req.Steps) != 0 {
		t.Errorf("sick leave has %d approval steps, want none", len(req.Steps))
	}
	// Balance untouched: sick leave never consumes vacation days.
	if f.users.Users["alice"].VacationDaysUsed != 0 {
		t.Errorf("sick leave consumed vacation days")
	}
}

func TestSubmitCircumstantialRequiresDocumentation(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	marriage := "marriage"
	_, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:         "alice",
		Type:           repository.RequestTypeCircumstantial,
		StartDate:      day("2025-07-01"),
		EndDate:        day("2025-07-02"),
		ReasonCategory: &marriage,
	})
	if errors.ReasonOf(err) != errors.ReasonDocumentationRequired {
		t.Fatalf("SubmitRequest error = %v, want DocumentationRequired", err)
	}

	_, err = f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:           "alice",
		Type:             repository.RequestTypeCircumstantial,
		StartDate:        day("2025-07-01"),
		EndDate:          day("2025-07-02"),
		ReasonCategory:   &marriage,
		HasDocumentation: true,
	})
	if err != nil {
		t.Errorf("documented request rejected: %v", err)
	}
}

func TestFinalApprovalMaterializesScheduleAndDebits(t *testing.T) {
	ctx := context.Background()
	substitute := "sub"
	alice := employee("alice")
	alice.SubstituteID = &substitute
	f := newRequestFixture(t, alice, employee("boss"), employee("sub"))

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-10"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	result, err := f.svc.DecideApprovalStep(ctx, &DecideStepInput{
		RequestID: req.ID,
		StepID:    req.Steps[0].ID,
		ActorID:   "boss",
		Decision:  DecisionApprove,
	})
	if err != nil {
		t.Fatalf("DecideApprovalStep: %v", err)
	}
	if !result.Finalized {
		t.Fatalf("single-step approval did not finalize")
	}

	if len(f.schedules.Schedules) != 1 {
		t.Fatalf("schedules created = %d, want 1", len(f.schedules.Schedules))
	}
	var sch *repository.VacationSchedule
	for _, s := range f.schedules.Schedules {
		sch = s
	}
	if sch.Status != repository.ScheduleStatusScheduled {
		t.Errorf("schedule status = %s, want scheduled", sch.Status)
	}
	if sch.SourceRequestID != req.ID {
		t.Errorf("schedule source = %s, want %s", sch.SourceRequestID, req.ID)
	}
	if sch.SubstituteUserID == nil || *sch.SubstituteUserID != "sub" {
		t.Errorf("substitute not carried onto the schedule")
	}
	if sch.DaysCount() != 10 {
		t.Errorf("DaysCount = %d, want 10", sch.DaysCount())
	}
	if f.users.Users["alice"].VacationDaysUsed != 10 {
		t.Errorf("VacationDaysUsed = %d, want 10", f.users.Users["alice"].VacationDaysUsed)
	}
	if got := f.notifier.SentTo("sub"); len(got) != 1 || got[0] != "substitute_assigned" {
		t.Errorf("substitute notifications = %v, want [substitute_assigned]", got)
	}
}

type failingCounterStore struct {
	*testutil.FakeUserStore
	failID string
}

func (s *failingCounterStore) UpdateCounters(ctx context.Context, u *repository.User) error {
	if u.ID == s.failID {
		return errors.New(errors.CodeInternal, "user store unavailable")
	}
	return s.FakeUserStore.UpdateCounters(ctx, u)
}

type failingScheduleStore struct {
	*testutil.FakeScheduleStore
}

func (s *failingScheduleStore) Create(ctx context.Context, sch *repository.VacationSchedule) error {
	return errors.New(errors.CodeInternal, "schedule store unavailable")
}

func TestFinalApprovalInsufficientBalanceRejectsRequest(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-10"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	// The balance gets consumed elsewhere between submission and approval,
	// so the finalizing debit can no longer be funded.
	f.users.Users["alice"].VacationDaysUsed = 20

	_, err = f.svc.DecideApprovalStep(ctx, &DecideStepInput{
		RequestID: req.ID,
		StepID:    req.Steps[0].ID,
		ActorID:   "boss",
		Decision:  DecisionApprove,
	})
	if errors.ReasonOf(err) != errors.ReasonInsufficientLeaveBalance {
		t.Fatalf("DecideApprovalStep error = %v, want InsufficientLeaveBalance", err)
	}

	if len(f.schedules.Schedules) != 0 {
		t.Errorf("schedules created = %d, want none for an unfunded approval", len(f.schedules.Schedules))
	}
	if got := f.users.Users["alice"].VacationDaysUsed; got != 20 {
		t.Errorf("VacationDaysUsed = %d, want 20 untouched", got)
	}
	got, _ := f.requests.GetByID(ctx, req.ID)
	if got.Status != repository.RequestStatusRejected {
		t.Errorf("request status = %s, want rejected", got.Status)
	}
	if n := f.notifier.SentTo("alice"); len(n) == 0 || n[len(n)-1] != "request_rejected" {
		t.Errorf("alice notifications = %v, want request_rejected last", n)
	}
}

func TestFinalApprovalScheduleFailureCreditsBack(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	req, err := f.svc.SubmitRequest(ctx, &SubmitRequestInput{
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-10"),
	})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	f.svc.schedules = &failingScheduleStore{FakeScheduleStore: f.schedules}

	_, err = f.svc.DecideApprovalStep(ctx, &DecideStepInput{
		RequestID: req.ID,
		StepID:    req.Steps[0].ID,
		ActorID:   "boss",
		Decision:  DecisionApprove,
	})
	if err == nil {
		t.Fatal("DecideApprovalStep succeeded despite schedule store failure")
	}
	if got := f.users.Users["alice"].VacationDaysUsed; got != 0 {
		t.Errorf("VacationDaysUsed = %d, want 0 after the compensating credit", got)
	}
}

func cancellationFixture(t *testing.T, scheduleStatus repository.ScheduleStatus) (*requestFixture, *repository.VacationSchedule) {
	t.Helper()
	alice := employee("alice")
	alice.VacationDaysUsed = 10
	f := newRequestFixture(t, alice, employee("boss"), admin("root"))

	req := &repository.Request{
		ID:        "req-1",
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		Status:    repository.RequestStatusApproved,
		StartDate: day("2025-06-13"),
		EndDate:   day("2025-06-17"),
		Steps: []*repository.RequestApprovalStep{
			{ID: "step-1", RequestID: "req-1", StepOrder: 1, ApproverID: "boss", Status: repository.StepStatusApproved},
		},
	}
	if err := f.requests.Create(context.Background(), req); err != nil {
		t.Fatalf("seeding request: %v", err)
	}

	sch := &repository.VacationSchedule{
		ID:              "sch-1",
		UserID:          "alice",
		StartDate:       day("2025-06-13"),
		EndDate:         day("2025-06-17"),
		SourceRequestID: "req-1",
		Status:          scheduleStatus,
	}
	if err := f.schedules.Create(context.Background(), sch); err != nil {
		t.Fatalf("seeding schedule: %v", err)
	}
	return f, sch
}

func TestAdminCancelActiveVacationCreditsLedger(t *testing.T) {
	ctx := context.Background()
	f, _ := cancellationFixture(t, repository.ScheduleStatusActive)

	if err := f.svc.CancelVacation(ctx, "sch-1", "root", nil); err != nil {
		t.Fatalf("CancelVacation: %v", err)
	}

	if f.schedules.Schedules["sch-1"].Status != repository.ScheduleStatusCancelled {
		t.Errorf("schedule status = %s, want cancelled", f.schedules.Schedules["sch-1"].Status)
	}
	if got := f.users.Users["alice"].VacationDaysUsed; got != 5 {
		t.Errorf("VacationDaysUsed = %d, want 5", got)
	}
	req, _ := f.requests.GetByID(ctx, "req-1")
	if req.Status != repository.RequestStatusCancelled {
		t.Errorf("request status = %s, want cancelled", req.Status)
	}
	if got := f.notifier.SentTo("alice"); len(got) != 1 || got[0] != "vacation_cancelled" {
		t.Errorf("alice notifications = %v, want [vacation_cancelled]", got)
	}
}

func TestCancelCreditFailureRestoresScheduleStatus(t *testing.T) {
	ctx := context.Background()
	f, _ := cancellationFixture(t, repository.ScheduleStatusActive)
	f.svc.ledger.users = &failingCounterStore{FakeUserStore: f.users, failID: "alice"}

	err := f.svc.CancelVacation(ctx, "sch-1", "root", nil)
	if err == nil {
		t.Fatal("CancelVacation succeeded despite credit failure")
	}

	if got := f.schedules.Schedules["sch-1"].Status; got != repository.ScheduleStatusActive {
		t.Errorf("schedule status = %s, want active restored after credit failure", got)
	}
	if got := f.users.Users["alice"].VacationDaysUsed; got != 10 {
		t.Errorf("VacationDaysUsed = %d, want 10 untouched", got)
	}
	req, _ := f.requests.GetByID(ctx, "req-1")
	if req.Status != repository.RequestStatusApproved {
		t.Errorf("request status = %s, want approved untouched", req.Status)
	}
}

func TestApproverCancelOutsideWindowRejected(t *testing.T) {
	ctx := context.Background()
	// The vacation started June 13; the test clock is June 15, two days in.
	f, _ := cancellationFixture(t, repository.ScheduleStatusActive)

	err := f.svc.CancelVacation(ctx, "sch-1", "boss", nil)
	if errors.ReasonOf(err) != errors.ReasonCancellationWindowClosed {
		t.Fatalf("CancelVacation error = %v, want CancellationWindowClosed", err)
	}
	if f.schedules.Schedules["sch-1"].Status != repository.ScheduleStatusActive {
		t.Errorf("schedule cancelled despite closed window")
	}
	if f.users.Users["alice"].VacationDaysUsed != 10 {
		t.Errorf("ledger credited despite closed window")
	}
}

func TestApproverCancelWithinWindow(t *testing.T) {
	ctx := context.Background()
	f, sch := cancellationFixture(t, repository.ScheduleStatusActive)
	// Shift the start so the clock sits exactly one day after it.
	f.schedules.Schedules[sch.ID].StartDate = day("2025-06-14")
	f.schedules.Schedules[sch.ID].EndDate = day("2025-06-18")

	if err := f.svc.CancelVacation(ctx, "sch-1", "boss", nil); err != nil {
		t.Fatalf("CancelVacation within window: %v", err)
	}
}

func TestOwnerCancelOnlyBeforeStart(t *testing.T) {
	ctx := context.Background()
	f, _ := cancellationFixture(t, repository.ScheduleStatusActive)

	err := f.svc.CancelVacation(ctx, "sch-1", "alice", nil)
	if errors.ReasonOf(err) != errors.ReasonCancellationWindowClosed {
		t.Errorf("started-vacation self-cancel error = %v, want CancellationWindowClosed", err)
	}

	f2, sch := cancellationFixture(t, repository.ScheduleStatusScheduled)
	f2.schedules.Schedules[sch.ID].StartDate = day("2025-06-20")
	f2.schedules.Schedules[sch.ID].EndDate = day("2025-06-24")
	if err := f2.svc.CancelVacation(ctx, "sch-1", "alice", nil); err != nil {
		t.Errorf("pre-start self-cancel rejected: %v", err)
	}
}

func TestCancelForbiddenForStranger(t *testing.T) {
	ctx := context.Background()
	f, _ := cancellationFixture(t, repository.ScheduleStatusActive)
	f.users.Users["mallory"] = employee("mallory")

	err := f.svc.CancelVacation(ctx, "sch-1", "mallory", nil)
	if errors.CodeOf(err) != errors.CodeForbidden {
		t.Errorf("stranger cancel error = %v, want forbidden", err)
	}
}

func TestEditRequestNotifiesDecidedApproversOnly(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"), employee("hr"))

	req := &repository.Request{
		ID:        "req-1",
		UserID:    "alice",
		Type:      repository.RequestTypeVacation,
		Status:    repository.RequestStatusInReview,
		StartDate: day("2025-07-01"),
		EndDate:   day("2025-07-05"),
		Steps: []*repository.RequestApprovalStep{
			{ID: "s1", RequestID: "req-1", StepOrder: 1, ApproverID: "boss", Status: repository.StepStatusApproved},
			{ID: "s2", RequestID: "req-1", StepOrder: 2, ApproverID: "hr", Status: repository.StepStatusInReview},
		},
	}
	if err := f.requests.Create(ctx, req); err != nil {
		t.Fatalf("seeding request: %v", err)
	}

	_, err := f.svc.EditRequest(ctx, "req-1", "alice", map[string]any{"comment": "moved"}, day("2025-07-02"), day("2025-07-06"))
	if err != nil {
		t.Fatalf("EditRequest: %v", err)
	}

	if got := f.notifier.SentTo("boss"); len(got) != 1 || got[0] != "request_edited" {
		t.Errorf("decided approver notifications = %v, want [request_edited]", got)
	}
	if got := f.notifier.SentTo("hr"); len(got) != 0 {
		t.Errorf("undecided approver notified: %v", got)
	}

	updated, _ := f.requests.GetByID(ctx, "req-1")
	if !updated.StartDate.Equal(day("2025-07-02")) {
		t.Errorf("start date not updated: %s", updated.StartDate)
	}
}

func TestEditRequestAfterDecisionFails(t *testing.T) {
	ctx := context.Background()
	f := newRequestFixture(t, employee("alice"), employee("boss"))

	for _, status := range []repository.RequestStatus{
		repository.RequestStatusApproved,
		repository.RequestStatusRejected,
		repository.RequestStatusAwaitingSurvey,
	} {
		req := &repository.Request{
			ID:        "req-" + string(status),
			UserID:    "alice",
			Type:      repository.RequestTypeVacation,
			Status:    status,
			StartDate: day("2025-07-01"),
			EndDate:   day("2025-07-05"),
		}
		if err := f.requests.Create(ctx, req); err != nil {
			t.Fatalf("seeding request: %v", err)
		}

		_, err := f.svc.EditRequest(ctx, req.ID, "alice", nil, day("2025-07-02"), day("2025-07-06"))
		if errors.ReasonOf(err) != errors.ReasonInvalidStatusTransition {
			t.Errorf("edit of %s request error = %v, want InvalidStatusTransition", status, err)
		}
	}
}

func TestGetVacationSummary(t *testing.T) {
	ctx := context.Background()
	alice := employee("alice")
	alice.VacationDaysUsed = 8
	alice.OnDemandVacationDaysUsed = 1
	carried := 3
	alice.CarriedOverVacationDays = &carried
	f := newRequestFixture(t, alice, employee("boss"))

	summary, err := f.svc.GetVacationSummary(ctx, "alice")
	if err != nil {
		t.Fatalf("GetVacationSummary: %v", err)
	}
	if summary.VacationDaysRemaining != 21 {
		t.Errorf("VacationDaysRemaining = %d, want 21 (26-8+3)", summary.VacationDaysRemaining)
	}
	if summary.OnDemandDaysRemaining != 3 {
		t.Errorf("OnDemandDaysRemaining = %d, want 3", summary.OnDemandDaysRemaining)
	}
	if summary.CarriedOverVacationDays != 3 {
		t.Errorf("CarriedOverVacationDays = %d, want 3", summary.CarriedOverVacationDays)
	}
}
