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

func newTestLedger(users ...*repository.User) (*LedgerService, *testutil.FakeUserStore) {
	store := testutil.NewFakeUserStore(users...)
	ledger := NewLedgerService(store, &testutil.FakeAuditStore{}, config.DefaultLeavePolicy(), logger.Nop())
	ledger.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return ledger, store
}

func testUser(id string) *repository.User {
	return &repository.User{
		ID:                 id,
		Name:               "Test User",
		DepartmentID:       "dept-1",
		IsActive:           true,
		AnnualVacationDays: 26,
	}
}

func TestDebitCreditRoundTrip(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 24
	carried := 5
	u.CarriedOverVacationDays = &carried

	ledger, store := newTestLedger(u)

	// 5 days: 2 from the current year, 3 from carry-over.
	if err := ledger.Debit(ctx, "u1", 5, repository.RequestTypeVacation, nil, "admin"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	after := store.Users["u1"]
	if after.VacationDaysUsed != 29 {
		t.Errorf("VacationDaysUsed after debit = %d, want 29", after.VacationDaysUsed)
	}
	if after.CarriedOverVacationDays == nil || *after.CarriedOverVacationDays != 2 {
		t.Errorf("CarriedOverVacationDays after debit = %v, want 2", after.CarriedOverVacationDays)
	}

	if err := ledger.Credit(ctx, "u1", 5, repository.RequestTypeVacation, "admin"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	after = store.Users["u1"]
	if after.VacationDaysUsed != 24 {
		t.Errorf("VacationDaysUsed after credit = %d, want 24", after.VacationDaysUsed)
	}
	if after.CarriedOverVacationDays == nil || *after.CarriedOverVacationDays != 5 {
		t.Errorf("CarriedOverVacationDays after credit = %v, want 5", after.CarriedOverVacationDays)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 25

	ledger, store := newTestLedger(u)

	err := ledger.Debit(ctx, "u1", 3, repository.RequestTypeVacation, nil, "admin")
	if errors.ReasonOf(err) != errors.ReasonInsufficientLeaveBalance {
		t.Fatalf("Debit error = %v, want InsufficientLeaveBalance", err)
	}
	if store.Users["u1"].VacationDaysUsed != 25 {
		t.Errorf("counters changed on rejected debit")
	}
}

func TestOnDemandCapAlwaysRejectsAtLimit(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.OnDemandVacationDaysUsed = 4

	ledger, _ := newTestLedger(u)

	for _, days := range []int{1, 2, 10} {
		err := ledger.Debit(ctx, "u1", days, repository.RequestTypeOnDemand, nil, "u1")
		if errors.ReasonOf(err) != errors.ReasonOnDemandLimitExceeded {
			t.Errorf("Debit(%d days) error = %v, want OnDemandLimitExceeded", days, err)
		}
	}
}

func TestOnDemandDebitUpdatesBothCounters(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(testUser("u1"))

	if err := ledger.Debit(ctx, "u1", 2, repository.RequestTypeOnDemand, nil, "u1"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	u := store.Users["u1"]
	if u.VacationDaysUsed != 2 || u.OnDemandVacationDaysUsed != 2 {
		t.Errorf("counters = used %d, on-demand %d; want 2, 2", u.VacationDaysUsed, u.OnDemandVacationDaysUsed)
	}
	if ledger.OnDemandRemaining(u) != 2 {
		t.Errorf("OnDemandRemaining = %d, want 2", ledger.OnDemandRemaining(u))
	}
}

func TestCircumstantialCategoryRules(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(testUser("u1"))

	marriage := "marriage"
	if err := ledger.CheckAvailability(ctx, "u1", 2, repository.RequestTypeCircumstantial, &marriage); err != nil {
		t.Errorf("2-day marriage leave rejected: %v", err)
	}

	err := ledger.CheckAvailability(ctx, "u1", 3, repository.RequestTypeCircumstantial, &marriage)
	if errors.ReasonOf(err) != errors.ReasonCategoryLimitExceeded {
		t.Errorf("3-day marriage leave error = %v, want CategoryLimitExceeded", err)
	}

	err = ledger.CheckAvailability(ctx, "u1", 1, repository.RequestTypeCircumstantial, nil)
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Errorf("missing reason category error = %v, want validation failure", err)
	}

	if !ledger.DocumentationRequired("funeral", 2) {
		t.Errorf("2-day funeral leave should require documentation")
	}
	if ledger.DocumentationRequired("funeral", 1) {
		t.Errorf("1-day funeral leave should not require documentation")
	}
}

func TestProportionalEntitlementCutoff(t *testing.T) {
	ledger, _ := newTestLedger()

	tests := []struct {
		start string
		want  int
	}{
		// Hired on the cutoff day: July counts, 6 months remain.
		{"2025-07-15", 13},
		// Hired the day after the cutoff: July does not count.
		{"2025-07-16", 11},
		{"2025-01-10", 26},
		{"2025-12-01", 3},
	}
	for _, tt := range tests {
		start, _ := time.Parse("2006-01-02", tt.start)
		if got := ledger.ComputeProportionalEntitlement(start, 26); got != tt.want {
			t.Errorf("ComputeProportionalEntitlement(%s, 26) = %d, want %d", tt.start, got, tt.want)
		}
	}
}

func TestAnnualResetProperties(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 10
	u.OnDemandVacationDaysUsed = 2
	u.CircumstantialLeaveDaysUsed = 1

	ledger, store := newTestLedger(u)
	jan1 := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

	if err := ledger.AnnualReset(ctx, "u1", jan1); err != nil {
		t.Fatalf("AnnualReset: %v", err)
	}

	after := store.Users["u1"]
	if after.VacationDaysUsed != 0 || after.OnDemandVacationDaysUsed != 0 || after.CircumstantialLeaveDaysUsed != 0 {
		t.Errorf("used counters not zeroed: %d/%d/%d",
			after.VacationDaysUsed, after.OnDemandVacationDaysUsed, after.CircumstantialLeaveDaysUsed)
	}
	if after.AnnualVacationDays != 26 {
		t.Errorf("AnnualVacationDays = %d, want 26", after.AnnualVacationDays)
	}
	if after.CarriedOverVacationDays == nil || *after.CarriedOverVacationDays != 16 {
		t.Errorf("CarriedOverVacationDays = %v, want 16", after.CarriedOverVacationDays)
	}
	wantExpiry := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	if after.CarriedOverExpiryDate == nil || !after.CarriedOverExpiryDate.Equal(wantExpiry) {
		t.Errorf("CarriedOverExpiryDate = %v, want %v", after.CarriedOverExpiryDate, wantExpiry)
	}
}

func TestAnnualResetIdempotentPerCycle(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 10

	ledger, store := newTestLedger(u)
	jan1 := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

	if err := ledger.AnnualReset(ctx, "u1", jan1); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	first := *store.Users["u1"]

	if err := ledger.AnnualReset(ctx, "u1", jan1); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	second := store.Users["u1"]

	if *second.CarriedOverVacationDays != *first.CarriedOverVacationDays {
		t.Errorf("second run changed carry-over: %d -> %d",
			*first.CarriedOverVacationDays, *second.CarriedOverVacationDays)
	}
	if second.Version != first.Version {
		t.Errorf("second run wrote the user row")
	}
}

func TestAnnualResetFullyUsedLeavesNoCarryOver(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 26

	ledger, store := newTestLedger(u)

	if err := ledger.AnnualReset(ctx, "u1", time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("AnnualReset: %v", err)
	}
	after := store.Users["u1"]
	if after.CarriedOverVacationDays != nil {
		t.Errorf("CarriedOverVacationDays = %v, want nil", after.CarriedOverVacationDays)
	}
	// The cycle marker is stamped regardless, keeping a re-run a no-op.
	if after.CarriedOverExpiryDate == nil {
		t.Errorf("CarriedOverExpiryDate marker missing")
	}
}

func TestExpireCarryOver(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	carried := 5
	expiry := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	u.CarriedOverVacationDays = &carried
	u.CarriedOverExpiryDate = &expiry

	ledger, store := newTestLedger(u)

	// Before the deadline nothing happens.
	if err := ledger.ExpireCarryOver(ctx, "u1", time.Date(2025, 9, 30, 6, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ExpireCarryOver: %v", err)
	}
	if store.Users["u1"].CarriedOverVacationDays == nil {
		t.Fatalf("carry-over expired before the deadline")
	}

	if err := ledger.ExpireCarryOver(ctx, "u1", time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ExpireCarryOver: %v", err)
	}
	after := store.Users["u1"]
	if after.CarriedOverVacationDays != nil || after.CarriedOverExpiryDate != nil {
		t.Errorf("carry-over not cleared: days=%v expiry=%v", after.CarriedOverVacationDays, after.CarriedOverExpiryDate)
	}
}

func TestExpiredCarryOverNotCountedAsAvailable(t *testing.T) {
	ctx := context.Background()
	u := testUser("u1")
	u.VacationDaysUsed = 26
	carried := 5
	expiry := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	u.CarriedOverVacationDays = &carried
	u.CarriedOverExpiryDate = &expiry

	ledger, _ := newTestLedger(u)

	// The test clock is June 15, past the expiry date.
	err := ledger.CheckAvailability(ctx, "u1", 1, repository.RequestTypeVacation, nil)
	if errors.ReasonOf(err) != errors.ReasonInsufficientLeaveBalance {
		t.Errorf("CheckAvailability error = %v, want InsufficientLeaveBalance", err)
	}
}
