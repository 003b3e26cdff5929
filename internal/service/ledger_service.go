package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// updateRetries bounds the optimistic-concurrency retry loop on user rows.
const updateRetries = 3

// LedgerService owns the per-user leave counters and the arithmetic rules
// for entitlement, consumption, carry-over and expiry. All counter mutations
// for one user are serialized through a per-user lock; cross-user operations
// run in parallel.
type LedgerService struct {
	users  UserStore
	audit  AuditStore
	policy config.LeavePolicy
	log    *logger.Logger
	locks  *keyedMutex
	now    func() time.Time
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(users UserStore, audit AuditStore, policy config.LeavePolicy, log *logger.Logger) *LedgerService {
	return &LedgerService{
		users:  users,
		audit:  audit,
		policy: policy,
		log:    log,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// ── availability ─────────────────────────────────────────────────────────────

// available returns the number of vacation days the user can still take,
// counting carried-over days only while they have not expired.
func (s *LedgerService) available(u *repository.User, asOf time.Time) int {
	avail := u.AnnualVacationDays - u.VacationDaysUsed
	if u.CarriedOverVacationDays != nil {
		if u.CarriedOverExpiryDate == nil || !repository.TruncateToDay(asOf).After(repository.TruncateToDay(*u.CarriedOverExpiryDate)) {
			avail += *u.CarriedOverVacationDays
		}
	}
	return avail
}

// OnDemandRemaining is the figure shown to the user when requesting
// on-demand leave.
func (s *LedgerService) OnDemandRemaining(u *repository.User) int {
	r := s.policy.OnDemandYearlyCap - u.OnDemandVacationDaysUsed
	if r < 0 {
		return 0
	}
	return r
}

// checkAvailability validates that the user can take the requested leave.
// Sick leave never consumes vacation balance and always passes.
func (s *LedgerService) checkAvailability(u *repository.User, days int, kind repository.RequestType, reasonCategory *string) error {
	if days <= 0 {
		return errors.InvalidInput("days", "requested day count must be positive")
	}

	switch kind {
	case repository.RequestTypeSickLeave:
		return nil

	case repository.RequestTypeOnDemand:
		if u.OnDemandVacationDaysUsed+days > s.policy.OnDemandYearlyCap {
			return errors.Validation(errors.ReasonOnDemandLimitExceeded,
				fmt.Sprintf("on-demand leave limit reached: %d of %d days remaining", s.OnDemandRemaining(u), s.policy.OnDemandYearlyCap))
		}
		if days > s.available(u, s.now()) {
			return errors.Validation(errors.ReasonInsufficientLeaveBalance,
				fmt.Sprintf("insufficient leave balance: %d days requested, %d available", days, s.available(u, s.now())))
		}
		return nil

	case repository.RequestTypeVacation:
		if days > s.available(u, s.now()) {
			return errors.Validation(errors.ReasonInsufficientLeaveBalance,
				fmt.Sprintf("insufficient leave balance: %d days requested, %d available", days, s.available(u, s.now())))
		}
		return nil

	case repository.RequestTypeCircumstantial:
		if reasonCategory == nil || *reasonCategory == "" {
			return errors.InvalidInput("reason_category", "circumstantial leave requires a reason category")
		}
		limit, ok := s.policy.CircumstantialCaps[*reasonCategory]
		if !ok {
			return errors.InvalidInput("reason_category", fmt.Sprintf("unknown reason category %q", *reasonCategory))
		}
		if days > limit {
			return errors.Validation(errors.ReasonCategoryLimitExceeded,
				fmt.Sprintf("circumstantial leave for %q is capped at %d days", *reasonCategory, limit))
		}
		return nil

	default:
		return errors.InvalidInput("type", fmt.Sprintf("unknown leave type %q", kind))
	}
}

// CheckAvailability is the submission-time validation entry point. The same
// check runs again inside Debit under the user lock, so a race between two
// submissions cannot double-spend.
func (s *LedgerService) CheckAvailability(ctx context.Context, userID string, days int, kind repository.RequestType, reasonCategory *string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.checkAvailability(u, days, kind, reasonCategory)
}

// DocumentationRequired reports whether a circumstantial request of the given
// length needs a supporting document attached.
func (s *LedgerService) DocumentationRequired(reasonCategory string, days int) bool {
	threshold, ok := s.policy.CircumstantialDocThreshold[reasonCategory]
	if !ok {
		return false
	}
	return days > threshold
}

// ── debit / credit ───────────────────────────────────────────────────────────

// Debit consumes days from the user's balance. Current-year days are drawn
// first, then carried-over days. VacationDaysUsed is a single running counter
// across all paid leave kinds; the overflow past the annual entitlement is
// what reduces CarriedOverVacationDays.
func (s *LedgerService) Debit(ctx context.Context, userID string, days int, kind repository.RequestType, reasonCategory *string, actorID string) error {
	if kind == repository.RequestTypeSickLeave {
		return nil
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.withRetry(ctx, userID, func(u *repository.User) error {
		if err := s.checkAvailability(u, days, kind, reasonCategory); err != nil {
			return err
		}

		remainingCurrent := u.AnnualVacationDays - u.VacationDaysUsed
		if remainingCurrent < 0 {
			remainingCurrent = 0
		}
		fromCarried := days - remainingCurrent
		if fromCarried > 0 && u.CarriedOverVacationDays != nil {
			c := *u.CarriedOverVacationDays - fromCarried
			if c < 0 {
				c = 0
			}
			u.CarriedOverVacationDays = &c
		}

		u.VacationDaysUsed += days
		switch kind {
		case repository.RequestTypeOnDemand:
			u.OnDemandVacationDaysUsed += days
		case repository.RequestTypeCircumstantial:
			u.CircumstantialLeaveDaysUsed += days
		}
		return nil
	}, "leave_debited", actorID, fmt.Sprintf("%d days (%s)", days, kind))
}

// Credit reverses a prior debit of the same size, used on cancellation.
// Carried-over days are restored first up to the amount the debit drew from
// them, which is recoverable as the excess of VacationDaysUsed over the
// annual entitlement.
func (s *LedgerService) Credit(ctx context.Context, userID string, days int, kind repository.RequestType, actorID string) error {
	if kind == repository.RequestTypeSickLeave {
		return nil
	}
	if days <= 0 {
		return errors.InvalidInput("days", "credited day count must be positive")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.withRetry(ctx, userID, func(u *repository.User) error {
		excess := u.VacationDaysUsed - u.AnnualVacationDays
		if excess < 0 {
			excess = 0
		}
		restore := days
		if restore > excess {
			restore = excess
		}
		if restore > 0 {
			c := restore
			if u.CarriedOverVacationDays != nil {
				c += *u.CarriedOverVacationDays
			}
			u.CarriedOverVacationDays = &c
		}

		u.VacationDaysUsed -= days
		if u.VacationDaysUsed < 0 {
			u.VacationDaysUsed = 0
		}
		switch kind {
		case repository.RequestTypeOnDemand:
			u.OnDemandVacationDaysUsed -= days
			if u.OnDemandVacationDaysUsed < 0 {
				u.OnDemandVacationDaysUsed = 0
			}
		case repository.RequestTypeCircumstantial:
			u.CircumstantialLeaveDaysUsed -= days
			if u.CircumstantialLeaveDaysUsed < 0 {
				u.CircumstantialLeaveDaysUsed = 0
			}
		}
		return nil
	}, "leave_credited", actorID, fmt.Sprintf("%d days (%s)", days, kind))
}

// ── entitlement ──────────────────────────────────────────────────────────────

// ComputeProportionalEntitlement computes the first-year entitlement for an
// employee hired mid-year: ceil(monthsRemaining * annualDays / 12). The hire
// month counts as a full month when the hire day is on or before the
// configured cutoff day. The cutoff is deployment policy, not statute; see
// config.LeavePolicy.HireDayCutoff.
func (s *LedgerService) ComputeProportionalEntitlement(employmentStartDate time.Time, annualDays int) int {
	monthsRemaining := 12 - int(employmentStartDate.Month()) + 1
	if employmentStartDate.Day() > s.policy.HireDayCutoff {
		monthsRemaining--
	}
	if monthsRemaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(monthsRemaining) * float64(annualDays) / 12.0))
}

// ── annual reset / carry-over expiry ─────────────────────────────────────────

// AnnualReset rolls one user into the new year: unused days move into
// CarriedOverVacationDays with an expiry of the statutory date, the annual
// entitlement is restored to the configured default, and all used counters
// are zeroed. Safe to re-run: a CarriedOverExpiryDate already inside the
// current cycle means the user was processed and the call is a no-op.
func (s *LedgerService) AnnualReset(ctx context.Context, userID string, now time.Time) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	expiry := time.Date(now.Year(), s.policy.CarryOverExpiryMonth, s.policy.CarryOverExpiryDay, 0, 0, 0, 0, time.UTC)

	return s.withRetry(ctx, userID, func(u *repository.User) error {
		if u.CarriedOverExpiryDate != nil && u.CarriedOverExpiryDate.Equal(expiry) {
			return errAlreadyProcessed
		}

		// The expiry date doubles as the processed-this-cycle marker, so
		// it is stamped even when nothing carries over.
		unused := u.AnnualVacationDays - u.VacationDaysUsed
		if unused > 0 {
			u.CarriedOverVacationDays = &unused
		} else {
			u.CarriedOverVacationDays = nil
		}
		u.CarriedOverExpiryDate = &expiry

		u.AnnualVacationDays = s.policy.DefaultAnnualDays
		u.VacationDaysUsed = 0
		u.OnDemandVacationDaysUsed = 0
		u.CircumstantialLeaveDaysUsed = 0
		return nil
	}, "annual_reset", "system", fmt.Sprintf("cycle %d", now.Year()))
}

// ExpireCarryOver voids the user's carried-over days after the statutory
// deadline. No-op when the user holds none.
func (s *LedgerService) ExpireCarryOver(ctx context.Context, userID string, now time.Time) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.withRetry(ctx, userID, func(u *repository.User) error {
		if u.CarriedOverVacationDays == nil {
			return errAlreadyProcessed
		}
		if u.CarriedOverExpiryDate != nil && repository.TruncateToDay(now).Before(repository.TruncateToDay(*u.CarriedOverExpiryDate).AddDate(0, 0, 1)) {
			return errAlreadyProcessed
		}
		u.CarriedOverVacationDays = nil
		u.CarriedOverExpiryDate = nil
		return nil
	}, "carry_over_expired", "system", "")
}

// ── internals ────────────────────────────────────────────────────────────────

// errAlreadyProcessed is a sentinel used inside withRetry to skip the write
// without surfacing an error.
var errAlreadyProcessed = errors.New(errors.CodeConflict, "already processed")

// withRetry runs read-mutate-write against the user row, retrying on the
// optimistic-concurrency conflict a bounded number of times. Mutations that
// return errAlreadyProcessed are dropped silently.
func (s *LedgerService) withRetry(ctx context.Context, userID string, mutate func(u *repository.User) error, action, actorID, detail string) error {
	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		old := counterSnapshot(u)

		if err := mutate(u); err != nil {
			if err == errAlreadyProcessed {
				return nil
			}
			return err
		}

		if err := s.users.UpdateCounters(ctx, u); err != nil {
			if errors.Is(err, errors.CodeConflict) {
				lastErr = err
				continue
			}
			return err
		}

		s.appendAudit(ctx, userID, action, actorID, old, counterSnapshot(u), detail)
		return nil
	}
	return errors.Wrap(lastErr, errors.CodeConflict, fmt.Sprintf("user %s counters kept changing concurrently", userID))
}

func counterSnapshot(u *repository.User) string {
	carried := 0
	if u.CarriedOverVacationDays != nil {
		carried = *u.CarriedOverVacationDays
	}
	return fmt.Sprintf("annual=%d used=%d on_demand=%d circumstantial=%d carried=%d",
		u.AnnualVacationDays, u.VacationDaysUsed, u.OnDemandVacationDaysUsed, u.CircumstantialLeaveDaysUsed, carried)
}

// appendAudit records the counter change. Best effort: audit failures are
// logged and never fail the accounting operation.
func (s *LedgerService) appendAudit(ctx context.Context, userID, action, actorID, oldVal, newVal, detail string) {
	entry := &repository.AuditLogEntry{
		EntityType: "User",
		EntityID:   userID,
		Action:     action,
		ActorID:    actorID,
		OldValue:   &oldVal,
		NewValue:   &newVal,
	}
	if detail != "" {
		entry.Reason = &detail
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("action", action).Msg("ledger: failed to write audit entry")
	}
}
