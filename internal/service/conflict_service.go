package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// ConflictType classifies a detected scheduling conflict.
type ConflictType string

const (
	ConflictCoverageLow             ConflictType = "COVERAGE_LOW"
	ConflictCoverageCritical        ConflictType = "COVERAGE_CRITICAL"
	ConflictOverlappingVacation     ConflictType = "OVERLAPPING_VACATION"
	ConflictKeyPersonnelUnavailable ConflictType = "KEY_PERSONNEL_UNAVAILABLE"
)

// Severity grades a conflict. Only Critical blocks approval.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Conflict is one detected issue with a proposed leave range.
type Conflict struct {
	Type            ConflictType
	Severity        Severity
	Date            *time.Time
	Message         string
	AffectedUserIDs []string
}

// ConflictResult is the analyzer's verdict for a proposed range.
type ConflictResult struct {
	Conflicts     []Conflict
	CanBeApproved bool
}

// ConflictService computes team coverage and overlap statistics for a
// proposed leave range. It is read-only and invoked synchronously during
// request validation.
type ConflictService struct {
	users     UserStore
	schedules ScheduleStore
	log       *logger.Logger
}

// NewConflictService creates a new conflict service.
func NewConflictService(users UserStore, schedules ScheduleStore, log *logger.Logger) *ConflictService {
	return &ConflictService{users: users, schedules: schedules, log: log}
}

// AnalyzeConflicts inspects every day of [startDate, endDate] against the
// department's existing schedules. Coverage flags assume the requesting user
// would also be absent.
func (s *ConflictService) AnalyzeConflicts(ctx context.Context, userID, departmentID string, startDate, endDate time.Time) (*ConflictResult, error) {
	team, err := s.users.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	schedules, err := s.schedules.ListByDepartmentAndRange(ctx, departmentID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	result := &ConflictResult{CanBeApproved: true}

	s.analyzeCoverage(result, userID, team, schedules, startDate, endDate)
	s.analyzeOwnOverlap(result, userID, schedules, startDate, endDate)
	if err := s.analyzeKeyPersonnel(ctx, result, userID, startDate, endDate); err != nil {
		return nil, err
	}

	for _, c := range result.Conflicts {
		if c.Severity == SeverityCritical {
			result.CanBeApproved = false
			break
		}
	}
	return result, nil
}

// analyzeCoverage flags each day where the absent share of the team reaches
// the warning (30%) or critical (50%) threshold.
func (s *ConflictService) analyzeCoverage(result *ConflictResult, userID string, team []*repository.User, schedules []*repository.VacationSchedule, startDate, endDate time.Time) {
	teamSize := len(team)
	if teamSize == 0 {
		return
	}

	start := repository.TruncateToDay(startDate)
	end := repository.TruncateToDay(endDate)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		absent := map[string]bool{userID: true}
		for _, sch := range schedules {
			if sch.Covers(day) {
				absent[sch.UserID] = true
			}
		}
		absentPercent := len(absent) * 100 / teamSize

		d := day
		switch {
		case absentPercent >= 50:
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:            ConflictCoverageCritical,
				Severity:        SeverityCritical,
				Date:            &d,
				Message:         fmt.Sprintf("%d%% of the team would be absent on %s", absentPercent, d.Format("2006-01-02")),
				AffectedUserIDs: keys(absent),
			})
		case absentPercent >= 30:
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:            ConflictCoverageLow,
				Severity:        SeverityWarning,
				Date:            &d,
				Message:         fmt.Sprintf("%d%% of the team would be absent on %s", absentPercent, d.Format("2006-01-02")),
				AffectedUserIDs: keys(absent),
			})
		}
	}
}

// analyzeOwnOverlap flags an existing scheduled or active vacation of the
// requesting user intersecting the proposed range.
func (s *ConflictService) analyzeOwnOverlap(result *ConflictResult, userID string, schedules []*repository.VacationSchedule, startDate, endDate time.Time) {
	for _, sch := range schedules {
		if sch.UserID != userID {
			continue
		}
		if sch.Overlaps(startDate, endDate) {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:     ConflictOverlappingVacation,
				Severity: SeverityCritical,
				Message: fmt.Sprintf("you already have a vacation from %s to %s in this range",
					sch.StartDate.Format("2006-01-02"), sch.EndDate.Format("2006-01-02")),
				AffectedUserIDs: []string{userID},
			})
		}
	}
}

// analyzeKeyPersonnel warns when the user's supervisor or substitute is
// already away during the proposed range.
func (s *ConflictService) analyzeKeyPersonnel(ctx context.Context, result *ConflictResult, userID string, startDate, endDate time.Time) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	check := func(otherID *string, role string) error {
		if otherID == nil || *otherID == "" {
			return nil
		}
		others, err := s.schedules.ListByUserAndRange(ctx, *otherID, startDate, endDate)
		if err != nil {
			return err
		}
		if len(others) > 0 {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:            ConflictKeyPersonnelUnavailable,
				Severity:        SeverityWarning,
				Message:         fmt.Sprintf("your %s is already on vacation during this range", role),
				AffectedUserIDs: []string{*otherID},
			})
		}
		return nil
	}

	if err := check(u.SupervisorID, "supervisor"); err != nil {
		return err
	}
	return check(u.SubstituteID, "substitute")
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
