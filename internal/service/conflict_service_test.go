package service

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/testutil"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func deptUser(id, dept string) *repository.User {
	return &repository.User{ID: id, DepartmentID: dept, IsActive: true, AnnualVacationDays: 26}
}

func activeSchedule(id, userID, start, end string) *repository.VacationSchedule {
	return &repository.VacationSchedule{
		ID:        id,
		UserID:    userID,
		StartDate: day(start),
		EndDate:   day(end),
		Status:    repository.ScheduleStatusActive,
	}
}

func hasConflict(r *ConflictResult, typ ConflictType) bool {
	for _, c := range r.Conflicts {
		if c.Type == typ {
			return true
		}
	}
	return false
}

func TestAnalyzeConflictsCleanRange(t *testing.T) {
	ctx := context.Background()
	users := testutil.NewFakeUserStore(
		deptUser("u1", "d1"), deptUser("u2", "d1"), deptUser("u3", "d1"), deptUser("u4", "d1"),
	)
	svc := NewConflictService(users, testutil.NewFakeScheduleStore(), logger.Nop())

	result, err := svc.AnalyzeConflicts(ctx, "u1", "d1", day("2025-07-01"), day("2025-07-05"))
	if err != nil {
		t.Fatalf("AnalyzeConflicts: %v", err)
	}
	if !result.CanBeApproved {
		t.Errorf("clean range not approvable: %+v", result.Conflicts)
	}
	// One of four absent is 25%, below the warning threshold.
	if len(result.Conflicts) != 0 {
		t.Errorf("conflicts = %+v, want none", result.Conflicts)
	}
}

func TestAnalyzeConflictsCoverageThresholds(t *testing.T) {
	ctx := context.Background()
	// Ten-person team. Requester plus two on vacation = 30%: warning.
	var team []*repository.User
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"} {
		team = append(team, deptUser(id, "d1"))
	}
	users := testutil.NewFakeUserStore(team...)
	schedules := testutil.NewFakeScheduleStore(
		activeSchedule("s1", "u2", "2025-07-01", "2025-07-10"),
		activeSchedule("s2", "u3", "2025-07-01", "2025-07-10"),
	)
	svc := NewConflictService(users, schedules, logger.Nop())

	result, err := svc.AnalyzeConflicts(ctx, "u1", "d1", day("2025-07-02"), day("2025-07-02"))
	if err != nil {
		t.Fatalf("AnalyzeConflicts: %v", err)
	}
	if !hasConflict(result, ConflictCoverageLow) {
		t.Errorf("30%% absence not flagged as low coverage: %+v", result.Conflicts)
	}
	if hasConflict(result, ConflictCoverageCritical) {
		t.Errorf("30%% absence flagged critical")
	}
	if !result.CanBeApproved {
		t.Errorf("warning-level coverage blocked approval")
	}
}

func TestAnalyzeConflictsCriticalCoverageBlocks(t *testing.T) {
	ctx := context.Background()
	users := testutil.NewFakeUserStore(
		deptUser("u1", "d1"), deptUser("u2", "d1"), deptUser("u3", "d1"), deptUser("u4", "d1"),
	)
	schedules := testutil.NewFakeScheduleStore(
		activeSchedule("s1", "u2", "2025-07-01", "2025-07-10"),
	)
	svc := NewConflictService(users, schedules, logger.Nop())

	// Two of four absent is 50%: critical.
	result, err := svc.AnalyzeConflicts(ctx, "u1", "d1", day("2025-07-02"), day("2025-07-03"))
	if err != nil {
		t.Fatalf("AnalyzeConflicts: %v", err)
	}
	if !hasConflict(result, ConflictCoverageCritical) {
		t.Errorf("50%% absence not flagged critical: %+v", result.Conflicts)
	}
	if result.CanBeApproved {
		t.Errorf("critical coverage did not block approval")
	}
}

func TestAnalyzeConflictsOwnOverlap(t *testing.T) {
	ctx := context.Background()
	var team []*repository.User
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"} {
		team = append(team, deptUser(id, "d1"))
	}
	users := testutil.NewFakeUserStore(team...)
	schedules := testutil.NewFakeScheduleStore(
		activeSchedule("s1", "u1", "2025-07-05", "2025-07-08"),
	)
	svc := NewConflictService(users, schedules, logger.Nop())

	result, err := svc.AnalyzeConflicts(ctx, "u1", "d1", day("2025-07-07"), day("2025-07-12"))
	if err != nil {
		t.Fatalf("AnalyzeConflicts: %v", err)
	}
	if !hasConflict(result, ConflictOverlappingVacation) {
		t.Errorf("own overlapping vacation not flagged: %+v", result.Conflicts)
	}
	if result.CanBeApproved {
		t.Errorf("overlapping own vacation did not block approval")
	}
}

func TestAnalyzeConflictsKeyPersonnel(t *testing.T) {
	ctx := context.Background()
	supervisor := "boss"
	u1 := deptUser("u1", "d1")
	u1.SupervisorID = &supervisor
	var team []*repository.User
	team = append(team, u1, deptUser("boss", "d2"))
	for _, id := range []string{"u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"} {
		team = append(team, deptUser(id, "d1"))
	}
	users := testutil.NewFakeUserStore(team...)
	schedules := testutil.NewFakeScheduleStore(
		activeSchedule("s1", "boss", "2025-07-01", "2025-07-10"),
	)
	svc := NewConflictService(users, schedules, logger.Nop())

	result, err := svc.AnalyzeConflicts(ctx, "u1", "d1", day("2025-07-02"), day("2025-07-04"))
	if err != nil {
		t.Fatalf("AnalyzeConflicts: %v", err)
	}
	if !hasConflict(result, ConflictKeyPersonnelUnavailable) {
		t.Errorf("absent supervisor not flagged: %+v", result.Conflicts)
	}
	if !result.CanBeApproved {
		t.Errorf("key personnel warning blocked approval")
	}
}
