// Package testutil provides in-memory fakes for the persistence interfaces,
// shared by the service and scheduler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
)

// ── users ────────────────────────────────────────────────────────────────────

// FakeUserStore keeps users in memory and enforces the same optimistic
// version check the pgx repository does.
type FakeUserStore struct {
	mu    sync.Mutex
	Users map[string]*repository.User
}

func NewFakeUserStore(users ...*repository.User) *FakeUserStore {
	s := &FakeUserStore{Users: make(map[string]*repository.User)}
	for _, u := range users {
		if u.Version == 0 {
			u.Version = 1
		}
		s.Users[u.ID] = u
	}
	return s
}

func (s *FakeUserStore) GetByID(_ context.Context, id string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *FakeUserStore) UpdateCounters(_ context.Context, u *repository.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.Users[u.ID]
	if !ok {
		return errors.NotFound("user", u.ID)
	}
	if cur.Version != u.Version {
		return errors.New(errors.CodeConflict, "user row was modified concurrently")
	}
	cp := *u
	cp.Version = cur.Version + 1
	s.Users[u.ID] = &cp
	u.Version = cp.Version
	return nil
}

func (s *FakeUserStore) ListActiveUsers(_ context.Context) ([]*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.User
	for _, u := range s.Users {
		if u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeUserStore) ListActiveByDepartment(_ context.Context, departmentID string) ([]*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.User
	for _, u := range s.Users {
		if u.IsActive && u.DepartmentID == departmentID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeUserStore) ListUsersWithCarriedOverDays(_ context.Context) ([]*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.User
	for _, u := range s.Users {
		if u.IsActive && u.CarriedOverVacationDays != nil && *u.CarriedOverVacationDays > 0 {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── schedules ────────────────────────────────────────────────────────────────

// FakeScheduleStore keeps schedules in memory with the repository's version
// semantics on status updates.
type FakeScheduleStore struct {
	mu        sync.Mutex
	Schedules map[string]*repository.VacationSchedule
}

func NewFakeScheduleStore(schedules ...*repository.VacationSchedule) *FakeScheduleStore {
	s := &FakeScheduleStore{Schedules: make(map[string]*repository.VacationSchedule)}
	for _, sch := range schedules {
		if sch.Version == 0 {
			sch.Version = 1
		}
		s.Schedules[sch.ID] = sch
	}
	return s
}

func (s *FakeScheduleStore) Create(_ context.Context, sch *repository.VacationSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	sch.Version = 1
	cp := *sch
	s.Schedules[sch.ID] = &cp
	return nil
}

func (s *FakeScheduleStore) GetByID(_ context.Context, id string) (*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.Schedules[id]
	if !ok {
		return nil, errors.NotFound("vacation_schedule", id)
	}
	cp := *sch
	return &cp, nil
}

func (s *FakeScheduleStore) UpdateStatus(_ context.Context, sch *repository.VacationSchedule, status repository.ScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.Schedules[sch.ID]
	if !ok {
		return errors.NotFound("vacation_schedule", sch.ID)
	}
	if cur.Version != sch.Version {
		return errors.New(errors.CodeConflict, "schedule row was modified concurrently")
	}
	cur.Status = status
	cur.Version++
	sch.Status = status
	sch.Version = cur.Version
	return nil
}

func (s *FakeScheduleStore) list(filter func(*repository.VacationSchedule) bool) []*repository.VacationSchedule {
	var out []*repository.VacationSchedule
	for _, sch := range s.Schedules {
		if filter(sch) {
			cp := *sch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FakeScheduleStore) ListByDepartmentAndRange(_ context.Context, _ string, start, end time.Time) ([]*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(sch *repository.VacationSchedule) bool {
		return (sch.Status == repository.ScheduleStatusScheduled || sch.Status == repository.ScheduleStatusActive) &&
			sch.Overlaps(start, end)
	}), nil
}

func (s *FakeScheduleStore) ListByUserAndRange(_ context.Context, userID string, start, end time.Time) ([]*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(sch *repository.VacationSchedule) bool {
		return sch.UserID == userID &&
			(sch.Status == repository.ScheduleStatusScheduled || sch.Status == repository.ScheduleStatusActive) &&
			sch.Overlaps(start, end)
	}), nil
}

func (s *FakeScheduleStore) ListScheduledToActivate(_ context.Context, today time.Time) ([]*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(sch *repository.VacationSchedule) bool {
		return sch.Status == repository.ScheduleStatusScheduled &&
			!repository.TruncateToDay(sch.StartDate).After(repository.TruncateToDay(today))
	}), nil
}

func (s *FakeScheduleStore) ListActiveToComplete(_ context.Context, today time.Time) ([]*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(sch *repository.VacationSchedule) bool {
		return sch.Status == repository.ScheduleStatusActive &&
			repository.TruncateToDay(sch.EndDate).Before(repository.TruncateToDay(today))
	}), nil
}

func (s *FakeScheduleStore) ListScheduledStartingOn(_ context.Context, day time.Time) ([]*repository.VacationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(sch *repository.VacationSchedule) bool {
		return (sch.Status == repository.ScheduleStatusScheduled || sch.Status == repository.ScheduleStatusActive) &&
			repository.TruncateToDay(sch.StartDate).Equal(repository.TruncateToDay(day))
	}), nil
}

// ── sick leaves ──────────────────────────────────────────────────────────────

type FakeSickLeaveStore struct {
	mu         sync.Mutex
	SickLeaves map[string]*repository.SickLeave
}

func NewFakeSickLeaveStore() *FakeSickLeaveStore {
	return &FakeSickLeaveStore{SickLeaves: make(map[string]*repository.SickLeave)}
}

func (s *FakeSickLeaveStore) Create(_ context.Context, sl *repository.SickLeave) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.SickLeaves {
		if existing.SourceRequestID == sl.SourceRequestID {
			return errors.New(errors.CodeConflict, "sick leave already exists for request")
		}
	}
	if sl.ID == "" {
		sl.ID = uuid.New().String()
	}
	cp := *sl
	s.SickLeaves[sl.ID] = &cp
	return nil
}

func (s *FakeSickLeaveStore) GetBySourceRequestID(_ context.Context, requestID string) (*repository.SickLeave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.SickLeaves {
		if sl.SourceRequestID == requestID {
			cp := *sl
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *FakeSickLeaveStore) ListActiveToComplete(_ context.Context, today time.Time) ([]*repository.SickLeave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.SickLeave
	for _, sl := range s.SickLeaves {
		if sl.Status == repository.SickLeaveStatusActive &&
			repository.TruncateToDay(sl.EndDate).Before(repository.TruncateToDay(today)) {
			cp := *sl
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeSickLeaveStore) UpdateStatus(_ context.Context, id string, status repository.SickLeaveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.SickLeaves[id]
	if !ok {
		return errors.NotFound("sick_leave", id)
	}
	sl.Status = status
	return nil
}

// ── requests ─────────────────────────────────────────────────────────────────

type FakeRequestStore struct {
	mu       sync.Mutex
	Requests map[string]*repository.Request
	// SickLeaves, when set, backs the left-join semantics of
	// ListApprovedSickLeaveRequests.
	SickLeaves *FakeSickLeaveStore
}

func NewFakeRequestStore(requests ...*repository.Request) *FakeRequestStore {
	s := &FakeRequestStore{Requests: make(map[string]*repository.Request)}
	for _, r := range requests {
		s.Requests[r.ID] = r
	}
	return s
}

func (s *FakeRequestStore) Create(_ context.Context, req *repository.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	s.Requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *FakeRequestStore) GetByID(_ context.Context, id string) (*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	return cloneRequest(req), nil
}

func (s *FakeRequestStore) UpdateStatus(_ context.Context, id string, status repository.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[id]
	if !ok {
		return errors.NotFound("request", id)
	}
	req.Status = status
	return nil
}

func (s *FakeRequestStore) UpdateFormData(_ context.Context, id string, formData map[string]any, startDate, endDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[id]
	if !ok {
		return errors.NotFound("request", id)
	}
	req.FormData = formData
	req.StartDate = startDate
	req.EndDate = endDate
	return nil
}

func (s *FakeRequestStore) UpdateStep(_ context.Context, step *repository.RequestApprovalStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[step.RequestID]
	if !ok {
		return errors.NotFound("request", step.RequestID)
	}
	for i, st := range req.Steps {
		if st.ID == step.ID {
			cp := *step
			req.Steps[i] = &cp
			return nil
		}
	}
	return errors.NotFound("approval_step", step.ID)
}

func (s *FakeRequestStore) ListOverdueApprovalSteps(_ context.Context, threshold time.Time) ([]*repository.RequestApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.RequestApprovalStep
	for _, req := range s.Requests {
		if req.Status != repository.RequestStatusInReview {
			continue
		}
		for _, st := range req.Steps {
			if st.Status == repository.StepStatusInReview && st.DueAt != nil && st.DueAt.Before(threshold) {
				cp := *st
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeRequestStore) ListPendingForApprover(_ context.Context, approverID string) ([]*repository.RequestApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.RequestApprovalStep
	for _, req := range s.Requests {
		if req.Status != repository.RequestStatusInReview {
			continue
		}
		for _, st := range req.Steps {
			if st.ApproverID == approverID && st.Status == repository.StepStatusInReview {
				cp := *st
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeRequestStore) ListApprovedSickLeaveRequests(_ context.Context) ([]*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Request
	for _, req := range s.Requests {
		if req.Type != repository.RequestTypeSickLeave || req.Status != repository.RequestStatusApproved {
			continue
		}
		if s.SickLeaves != nil {
			if sl, _ := s.SickLeaves.GetBySourceRequestID(context.Background(), req.ID); sl != nil {
				continue
			}
		}
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRequest(r *repository.Request) *repository.Request {
	cp := *r
	cp.Steps = make([]*repository.RequestApprovalStep, len(r.Steps))
	for i, st := range r.Steps {
		sc := *st
		cp.Steps[i] = &sc
	}
	return &cp
}

// ── templates ────────────────────────────────────────────────────────────────

type FakeTemplateStore struct {
	Templates       []*repository.ApprovalStepTemplate
	QuestionsByStep map[string][]*repository.QuizQuestion
}

func NewFakeTemplateStore(templates ...*repository.ApprovalStepTemplate) *FakeTemplateStore {
	return &FakeTemplateStore{
		Templates:       templates,
		QuestionsByStep: make(map[string][]*repository.QuizQuestion),
	}
}

func (s *FakeTemplateStore) ListForRequest(_ context.Context, departmentID string, requestType repository.RequestType) ([]*repository.ApprovalStepTemplate, error) {
	var specific, global []*repository.ApprovalStepTemplate
	for _, t := range s.Templates {
		if t.RequestType != requestType {
			continue
		}
		if t.DepartmentID != nil && *t.DepartmentID == departmentID {
			specific = append(specific, t)
		} else if t.DepartmentID == nil {
			global = append(global, t)
		}
	}
	if len(specific) > 0 {
		return specific, nil
	}
	return global, nil
}

func (s *FakeTemplateStore) ListQuizQuestionsForStep(_ context.Context, stepID string) ([]*repository.QuizQuestion, error) {
	return s.QuestionsByStep[stepID], nil
}

// ── delegations ──────────────────────────────────────────────────────────────

type FakeDelegationStore struct {
	Delegations []*repository.ApprovalDelegation
}

func (s *FakeDelegationStore) FindActiveFor(_ context.Context, approverID string, day time.Time) (*repository.ApprovalDelegation, error) {
	var best *repository.ApprovalDelegation
	for _, d := range s.Delegations {
		if d.FromUserID != approverID || !d.CoversDate(day) {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	return best, nil
}

// ── audit / notifications ────────────────────────────────────────────────────

type FakeAuditStore struct {
	mu      sync.Mutex
	Entries []*repository.AuditLogEntry
}

func (s *FakeAuditStore) Append(_ context.Context, entry *repository.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now()
	}
	s.Entries = append(s.Entries, entry)
	return nil
}

func (s *FakeAuditStore) GetByEntity(_ context.Context, entityType, entityID string) ([]*repository.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.AuditLogEntry
	for _, e := range s.Entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns the recorded action names for one entity, in order.
func (s *FakeAuditStore) Actions(entityType, entityID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.Entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e.Action)
		}
	}
	return out
}

// FakeNotifier records every notification instead of publishing.
type FakeNotifier struct {
	mu   sync.Mutex
	Sent []client.Notification
}

func (n *FakeNotifier) Send(_ context.Context, notification client.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, notification)
}

// SentTo returns the event types delivered to one user, in order.
func (n *FakeNotifier) SentTo(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.Sent {
		if s.UserID == userID {
			out = append(out, s.Type)
		}
	}
	return out
}
