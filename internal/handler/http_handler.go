package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-hr-leave/internal/platform/errors"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	requests *service.RequestService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(requests *service.RequestService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		requests: requests,
		log:      log,
	}
}

// submitRequestBody is the JSON payload for submitting a leave request.
type submitRequestBody struct {
	UserID           string         `json:"user_id"`
	Type             string         `json:"type"`
	StartDate        string         `json:"start_date"`
	EndDate          string         `json:"end_date"`
	ReasonCategory   *string        `json:"reason_category,omitempty"`
	HasDocumentation bool           `json:"has_documentation"`
	FormData         map[string]any `json:"form_data,omitempty"`
}

// SubmitRequest handles leave request submission
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	start, end, err := parseRange(body.StartDate, body.EndDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, err := h.requests.SubmitRequest(r.Context(), &service.SubmitRequestInput{
		UserID:           body.UserID,
		Type:             repository.RequestType(body.Type),
		StartDate:        start,
		EndDate:          end,
		ReasonCategory:   body.ReasonCategory,
		HasDocumentation: body.HasDocumentation,
		FormData:         body.FormData,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, req)
}

// decideStepBody is the JSON payload for an approver decision.
type decideStepBody struct {
	RequestID   string         `json:"request_id"`
	StepID      string         `json:"step_id"`
	ActorID     string         `json:"actor_id"`
	Decision    string         `json:"decision"`
	QuizAnswers map[string]int `json:"quiz_answers,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
}

// DecideStep handles an approver's decision on a step
func (h *HTTPHandler) DecideStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body decideStepBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.requests.DecideApprovalStep(r.Context(), &service.DecideStepInput{
		RequestID:   body.RequestID,
		StepID:      body.StepID,
		ActorID:     body.ActorID,
		Decision:    service.Decision(body.Decision),
		QuizAnswers: body.QuizAnswers,
		Notes:       body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// editRequestBody is the JSON payload for editing an in-flight request.
type editRequestBody struct {
	RequestID string         `json:"request_id"`
	ActorID   string         `json:"actor_id"`
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date"`
	FormData  map[string]any `json:"form_data,omitempty"`
}

// EditRequest handles edits to an in-flight request
func (h *HTTPHandler) EditRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body editRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	start, end, err := parseRange(body.StartDate, body.EndDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, err := h.requests.EditRequest(r.Context(), body.RequestID, body.ActorID, body.FormData, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// cancelVacationBody is the JSON payload for cancelling a vacation.
type cancelVacationBody struct {
	ScheduleID string  `json:"schedule_id"`
	ActorID    string  `json:"actor_id"`
	Reason     *string `json:"reason,omitempty"`
}

// CancelVacation handles vacation cancellation
func (h *HTTPHandler) CancelVacation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body cancelVacationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.requests.CancelVacation(r.Context(), body.ScheduleID, body.ActorID, body.Reason); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetRequest handles fetching one request with its steps
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.requests.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// GetTeamCalendar handles the team vacation calendar
func (h *HTTPHandler) GetTeamCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	departmentID := r.URL.Query().Get("department_id")
	if departmentID == "" {
		http.Error(w, "Department ID is required", http.StatusBadRequest)
		return
	}

	start, end, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.requests.GetTeamVacationCalendar(r.Context(), departmentID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// GetSummary handles the per-user vacation summary
func (h *HTTPHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	summary, err := h.requests.GetVacationSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// GetPendingApprovals handles listing steps awaiting an approver
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		http.Error(w, "Approver ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.requests.GetPendingApprovals(r.Context(), approverID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, steps)
}

// AnalyzeConflicts handles pre-submission conflict checks from the UI
func (h *HTTPHandler) AnalyzeConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	start, end, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.requests.AnalyzeConflicts(r.Context(), userID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetAuditTrail handles fetching the audit trail for one entity
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		http.Error(w, "Entity type and entity ID are required", http.StatusBadRequest)
		return
	}

	entries, err := h.requests.GetAuditTrail(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, errors.InvalidInput("start_date", "invalid date format, expected YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, errors.InvalidInput("end_date", "invalid date format, expected YYYY-MM-DD")
	}
	return start, end, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("http: failed to encode response")
	}
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("http: request failed")
	}
	h.writeJSON(w, status, errorResponse{
		Code:    string(errors.CodeOf(err)),
		Reason:  string(errors.ReasonOf(err)),
		Message: err.Error(),
	})
}
