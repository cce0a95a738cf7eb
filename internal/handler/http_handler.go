package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/middleware"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/service"
)

// Services bundles the application services exposed by the transports.
type Services struct {
	Actions     *service.ApprovalActionService
	Submissions *service.SubmissionService
	Queries     *service.ApprovalQueryService
	Bulk        *service.BulkApprovalService
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log,
	}
}

// Register mounts the approval routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals/approve", h.Approve)
	mux.HandleFunc("/api/v1/approvals/reject", h.Reject)
	mux.HandleFunc("/api/v1/approvals/return", h.ReturnForRevision)
	mux.HandleFunc("/api/v1/approvals/submit", h.Submit)
	mux.HandleFunc("/api/v1/approvals/resubmit", h.Resubmit)
	mux.HandleFunc("/api/v1/approvals/bulk", h.Bulk)
	mux.HandleFunc("/api/v1/approvals/history", h.History)
	mux.HandleFunc("/api/v1/approvals/stats", h.Stats)
	mux.HandleFunc("/api/v1/approvals/pending", h.Pending)
	mux.HandleFunc("/api/v1/approvals/can-approve", h.CanApprove)
}

type actionRequest struct {
	ResponseID string              `json:"response_id"`
	Comments   *string             `json:"comments"`
	Metadata   repository.Metadata `json:"metadata"`
}

type submitRequest struct {
	ResponseID string     `json:"response_id"`
	Notes      *string    `json:"notes"`
	Deadline   *time.Time `json:"deadline"`
}

type bulkRequest struct {
	Action      service.BulkAction `json:"action"`
	ResponseIDs []string           `json:"response_ids"`
	Comments    *string            `json:"comments"`
}

type errorBody struct {
	Code      errors.Code `json:"code"`
	Message   string      `json:"message"`
	Field     string      `json:"field,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ── Actions ───────────────────────────────────────────────────────────────────

type actionFunc func(h *HTTPHandler, r *http.Request, req *actionRequest, a *repository.Approver) (*service.ActionResult, error)

func (h *HTTPHandler) action(w http.ResponseWriter, r *http.Request, run actionFunc) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approver, ok := h.approver(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "Invalid request body"))
		return
	}
	if req.ResponseID == "" {
		h.writeError(w, r, errors.InvalidInput("response_id", "response_id is required"))
		return
	}

	result, err := run(h, r, &req, approver)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Approve handles approve HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(h *HTTPHandler, r *http.Request, req *actionRequest, a *repository.Approver) (*service.ActionResult, error) {
		return h.svc.Actions.Approve(r.Context(), req.ResponseID, a, service.ActionInput{Comments: req.Comments, Metadata: req.Metadata})
	})
}

// Reject handles reject HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(h *HTTPHandler, r *http.Request, req *actionRequest, a *repository.Approver) (*service.ActionResult, error) {
		return h.svc.Actions.Reject(r.Context(), req.ResponseID, a, service.ActionInput{Comments: req.Comments, Metadata: req.Metadata})
	})
}

// ReturnForRevision handles return-for-revision HTTP requests
func (h *HTTPHandler) ReturnForRevision(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(h *HTTPHandler, r *http.Request, req *actionRequest, a *repository.Approver) (*service.ActionResult, error) {
		return h.svc.Actions.ReturnForRevision(r.Context(), req.ResponseID, a, service.ActionInput{Comments: req.Comments, Metadata: req.Metadata})
	})
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit handles submit-for-approval HTTP requests
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.approver(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	created, err := h.svc.Submissions.Submit(r.Context(), req.ResponseID, user.ID, service.SubmitInput{
		Notes:    req.Notes,
		Deadline: req.Deadline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Resubmit handles resubmission HTTP requests
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.approver(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	updated, err := h.svc.Submissions.Resubmit(r.Context(), req.ResponseID, user.ID, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Bulk handles bulk approval HTTP requests
func (h *HTTPHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approver, ok := h.approver(w, r)
	if !ok {
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	result, err := h.svc.Bulk.Process(r.Context(), req.Action, req.ResponseIDs, approver, req.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── Queries ───────────────────────────────────────────────────────────────────

// History handles approval history HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	responseID := r.URL.Query().Get("response_id")
	if responseID == "" {
		h.writeError(w, r, errors.InvalidInput("response_id", "response_id is required"))
		return
	}

	actions, err := h.svc.Queries.History(r.Context(), responseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response_id": responseID,
		"actions":     actions,
	})
}

// Stats handles survey approval statistics HTTP requests
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.svc.Queries.Stats(r.Context(), r.URL.Query().Get("survey_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Pending handles pending approvals HTTP requests
func (h *HTTPHandler) Pending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	surveyID := r.URL.Query().Get("survey_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.svc.Queries.Pending(r.Context(), surveyID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"survey_id": surveyID,
		"requests":  list,
		"count":     len(list),
	})
}

// CanApprove handles approval eligibility HTTP requests
func (h *HTTPHandler) CanApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approver, ok := h.approver(w, r)
	if !ok {
		return
	}

	responseID := r.URL.Query().Get("response_id")
	if responseID == "" {
		h.writeError(w, r, errors.InvalidInput("response_id", "response_id is required"))
		return
	}

	eligibility, err := h.svc.Queries.CanApprove(r.Context(), responseID, approver)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) approver(w http.ResponseWriter, r *http.Request) (*repository.Approver, bool) {
	a := middleware.ApproverFromContext(r.Context())
	if a == nil {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "missing "+middleware.UserIDHeader+" header"))
		return nil, false
	}
	return a, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	body := errorBody{Code: code, RequestID: middleware.RequestIDFromContext(r.Context())}

	if appErr, ok := errors.From(err); ok && code != errors.ErrCodeInternal {
		body.Message = appErr.Message
		body.Field = appErr.Field
	} else {
		body.Message = "internal server error"
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", body.RequestID).Msg("Request failed")
	}
	writeJSON(w, errors.HTTPStatus(code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
