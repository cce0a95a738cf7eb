package repository

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ── Status and action enums ──────────────────────────────────────────────────

// RequestStatus is the state of a DataApprovalRequest.
type RequestStatus string

const (
	RequestPending             RequestStatus = "pending"
	RequestInProgress          RequestStatus = "in_progress"
	RequestApproved            RequestStatus = "approved"
	RequestRejected            RequestStatus = "rejected"
	RequestReturnedForRevision RequestStatus = "returned_for_revision"
)

// IsTerminal reports whether no further transitions are accepted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// Actionable reports whether approvers may act on a request in this status.
func (s RequestStatus) Actionable() bool {
	return s == RequestPending || s == RequestInProgress
}

// ActionType is the kind of an audit entry.
type ActionType string

const (
	ActionApproved            ActionType = "approved"
	ActionRejected            ActionType = "rejected"
	ActionReturnedForRevision ActionType = "returned_for_revision"
	ActionSubmitted           ActionType = "submitted"
	ActionResubmitted         ActionType = "resubmitted"
)

// ResponseStatus is the survey-side status of a response.
type ResponseStatus string

const (
	ResponseDraft         ResponseStatus = "draft"
	ResponseSubmitted     ResponseStatus = "submitted"
	ResponseApproved      ResponseStatus = "approved"
	ResponseRejected      ResponseStatus = "rejected"
	ResponseNeedsRevision ResponseStatus = "needs_revision"
)

// ── Workflow ─────────────────────────────────────────────────────────────────

// WorkflowStep is one level of an approval workflow, stored in the steps JSONB array.
// Role and Delegates together form the approver predicate.
type WorkflowStep struct {
	Level     int      `json:"level"`
	Role      string   `json:"role"`
	Required  bool     `json:"required"`
	Title     string   `json:"title,omitempty"`
	Delegates []string `json:"delegates,omitempty"`
}

// UnmarshalJSON treats a step without a required key as required.
func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	type plain WorkflowStep
	decoded := plain{Required: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = WorkflowStep(decoded)
	return nil
}

// ApprovalWorkflow declares the ordered approval levels for a workflow type.
type ApprovalWorkflow struct {
	ID               string
	Name             string
	WorkflowType     string
	Status           string // active | inactive
	Steps            []WorkflowStep
	RequireAllLevels bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks that levels are positive, unique and increasing in declared order.
func (w *ApprovalWorkflow) Validate() error {
	if len(w.Steps) == 0 {
		return pkgerrors.Errorf("workflow %q has no steps", w.Name)
	}
	prev := 0
	for i, s := range w.Steps {
		if s.Level <= 0 {
			return pkgerrors.Errorf("step %d: level must be positive, got %d", i, s.Level)
		}
		if s.Level <= prev {
			return pkgerrors.Errorf("step %d: level %d is not greater than previous level %d", i, s.Level, prev)
		}
		prev = s.Level
	}
	return nil
}

// FirstLevel is the level a new request starts at.
func (w *ApprovalWorkflow) FirstLevel() int {
	if len(w.Steps) == 0 {
		return 1
	}
	return w.Steps[0].Level
}

func (w *ApprovalWorkflow) stepRequired(s WorkflowStep) bool {
	return w.RequireAllLevels || s.Required
}

// NextRequiredLevel returns the smallest declared level strictly greater than
// level whose step must be passed through. Non-required steps are skipped.
func (w *ApprovalWorkflow) NextRequiredLevel(level int) (int, bool) {
	for _, s := range w.Steps {
		if s.Level > level && w.stepRequired(s) {
			return s.Level, true
		}
	}
	return 0, false
}

// IsFullyApproved reports whether an approval at level satisfies the highest
// required level of the workflow.
func (w *ApprovalWorkflow) IsFullyApproved(level int) bool {
	final := 0
	for _, s := range w.Steps {
		if w.stepRequired(s) {
			final = s.Level
		}
	}
	return final > 0 && level >= final
}

// ── Request ──────────────────────────────────────────────────────────────────

// DataApprovalRequest tracks one submitted response through its workflow.
type DataApprovalRequest struct {
	ID                   string        `json:"id"`
	WorkflowID           string        `json:"workflow_id"`
	ResponseID           string        `json:"response_id"`
	SurveyID             string        `json:"survey_id"`
	InstitutionID        string        `json:"institution_id"`
	SubmittedBy          string        `json:"submitted_by"`
	SubmittedAt          time.Time     `json:"submitted_at"`
	CurrentApprovalLevel int           `json:"current_approval_level"`
	CurrentStatus        RequestStatus `json:"current_status"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	RevisionNotes        *string       `json:"revision_notes,omitempty"`
	SubmissionNotes      *string       `json:"submission_notes,omitempty"`
	Deadline             *time.Time    `json:"deadline,omitempty"`
	Version              int           `json:"version"` // bumped on every update; guards concurrent transitions
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// ── Audit ────────────────────────────────────────────────────────────────────

// Metadata is caller-defined context attached to an audit entry. Not validated.
type Metadata map[string]any

// ApprovalAction is one immutable record in the approval audit trail.
type ApprovalAction struct {
	ID                string     `json:"id"`
	ApprovalRequestID string     `json:"approval_request_id"`
	ApproverID        string     `json:"approver_id"`
	ApprovalLevel     int        `json:"approval_level"`
	Action            ActionType `json:"action"`
	Comments          *string    `json:"comments,omitempty"`
	ActionMetadata    Metadata   `json:"action_metadata,omitempty"`
	ActionTakenAt     time.Time  `json:"action_taken_at"`
}

// ── Survey response ──────────────────────────────────────────────────────────

// SurveyResponse is the survey-owned record whose status follows the workflow.
type SurveyResponse struct {
	ID              string         `json:"id"`
	SurveyID        string         `json:"survey_id"`
	InstitutionID   string         `json:"institution_id"`
	RespondentID    string         `json:"respondent_id"`
	Status          ResponseStatus `json:"status"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	RevisionNotes   *string        `json:"revision_notes,omitempty"`
	ApprovedBy      *string        `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ResponseStats aggregates response statuses for a survey.
type ResponseStats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Approved      int `json:"approved"`
	Rejected      int `json:"rejected"`
	Draft         int `json:"draft"`
	NeedsRevision int `json:"needs_revision"`
}

// ── Approver ─────────────────────────────────────────────────────────────────

// Approver is an authenticated actor, resolved by the caller.
type Approver struct {
	ID            string
	Roles         []string
	InstitutionID string
	Scope         []string // institution ids the approver covers
}
