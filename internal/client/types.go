package client

import "time"

// Identity is the caller the approval service acts for. It travels as the
// x-user-* metadata the gateway would set.
type Identity struct {
	UserID        string
	Roles         []string
	InstitutionID string
	Scope         []string
}

// ActionResult is the outcome of approve, reject or return.
type ActionResult struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ResponseID string `json:"response_id"`
	NextLevel  *int   `json:"next_level,omitempty"`
}

// ApprovalRequest mirrors the server's approval request document.
type ApprovalRequest struct {
	ID                   string     `json:"id"`
	WorkflowID           string     `json:"workflow_id"`
	ResponseID           string     `json:"response_id"`
	SurveyID             string     `json:"survey_id"`
	InstitutionID        string     `json:"institution_id"`
	SubmittedBy          string     `json:"submitted_by"`
	SubmittedAt          time.Time  `json:"submitted_at"`
	CurrentApprovalLevel int        `json:"current_approval_level"`
	CurrentStatus        string     `json:"current_status"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	RevisionNotes        *string    `json:"revision_notes,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	Version              int        `json:"version"`
}

// AuditEntry is one row of an approval history.
type AuditEntry struct {
	ID            string         `json:"id"`
	ApproverID    string         `json:"approver_id"`
	ApprovalLevel int            `json:"approval_level"`
	Action        string         `json:"action"`
	Comments      *string        `json:"comments,omitempty"`
	Metadata      map[string]any `json:"action_metadata,omitempty"`
	ActionTakenAt time.Time      `json:"action_taken_at"`
}

// Stats is the per-survey approval summary.
type Stats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Approved       int     `json:"approved"`
	Rejected       int     `json:"rejected"`
	Draft          int     `json:"draft"`
	NeedsRevision  int     `json:"needs_revision"`
	CompletionRate float64 `json:"completion_rate"`
}

// Eligibility answers CanApprove.
type Eligibility struct {
	CanApprove bool   `json:"can_approve"`
	Level      int    `json:"level,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BulkResult is the summary of a bulk call.
type BulkResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Results    []struct {
		ResponseID string `json:"response_id"`
		Status     string `json:"status"`
		NextLevel  *int   `json:"next_level,omitempty"`
	} `json:"results"`
	Errors []struct {
		ResponseID string `json:"response_id"`
		Code       string `json:"code"`
		Error      string `json:"error"`
	} `json:"errors"`
}
