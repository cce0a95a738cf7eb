package repository

import (
	"context"
)

// WorkflowRepository reads and seeds approval workflows.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*ApprovalWorkflow, error)
	// GetActiveByType returns nil (no error) when no active workflow exists.
	GetActiveByType(ctx context.Context, workflowType string) (*ApprovalWorkflow, error)
	Create(ctx context.Context, wf *ApprovalWorkflow) error
}

// RequestRepository manages DataApprovalRequest rows.
type RequestRepository interface {
	// GetByResponseID returns nil (no error) when the response was never submitted.
	GetByResponseID(ctx context.Context, responseID string) (*DataApprovalRequest, error)
	Create(ctx context.Context, req *DataApprovalRequest) error
	// Update persists the mutable fields when req.Version matches the stored
	// version, then bumps req.Version. A mismatch is a CONFLICT.
	Update(ctx context.Context, req *DataApprovalRequest) error
	ListPending(ctx context.Context, surveyID string, limit int) ([]*DataApprovalRequest, error)
}

// ActionRepository is the append-only audit log.
type ActionRepository interface {
	Append(ctx context.Context, action *ApprovalAction) error
	// ListByRequestID returns entries newest first.
	ListByRequestID(ctx context.Context, requestID string) ([]*ApprovalAction, error)
}

// ResponseRepository reads and updates survey responses.
type ResponseRepository interface {
	GetByID(ctx context.Context, id string) (*SurveyResponse, error)
	Create(ctx context.Context, resp *SurveyResponse) error
	UpdateStatus(ctx context.Context, resp *SurveyResponse) error
	StatsBySurvey(ctx context.Context, surveyID string) (*ResponseStats, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Workflows() WorkflowRepository
	Requests() RequestRepository
	Actions() ActionRepository
	Responses() ResponseRepository
}

// Store is the persistence entry point. Repositories used outside
// InTransaction run on the shared connection.
type Store interface {
	Repositories
	// InTransaction runs fn atomically: every write made through the
	// Repositories passed to fn commits together or not at all.
	InTransaction(ctx context.Context, fn func(repos Repositories) error) error
}
