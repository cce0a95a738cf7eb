package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atis-edu/be-survey-approvals/internal/database"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
)

// ApprovalWorkflowRepository reads and seeds approval_workflows.
// Steps are stored as a JSONB array ordered by level.
type ApprovalWorkflowRepository struct {
	db database.Querier
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db database.Querier) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

// Create validates and inserts a workflow.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, wf *ApprovalWorkflow) error {
	if err := wf.Validate(); err != nil {
		return errors.InvalidInput("steps", err.Error())
	}

	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow steps")
	}

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Status == "" {
		wf.Status = "active"
	}

	query := `
		INSERT INTO approval_workflows
		    (id, name, workflow_type, status, steps, require_all_levels)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		wf.WorkflowType,
		wf.Status,
		stepsJSON,
		wf.RequireAllLevels,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}
	return nil
}

// GetByID retrieves a workflow by its primary key.
func (r *ApprovalWorkflowRepository) GetByID(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	query := `
		SELECT id, name, workflow_type, status, steps, require_all_levels,
		       created_at, updated_at
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", id)
	}
	return wf, err
}

// GetActiveByType returns the newest active workflow of a type.
// Returns nil when none exists yet.
func (r *ApprovalWorkflowRepository) GetActiveByType(ctx context.Context, workflowType string) (*ApprovalWorkflow, error) {
	query := `
		SELECT id, name, workflow_type, status, steps, require_all_levels,
		       created_at, updated_at
		FROM approval_workflows
		WHERE workflow_type = $1
		  AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, workflowType))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalWorkflowRepository) scanWorkflow(row workflowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	var stepsJSON []byte
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.WorkflowType,
		&wf.Status,
		&stepsJSON,
		&wf.RequireAllLevels,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval workflow")
	}
	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow steps")
	}
	return wf, nil
}
