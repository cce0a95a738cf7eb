package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atis-edu/be-survey-approvals/internal/database"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
)

// ApprovalRequestRepository handles data_approval_requests. Updates are
// version-checked so two transitions racing on the same request cannot both win.
type ApprovalRequestRepository struct {
	db database.Querier
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db database.Querier) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

const requestColumns = `
	id, workflow_id, response_id, survey_id, institution_id,
	submitted_by, submitted_at,
	current_approval_level, current_status,
	completed_at, revision_notes, submission_notes, deadline,
	version, created_at, updated_at
`

// Create inserts a request at version 1.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *DataApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Version = 1

	query := `
		INSERT INTO data_approval_requests
		    (id, workflow_id, response_id, survey_id, institution_id,
		     submitted_by, submitted_at,
		     current_approval_level, current_status,
		     submission_notes, deadline, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7,
		        $8, $9,
		        $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.WorkflowID,
		req.ResponseID,
		req.SurveyID,
		req.InstitutionID,
		req.SubmittedBy,
		req.SubmittedAt,
		req.CurrentApprovalLevel,
		string(req.CurrentStatus),
		req.SubmissionNotes,
		req.Deadline,
		req.Version,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByResponseID returns the request for a response, or nil when there is none.
func (r *ApprovalRequestRepository) GetByResponseID(ctx context.Context, responseID string) (*DataApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM data_approval_requests
		WHERE response_id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, responseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// Update writes the state fields guarded by the version column.
func (r *ApprovalRequestRepository) Update(ctx context.Context, req *DataApprovalRequest) error {
	query := `
		UPDATE data_approval_requests
		SET current_approval_level = $3,
		    current_status         = $4,
		    completed_at           = $5,
		    revision_notes         = $6,
		    version                = version + 1,
		    updated_at             = NOW()
		WHERE id = $1
		  AND version = $2
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.Version,
		req.CurrentApprovalLevel,
		string(req.CurrentStatus),
		req.CompletedAt,
		req.RevisionNotes,
	).Scan(&req.Version, &req.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Conflict("approval request " + req.ID + " was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
	}
	return nil
}

// ListPending returns open requests for a survey, newest submission first.
func (r *ApprovalRequestRepository) ListPending(ctx context.Context, surveyID string, limit int) ([]*DataApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM data_approval_requests
		WHERE survey_id = $1
		  AND current_status IN ('pending', 'in_progress')
		ORDER BY submitted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, surveyID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approval requests")
	}
	defer rows.Close()

	var list []*DataApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval requests")
	}
	return list, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestRepository) scanRequest(row requestScanner) (*DataApprovalRequest, error) {
	req := &DataApprovalRequest{}
	var status string
	err := row.Scan(
		&req.ID,
		&req.WorkflowID,
		&req.ResponseID,
		&req.SurveyID,
		&req.InstitutionID,
		&req.SubmittedBy,
		&req.SubmittedAt,
		&req.CurrentApprovalLevel,
		&status,
		&req.CompletedAt,
		&req.RevisionNotes,
		&req.SubmissionNotes,
		&req.Deadline,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
	}
	req.CurrentStatus = RequestStatus(status)
	return req, nil
}
