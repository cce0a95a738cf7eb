package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atis-edu/be-survey-approvals/internal/database"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
)

// SurveyResponseRepository handles the survey_responses rows whose status
// mirrors the approval workflow.
type SurveyResponseRepository struct {
	db database.Querier
}

// NewSurveyResponseRepository creates a new SurveyResponseRepository.
func NewSurveyResponseRepository(db database.Querier) *SurveyResponseRepository {
	return &SurveyResponseRepository{db: db}
}

// Create inserts a response.
func (r *SurveyResponseRepository) Create(ctx context.Context, resp *SurveyResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.Status == "" {
		resp.Status = ResponseDraft
	}

	query := `
		INSERT INTO survey_responses
		    (id, survey_id, institution_id, respondent_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		resp.ID,
		resp.SurveyID,
		resp.InstitutionID,
		resp.RespondentID,
		string(resp.Status),
	).Scan(&resp.CreatedAt, &resp.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create survey response")
	}
	return nil
}

// GetByID retrieves a response by ID.
func (r *SurveyResponseRepository) GetByID(ctx context.Context, id string) (*SurveyResponse, error) {
	query := `
		SELECT id, survey_id, institution_id, respondent_id, status,
		       rejection_reason, revision_notes, approved_by, approved_at,
		       created_at, updated_at
		FROM survey_responses
		WHERE id = $1
	`

	resp := &SurveyResponse{}
	var status string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&resp.ID,
		&resp.SurveyID,
		&resp.InstitutionID,
		&resp.RespondentID,
		&status,
		&resp.RejectionReason,
		&resp.RevisionNotes,
		&resp.ApprovedBy,
		&resp.ApprovedAt,
		&resp.CreatedAt,
		&resp.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("survey_response", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get survey response")
	}
	resp.Status = ResponseStatus(status)
	return resp, nil
}

// UpdateStatus writes the workflow-driven fields of a response.
func (r *SurveyResponseRepository) UpdateStatus(ctx context.Context, resp *SurveyResponse) error {
	query := `
		UPDATE survey_responses
		SET status           = $2,
		    rejection_reason = $3,
		    revision_notes   = $4,
		    approved_by      = $5,
		    approved_at      = $6,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		resp.ID,
		string(resp.Status),
		resp.RejectionReason,
		resp.RevisionNotes,
		resp.ApprovedBy,
		resp.ApprovedAt,
	).Scan(&resp.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("survey_response", resp.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update survey response status")
	}
	return nil
}

// StatsBySurvey counts responses of a survey by status.
// Pending counts submitted responses awaiting a decision.
func (r *SurveyResponseRepository) StatsBySurvey(ctx context.Context, surveyID string) (*ResponseStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'submitted'),
		       COUNT(*) FILTER (WHERE status = 'approved'),
		       COUNT(*) FILTER (WHERE status = 'rejected'),
		       COUNT(*) FILTER (WHERE status = 'draft'),
		       COUNT(*) FILTER (WHERE status = 'needs_revision')
		FROM survey_responses
		WHERE survey_id = $1
	`

	stats := &ResponseStats{}
	err := r.db.QueryRow(ctx, query, surveyID).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Approved,
		&stats.Rejected,
		&stats.Draft,
		&stats.NeedsRevision,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count survey responses")
	}
	return stats, nil
}
