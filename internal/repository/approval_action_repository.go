package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atis-edu/be-survey-approvals/internal/database"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
)

// ApprovalActionRepository appends and reads immutable approval audit entries.
type ApprovalActionRepository struct {
	db database.Querier
}

// NewApprovalActionRepository creates a new ApprovalActionRepository.
func NewApprovalActionRepository(db database.Querier) *ApprovalActionRepository {
	return &ApprovalActionRepository{db: db}
}

// Append inserts one audit entry. The table has an update/delete-prevention
// trigger so this is the only mutation operation exposed.
func (r *ApprovalActionRepository) Append(ctx context.Context, action *ApprovalAction) error {
	var metadataJSON []byte
	if action.ActionMetadata != nil {
		var err error
		metadataJSON, err = json.Marshal(action.ActionMetadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action metadata")
		}
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}

	query := `
		INSERT INTO approval_actions
		    (id, approval_request_id, approver_id, approval_level,
		     action, comments, action_metadata, action_taken_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		action.ID,
		action.ApprovalRequestID,
		action.ApproverID,
		action.ApprovalLevel,
		string(action.Action),
		action.Comments,
		metadataJSON,
		action.ActionTakenAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval action")
	}
	return nil
}

// ListByRequestID returns the audit trail of a request, newest first.
func (r *ApprovalActionRepository) ListByRequestID(ctx context.Context, requestID string) ([]*ApprovalAction, error) {
	query := `
		SELECT id, approval_request_id, approver_id, approval_level,
		       action, comments, action_metadata, action_taken_at
		FROM approval_actions
		WHERE approval_request_id = $1
		ORDER BY action_taken_at DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval actions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalActionRepository) scanRows(rows pgx.Rows) ([]*ApprovalAction, error) {
	var actions []*ApprovalAction
	for rows.Next() {
		action, err := r.scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval actions")
	}
	return actions, nil
}

type actionScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalActionRepository) scanAction(sc actionScanner) (*ApprovalAction, error) {
	action := &ApprovalAction{}
	var (
		kind         string
		metadataJSON []byte
	)

	err := sc.Scan(
		&action.ID,
		&action.ApprovalRequestID,
		&action.ApproverID,
		&action.ApprovalLevel,
		&kind,
		&action.Comments,
		&metadataJSON,
		&action.ActionTakenAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval action")
	}
	action.Action = ActionType(kind)

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &action.ActionMetadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal action metadata")
		}
	}

	return action, nil
}
