package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/atis-edu/be-survey-approvals/internal/database"
)

// pgRepositories binds every repository to one Querier (pool or tx).
type pgRepositories struct {
	workflows *ApprovalWorkflowRepository
	requests  *ApprovalRequestRepository
	actions   *ApprovalActionRepository
	responses *SurveyResponseRepository
}

func newPGRepositories(q database.Querier) *pgRepositories {
	return &pgRepositories{
		workflows: NewApprovalWorkflowRepository(q),
		requests:  NewApprovalRequestRepository(q),
		actions:   NewApprovalActionRepository(q),
		responses: NewSurveyResponseRepository(q),
	}
}

func (r *pgRepositories) Workflows() WorkflowRepository { return r.workflows }
func (r *pgRepositories) Requests() RequestRepository   { return r.requests }
func (r *pgRepositories) Actions() ActionRepository     { return r.actions }
func (r *pgRepositories) Responses() ResponseRepository { return r.responses }

// PostgresStore is the Store backed by a pgx pool.
type PostgresStore struct {
	*pgRepositories
	db *database.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		pgRepositories: newPGRepositories(db),
		db:             db,
	}
}

// InTransaction runs fn with repositories bound to a single read-committed
// transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(repos Repositories) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newPGRepositories(tx))
	})
}
