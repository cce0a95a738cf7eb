// Package memory is an in-process repository.Store used by tests and by the
// server when store.driver is "memory".
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

type state struct {
	workflows  []*repository.ApprovalWorkflow
	requests   map[string]*repository.DataApprovalRequest
	byResponse map[string]string
	actions    []*repository.ApprovalAction
	responses  map[string]*repository.SurveyResponse
}

func newState() *state {
	return &state{
		requests:   make(map[string]*repository.DataApprovalRequest),
		byResponse: make(map[string]string),
		responses:  make(map[string]*repository.SurveyResponse),
	}
}

// clone copies every record so a transaction can be discarded on failure.
func (s *state) clone() *state {
	c := newState()
	for _, wf := range s.workflows {
		c.workflows = append(c.workflows, copyWorkflow(wf))
	}
	for id, req := range s.requests {
		r := *req
		c.requests[id] = &r
	}
	for k, v := range s.byResponse {
		c.byResponse[k] = v
	}
	// audit entries never mutate once appended
	c.actions = append(c.actions, s.actions...)
	for id, resp := range s.responses {
		r := *resp
		c.responses[id] = &r
	}
	return c
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// Store keeps all data in memory. Transactions are serialized and run
// against a private copy that replaces the live state on success.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock overrides the timestamp source for created_at and updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) live() *repos {
	return &repos{lock: &s.mu, st: s.st, now: s.now}
}

func (s *Store) Workflows() repository.WorkflowRepository { return s.live().Workflows() }
func (s *Store) Requests() repository.RequestRepository   { return s.live().Requests() }
func (s *Store) Actions() repository.ActionRepository     { return s.live().Actions() }
func (s *Store) Responses() repository.ResponseRepository { return s.live().Responses() }

// InTransaction runs fn on a copy of the data and commits it only when fn
// returns nil. Repositories obtained from the Store itself must not be used
// inside fn.
func (s *Store) InTransaction(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&repos{lock: nopLocker{}, st: work, now: s.now}); err != nil {
		return err
	}
	*s.st = *work
	return nil
}

// repos binds the four repositories to one state.
type repos struct {
	lock sync.Locker
	st   *state
	now  func() time.Time
}

var _ repository.Repositories = (*repos)(nil)

func (r *repos) Workflows() repository.WorkflowRepository { return &workflowRepo{r} }
func (r *repos) Requests() repository.RequestRepository   { return &requestRepo{r} }
func (r *repos) Actions() repository.ActionRepository     { return &actionRepo{r} }
func (r *repos) Responses() repository.ResponseRepository { return &responseRepo{r} }
