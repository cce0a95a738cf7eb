package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/repository/memory"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

// currentLevelAuthorizer lets anyone act at the request's current level.
type currentLevelAuthorizer struct{}

func (currentLevelAuthorizer) DetermineApprovalLevelForApprover(_ context.Context, req *repository.DataApprovalRequest, _ *repository.ApprovalWorkflow, _ *repository.Approver) (int, error) {
	return req.CurrentApprovalLevel, nil
}

func (currentLevelAuthorizer) CompletesChain(*repository.Approver) bool { return false }

type denyingAuthorizer struct{}

func (denyingAuthorizer) DetermineApprovalLevelForApprover(_ context.Context, _ *repository.DataApprovalRequest, _ *repository.ApprovalWorkflow, a *repository.Approver) (int, error) {
	return 0, errors.Forbidden("approver " + a.ID + " has no eligible level")
}

func (denyingAuthorizer) CompletesChain(*repository.Approver) bool { return false }

// fixedLevelAuthorizer resolves every approver to the same level.
type fixedLevelAuthorizer struct{ level int }

func (f fixedLevelAuthorizer) DetermineApprovalLevelForApprover(context.Context, *repository.DataApprovalRequest, *repository.ApprovalWorkflow, *repository.Approver) (int, error) {
	return f.level, nil
}

func (fixedLevelAuthorizer) CompletesChain(*repository.Approver) bool { return false }

type publishedEvent struct {
	kind       string
	responseID string
	recipients []string
	payload    map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) PublishApprovalEvent(_ context.Context, eventType, responseID, _, _ string, recipients []string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{kind: eventType, responseID: responseID, recipients: recipients, payload: payload})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.kind)
	}
	return out
}

// tickingClock returns strictly increasing times so audit ordering is stable.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// ── fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	store       *memory.Store
	cache       *cache.MemoryCache
	notifier    *recordingNotifier
	actions     *ApprovalActionService
	submissions *SubmissionService
	queries     *ApprovalQueryService
	bulk        *BulkApprovalService
}

var requiredTwoLevels = []repository.WorkflowStep{
	{Level: 1, Role: "schooladmin", Required: true},
	{Level: 2, Role: "sektoradmin", Required: true},
}

func newFixture(t *testing.T, steps []repository.WorkflowStep, authz Authorizer) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), steps, authz)
}

func newFixtureWithStore(t *testing.T, mem *memory.Store, steps []repository.WorkflowStep, authz Authorizer) *fixture {
	t.Helper()
	return buildFixture(t, mem, mem, steps, authz)
}

// buildFixture wires services over store while mem stays reachable for
// direct assertions; store may wrap mem.
func buildFixture(t *testing.T, mem *memory.Store, store repository.Store, steps []repository.WorkflowStep, authz Authorizer) *fixture {
	t.Helper()
	clock := &tickingClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	mem.WithClock(clock.now)

	log := logger.Nop()
	m := metrics.New()
	c := cache.NewMemory()
	n := &recordingNotifier{}

	actions := NewApprovalActionService(store, authz, c, n, m, log)
	actions.now = clock.now

	submissions := NewSubmissionService(store, WorkflowDefaults{
		WorkflowType: "survey_response",
		Name:         "Survey Response Approval",
		Steps:        steps,
		Deadline:     7 * 24 * time.Hour,
	}, c, n, m, log)
	submissions.now = clock.now

	return &fixture{
		store:       mem,
		cache:       c,
		notifier:    n,
		actions:     actions,
		submissions: submissions,
		queries:     NewApprovalQueryService(store, authz, c, QueryOptions{CacheTTL: time.Minute, PendingLimit: 10}, m, log),
		bulk:        NewBulkApprovalService(actions, BulkOptions{MaxItems: 5, Concurrency: 3}, m, log),
	}
}

// draftResponse stores a draft response and returns its id.
func (f *fixture) draftResponse(t *testing.T, surveyID, institutionID string) string {
	t.Helper()
	resp := &repository.SurveyResponse{SurveyID: surveyID, InstitutionID: institutionID, RespondentID: "teacher-1"}
	require.NoError(t, f.store.Responses().Create(context.Background(), resp))
	return resp.ID
}

// submitted stores a response and submits it for approval.
func (f *fixture) submitted(t *testing.T, surveyID, institutionID string) string {
	t.Helper()
	id := f.draftResponse(t, surveyID, institutionID)
	_, err := f.submissions.Submit(context.Background(), id, "teacher-1", SubmitInput{})
	require.NoError(t, err)
	return id
}

func (f *fixture) request(t *testing.T, responseID string) *repository.DataApprovalRequest {
	t.Helper()
	req, err := f.store.Requests().GetByResponseID(context.Background(), responseID)
	require.NoError(t, err)
	require.NotNil(t, req)
	return req
}

func (f *fixture) response(t *testing.T, responseID string) *repository.SurveyResponse {
	t.Helper()
	resp, err := f.store.Responses().GetByID(context.Background(), responseID)
	require.NoError(t, err)
	return resp
}

// decisions returns audit rows other than submissions, newest first.
func (f *fixture) decisions(t *testing.T, responseID string) []*repository.ApprovalAction {
	t.Helper()
	req := f.request(t, responseID)
	all, err := f.store.Actions().ListByRequestID(context.Background(), req.ID)
	require.NoError(t, err)
	var out []*repository.ApprovalAction
	for _, a := range all {
		if a.Action != repository.ActionSubmitted && a.Action != repository.ActionResubmitted {
			out = append(out, a)
		}
	}
	return out
}

func approver(id string, roles ...string) *repository.Approver {
	return &repository.Approver{ID: id, Roles: roles, InstitutionID: "school-7"}
}

func comments(s string) *string { return &s }

// ── store wrappers ────────────────────────────────────────────────────────────

// failingResponseStore fails every response status write made in a transaction.
type failingResponseStore struct{ *memory.Store }

func (s failingResponseStore) InTransaction(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.Store.InTransaction(ctx, func(r repository.Repositories) error {
		return fn(failingResponseRepos{r})
	})
}

type failingResponseRepos struct{ repository.Repositories }

func (r failingResponseRepos) Responses() repository.ResponseRepository {
	return failingResponses{r.Repositories.Responses()}
}

type failingResponses struct{ repository.ResponseRepository }

func (failingResponses) UpdateStatus(context.Context, *repository.SurveyResponse) error {
	return errors.New(errors.ErrCodeInternal, "failed to update survey response status")
}

// staleReadStore hands out request rows one version behind, as if another
// writer committed between our read and our update.
type staleReadStore struct{ *memory.Store }

func (s staleReadStore) InTransaction(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.Store.InTransaction(ctx, func(r repository.Repositories) error {
		return fn(staleRepos{r})
	})
}

type staleRepos struct{ repository.Repositories }

func (r staleRepos) Requests() repository.RequestRepository {
	return staleRequests{r.Repositories.Requests()}
}

type staleRequests struct{ repository.RequestRepository }

func (s staleRequests) GetByResponseID(ctx context.Context, responseID string) (*repository.DataApprovalRequest, error) {
	req, err := s.RequestRepository.GetByResponseID(ctx, responseID)
	if req != nil {
		req.Version--
	}
	return req, err
}
