package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

func seedRequest(t *testing.T, s *Store) *repository.DataApprovalRequest {
	t.Helper()
	ctx := context.Background()

	resp := &repository.SurveyResponse{SurveyID: "s1", InstitutionID: "inst-1", RespondentID: "u1"}
	require.NoError(t, s.Responses().Create(ctx, resp))

	req := &repository.DataApprovalRequest{
		WorkflowID:           "wf-1",
		ResponseID:           resp.ID,
		SurveyID:             "s1",
		InstitutionID:        "inst-1",
		SubmittedBy:          "u1",
		SubmittedAt:          time.Now(),
		CurrentApprovalLevel: 1,
		CurrentStatus:        repository.RequestPending,
	}
	require.NoError(t, s.Requests().Create(ctx, req))
	return req
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := seedRequest(t, s)

	boom := stderrors.New("boom")
	err := s.InTransaction(ctx, func(repos repository.Repositories) error {
		cur, err := repos.Requests().GetByResponseID(ctx, req.ResponseID)
		require.NoError(t, err)
		cur.CurrentStatus = repository.RequestApproved
		require.NoError(t, repos.Requests().Update(ctx, cur))
		require.NoError(t, repos.Actions().Append(ctx, &repository.ApprovalAction{
			ApprovalRequestID: cur.ID,
			ApproverID:        "a1",
			ApprovalLevel:     1,
			Action:            repository.ActionApproved,
			ActionTakenAt:     time.Now(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.Requests().GetByResponseID(ctx, req.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestPending, after.CurrentStatus)
	assert.Equal(t, 1, after.Version)

	actions, err := s.Actions().ListByRequestID(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestTransactionCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := seedRequest(t, s)

	err := s.InTransaction(ctx, func(repos repository.Repositories) error {
		cur, err := repos.Requests().GetByResponseID(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		cur.CurrentApprovalLevel = 2
		cur.CurrentStatus = repository.RequestInProgress
		return repos.Requests().Update(ctx, cur)
	})
	require.NoError(t, err)

	after, err := s.Requests().GetByResponseID(ctx, req.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CurrentApprovalLevel)
	assert.Equal(t, 2, after.Version)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := seedRequest(t, s)

	first := *req
	second := *req

	first.CurrentStatus = repository.RequestInProgress
	require.NoError(t, s.Requests().Update(ctx, &first))
	assert.Equal(t, 2, first.Version)

	second.CurrentStatus = repository.RequestRejected
	err := s.Requests().Update(ctx, &second)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestDuplicateRequestForResponse(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := seedRequest(t, s)

	dup := *req
	dup.ID = ""
	err := s.Requests().Create(ctx, &dup)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestActionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := seedRequest(t, s)

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, kind := range []repository.ActionType{
		repository.ActionSubmitted,
		repository.ActionApproved,
		repository.ActionRejected,
	} {
		require.NoError(t, s.Actions().Append(ctx, &repository.ApprovalAction{
			ApprovalRequestID: req.ID,
			ApproverID:        "a1",
			ApprovalLevel:     1,
			Action:            kind,
			ActionTakenAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.Actions().ListByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, repository.ActionRejected, list[0].Action)
	assert.Equal(t, repository.ActionSubmitted, list[2].Action)
}

func TestStatsAndPending(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedRequest(t, s)

	draft := &repository.SurveyResponse{SurveyID: "s1", InstitutionID: "inst-1", RespondentID: "u2"}
	require.NoError(t, s.Responses().Create(ctx, draft))

	submitted := &repository.SurveyResponse{SurveyID: "s1", InstitutionID: "inst-1", RespondentID: "u3"}
	require.NoError(t, s.Responses().Create(ctx, submitted))
	submitted.Status = repository.ResponseSubmitted
	require.NoError(t, s.Responses().UpdateStatus(ctx, submitted))

	stats, err := s.Responses().StatsBySurvey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Draft)
	assert.Equal(t, 1, stats.Pending)

	pending, err := s.Requests().ListPending(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	none, err := s.Requests().ListPending(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActiveWorkflowByType(t *testing.T) {
	ctx := context.Background()
	s := New()

	wf, err := s.Workflows().GetActiveByType(ctx, "survey_response")
	require.NoError(t, err)
	assert.Nil(t, wf)

	created := &repository.ApprovalWorkflow{
		Name:         "Survey Response Approval",
		WorkflowType: "survey_response",
		Steps:        []repository.WorkflowStep{{Level: 1, Role: "schooladmin", Required: true}},
	}
	require.NoError(t, s.Workflows().Create(ctx, created))

	wf, err = s.Workflows().GetActiveByType(ctx, "survey_response")
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, created.ID, wf.ID)
	assert.Equal(t, "active", wf.Status)

	bad := &repository.ApprovalWorkflow{Name: "broken", WorkflowType: "survey_response"}
	assert.True(t, errors.Is(s.Workflows().Create(ctx, bad), errors.ErrCodeInvalidInput))
}
