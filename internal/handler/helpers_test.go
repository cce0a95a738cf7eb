package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/repository/memory"
	"github.com/atis-edu/be-survey-approvals/internal/security"
	"github.com/atis-edu/be-survey-approvals/internal/service"
)

type testEnv struct {
	store *memory.Store
	svc   Services
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()
	c := cache.NewMemory()
	store := memory.New()

	authz, err := security.New(security.Policy{
		Grants:      []string{"schooladmin:schooladmin", "sektoradmin:sektoradmin"},
		Inherits:    []string{"superadmin:schooladmin", "superadmin:sektoradmin"},
		GlobalRoles: []string{"superadmin"},
	}, log)
	require.NoError(t, err)

	actions := service.NewApprovalActionService(store, authz, c, nil, m, log)
	return &testEnv{
		store: store,
		svc: Services{
			Actions: actions,
			Submissions: service.NewSubmissionService(store, service.WorkflowDefaults{
				WorkflowType: "survey_response",
				Name:         "Survey Response Approval",
				Steps: []repository.WorkflowStep{
					{Level: 1, Role: "schooladmin", Required: true},
					{Level: 2, Role: "sektoradmin", Required: true},
				},
				Deadline: 7 * 24 * time.Hour,
			}, c, nil, m, log),
			Queries: service.NewApprovalQueryService(store, authz, c, service.QueryOptions{CacheTTL: time.Minute}, m, log),
			Bulk:    service.NewBulkApprovalService(actions, service.BulkOptions{MaxItems: 10, Concurrency: 2}, m, log),
		},
	}
}

// draft stores a draft response of school-7 and returns its id.
func (e *testEnv) draft(t *testing.T) string {
	t.Helper()
	resp := &repository.SurveyResponse{SurveyID: "s1", InstitutionID: "school-7", RespondentID: "teacher-1"}
	require.NoError(t, e.store.Responses().Create(context.Background(), resp))
	return resp.ID
}
