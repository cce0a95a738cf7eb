package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/atis-edu/be-survey-approvals/internal/client"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
)

func newGRPCClient(t *testing.T) (*testEnv, *client.ApprovalsGRPCClient) {
	t.Helper()
	env := newTestEnv(t)
	log := logger.Nop()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		UnaryRecovery(log),
		UnaryLogging(log),
		UnaryIdentity(),
	))
	NewGRPCHandler(env.svc, log).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return env, c
}

func as(c caller) client.Identity {
	id := client.Identity{UserID: c.id, InstitutionID: c.institution}
	if c.roles != "" {
		id.Roles = []string{c.roles}
	}
	if c.scope != "" {
		id.Scope = []string{"school-7", "school-8"}
	}
	return id
}

func TestGRPCApprovalFlow(t *testing.T) {
	env, c := newGRPCClient(t)
	ctx := context.Background()
	id := env.draft(t)

	req, err := c.Submit(client.WithIdentity(ctx, as(respondent)), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "pending", req.CurrentStatus)
	assert.Equal(t, 1, req.CurrentApprovalLevel)
	assert.Equal(t, "teacher-1", req.SubmittedBy)

	note := "level one ok"
	res, err := c.Approve(client.WithIdentity(ctx, as(schoolAdmin)), id, &note)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", res.Status)
	require.NotNil(t, res.NextLevel)
	assert.Equal(t, 2, *res.NextLevel)

	ok, err := c.CanApprove(client.WithIdentity(ctx, as(sectorAdmin)), id)
	require.NoError(t, err)
	assert.True(t, ok.CanApprove)
	assert.Equal(t, 2, ok.Level)

	res, err = c.Approve(client.WithIdentity(ctx, as(sectorAdmin)), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, id, res.ResponseID)

	history, err := c.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "approved", history[0].Action)
	assert.Equal(t, 2, history[0].ApprovalLevel)
	require.NotNil(t, history[1].Comments)
	assert.Equal(t, "level one ok", *history[1].Comments)

	stats, err := c.GetStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 100.0, stats.CompletionRate)
}

func TestGRPCErrorCodesSurvive(t *testing.T) {
	env, c := newGRPCClient(t)
	ctx := context.Background()
	draft := env.draft(t)

	_, err := c.Approve(ctx, draft, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

	_, err = c.Approve(client.WithIdentity(ctx, as(schoolAdmin)), draft, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNoApprovalRequest))

	_, err = c.Reject(client.WithIdentity(ctx, as(schoolAdmin)), "missing", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = c.Submit(client.WithIdentity(ctx, as(respondent)), draft, nil)
	require.NoError(t, err)
	_, err = c.Submit(client.WithIdentity(ctx, as(respondent)), draft, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = c.ReturnForRevision(client.WithIdentity(ctx, as(outsider)), draft, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	_, err = c.GetStats(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestGRPCBulkAndPending(t *testing.T) {
	env, c := newGRPCClient(t)
	ctx := client.WithIdentity(context.Background(), as(schoolAdmin))
	a, b := env.draft(t), env.draft(t)
	for _, id := range []string{a, b} {
		_, err := c.Submit(client.WithIdentity(context.Background(), as(respondent)), id, nil)
		require.NoError(t, err)
	}

	pending, err := c.GetPending(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	res, err := c.BulkProcess(ctx, "return", []string{b, a}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, b, res.Results[0].ResponseID)
	assert.Equal(t, "returned_for_revision", res.Results[0].Status)

	pending, err = c.GetPending(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	req, err := c.Resubmit(client.WithIdentity(context.Background(), as(respondent)), a, nil)
	require.NoError(t, err)
	assert.Equal(t, "pending", req.CurrentStatus)
}
