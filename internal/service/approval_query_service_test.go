package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})

	draft := f.draftResponse(t, "s1", "school-7")
	history, err := f.queries.History(ctx, draft)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NotNil(t, history)

	_, err = f.queries.History(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	id := f.submitted(t, "s1", "school-7")
	_, err = f.actions.Approve(ctx, id, approver("a1"), ActionInput{})
	require.NoError(t, err)
	_, err = f.actions.Reject(ctx, id, approver("a2"), ActionInput{Comments: comments("late")})
	require.NoError(t, err)

	history, err = f.queries.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, repository.ActionRejected, history[0].Action)
	assert.Equal(t, repository.ActionApproved, history[1].Action)
	assert.Equal(t, repository.ActionSubmitted, history[2].Action)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []repository.WorkflowStep{{Level: 1, Role: "schooladmin", Required: true}}, currentLevelAuthorizer{})

	approved := f.submitted(t, "s1", "school-7")
	rejected := f.submitted(t, "s1", "school-7")
	f.submitted(t, "s1", "school-7")
	f.draftResponse(t, "s1", "school-7")
	f.submitted(t, "other", "school-7")

	_, err := f.actions.Approve(ctx, approved, approver("a1"), ActionInput{})
	require.NoError(t, err)
	_, err = f.actions.Reject(ctx, rejected, approver("a1"), ActionInput{})
	require.NoError(t, err)

	stats, err := f.queries.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 50.0, stats.CompletionRate)
	assert.True(t, f.cache.Has(cache.StatsKey("s1")))

	// served from cache until a transition evicts it
	f.draftResponse(t, "s1", "school-7")
	cached, err := f.queries.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, cached.Total)

	_, err = f.queries.Stats(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		name  string
		stats repository.ResponseStats
		want  float64
	}{
		{"empty survey", repository.ResponseStats{}, 0},
		{"all decided", repository.ResponseStats{Total: 4, Approved: 3, Rejected: 1}, 100},
		{"rounded to two decimals", repository.ResponseStats{Total: 3, Approved: 1}, 33.33},
		{"rejections count", repository.ResponseStats{Total: 6, Approved: 1, Rejected: 3}, 66.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, completionRate(&tt.stats))
		})
	}
}

func TestPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []repository.WorkflowStep{{Level: 1, Role: "schooladmin", Required: true}}, currentLevelAuthorizer{})

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.submitted(t, "s1", "school-7"))
	}
	_, err := f.actions.Approve(ctx, ids[0], approver("a1"), ActionInput{})
	require.NoError(t, err)

	list, err := f.queries.Pending(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[3], list[0].ResponseID)
	assert.Equal(t, ids[1], list[2].ResponseID)

	top, err := f.queries.Pending(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, ids[3], top[0].ResponseID)

	empty, err := f.queries.Pending(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCanApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("eligible", func(t *testing.T) {
		f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
		id := f.submitted(t, "s1", "school-7")

		got, err := f.queries.CanApprove(ctx, id, approver("a1"))
		require.NoError(t, err)
		assert.True(t, got.CanApprove)
		assert.Equal(t, 1, got.Level)
	})

	t.Run("denied by policy", func(t *testing.T) {
		f := newFixture(t, requiredTwoLevels, denyingAuthorizer{})
		id := f.submitted(t, "s1", "school-7")

		got, err := f.queries.CanApprove(ctx, id, approver("a1"))
		require.NoError(t, err)
		assert.False(t, got.CanApprove)
		assert.Contains(t, got.Reason, "no eligible level")
	})

	t.Run("not submitted", func(t *testing.T) {
		f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
		got, err := f.queries.CanApprove(ctx, f.draftResponse(t, "s1", "school-7"), approver("a1"))
		require.NoError(t, err)
		assert.False(t, got.CanApprove)
		assert.Equal(t, "response is draft", got.Reason)
	})

	t.Run("decided", func(t *testing.T) {
		f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
		id := f.submitted(t, "s1", "school-7")
		_, err := f.actions.Reject(ctx, id, approver("a1"), ActionInput{})
		require.NoError(t, err)

		got, err := f.queries.CanApprove(ctx, id, approver("a1"))
		require.NoError(t, err)
		assert.False(t, got.CanApprove)
	})

	t.Run("unknown response", func(t *testing.T) {
		f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
		_, err := f.queries.CanApprove(ctx, "missing", approver("a1"))
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})
}
