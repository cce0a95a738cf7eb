package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "approval_stats_42", StatsKey("42"))
	assert.Equal(t, "pending_approvals_42", PendingKey("42"))
	assert.Equal(t, []string{"approval_stats_42", "pending_approvals_42"}, SurveyKeys("42"))
}

func TestMemoryRoundTripAndForget(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	type stats struct {
		Total int `json:"total"`
	}
	require.NoError(t, c.Set(ctx, StatsKey("s1"), stats{Total: 3}, time.Minute))

	var got stats
	found, err := c.Get(ctx, StatsKey("s1"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Total)

	require.NoError(t, c.Forget(ctx, SurveyKeys("s1")...))
	found, err = c.Get(ctx, StatsKey("s1"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	assert.True(t, c.Has("k"))

	now = now.Add(2 * time.Minute)
	var v int
	found, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, c.Has("k"))
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url://")
	assert.Error(t, err)

	c, err := NewRedis("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
