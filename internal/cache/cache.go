// Package cache holds the derived-view cache for approval statistics and
// pending lists. Values are JSON encoded so the redis and in-process
// implementations are interchangeable.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores JSON-encodable values by key.
type Cache interface {
	// Get decodes the cached value into dest. found is false on a miss.
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Forget removes keys. Missing keys are not an error.
	Forget(ctx context.Context, keys ...string) error
}

// StatsKey is the cache key of a survey's approval statistics.
func StatsKey(surveyID string) string {
	return fmt.Sprintf("approval_stats_%s", surveyID)
}

// PendingKey is the cache key of a survey's pending approval list.
func PendingKey(surveyID string) string {
	return fmt.Sprintf("pending_approvals_%s", surveyID)
}

// SurveyKeys lists every key derived from a survey's approval state.
func SurveyKeys(surveyID string) []string {
	return []string{StatsKey(surveyID), PendingKey(surveyID)}
}
