package service

import (
	"context"
	"math"
	"time"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// ApprovalStats is the cached per-survey approval summary.
type ApprovalStats struct {
	repository.ResponseStats
	CompletionRate float64 `json:"completion_rate"`
}

// Eligibility answers whether an approver may act on a response right now.
type Eligibility struct {
	CanApprove bool   `json:"can_approve"`
	Level      int    `json:"level,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// QueryOptions tunes the cached views.
type QueryOptions struct {
	CacheTTL     time.Duration
	PendingLimit int
}

// ApprovalQueryService serves read views over the approval state. Stats and
// pending lists are cached per survey and evicted by transitions.
type ApprovalQueryService struct {
	store      repository.Store
	authorizer Authorizer
	cache      cache.Cache
	opts       QueryOptions
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// NewApprovalQueryService creates a new ApprovalQueryService.
func NewApprovalQueryService(
	store repository.Store,
	authorizer Authorizer,
	c cache.Cache,
	opts QueryOptions,
	m *metrics.Metrics,
	log *logger.Logger,
) *ApprovalQueryService {
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = 50
	}
	return &ApprovalQueryService{
		store:      store,
		authorizer: authorizer,
		cache:      c,
		opts:       opts,
		metrics:    m,
		log:        log,
	}
}

// History returns the audit trail of a response, newest first. A response
// that was never submitted has an empty history.
func (s *ApprovalQueryService) History(ctx context.Context, responseID string) ([]*repository.ApprovalAction, error) {
	if _, err := s.store.Responses().GetByID(ctx, responseID); err != nil {
		return nil, err
	}
	req, err := s.store.Requests().GetByResponseID(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return []*repository.ApprovalAction{}, nil
	}
	actions, err := s.store.Actions().ListByRequestID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []*repository.ApprovalAction{}
	}
	return actions, nil
}

// Stats returns response counts and completion rate for a survey.
func (s *ApprovalQueryService) Stats(ctx context.Context, surveyID string) (*ApprovalStats, error) {
	if surveyID == "" {
		return nil, errors.InvalidInput("survey_id", "survey id is required")
	}

	key := cache.StatsKey(surveyID)
	stats := &ApprovalStats{}
	if s.lookup(ctx, "stats", key, stats) {
		return stats, nil
	}

	counts, err := s.store.Responses().StatsBySurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	stats = &ApprovalStats{ResponseStats: *counts, CompletionRate: completionRate(counts)}

	s.remember(ctx, key, stats)
	return stats, nil
}

// Pending returns open requests of a survey, newest submission first. The
// cached list holds up to the configured pending limit; limit trims it.
func (s *ApprovalQueryService) Pending(ctx context.Context, surveyID string, limit int) ([]*repository.DataApprovalRequest, error) {
	if surveyID == "" {
		return nil, errors.InvalidInput("survey_id", "survey id is required")
	}
	if limit <= 0 || limit > s.opts.PendingLimit {
		limit = s.opts.PendingLimit
	}

	key := cache.PendingKey(surveyID)
	var list []*repository.DataApprovalRequest
	if !s.lookup(ctx, "pending", key, &list) {
		var err error
		list, err = s.store.Requests().ListPending(ctx, surveyID, s.opts.PendingLimit)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []*repository.DataApprovalRequest{}
		}
		s.remember(ctx, key, list)
	}

	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// CanApprove reports whether approver may act on the response now. Denials
// are reported in the result; only infrastructure failures are errors.
func (s *ApprovalQueryService) CanApprove(ctx context.Context, responseID string, approver *repository.Approver) (*Eligibility, error) {
	resp, err := s.store.Responses().GetByID(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.Status != repository.ResponseSubmitted {
		return &Eligibility{Reason: "response is " + string(resp.Status)}, nil
	}

	req, err := s.store.Requests().GetByResponseID(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return &Eligibility{Reason: "response has no approval request"}, nil
	}
	if !req.CurrentStatus.Actionable() {
		return &Eligibility{Reason: "approval request is " + string(req.CurrentStatus)}, nil
	}

	wf, err := s.store.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	level, err := s.authorizer.DetermineApprovalLevelForApprover(ctx, req, wf, approver)
	if err != nil {
		switch errors.CodeOf(err) {
		case errors.ErrCodeForbidden, errors.ErrCodeUnauthorized:
			return &Eligibility{Reason: err.Error()}, nil
		}
		return nil, err
	}
	return &Eligibility{CanApprove: true, Level: level}, nil
}

// ── cache helpers ─────────────────────────────────────────────────────────────

// lookup reads a cached view. Cache failures count as misses.
func (s *ApprovalQueryService) lookup(ctx context.Context, view, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.metrics.SideEffectFailed("cache")
		s.log.Warn().Err(err).Str("key", key).Msg("Approval cache read failed")
		return false
	}
	s.metrics.CacheLookup(view, found)
	return found
}

func (s *ApprovalQueryService) remember(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.opts.CacheTTL); err != nil {
		s.metrics.SideEffectFailed("cache")
		s.log.Warn().Err(err).Str("key", key).Msg("Approval cache write failed")
	}
}

// completionRate is the decided share of responses as a percentage, rounded
// to two decimals.
func completionRate(c *repository.ResponseStats) float64 {
	if c.Total == 0 {
		return 0
	}
	rate := float64(c.Approved+c.Rejected) / float64(c.Total) * 100
	return math.Round(rate*100) / 100
}
