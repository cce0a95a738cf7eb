package service

import (
	"context"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/client"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// Authorizer resolves the workflow level an approver acts at on a request.
// It fails when the approver may not act at any level; callers treat that
// error as final and perform no writes.
type Authorizer interface {
	DetermineApprovalLevelForApprover(
		ctx context.Context,
		req *repository.DataApprovalRequest,
		wf *repository.ApprovalWorkflow,
		approver *repository.Approver,
	) (int, error)

	// CompletesChain reports whether approver's sign-off finishes the
	// request outright.
	CompletesChain(approver *repository.Approver) bool
}

// Notifier publishes workflow events. Implementations must not block on or
// report delivery failures.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType, responseID, institutionID, actorID string, recipients []string, payload map[string]any)
}

// sideEffects runs the best-effort work that follows a committed transition.
// Nothing here can change the outcome of the call that triggered it.
type sideEffects struct {
	cache    cache.Cache
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// invalidateSurvey evicts the survey's derived views.
func (e *sideEffects) invalidateSurvey(ctx context.Context, surveyID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Forget(ctx, cache.SurveyKeys(surveyID)...); err != nil {
		e.metrics.SideEffectFailed("cache")
		e.log.Warn().Err(err).Str("survey_id", surveyID).Msg("Failed to invalidate approval cache")
		return
	}
	e.metrics.CacheInvalidated()
}

type event struct {
	kind       string
	recipients []string
	payload    map[string]any
}

func (e *sideEffects) publish(ctx context.Context, req *repository.DataApprovalRequest, actorID string, events ...event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		e.notifier.PublishApprovalEvent(ctx, ev.kind, req.ResponseID, req.InstitutionID, actorID, ev.recipients, ev.payload)
	}
}

// stepRecipients addresses the approvers of level: its delegates and its role.
func stepRecipients(wf *repository.ApprovalWorkflow, level int) []string {
	for _, s := range wf.Steps {
		if s.Level != level {
			continue
		}
		out := append([]string(nil), s.Delegates...)
		if s.Role != "" {
			out = append(out, "role:"+s.Role)
		}
		return out
	}
	return nil
}

// nonEmpty drops empty comment strings so "" and nil mean the same thing.
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func strPtr(s string) *string { return &s }

var _ Notifier = (*client.NotificationPublisher)(nil)
