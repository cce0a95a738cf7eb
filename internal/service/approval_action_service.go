package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/client"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/telemetry"
)

// Result statuses returned to callers.
const (
	ResultCompleted           = "completed"
	ResultInProgress          = "in_progress"
	ResultRejected            = "rejected"
	ResultReturnedForRevision = "returned_for_revision"
)

const (
	msgFullyApproved       = "Response fully approved"
	msgNextLevel           = "Moved to next approval level"
	msgRejected            = "Response rejected"
	msgReturned            = "Response returned for revision"
	defaultRejectionReason = "Response rejected"
	defaultRevisionNotes   = "Response needs revision"
)

// ActionInput is the optional payload of an approval action.
type ActionInput struct {
	Comments *string
	Metadata repository.Metadata
}

// ActionResult describes the outcome of an approval action.
type ActionResult struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ResponseID string `json:"response_id,omitempty"`
	NextLevel  *int   `json:"next_level,omitempty"`
}

// ApprovalActionService drives survey responses through their approval
// workflow. Every action is one atomic transaction: audit row, request
// transition and response status commit together or not at all.
type ApprovalActionService struct {
	store      repository.Store
	authorizer Authorizer
	effects    *sideEffects
	now        func() time.Time
	log        *logger.Logger
}

// NewApprovalActionService creates a new ApprovalActionService.
func NewApprovalActionService(
	store repository.Store,
	authorizer Authorizer,
	c cache.Cache,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *ApprovalActionService {
	return &ApprovalActionService{
		store:      store,
		authorizer: authorizer,
		effects:    &sideEffects{cache: c, notifier: notifier, metrics: m, log: log},
		now:        time.Now,
		log:        log,
	}
}

// Approve signs off the response at the approver's level. The request
// completes when no required level remains above it, otherwise it advances
// to the next required level.
func (s *ApprovalActionService) Approve(ctx context.Context, responseID string, approver *repository.Approver, in ActionInput) (*ActionResult, error) {
	return s.act(ctx, repository.ActionApproved, responseID, approver, in)
}

// Reject terminates the workflow at the approver's level regardless of
// remaining levels.
func (s *ApprovalActionService) Reject(ctx context.Context, responseID string, approver *repository.Approver, in ActionInput) (*ActionResult, error) {
	return s.act(ctx, repository.ActionRejected, responseID, approver, in)
}

// ReturnForRevision sends the response back to its author and resets the
// workflow to level 1.
func (s *ApprovalActionService) ReturnForRevision(ctx context.Context, responseID string, approver *repository.Approver, in ActionInput) (*ActionResult, error) {
	return s.act(ctx, repository.ActionReturnedForRevision, responseID, approver, in)
}

// transition is what a committed action leaves behind for the side effects.
type transition struct {
	req        *repository.DataApprovalRequest
	wf         *repository.ApprovalWorkflow
	level      int
	result     *ActionResult
	invalidate bool
	events     []event
}

func (s *ApprovalActionService) act(
	ctx context.Context,
	action repository.ActionType,
	responseID string,
	approver *repository.Approver,
	in ActionInput,
) (*ActionResult, error) {
	start := s.now()
	ctx, span := telemetry.StartSpan(ctx, "approval."+string(action),
		attribute.String("response_id", responseID),
		attribute.String("approver_id", approverID(approver)),
	)

	in.Comments = nonEmpty(in.Comments)

	var tr *transition
	err := s.store.InTransaction(ctx, func(repos repository.Repositories) error {
		var err error
		tr, err = s.transition(ctx, repos, action, responseID, approver, in)
		return err
	})

	s.effects.metrics.ObserveAction(string(action), err, s.now().Sub(start))
	telemetry.EndSpan(span, err)

	if err != nil {
		s.log.Warn().Err(err).
			Str("response_id", responseID).
			Str("approver_id", approverID(approver)).
			Str("action", string(action)).
			Str("code", string(errors.CodeOf(err))).
			Msg("Approval action failed")
		return nil, err
	}

	s.log.Info().
		Str("response_id", responseID).
		Str("request_id", tr.req.ID).
		Str("approver_id", approver.ID).
		Str("action", string(action)).
		Int("level", tr.level).
		Str("status", string(tr.req.CurrentStatus)).
		Msg("Approval action recorded")

	if tr.invalidate {
		s.effects.invalidateSurvey(ctx, tr.req.SurveyID)
	}
	s.effects.publish(ctx, tr.req, approver.ID, tr.events...)

	return tr.result, nil
}

// transition performs the reads, authorization and writes of one action
// inside the caller's transaction.
func (s *ApprovalActionService) transition(
	ctx context.Context,
	repos repository.Repositories,
	action repository.ActionType,
	responseID string,
	approver *repository.Approver,
	in ActionInput,
) (*transition, error) {
	resp, err := repos.Responses().GetByID(ctx, responseID)
	if err != nil {
		return nil, err
	}
	req, err := repos.Requests().GetByResponseID(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.NoApprovalRequest(responseID)
	}
	if !req.CurrentStatus.Actionable() {
		return nil, errors.Conflict(fmt.Sprintf("approval request is %s and accepts no further actions", req.CurrentStatus))
	}

	wf, err := repos.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	level, err := s.authorizer.DetermineApprovalLevelForApprover(ctx, req, wf, approver)
	if err != nil {
		return nil, err
	}

	now := s.now()

	// the audit row precedes the state decision and shares its transaction
	if err := repos.Actions().Append(ctx, &repository.ApprovalAction{
		ApprovalRequestID: req.ID,
		ApproverID:        approver.ID,
		ApprovalLevel:     level,
		Action:            action,
		Comments:          in.Comments,
		ActionMetadata:    in.Metadata,
		ActionTakenAt:     now,
	}); err != nil {
		return nil, err
	}

	tr := &transition{req: req, wf: wf, level: level, invalidate: in.Comments != nil}
	responseChanged := true

	switch action {
	case repository.ActionApproved:
		next, hasNext := wf.NextRequiredLevel(level)
		if wf.IsFullyApproved(level) || !hasNext || s.authorizer.CompletesChain(approver) {
			req.CurrentApprovalLevel = level
			req.CurrentStatus = repository.RequestApproved
			req.CompletedAt = &now

			resp.Status = repository.ResponseApproved
			resp.ApprovedBy = strPtr(approver.ID)
			resp.ApprovedAt = &now

			tr.result = &ActionResult{Status: ResultCompleted, Message: msgFullyApproved, ResponseID: responseID}
			tr.invalidate = true
			tr.events = []event{{kind: client.EventApproved, recipients: []string{req.SubmittedBy}}}
		} else {
			req.CurrentApprovalLevel = next
			req.CurrentStatus = repository.RequestInProgress
			responseChanged = false

			tr.result = &ActionResult{Status: ResultInProgress, Message: msgNextLevel, ResponseID: responseID, NextLevel: &next}
			tr.events = []event{{
				kind:       client.EventApprovalRequired,
				recipients: stepRecipients(wf, next),
				payload:    map[string]any{"level": next, "approved_level": level},
			}}
		}

	case repository.ActionRejected:
		reason := defaultRejectionReason
		if in.Comments != nil {
			reason = *in.Comments
		}
		req.CurrentApprovalLevel = level
		req.CurrentStatus = repository.RequestRejected
		req.CompletedAt = &now

		resp.Status = repository.ResponseRejected
		resp.RejectionReason = strPtr(reason)

		tr.result = &ActionResult{Status: ResultRejected, Message: msgRejected, ResponseID: responseID}
		tr.invalidate = true
		tr.events = []event{{
			kind:       client.EventRejected,
			recipients: []string{req.SubmittedBy},
			payload:    map[string]any{"reason": reason, "level": level},
		}}

	case repository.ActionReturnedForRevision:
		notes := defaultRevisionNotes
		if in.Comments != nil {
			notes = *in.Comments
		}
		req.CurrentApprovalLevel = 1
		req.CurrentStatus = repository.RequestReturnedForRevision
		req.RevisionNotes = in.Comments

		resp.Status = repository.ResponseNeedsRevision
		resp.RevisionNotes = strPtr(notes)

		tr.result = &ActionResult{Status: ResultReturnedForRevision, Message: msgReturned, ResponseID: responseID}
		tr.invalidate = true
		tr.events = []event{{
			kind:       client.EventReturnedForRevision,
			recipients: []string{req.SubmittedBy},
			payload:    map[string]any{"notes": notes, "level": level},
		}}

	default:
		return nil, errors.InvalidInput("action", fmt.Sprintf("unsupported approval action %q", action))
	}

	if err := repos.Requests().Update(ctx, req); err != nil {
		return nil, err
	}
	if responseChanged {
		if err := repos.Responses().UpdateStatus(ctx, resp); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

func approverID(a *repository.Approver) string {
	if a == nil {
		return ""
	}
	return a.ID
}
