package service

import (
	"context"
	"fmt"
	"time"

	"github.com/atis-edu/be-survey-approvals/internal/cache"
	"github.com/atis-edu/be-survey-approvals/internal/client"
	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// WorkflowDefaults describes the workflow created on first submission when
// none is active for the type.
type WorkflowDefaults struct {
	WorkflowType     string
	Name             string
	Steps            []repository.WorkflowStep
	RequireAllLevels bool
	Deadline         time.Duration
}

// SubmitInput carries the optional fields of a submission.
type SubmitInput struct {
	Notes    *string
	Deadline *time.Time
}

// SubmissionService puts responses into the approval workflow.
type SubmissionService struct {
	store    repository.Store
	defaults WorkflowDefaults
	effects  *sideEffects
	now      func() time.Time
	log      *logger.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	store repository.Store,
	defaults WorkflowDefaults,
	c cache.Cache,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *SubmissionService {
	return &SubmissionService{
		store:    store,
		defaults: defaults,
		effects:  &sideEffects{cache: c, notifier: notifier, metrics: m, log: log},
		now:      time.Now,
		log:      log,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit creates the approval request of a draft response at the first level
// of the active workflow.
func (s *SubmissionService) Submit(ctx context.Context, responseID, submittedBy string, in SubmitInput) (*repository.DataApprovalRequest, error) {
	if submittedBy == "" {
		return nil, errors.InvalidInput("submitted_by", "submitter is required")
	}

	start := s.now()
	var (
		req *repository.DataApprovalRequest
		wf  *repository.ApprovalWorkflow
	)
	err := s.store.InTransaction(ctx, func(repos repository.Repositories) error {
		resp, err := repos.Responses().GetByID(ctx, responseID)
		if err != nil {
			return err
		}

		existing, err := repos.Requests().GetByResponseID(ctx, responseID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict(fmt.Sprintf("response %s already has an approval request (status: %s)", responseID, existing.CurrentStatus))
		}
		if resp.Status != repository.ResponseDraft {
			return errors.Conflict(fmt.Sprintf("cannot submit response with status '%s' for approval", resp.Status))
		}

		wf, err = s.activeWorkflow(ctx, repos)
		if err != nil {
			return err
		}

		now := s.now()
		deadline := in.Deadline
		if deadline == nil && s.defaults.Deadline > 0 {
			d := now.Add(s.defaults.Deadline)
			deadline = &d
		}

		req = &repository.DataApprovalRequest{
			WorkflowID:           wf.ID,
			ResponseID:           resp.ID,
			SurveyID:             resp.SurveyID,
			InstitutionID:        resp.InstitutionID,
			SubmittedBy:          submittedBy,
			SubmittedAt:          now,
			CurrentApprovalLevel: wf.FirstLevel(),
			CurrentStatus:        repository.RequestPending,
			SubmissionNotes:      nonEmpty(in.Notes),
			Deadline:             deadline,
		}
		if err := repos.Requests().Create(ctx, req); err != nil {
			return err
		}

		if err := repos.Actions().Append(ctx, &repository.ApprovalAction{
			ApprovalRequestID: req.ID,
			ApproverID:        submittedBy,
			ApprovalLevel:     req.CurrentApprovalLevel,
			Action:            repository.ActionSubmitted,
			Comments:          req.SubmissionNotes,
			ActionTakenAt:     now,
		}); err != nil {
			return err
		}

		resp.Status = repository.ResponseSubmitted
		return repos.Responses().UpdateStatus(ctx, resp)
	})
	s.effects.metrics.ObserveAction(string(repository.ActionSubmitted), err, s.now().Sub(start))
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("response_id", responseID).
		Str("request_id", req.ID).
		Str("workflow_id", wf.ID).
		Str("submitted_by", submittedBy).
		Int("level", req.CurrentApprovalLevel).
		Msg("Response submitted for approval")

	s.effects.invalidateSurvey(ctx, req.SurveyID)
	s.effects.publish(ctx, req, submittedBy,
		event{kind: client.EventSubmitted, recipients: []string{submittedBy}},
		event{
			kind:       client.EventApprovalRequired,
			recipients: stepRecipients(wf, req.CurrentApprovalLevel),
			payload:    map[string]any{"level": req.CurrentApprovalLevel},
		},
	)
	return req, nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// Resubmit re-enters a response returned for revision into its workflow at
// the level it was reset to.
func (s *SubmissionService) Resubmit(ctx context.Context, responseID, submittedBy string, notes *string) (*repository.DataApprovalRequest, error) {
	if submittedBy == "" {
		return nil, errors.InvalidInput("submitted_by", "submitter is required")
	}
	notes = nonEmpty(notes)

	start := s.now()
	var (
		req *repository.DataApprovalRequest
		wf  *repository.ApprovalWorkflow
	)
	err := s.store.InTransaction(ctx, func(repos repository.Repositories) error {
		resp, err := repos.Responses().GetByID(ctx, responseID)
		if err != nil {
			return err
		}
		req, err = repos.Requests().GetByResponseID(ctx, responseID)
		if err != nil {
			return err
		}
		if req == nil {
			return errors.NoApprovalRequest(responseID)
		}
		if req.CurrentStatus != repository.RequestReturnedForRevision {
			return errors.Conflict(fmt.Sprintf("cannot resubmit approval request with status '%s'", req.CurrentStatus))
		}
		wf, err = repos.Workflows().GetByID(ctx, req.WorkflowID)
		if err != nil {
			return err
		}

		now := s.now()
		req.CurrentStatus = repository.RequestPending
		req.CompletedAt = nil
		if err := repos.Requests().Update(ctx, req); err != nil {
			return err
		}

		if err := repos.Actions().Append(ctx, &repository.ApprovalAction{
			ApprovalRequestID: req.ID,
			ApproverID:        submittedBy,
			ApprovalLevel:     req.CurrentApprovalLevel,
			Action:            repository.ActionResubmitted,
			Comments:          notes,
			ActionTakenAt:     now,
		}); err != nil {
			return err
		}

		resp.Status = repository.ResponseSubmitted
		return repos.Responses().UpdateStatus(ctx, resp)
	})
	s.effects.metrics.ObserveAction(string(repository.ActionResubmitted), err, s.now().Sub(start))
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("response_id", responseID).
		Str("request_id", req.ID).
		Str("submitted_by", submittedBy).
		Msg("Response resubmitted for approval")

	s.effects.invalidateSurvey(ctx, req.SurveyID)
	s.effects.publish(ctx, req, submittedBy, event{
		kind:       client.EventApprovalRequired,
		recipients: stepRecipients(wf, req.CurrentApprovalLevel),
		payload:    map[string]any{"level": req.CurrentApprovalLevel, "resubmitted": true},
	})
	return req, nil
}

// ── Workflow bootstrap ────────────────────────────────────────────────────────

// activeWorkflow returns the active workflow of the configured type, creating
// it from the defaults the first time.
func (s *SubmissionService) activeWorkflow(ctx context.Context, repos repository.Repositories) (*repository.ApprovalWorkflow, error) {
	wf, err := repos.Workflows().GetActiveByType(ctx, s.defaults.WorkflowType)
	if err != nil {
		return nil, err
	}
	if wf != nil {
		return wf, nil
	}

	wf = &repository.ApprovalWorkflow{
		Name:             s.defaults.Name,
		WorkflowType:     s.defaults.WorkflowType,
		Status:           "active",
		Steps:            s.defaults.Steps,
		RequireAllLevels: s.defaults.RequireAllLevels,
	}
	if err := repos.Workflows().Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("workflow_type", wf.WorkflowType).
		Int("steps", len(wf.Steps)).
		Msg("Default approval workflow created")
	return wf, nil
}
