package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/metrics"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// BulkAction selects the operation applied to every item of a batch.
type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkReject  BulkAction = "reject"
	BulkReturn  BulkAction = "return"
)

const (
	defaultBulkRejection = "Bulk rejection"
	defaultBulkReturn    = "Returned for revision"
)

// BulkItemResult is the outcome of one successful item.
type BulkItemResult struct {
	ResponseID string `json:"response_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	NextLevel  *int   `json:"next_level,omitempty"`
}

// BulkItemError is the failure of one item.
type BulkItemError struct {
	ResponseID string      `json:"response_id"`
	Code       errors.Code `json:"code"`
	Error      string      `json:"error"`
}

// BulkResult summarizes a batch; Results and Errors keep input order.
type BulkResult struct {
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []BulkItemResult `json:"results"`
	Errors     []BulkItemError  `json:"errors"`
}

// BulkOptions bounds batch size and parallelism.
type BulkOptions struct {
	MaxItems    int
	Concurrency int
}

// BulkApprovalService applies one action to many responses. Each item is
// its own atomic action; a failing item never affects the others.
type BulkApprovalService struct {
	actions *ApprovalActionService
	opts    BulkOptions
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewBulkApprovalService creates a new BulkApprovalService.
func NewBulkApprovalService(actions *ApprovalActionService, opts BulkOptions, m *metrics.Metrics, log *logger.Logger) *BulkApprovalService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &BulkApprovalService{actions: actions, opts: opts, metrics: m, log: log}
}

// Process runs action over the distinct ids in responseIDs.
func (s *BulkApprovalService) Process(
	ctx context.Context,
	action BulkAction,
	responseIDs []string,
	approver *repository.Approver,
	comments *string,
) (*BulkResult, error) {
	run, err := s.operation(action)
	if err != nil {
		return nil, err
	}

	ids := dedupe(responseIDs)
	if len(ids) == 0 {
		return nil, errors.InvalidInput("response_ids", "at least one response id is required")
	}
	if s.opts.MaxItems > 0 && len(ids) > s.opts.MaxItems {
		return nil, errors.InvalidInput("response_ids",
			fmt.Sprintf("batch of %d exceeds the limit of %d responses", len(ids), s.opts.MaxItems))
	}

	in := ActionInput{
		Comments: bulkComments(action, nonEmpty(comments)),
		Metadata: repository.Metadata{"bulk": true, "batch_size": len(ids)},
	}

	results := make([]*ActionResult, len(ids))
	failures := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}
			results[i], failures[i] = run(ctx, id, approver, in)
			s.metrics.ObserveBulkItem(string(action), failures[i])
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkResult{Results: []BulkItemResult{}, Errors: []BulkItemError{}}
	for i, id := range ids {
		if err := failures[i]; err != nil {
			out.Failed++
			out.Errors = append(out.Errors, BulkItemError{ResponseID: id, Code: errors.CodeOf(err), Error: err.Error()})
			continue
		}
		r := results[i]
		out.Successful++
		out.Results = append(out.Results, BulkItemResult{
			ResponseID: id,
			Status:     r.Status,
			Message:    r.Message,
			NextLevel:  r.NextLevel,
		})
	}

	s.log.Info().
		Str("action", string(action)).
		Str("approver_id", approverID(approver)).
		Int("requested", len(ids)).
		Int("successful", out.Successful).
		Int("failed", out.Failed).
		Msg("Bulk approval processed")

	return out, nil
}

type actionFunc func(ctx context.Context, responseID string, approver *repository.Approver, in ActionInput) (*ActionResult, error)

func (s *BulkApprovalService) operation(action BulkAction) (actionFunc, error) {
	switch action {
	case BulkApprove:
		return s.actions.Approve, nil
	case BulkReject:
		return s.actions.Reject, nil
	case BulkReturn:
		return s.actions.ReturnForRevision, nil
	}
	return nil, errors.InvalidInput("action", fmt.Sprintf("unknown bulk action %q", action))
}

func bulkComments(action BulkAction, comments *string) *string {
	if comments != nil {
		return comments
	}
	switch action {
	case BulkReject:
		return strPtr(defaultBulkRejection)
	case BulkReturn:
		return strPtr(defaultBulkReturn)
	}
	return nil
}

// dedupe drops empty and repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
