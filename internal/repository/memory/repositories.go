package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// ── workflows ────────────────────────────────────────────────────────────────

type workflowRepo struct{ *repos }

func copyWorkflow(wf *repository.ApprovalWorkflow) *repository.ApprovalWorkflow {
	c := *wf
	c.Steps = make([]repository.WorkflowStep, len(wf.Steps))
	for i, s := range wf.Steps {
		c.Steps[i] = s
		c.Steps[i].Delegates = append([]string(nil), s.Delegates...)
	}
	return &c
}

func (r *workflowRepo) Create(_ context.Context, wf *repository.ApprovalWorkflow) error {
	if err := wf.Validate(); err != nil {
		return errors.InvalidInput("steps", err.Error())
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Status == "" {
		wf.Status = "active"
	}
	now := r.now()
	wf.CreatedAt, wf.UpdatedAt = now, now
	r.st.workflows = append(r.st.workflows, copyWorkflow(wf))
	return nil
}

func (r *workflowRepo) GetByID(_ context.Context, id string) (*repository.ApprovalWorkflow, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, wf := range r.st.workflows {
		if wf.ID == id {
			return copyWorkflow(wf), nil
		}
	}
	return nil, errors.NotFound("approval_workflow", id)
}

func (r *workflowRepo) GetActiveByType(_ context.Context, workflowType string) (*repository.ApprovalWorkflow, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	// newest first
	for i := len(r.st.workflows) - 1; i >= 0; i-- {
		wf := r.st.workflows[i]
		if wf.WorkflowType == workflowType && wf.Status == "active" {
			return copyWorkflow(wf), nil
		}
	}
	return nil, nil
}

// ── requests ─────────────────────────────────────────────────────────────────

type requestRepo struct{ *repos }

func (r *requestRepo) Create(_ context.Context, req *repository.DataApprovalRequest) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.st.byResponse[req.ResponseID]; ok {
		return errors.Conflict("approval request already exists for response " + req.ResponseID)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Version = 1
	now := r.now()
	req.CreatedAt, req.UpdatedAt = now, now

	stored := *req
	r.st.requests[req.ID] = &stored
	r.st.byResponse[req.ResponseID] = req.ID
	return nil
}

func (r *requestRepo) GetByResponseID(_ context.Context, responseID string) (*repository.DataApprovalRequest, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	id, ok := r.st.byResponse[responseID]
	if !ok {
		return nil, nil
	}
	req := *r.st.requests[id]
	return &req, nil
}

func (r *requestRepo) Update(_ context.Context, req *repository.DataApprovalRequest) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	cur, ok := r.st.requests[req.ID]
	if !ok || cur.Version != req.Version {
		return errors.Conflict("approval request " + req.ID + " was modified concurrently")
	}
	cur.CurrentApprovalLevel = req.CurrentApprovalLevel
	cur.CurrentStatus = req.CurrentStatus
	cur.CompletedAt = req.CompletedAt
	cur.RevisionNotes = req.RevisionNotes
	cur.Version++
	cur.UpdatedAt = r.now()

	req.Version = cur.Version
	req.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *requestRepo) ListPending(_ context.Context, surveyID string, limit int) ([]*repository.DataApprovalRequest, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var list []*repository.DataApprovalRequest
	for _, req := range r.st.requests {
		if req.SurveyID == surveyID && req.CurrentStatus.Actionable() {
			c := *req
			list = append(list, &c)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].SubmittedAt.After(list[j].SubmittedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ── actions ──────────────────────────────────────────────────────────────────

type actionRepo struct{ *repos }

func (r *actionRepo) Append(_ context.Context, action *repository.ApprovalAction) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.st.requests[action.ApprovalRequestID]; !ok {
		return errors.NotFound("approval_request", action.ApprovalRequestID)
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	stored := *action
	r.st.actions = append(r.st.actions, &stored)
	return nil
}

func (r *actionRepo) ListByRequestID(_ context.Context, requestID string) ([]*repository.ApprovalAction, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var list []*repository.ApprovalAction
	for i := len(r.st.actions) - 1; i >= 0; i-- {
		if a := r.st.actions[i]; a.ApprovalRequestID == requestID {
			c := *a
			list = append(list, &c)
		}
	}
	// stable keeps later inserts ahead of earlier ones on equal timestamps
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ActionTakenAt.After(list[j].ActionTakenAt)
	})
	return list, nil
}

// ── responses ────────────────────────────────────────────────────────────────

type responseRepo struct{ *repos }

func (r *responseRepo) Create(_ context.Context, resp *repository.SurveyResponse) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if _, ok := r.st.responses[resp.ID]; ok {
		return errors.Conflict("survey response " + resp.ID + " already exists")
	}
	if resp.Status == "" {
		resp.Status = repository.ResponseDraft
	}
	now := r.now()
	resp.CreatedAt, resp.UpdatedAt = now, now
	stored := *resp
	r.st.responses[resp.ID] = &stored
	return nil
}

func (r *responseRepo) GetByID(_ context.Context, id string) (*repository.SurveyResponse, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	resp, ok := r.st.responses[id]
	if !ok {
		return nil, errors.NotFound("survey_response", id)
	}
	c := *resp
	return &c, nil
}

func (r *responseRepo) UpdateStatus(_ context.Context, resp *repository.SurveyResponse) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	cur, ok := r.st.responses[resp.ID]
	if !ok {
		return errors.NotFound("survey_response", resp.ID)
	}
	cur.Status = resp.Status
	cur.RejectionReason = resp.RejectionReason
	cur.RevisionNotes = resp.RevisionNotes
	cur.ApprovedBy = resp.ApprovedBy
	cur.ApprovedAt = resp.ApprovedAt
	cur.UpdatedAt = r.now()
	resp.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *responseRepo) StatsBySurvey(_ context.Context, surveyID string) (*repository.ResponseStats, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	stats := &repository.ResponseStats{}
	for _, resp := range r.st.responses {
		if resp.SurveyID != surveyID {
			continue
		}
		stats.Total++
		switch resp.Status {
		case repository.ResponseSubmitted:
			stats.Pending++
		case repository.ResponseApproved:
			stats.Approved++
		case repository.ResponseRejected:
			stats.Rejected++
		case repository.ResponseDraft:
			stats.Draft++
		case repository.ResponseNeedsRevision:
			stats.NeedsRevision++
		}
	}
	return stats, nil
}
