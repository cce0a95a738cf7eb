package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflow(requireAll bool, steps ...WorkflowStep) *ApprovalWorkflow {
	return &ApprovalWorkflow{Name: "test", WorkflowType: "survey_response", Steps: steps, RequireAllLevels: requireAll}
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []WorkflowStep
		wantErr bool
	}{
		{"ordered levels", []WorkflowStep{{Level: 1}, {Level: 2}, {Level: 4}}, false},
		{"no steps", nil, true},
		{"zero level", []WorkflowStep{{Level: 0}}, true},
		{"duplicate level", []WorkflowStep{{Level: 1}, {Level: 1}}, true},
		{"descending", []WorkflowStep{{Level: 2}, {Level: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := workflow(false, tt.steps...).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextRequiredLevel(t *testing.T) {
	wf := workflow(false,
		WorkflowStep{Level: 1, Required: true},
		WorkflowStep{Level: 2},
		WorkflowStep{Level: 3, Required: true},
		WorkflowStep{Level: 4},
	)

	next, ok := wf.NextRequiredLevel(1)
	assert.True(t, ok)
	assert.Equal(t, 3, next)

	_, ok = wf.NextRequiredLevel(3)
	assert.False(t, ok)

	assert.False(t, wf.IsFullyApproved(1))
	assert.False(t, wf.IsFullyApproved(2))
	assert.True(t, wf.IsFullyApproved(3))
	assert.True(t, wf.IsFullyApproved(4))

	wf.RequireAllLevels = true
	next, _ = wf.NextRequiredLevel(1)
	assert.Equal(t, 2, next)
	assert.False(t, wf.IsFullyApproved(3))
	assert.True(t, wf.IsFullyApproved(4))
}

func TestFirstLevel(t *testing.T) {
	assert.Equal(t, 1, workflow(false).FirstLevel())
	assert.Equal(t, 2, workflow(false, WorkflowStep{Level: 2}, WorkflowStep{Level: 5}).FirstLevel())
}

func TestNoRequiredStepsNeverFullyApproved(t *testing.T) {
	wf := workflow(false, WorkflowStep{Level: 1}, WorkflowStep{Level: 2})
	assert.False(t, wf.IsFullyApproved(2))
	_, ok := wf.NextRequiredLevel(1)
	assert.False(t, ok)
}

func TestRequestStatusActionable(t *testing.T) {
	assert.True(t, RequestPending.Actionable())
	assert.True(t, RequestInProgress.Actionable())
	assert.False(t, RequestApproved.Actionable())
	assert.False(t, RequestRejected.Actionable())
	assert.False(t, RequestReturnedForRevision.Actionable())
}

func TestRequestStatusIsTerminal(t *testing.T) {
	assert.True(t, RequestApproved.IsTerminal())
	assert.True(t, RequestRejected.IsTerminal())
	assert.False(t, RequestReturnedForRevision.IsTerminal())
	assert.False(t, RequestPending.IsTerminal())
}

func TestWorkflowStepRequiredByDefault(t *testing.T) {
	var steps []WorkflowStep
	require.NoError(t, json.Unmarshal([]byte(`[
		{"level": 1, "role": "schooladmin"},
		{"level": 2, "role": "sektoradmin", "required": false, "delegates": ["deputy-1"]},
		{"level": 3, "role": "regionadmin", "required": true}
	]`), &steps))

	require.Len(t, steps, 3)
	assert.True(t, steps[0].Required)
	assert.False(t, steps[1].Required)
	assert.Equal(t, []string{"deputy-1"}, steps[1].Delegates)
	assert.True(t, steps[2].Required)
}
