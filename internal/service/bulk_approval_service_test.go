package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

func TestBulkApproveKeepsInputOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})

	a := f.submitted(t, "s1", "school-7")
	b := f.submitted(t, "s1", "school-7")
	draft := f.draftResponse(t, "s1", "school-7")
	c := f.submitted(t, "s1", "school-7")

	res, err := f.bulk.Process(ctx, BulkApprove, []string{a, "missing", b, a, "", draft, c}, approver("a1"), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Successful)
	assert.Equal(t, 2, res.Failed)

	require.Len(t, res.Results, 3)
	for i, id := range []string{a, b, c} {
		assert.Equal(t, id, res.Results[i].ResponseID)
		assert.Equal(t, ResultInProgress, res.Results[i].Status)
		assert.Equal(t, 2, *res.Results[i].NextLevel)
	}

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "missing", res.Errors[0].ResponseID)
	assert.Equal(t, errors.ErrCodeNotFound, res.Errors[0].Code)
	assert.Equal(t, draft, res.Errors[1].ResponseID)
	assert.Equal(t, errors.ErrCodeNoApprovalRequest, res.Errors[1].Code)

	// duplicates act once
	rows := f.decisions(t, a)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0].ActionMetadata["bulk"])
	assert.EqualValues(t, 5, rows[0].ActionMetadata["batch_size"])
}

func TestBulkRejectDefaultsComments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
	id := f.submitted(t, "s1", "school-7")

	res, err := f.bulk.Process(ctx, BulkReject, []string{id}, approver("a1"), comments(""))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, ResultRejected, res.Results[0].Status)

	assert.Equal(t, "Bulk rejection", *f.response(t, id).RejectionReason)
	assert.Equal(t, "Bulk rejection", *f.decisions(t, id)[0].Comments)
}

func TestBulkReturnUsesGivenComments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})
	a := f.submitted(t, "s1", "school-7")
	b := f.submitted(t, "s1", "school-7")

	res, err := f.bulk.Process(ctx, BulkReturn, []string{a, b}, approver("a1"), comments("wrong term"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)

	for _, id := range []string{a, b} {
		assert.Equal(t, repository.RequestReturnedForRevision, f.request(t, id).CurrentStatus)
		assert.Equal(t, "wrong term", *f.response(t, id).RevisionNotes)
	}

	res, err = f.bulk.Process(ctx, BulkReturn, []string{f.submitted(t, "s1", "school-7")}, approver("a1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Returned for revision", *f.response(t, res.Results[0].ResponseID).RevisionNotes)
}

func TestBulkFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, denyingAuthorizer{})
	a := f.submitted(t, "s1", "school-7")
	b := f.submitted(t, "s1", "school-7")

	res, err := f.bulk.Process(ctx, BulkApprove, []string{a, b}, approver("a1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Successful)
	assert.Equal(t, 2, res.Failed)
	assert.NotNil(t, res.Results)
	for _, e := range res.Errors {
		assert.Equal(t, errors.ErrCodeForbidden, e.Code)
	}
	assert.Empty(t, f.decisions(t, a))
}

func TestBulkRejectsBadBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, requiredTwoLevels, currentLevelAuthorizer{})

	_, err := f.bulk.Process(ctx, BulkApprove, nil, approver("a1"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.bulk.Process(ctx, BulkApprove, []string{"", ""}, approver("a1"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.bulk.Process(ctx, BulkAction("archive"), []string{"x"}, approver("a1"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.bulk.Process(ctx, BulkApprove, []string{"1", "2", "3", "4", "5", "6"}, approver("a1"), nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	// five distinct ids fit even when repeated
	res, err := f.bulk.Process(ctx, BulkApprove, []string{"1", "2", "3", "4", "5", "5", "1"}, approver("a1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Failed)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "", "a", "b", "c", "a"}))
	assert.Empty(t, dedupe(nil))
}
