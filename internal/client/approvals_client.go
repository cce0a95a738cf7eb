package client

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
)

const approvalService = "/atis.approvals.v1.ApprovalService/"

// ApprovalsGRPCClient calls the survey approval gRPC service.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
// Extra options are appended after the defaults.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// Approve signs off a response at the caller's level.
func (c *ApprovalsGRPCClient) Approve(ctx context.Context, responseID string, comments *string) (*ActionResult, error) {
	return invoke[ActionResult](ctx, c, "Approve", actionBody(responseID, comments))
}

// Reject rejects a response.
func (c *ApprovalsGRPCClient) Reject(ctx context.Context, responseID string, comments *string) (*ActionResult, error) {
	return invoke[ActionResult](ctx, c, "Reject", actionBody(responseID, comments))
}

// ReturnForRevision sends a response back to its author.
func (c *ApprovalsGRPCClient) ReturnForRevision(ctx context.Context, responseID string, comments *string) (*ActionResult, error) {
	return invoke[ActionResult](ctx, c, "ReturnForRevision", actionBody(responseID, comments))
}

// Submit puts a draft response into the approval workflow.
func (c *ApprovalsGRPCClient) Submit(ctx context.Context, responseID string, notes *string) (*ApprovalRequest, error) {
	return invoke[ApprovalRequest](ctx, c, "Submit", map[string]any{"response_id": responseID, "notes": notes})
}

// Resubmit re-enters a response returned for revision.
func (c *ApprovalsGRPCClient) Resubmit(ctx context.Context, responseID string, notes *string) (*ApprovalRequest, error) {
	return invoke[ApprovalRequest](ctx, c, "Resubmit", map[string]any{"response_id": responseID, "notes": notes})
}

// BulkProcess applies action ("approve", "reject" or "return") to every response.
func (c *ApprovalsGRPCClient) BulkProcess(ctx context.Context, action string, responseIDs []string, comments *string) (*BulkResult, error) {
	return invoke[BulkResult](ctx, c, "BulkProcess", map[string]any{
		"action":       action,
		"response_ids": responseIDs,
		"comments":     comments,
	})
}

// GetHistory returns the audit trail of a response, newest first.
func (c *ApprovalsGRPCClient) GetHistory(ctx context.Context, responseID string) ([]AuditEntry, error) {
	var out struct {
		Actions []AuditEntry `json:"actions"`
	}
	if err := c.call(ctx, "GetHistory", map[string]any{"response_id": responseID}, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// GetStats returns the approval summary of a survey.
func (c *ApprovalsGRPCClient) GetStats(ctx context.Context, surveyID string) (*Stats, error) {
	return invoke[Stats](ctx, c, "GetStats", map[string]any{"survey_id": surveyID})
}

// GetPending returns open requests of a survey.
func (c *ApprovalsGRPCClient) GetPending(ctx context.Context, surveyID string, limit int) ([]ApprovalRequest, error) {
	var out struct {
		Requests []ApprovalRequest `json:"requests"`
	}
	if err := c.call(ctx, "GetPending", map[string]any{"survey_id": surveyID, "limit": limit}, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// CanApprove reports whether the caller may act on a response now.
func (c *ApprovalsGRPCClient) CanApprove(ctx context.Context, responseID string) (*Eligibility, error) {
	return invoke[Eligibility](ctx, c, "CanApprove", map[string]any{"response_id": responseID})
}

func invoke[T any](ctx context.Context, c *ApprovalsGRPCClient, method string, body map[string]any) (*T, error) {
	out := new(T)
	if err := c.call(ctx, method, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func actionBody(responseID string, comments *string) map[string]any {
	body := map[string]any{"response_id": responseID}
	if comments != nil {
		body["comments"] = *comments
	}
	return body
}

// call sends body as a Struct and decodes the reply into out.
func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to encode "+method+" request")
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, in); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to encode "+method+" request")
	}

	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, approvalService+method, in, reply); err != nil {
		return fromStatus(err)
	}

	raw, err = protojson.Marshal(reply)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode "+method+" reply")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode "+method+" reply")
	}
	return nil
}

var statusCodes = map[codes.Code]errors.Code{
	codes.NotFound:           errors.ErrCodeNotFound,
	codes.InvalidArgument:    errors.ErrCodeInvalidInput,
	codes.Aborted:            errors.ErrCodeConflict,
	codes.Unauthenticated:    errors.ErrCodeUnauthorized,
	codes.PermissionDenied:   errors.ErrCodeForbidden,
	codes.FailedPrecondition: errors.ErrCodeNoApprovalRequest,
}

// fromStatus restores the service error code carried by a gRPC status.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, errors.ErrCodeInternal, "approval service call failed")
	}
	code, ok := statusCodes[st.Code()]
	if !ok {
		return errors.Wrap(err, errors.ErrCodeInternal, "approval service call failed")
	}
	return errors.New(code, st.Message())
}
