package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atis-edu/be-survey-approvals/internal/errors"
	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/middleware"
	"github.com/atis-edu/be-survey-approvals/internal/repository"
	"github.com/atis-edu/be-survey-approvals/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "atis.approvals.v1.ApprovalService"

// GRPCHandler implements the ApprovalService gRPC interface. Messages are
// google.protobuf.Struct documents with the same fields as the HTTP bodies.
type GRPCHandler struct {
	svc Services
	log *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc: svc,
		log: &logger.Logger{Logger: log.With().Str("handler", "grpc").Logger()},
	}
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, h)
}

type grpcMethod func(h *GRPCHandler, ctx context.Context, in *structpb.Struct) (any, error)

var methods = map[string]grpcMethod{
	"Approve":           (*GRPCHandler).approve,
	"Reject":            (*GRPCHandler).reject,
	"ReturnForRevision": (*GRPCHandler).returnForRevision,
	"Submit":            (*GRPCHandler).submit,
	"Resubmit":          (*GRPCHandler).resubmit,
	"BulkProcess":       (*GRPCHandler).bulk,
	"GetHistory":        (*GRPCHandler).history,
	"GetStats":          (*GRPCHandler).stats,
	"GetPending":        (*GRPCHandler).pending,
	"CanApprove":        (*GRPCHandler).canApprove,
}

var serviceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "atis/approvals/v1/approval_service.proto",
	}
	for name, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, m)})
	}
	return desc
}()

func unaryHandler(name string, m grpcMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(*GRPCHandler)
		call := func(ctx context.Context, req any) (any, error) {
			out, err := m(h, ctx, req.(*structpb.Struct))
			if err != nil {
				if errors.CodeOf(err) == errors.ErrCodeInternal {
					h.log.Error().Err(err).Str("method", name).Msg("gRPC call failed")
				}
				return nil, toStatus(err)
			}
			return toStruct(out)
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, in, info, call)
	}
}

// ── Actions ───────────────────────────────────────────────────────────────────

func (h *GRPCHandler) act(
	ctx context.Context,
	in *structpb.Struct,
	run func(ctx context.Context, responseID string, a *repository.Approver, in service.ActionInput) (*service.ActionResult, error),
) (any, error) {
	approver, err := requireApprover(ctx)
	if err != nil {
		return nil, err
	}
	var req actionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.ResponseID == "" {
		return nil, errors.InvalidInput("response_id", "response_id is required")
	}
	return run(ctx, req.ResponseID, approver, service.ActionInput{Comments: req.Comments, Metadata: req.Metadata})
}

func (h *GRPCHandler) approve(ctx context.Context, in *structpb.Struct) (any, error) {
	return h.act(ctx, in, h.svc.Actions.Approve)
}

func (h *GRPCHandler) reject(ctx context.Context, in *structpb.Struct) (any, error) {
	return h.act(ctx, in, h.svc.Actions.Reject)
}

func (h *GRPCHandler) returnForRevision(ctx context.Context, in *structpb.Struct) (any, error) {
	return h.act(ctx, in, h.svc.Actions.ReturnForRevision)
}

// ── Submission ────────────────────────────────────────────────────────────────

func (h *GRPCHandler) submit(ctx context.Context, in *structpb.Struct) (any, error) {
	user, err := requireApprover(ctx)
	if err != nil {
		return nil, err
	}
	var req submitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	return h.svc.Submissions.Submit(ctx, req.ResponseID, user.ID, service.SubmitInput{Notes: req.Notes, Deadline: req.Deadline})
}

func (h *GRPCHandler) resubmit(ctx context.Context, in *structpb.Struct) (any, error) {
	user, err := requireApprover(ctx)
	if err != nil {
		return nil, err
	}
	var req submitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	return h.svc.Submissions.Resubmit(ctx, req.ResponseID, user.ID, req.Notes)
}

func (h *GRPCHandler) bulk(ctx context.Context, in *structpb.Struct) (any, error) {
	approver, err := requireApprover(ctx)
	if err != nil {
		return nil, err
	}
	var req bulkRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	return h.svc.Bulk.Process(ctx, req.Action, req.ResponseIDs, approver, req.Comments)
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (h *GRPCHandler) history(ctx context.Context, in *structpb.Struct) (any, error) {
	responseID := in.GetFields()["response_id"].GetStringValue()
	if responseID == "" {
		return nil, errors.InvalidInput("response_id", "response_id is required")
	}
	actions, err := h.svc.Queries.History(ctx, responseID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response_id": responseID, "actions": actions}, nil
}

func (h *GRPCHandler) stats(ctx context.Context, in *structpb.Struct) (any, error) {
	return h.svc.Queries.Stats(ctx, in.GetFields()["survey_id"].GetStringValue())
}

func (h *GRPCHandler) pending(ctx context.Context, in *structpb.Struct) (any, error) {
	surveyID := in.GetFields()["survey_id"].GetStringValue()
	limit := int(in.GetFields()["limit"].GetNumberValue())
	list, err := h.svc.Queries.Pending(ctx, surveyID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"survey_id": surveyID, "requests": list, "count": len(list)}, nil
}

func (h *GRPCHandler) canApprove(ctx context.Context, in *structpb.Struct) (any, error) {
	approver, err := requireApprover(ctx)
	if err != nil {
		return nil, err
	}
	responseID := in.GetFields()["response_id"].GetStringValue()
	if responseID == "" {
		return nil, errors.InvalidInput("response_id", "response_id is required")
	}
	return h.svc.Queries.CanApprove(ctx, responseID, approver)
}

// ── conversion ────────────────────────────────────────────────────────────────

func requireApprover(ctx context.Context) (*repository.Approver, error) {
	a := middleware.ApproverFromContext(ctx)
	if a == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing x-user-id metadata")
	}
	return a, nil
}

func fromStruct(in *structpb.Struct, dest any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request message")
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return errors.InvalidInput("body", "Invalid request message: "+err.Error())
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// grpcCodes maps error codes one-to-one so clients can recover them.
var grpcCodes = map[errors.Code]codes.Code{
	errors.ErrCodeNotFound:          codes.NotFound,
	errors.ErrCodeInvalidInput:      codes.InvalidArgument,
	errors.ErrCodeConflict:          codes.Aborted,
	errors.ErrCodeUnauthorized:      codes.Unauthenticated,
	errors.ErrCodeForbidden:         codes.PermissionDenied,
	errors.ErrCodeNoApprovalRequest: codes.FailedPrecondition,
	errors.ErrCodeInternal:          codes.Internal,
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr, ok := errors.From(err)
	if !ok || appErr.Code == errors.ErrCodeInternal {
		return status.Error(codes.Internal, "internal server error")
	}
	return status.Error(grpcCodes[appErr.Code], appErr.Message)
}
