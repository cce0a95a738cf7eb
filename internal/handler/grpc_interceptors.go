package handler

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/atis-edu/be-survey-approvals/internal/logger"
	"github.com/atis-edu/be-survey-approvals/internal/middleware"
)

// UnaryIdentity reads the gateway identity from incoming metadata, using the
// same keys as the HTTP headers.
func UnaryIdentity() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		h := http.Header{}
		for _, key := range []string{
			middleware.UserIDHeader,
			middleware.UserRolesHeader,
			middleware.UserInstitutionHeader,
			middleware.UserScopeHeader,
		} {
			if v := md.Get(key); len(v) > 0 {
				h.Set(key, v[0])
			}
		}
		if a := middleware.ApproverFromHeaders(h); a != nil {
			ctx = middleware.WithApprover(ctx, a)
		}
		return handler(ctx, req)
	}
}

// UnaryLogging logs every call with its outcome.
func UnaryLogging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		ev := log.Info()
		if code == codes.Internal || code == codes.Unknown {
			ev = log.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// UnaryRecovery converts a handler panic into codes.Internal.
func UnaryRecovery(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from panic")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
