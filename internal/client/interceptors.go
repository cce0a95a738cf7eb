package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata, including the gateway identity, to outgoing
// calls made while serving that request. Explicit outgoing values come first.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if out, ok := metadata.FromOutgoingContext(ctx); ok {
			md = metadata.Join(out, md)
		}
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// WithIdentity attaches id to outgoing calls made with ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	pairs := []string{"x-user-id", id.UserID}
	if len(id.Roles) > 0 {
		pairs = append(pairs, "x-user-roles", strings.Join(id.Roles, ","))
	}
	if id.InstitutionID != "" {
		pairs = append(pairs, "x-user-institution", id.InstitutionID)
	}
	if len(id.Scope) > 0 {
		pairs = append(pairs, "x-user-scope", strings.Join(id.Scope, ","))
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
