package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// AuthInterceptor verifies the bearer token in the "authorization" metadata
// and stores the caller's identity in the context. Health checks pass
// through unauthenticated.
func AuthInterceptor(v *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		if v == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		token, err := auth.BearerToken(authorization(ctx))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		id, err := v.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithIdentity(ctx, id), req)
	}
}

func authorization(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func subject(ctx context.Context) string {
	id, _ := auth.FromContext(ctx)
	return id.Subject
}
