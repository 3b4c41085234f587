package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
)

// authenticate extracts and verifies the bearer token from the
// `authorization` metadata entry.
func authenticate(ctx context.Context, verifier *keystore.Verifier) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing request metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := strings.TrimSpace(strings.TrimPrefix(values[0], "Bearer "))
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "empty bearer token")
	}

	principal, err := verifier.Verify(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return auth.WithPrincipal(ctx, principal), nil
}

// UnaryAuthInterceptor verifies the caller before every unary RPC.
func UnaryAuthInterceptor(verifier *keystore.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authed, err := authenticate(ctx, verifier)
		if err != nil {
			return nil, err
		}
		return handler(authed, req)
	}
}

// StreamAuthInterceptor verifies the caller before every streaming RPC.
func StreamAuthInterceptor(verifier *keystore.Verifier) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authed, err := authenticate(ss.Context(), verifier)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: authed})
	}
}

// authedStream carries the principal-bearing context.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }
