package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
)

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}

	var authzErr *auth.AuthorizationError
	var authnErr *auth.AuthenticationError
	var validationErr *analytics.ValidationError
	switch {
	case errors.As(err, &authzErr):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &authnErr):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.As(err, &validationErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, tasks.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// invalidArgument wraps a request validation failure.
func invalidArgument(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}
