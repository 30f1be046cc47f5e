package store

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

// mapError flattens a Firestore transport error onto the domain taxonomy so
// raw gRPC errors never reach the presentation layer.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrNetwork
	}

	switch status.Code(err) {
	case codes.NotFound:
		return domain.ErrNotFound
	case codes.PermissionDenied:
		return domain.ErrPermissionDenied
	case codes.Unauthenticated:
		return domain.ErrNotAuthenticated
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return domain.ErrNetwork
	default:
		return domain.ErrUnknown
	}
}
