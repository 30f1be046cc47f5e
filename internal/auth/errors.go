package auth

import (
	"context"
	"errors"

	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNetwork            = errors.New("auth network error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserCancelled      = errors.New("sign-in cancelled")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnknown            = errors.New("unknown auth error")
)

// mapAuthError flattens a Firebase Auth failure onto the closed sign-in
// taxonomy. Caller cancellation maps to ErrUserCancelled so an abandoned
// sign-in is distinguishable from a rejected one.
func mapAuthError(err error) error {
	if err == nil {
		return nil
	}

	// Already on the taxonomy: pass through unchanged.
	switch {
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserCancelled),
		errors.Is(err, ErrUnauthorized):
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrUserCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNetwork
	case fbauth.IsIDTokenExpired(err), fbauth.IsIDTokenInvalid(err):
		return ErrInvalidCredentials
	case fbauth.IsIDTokenRevoked(err), fbauth.IsUserDisabled(err):
		return ErrUnauthorized
	case fbauth.IsUserNotFound(err):
		return ErrUnauthorized
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrNetwork
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	default:
		return ErrUnknown
	}
}
