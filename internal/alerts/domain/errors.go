package domain

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyKnocked   = errors.New("alert already knocked")
	ErrNotFound         = errors.New("alert not found")
	ErrNetwork          = errors.New("network unavailable")
	ErrUnknown          = errors.New("unknown alert error")

	ErrEmptyContent     = errors.New("alert content is empty")
	ErrTargetTimeInPast = errors.New("target time must be in the future")
)

// ErrorKind flattens an alert-operation error onto the closed taxonomy name
// used in user-facing notices. Unrecognized errors report as "unknown".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrAlreadyKnocked):
		return "already_knocked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrTargetTimeInPast):
		return "invalid_target_time"
	default:
		return "unknown"
	}
}
