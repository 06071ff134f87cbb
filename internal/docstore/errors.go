package docstore

import (
	"errors"
	"net/http"
)

// The closed error taxonomy surfaced to callers. Transport details never
// leak past this package; callers match with errors.Is.
var (
	ErrNotFound         = errors.New("docstore: not found")
	ErrPermissionDenied = errors.New("docstore: permission denied")
	ErrConflict         = errors.New("docstore: conflict")
	ErrUnauthenticated  = errors.New("docstore: unauthenticated")
	ErrUnavailable      = errors.New("docstore: unavailable")
	ErrUnknown          = errors.New("docstore: unknown error")

	// ErrMissingMask rejects an update sent without an explicit field mask.
	ErrMissingMask = errors.New("docstore: update requires a field mask")
)

// FromStatusCode maps an HTTP response code onto the taxonomy.
func FromStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrPermissionDenied
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusUnauthorized:
		return ErrUnauthenticated
	case code == http.StatusTooManyRequests, code >= 500:
		return ErrUnavailable
	default:
		return ErrUnknown
	}
}

// ErrorCode names an error for metrics labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMissingMask):
		return "missing_mask"
	default:
		return "unknown"
	}
}
