// ABOUTME: Error taxonomy for Direct Line transport failures
// ABOUTME: Sentinels classify failures; StatusError carries the remote status and body

package directline

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured means no endpoint credential is available.
	ErrNotConfigured = errors.New("directline: not configured")

	// ErrTransportUnavailable covers network failures and non-2xx responses
	// when creating a conversation or fetching activities.
	ErrTransportUnavailable = errors.New("directline: transport unavailable")

	// ErrTransportRejected means the remote refused a posted activity.
	ErrTransportRejected = errors.New("directline: activity rejected")

	// ErrNoActiveSession means an operation needed a conversation that does not exist.
	ErrNoActiveSession = errors.New("directline: no active session")
)

// StatusError is returned when the remote answers with a non-2xx status.
// It unwraps to ErrTransportUnavailable or ErrTransportRejected.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string

	kind error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s: status %d", e.kind, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: status %d: %s", e.kind, e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// Retryable reports whether the caller may retry the failed operation.
// Transport outages and throttling are retryable; client errors are not.
func Retryable(err error) bool {
	if !errors.Is(err, ErrTransportUnavailable) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return se.StatusCode >= 500
	}
	return true
}
