package watch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Sentinel errors returned by platform adapters. Classification is
// call-site-contextual: an ErrAuthDenied from a poll marks the monitor
// Degraded, while the same error from a marker-candidate probe is the
// success signal.
var (
	ErrAuthDenied       = errors.New("platform: authorization denied")
	ErrCommentsDisabled = errors.New("platform: comments disabled")
	ErrPlaylistMissing  = errors.New("platform: playlist does not exist")
	ErrNotFound         = errors.New("platform: resource not found")
)

// StatusError carries the HTTP status of a failed platform API call from
// adapters that speak plain HTTP rather than a generated client.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform: http %d: %s", e.StatusCode, e.Body)
}

func statusCode(err error) (int, bool) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var stErr *StatusError
	if errors.As(err, &stErr) {
		return stErr.StatusCode, true
	}
	return 0, false
}

// IsAuthDenied reports whether err is a 401/403-class authorization failure.
func IsAuthDenied(err error) bool {
	if errors.Is(err, ErrAuthDenied) {
		return true
	}
	code, ok := statusCode(err)
	return ok && (code == http.StatusForbidden || code == http.StatusUnauthorized)
}

// IsCommentsDisabled reports whether err means the video's comment thread is
// turned off.
func IsCommentsDisabled(err error) bool {
	return errors.Is(err, ErrCommentsDisabled)
}

// IsPlaylistMissing reports whether err means the playlist does not exist.
func IsPlaylistMissing(err error) bool {
	if errors.Is(err, ErrPlaylistMissing) {
		return true
	}
	code, ok := statusCode(err)
	return ok && code == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying within the same cycle:
// timeouts and server-side failures. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if code, ok := statusCode(err); ok {
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}
	return false
}
