package dataqual

import (
	"errors"
	"fmt"
)

// ErrStaleResponse marks a response that arrived after its request was
// superseded. It is an expected race-resolution outcome and is never
// surfaced to the user.
var ErrStaleResponse = errors.New("stale response superseded")

// ValidationError rejects client-side input before any request is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// TransportError reports a failed request: network failure, timeout, a
// non-2xx response, or a malformed payload. StatusCode is zero when no
// HTTP response was received.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: %s %s: %s (status %d)", e.Method, e.Path, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s %s: %s", e.Method, e.Path, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PollingFailedError aborts a job watch after repeated transport failures.
type PollingFailedError struct {
	JobID    int64
	Failures int
	Last     error
}

func (e *PollingFailedError) Error() string {
	return fmt.Sprintf("polling failed for job %d after %d consecutive failures: %v", e.JobID, e.Failures, e.Last)
}

func (e *PollingFailedError) Unwrap() error {
	return e.Last
}
