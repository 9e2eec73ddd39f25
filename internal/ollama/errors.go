package ollama

import (
	"fmt"
	"strings"
)

// BackendUnavailableError reports a transport-level failure reaching the
// inference server: connection refused, DNS failure, timeout or a dropped
// connection while reading a reply.
type BackendUnavailableError struct {
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// BackendError reports that the inference server answered with a
// non-success status.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, body)
}
