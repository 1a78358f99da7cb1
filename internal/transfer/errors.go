package transfer

import (
	"fmt"
	"time"
)

// RemoteRejectedError is returned when the upstream repository answers with a
// non-success status. The response body is never consumed.
type RemoteRejectedError struct {
	URL        string // Resolved download location
	StatusCode int    // HTTP status returned by the repository
	Status     string // Status line as sent by the repository
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("repository rejected download of %s (HTTP %d)", e.URL, e.StatusCode)
}

// TimeoutError is returned when the transfer does not finish within the
// engine's deadline.
type TimeoutError struct {
	URL   string        // Resolved download location
	After time.Duration // Configured deadline
	Err   error         // Underlying error, if any
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download of %s timed out after %s", e.URL, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IOFaultError represents connection failures while talking to the
// repository and local filesystem failures while storing the stream.
type IOFaultError struct {
	Operation string // The step that failed (e.g., "request", "read", "write", "rename")
	URL       string // Resolved download location
	Err       error  // Underlying error
}

func (e *IOFaultError) Error() string {
	return fmt.Sprintf("i/o fault during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *IOFaultError) Unwrap() error {
	return e.Err
}
