package transfer

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// TestRemoteRejectedError_Error verifies error message formatting
func TestRemoteRejectedError_Error(t *testing.T) {
	err := &RemoteRejectedError{
		URL:        "https://files.rcsb.org/download/1A0O.pdb",
		StatusCode: 404,
		Status:     "404 Not Found",
	}

	expected := "repository rejected download of https://files.rcsb.org/download/1A0O.pdb (HTTP 404)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestTimeoutError_Error verifies error message formatting
func TestTimeoutError_Error(t *testing.T) {
	err := &TimeoutError{
		URL:   "https://rest.uniprot.org/uniprotkb/P04637.fasta",
		After: 10 * time.Minute,
	}

	expected := "download of https://rest.uniprot.org/uniprotkb/P04637.fasta timed out after 10m0s"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestIOFaultError_Error verifies error message formatting
func TestIOFaultError_Error(t *testing.T) {
	err := &IOFaultError{
		Operation: "read",
		URL:       "https://example.org/x",
		Err:       io.ErrUnexpectedEOF,
	}

	expected := "i/o fault during read of https://example.org/x: unexpected EOF"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestTimeoutError_Unwrap verifies error chain traversal
func TestTimeoutError_Unwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &TimeoutError{URL: "u", After: time.Second, Err: cause}

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestIOFaultError_Unwrap verifies error chain traversal
func TestIOFaultError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &IOFaultError{Operation: "request", URL: "u", Err: cause}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestRemoteRejectedError_As verifies programmatic error type detection
func TestRemoteRejectedError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &RemoteRejectedError{URL: "u", StatusCode: 503})

	var target *RemoteRejectedError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract RemoteRejectedError from wrapped chain")
	}

	if target.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 503)
	}
}

// TestErrorTypes_Distinguishable verifies each fault kind is detected only as itself
func TestErrorTypes_Distinguishable(t *testing.T) {
	errs := []error{
		&RemoteRejectedError{URL: "u", StatusCode: 500},
		&TimeoutError{URL: "u", After: time.Second},
		&IOFaultError{Operation: "write", URL: "u", Err: io.ErrShortWrite},
	}

	for i, err := range errs {
		var rejected *RemoteRejectedError
		var timeout *TimeoutError
		var fault *IOFaultError

		got := []bool{errors.As(err, &rejected), errors.As(err, &timeout), errors.As(err, &fault)}
		for j, ok := range got {
			if ok != (i == j) {
				t.Errorf("error %d matched type %d = %v", i, j, ok)
			}
		}
	}
}
