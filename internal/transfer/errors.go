package transfer

import (
	"errors"
	"fmt"
	"net"
)

// TransferError is a network or HTTP failure on one unit. It is transient:
// the retry controller keeps retrying it until the unit's budget runs out.
type TransferError struct {
	URL        string
	StatusCode int // 0 when the failure happened below HTTP
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer failed for %s: unexpected status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transfer failed for %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// InvariantViolation signals a protocol or logic mismatch rather than
// transient unavailability, e.g. a server answering 200 to a ranged request.
// It is terminal immediately and never retried.
type InvariantViolation struct {
	URL    string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.URL, e.Reason)
}

// FilesystemError is a local failure creating or writing the destination.
// It is terminal for the whole target and surfaced immediately.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error for %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// isTimeout classifies a failure for backoff base selection.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
