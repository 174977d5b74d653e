package backend

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/happyhq/happy-acp/internal/audit"
	"github.com/happyhq/happy-acp/internal/metrics"
)

const (
	maxHandshakeAttempts = 3
	backoffBase          = 1 * time.Second
	backoffCap           = 5 * time.Second
)

// nonRetryableError wraps a spawn/environment failure that the handshake
// loop must surface immediately rather than retry: ENOENT, EACCES, EPIPE,
// or any error signaled out-of-band from the child's spawn/exit path.
type nonRetryableError struct {
	cause error
}

func (e *nonRetryableError) Error() string { return e.cause.Error() }
func (e *nonRetryableError) Unwrap() error { return e.cause }

func isNonRetryable(err error) bool {
	var nre *nonRetryableError
	if errors.As(err, &nre) {
		return true
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPIPE)
}

// backoffDelay returns the exponential backoff for handshake attempt n
// (1-indexed): 1s, 2s, 4s, clamped at 5s.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// withHandshakeRetry runs attempt up to maxHandshakeAttempts times with
// exponential backoff, stopping immediately on a non-retryable error.
func withHandshakeRetry(sessionID string, attempt func(n int) error) error {
	var lastErr error
	for n := 1; n <= maxHandshakeAttempts; n++ {
		err := attempt(n)
		audit.LogHandshakeAttempt(sessionID, n, err)
		if err == nil {
			metrics.RecordHandshakeAttempt("ok")
			return nil
		}
		lastErr = err
		if isNonRetryable(err) {
			metrics.RecordHandshakeAttempt("error")
			return err
		}
		metrics.RecordHandshakeAttempt("retry")
		if n < maxHandshakeAttempts {
			time.Sleep(backoffDelay(n))
		}
	}
	return lastErr
}
