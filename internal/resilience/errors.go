package resilience

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (network timeouts,
// lock contention, interrupted reads).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as retriable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// PermanentError wraps an error that must never be retried (missing files,
// permission problems, full or read-only disks). Permanent errors fail fast
// but still count toward a breaker's failure threshold.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError marks an error as non-retriable.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// IsTransient reports whether an error is classified retriable. Explicit
// markers win; otherwise filesystem conditions that cannot resolve on their
// own (not-found, permission-denied, disk-full, read-only) are permanent,
// network timeouts and connection churn are transient, and anything
// unrecognized is treated as permanent so retries never mask a real bug.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	// A deadline on the attempt itself is transient; the next attempt may
	// complete in time.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Permanent filesystem conditions.
	if errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EROFS) {
		return false
	}

	// Interrupted or contended I/O.
	if errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) {
		return true
	}

	// Network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from drivers that do not
	// preserve the cause chain.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"temporary failure",
		"deadlock detected",
		"too many connections",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ClassifyError categorizes an error as "transient" or "permanent" for
// reporting.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
