package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// ErrorCategory classifies errors into the categories that determine how a
// stage failure is handled.
type ErrorCategory int

const (
	// Transient errors are temporary failures retried with exponential
	// backoff (network timeouts, rate limits, 5xx responses).
	Transient ErrorCategory = iota

	// Structural errors indicate malformed input. They fail the page or
	// batch that carried it but are not worth retrying.
	Structural

	// Fatal errors are non-recoverable: cancellation, bad credentials,
	// storage loss. The run fails immediately.
	Fatal
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Structural:
		return "structural"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// transientSubstrings are error message substrings that indicate a
// transient failure when the error is not already classified by a
// structured error type.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection refused",
	"connection reset",
	"rate limit",
	"server returned status 5",
	"service unavailable",
	"temporary",
	"deadline exceeded",
	"i/o timeout",
}

// structuralSubstrings indicate malformed input. Substrings are chosen to
// avoid false positives: "invalid_input"/"invalid request" instead of bare
// "invalid".
var structuralSubstrings = []string{
	"decoding response",
	"unexpected envelope",
	"bad request",
	"not found",
	"invalid_input",
	"invalid request",
	"validation",
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Context cancellation, always Fatal (the run was told to stop)
//  2. Domain sentinel errors
//  3. Error message substring matching (transient checked first: when in
//     doubt, a retry is safer than giving up)
//  4. Default: Transient
//
// Missing fields in source data are never classified here; data quality is
// not an error, it is flags on the record.
func Classify(err error) ErrorCategory {
	if err == nil {
		return Structural
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	if errors.Is(err, domain.ErrCancelled) {
		return Fatal
	}

	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrServiceUnavailable) {
		return Transient
	}
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrStorage) {
		return Fatal
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
		return Structural
	}

	msg := strings.ToLower(err.Error())

	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range structuralSubstrings {
		if strings.Contains(msg, sub) {
			return Structural
		}
	}

	return Transient
}
