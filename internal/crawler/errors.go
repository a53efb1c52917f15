package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across the engine.
var (
	// ErrLedgerCorrupted means the ledger backing store exists but cannot be
	// decoded. Callers must refuse to crawl.
	ErrLedgerCorrupted = errors.New("ledger store corrupted")
	// ErrRetriesExhausted wraps the last retryable failure once the retry
	// budget is spent. It is terminal.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrParse marks page content the parser could not turn into a record.
	ErrParse = errors.New("parse error")
	// ErrStorage marks a failed hand-off to a storage sink.
	ErrStorage = errors.New("storage error")
	// ErrNoSinks is returned when a sink fan-out has nothing to write to.
	ErrNoSinks = errors.New("no storage sinks configured")
)

// FailureKind classifies a failed network call.
type FailureKind string

// Failure kinds for FetchError.
const (
	FailureNetwork     FailureKind = "network"
	FailureTimeout     FailureKind = "timeout"
	FailureServerBusy  FailureKind = "server_busy"
	FailureClientError FailureKind = "client_error"
)

// FetchError describes a failed fetch attempt.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FailureNetwork, FailureTimeout, FailureServerBusy:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to a failure kind. The boolean is
// false for 2xx responses.
func ClassifyStatus(code int) (FailureKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusTooManyRequests || code >= 500:
		return FailureServerBusy, true
	default:
		// 401, 403, 404 and every other non-2xx answer is a definitive rejection.
		return FailureClientError, true
	}
}

// Outcome is the tagged view of a fetch result.
type Outcome string

// Fetch outcomes.
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeTerminalFailure  Outcome = "terminal_failure"
)

// IsRetryable reports whether err is a transient fetch failure that has not
// already exhausted its retry budget.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// OutcomeOf converts a fetch error into its Outcome tag.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsRetryable(err):
		return OutcomeRetryableFailure
	default:
		return OutcomeTerminalFailure
	}
}

// KindOf extracts the failure kind from err, or "" when err is not a FetchError.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
