package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrExternalService is returned when a provider call fails permanently or
// after the retry policy is exhausted.
var ErrExternalService = errors.New("external service failure")

// ProviderError wraps a failed provider call with enough detail for the
// resilience layer to decide whether a retry is worthwhile.
type ProviderError struct {
	Provider   string // "ollama", "openai", ...
	StatusCode int    // HTTP status, 0 for transport-level failures
	Transient  bool   // true for timeouts, connection errors and 5xx responses
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// transportError classifies a transport-level failure (no HTTP response).
// Context cancellation is not transient: the caller gave up.
func transportError(provider string, err error) *ProviderError {
	transient := true
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	return &ProviderError{Provider: provider, Transient: transient, Err: err}
}

// statusError classifies an HTTP error response. 5xx and 429 are transient;
// other 4xx-class failures are permanent and must not be retried.
func statusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Transient:  status >= 500 || status == 429,
		Err:        errors.New(body),
	}
}

// IsTransient reports whether err represents a failure worth retrying:
// a transient provider error, a network timeout, or a deadline expiry.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
