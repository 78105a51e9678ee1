package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderUnavailable is matched by every failure that means the
	// provider could not produce an answer right now.
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	// ErrRetriesExhausted is returned when every attempt was rate limited.
	ErrRetriesExhausted = errors.New("llm retries exhausted")
	// ErrMalformedResponse means the envelope lacked the text field.
	ErrMalformedResponse = errors.New("llm response malformed")
	// ErrUnauthorized is matched by 401 and 403 status errors.
	ErrUnauthorized = errors.New("llm credentials rejected")
	// ErrMissingCredential means no API key was configured.
	ErrMissingCredential = errors.New("llm api key missing")
	// ErrTransport is matched by network failures before a status arrived.
	ErrTransport = errors.New("llm transport failure")
)

// StatusError is a non-2xx provider response. Body keeps the raw error text
// so the rate-limit hint can be read from it.
type StatusError struct {
	Backend    string
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Backend, e.Model, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrProviderUnavailable:
		return true
	}
	return false
}

// RateLimited reports whether the provider answered 429.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RetriesExhaustedError is returned by Complete after the last rate-limited
// attempt and its wait.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("llm: gave up after %d rate-limited attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted || target == ErrProviderUnavailable
}

// TransportError wraps a failure that happened before any status arrived.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || target == ErrProviderUnavailable
}

// IsProviderError reports whether err came from the completion provider
// rather than from the caller's input.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMalformedResponse)
}
