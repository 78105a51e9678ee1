package llm

import (
	"errors"
	"strings"
)

// Placeholders are the stable user-facing strings returned instead of
// model output when a request fails.
const (
	PlaceholderRateLimited  = "AI is taking a short break. Please try again in a moment."
	PlaceholderUnauthorized = "AI service is temporarily unavailable."
	PlaceholderFailed       = "Could not analyze this content right now."
	PlaceholderEmpty        = "AI couldn't generate a response. Try again."
	PlaceholderNetwork      = "Connection issue. Please check your network."
	PlaceholderUnavailable  = "Analysis unavailable at the moment."
	PlaceholderMissingKey   = "Error: API key is missing. Set LLM_API_KEY or GEMINI_API_KEY."
)

var placeholders = []string{
	PlaceholderRateLimited,
	PlaceholderUnauthorized,
	PlaceholderFailed,
	PlaceholderEmpty,
	PlaceholderNetwork,
	PlaceholderUnavailable,
	PlaceholderMissingKey,
}

// IsPlaceholder reports whether text is one of the failure placeholders
// rather than model output.
func IsPlaceholder(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range placeholders {
		if text == p {
			return true
		}
	}
	return false
}

// category ranks failures; Ask reports the highest rank seen.
type category int

const (
	catNone category = iota
	catGeneric
	catUnauthorized
	catRateLimited
)

func (c category) String() string {
	switch c {
	case catGeneric:
		return "generic"
	case catUnauthorized:
		return "unauthorized"
	case catRateLimited:
		return "rate_limited"
	}
	return "none"
}

func classify(err error) category {
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.RateLimited(), errors.Is(err, ErrRetriesExhausted):
		return catRateLimited
	case errors.Is(err, ErrUnauthorized):
		return catUnauthorized
	}
	return catGeneric
}

// PlaceholderFor maps an LLM error to its placeholder string.
func PlaceholderFor(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return PlaceholderMissingKey
	case errors.Is(err, ErrRetriesExhausted), errors.As(err, &se) && se.RateLimited():
		return PlaceholderRateLimited
	case errors.Is(err, ErrUnauthorized):
		return PlaceholderUnauthorized
	case errors.Is(err, ErrMalformedResponse):
		return PlaceholderEmpty
	case errors.Is(err, ErrTransport):
		return PlaceholderNetwork
	case se != nil:
		return PlaceholderFailed
	}
	return PlaceholderUnavailable
}
