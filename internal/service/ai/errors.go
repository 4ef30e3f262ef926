package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure so the engine can pick a retry
// strategy.
type ErrorKind string

const (
	KindOverloaded        ErrorKind = "overloaded"
	KindRateLimited       ErrorKind = "rate_limited"
	KindMaxTokens         ErrorKind = "max_tokens"
	KindProhibitedContent ErrorKind = "prohibited_content"
	KindNoContent         ErrorKind = "no_content"
	KindNetworkTimeout    ErrorKind = "network_timeout"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindOther             ErrorKind = "other"
)

// ProviderError is the structured failure every adapter surfaces.
type ProviderError struct {
	Kind       ErrorKind
	Retryable  bool
	StatusCode int
	Provider   string
	Message    string
	Logged     bool // set once the engine has reported it
	cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// NewProviderError builds a classified error preserving the original cause.
func NewProviderError(provider string, kind ErrorKind, statusCode int, cause error) *ProviderError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ProviderError{
		Kind:       kind,
		Retryable:  kind == KindOverloaded || kind == KindRateLimited || kind == KindNetworkTimeout,
		StatusCode: statusCode,
		Provider:   provider,
		Message:    msg,
		cause:      cause,
	}
}

// MultiProviderError carries both causes when primary and fallback fail.
type MultiProviderError struct {
	Primary  error
	Fallback error
}

func (e *MultiProviderError) Error() string {
	return fmt.Sprintf("all providers failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *MultiProviderError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the classification of err, defaulting to Other.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return KindOther
}

// IsRetryable reports whether err is worth handing to a fallback provider.
func IsRetryable(err error) bool {
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable
	}
	return false
}

// Classify maps a raw SDK error to an ErrorKind using the HTTP status and
// well-known message substrings. Providers report safety blocks and token
// exhaustion in the body rather than the status line, so both are checked.
func Classify(statusCode int, err error) ErrorKind {
	msg := ""
	if err != nil {
		msg = strings.ToUpper(err.Error())
	}

	switch {
	case strings.Contains(msg, "PROHIBITED_CONTENT"),
		strings.Contains(msg, "SAFETY"),
		strings.Contains(msg, "BLOCKED"):
		return KindProhibitedContent
	case strings.Contains(msg, "MAX_TOKENS"),
		strings.Contains(msg, "LENGTH LIMIT"),
		strings.Contains(msg, "FINISH_REASON: LENGTH"):
		return KindMaxTokens
	case statusCode == 429, strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(msg, "RATE LIMIT"):
		return KindRateLimited
	case statusCode == 503, statusCode == 529, strings.Contains(msg, "OVERLOADED"), strings.Contains(msg, "UNAVAILABLE"):
		return KindOverloaded
	case strings.Contains(msg, "TIMEOUT"), strings.Contains(msg, "DEADLINE"), strings.Contains(msg, "CONNECTION RESET"):
		return KindNetworkTimeout
	default:
		return KindOther
	}
}
