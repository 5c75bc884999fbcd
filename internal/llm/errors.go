package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors from LLM calls and the surrounding
// machinery so callers can pick a recovery policy without string matching.
type ErrorCategory int

const (
	// CategoryUnknown represents an unknown or uncategorized error
	CategoryUnknown ErrorCategory = iota
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth
	// CategoryRateLimit represents rate limiting or quota errors
	CategoryRateLimit
	// CategoryTimeout represents request timeout errors
	CategoryTimeout
	// CategoryNetwork represents network connectivity errors
	CategoryNetwork
	// CategoryServer represents provider 5xx errors
	CategoryServer
	// CategoryInvalidResponse represents unparseable or malformed responses
	CategoryInvalidResponse
	// CategoryCircuitOpen represents calls rejected by an open circuit breaker
	CategoryCircuitOpen
	// CategoryCancelled represents cancelled context errors
	CategoryCancelled
	// CategoryStorage represents job store failures
	CategoryStorage
	// CategoryParse represents QA criterion response parse failures
	CategoryParse
)

// String returns a string representation of the ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case CategoryAuth:
		return "Auth"
	case CategoryRateLimit:
		return "RateLimit"
	case CategoryTimeout:
		return "Timeout"
	case CategoryNetwork:
		return "Network"
	case CategoryServer:
		return "Server"
	case CategoryInvalidResponse:
		return "InvalidResponse"
	case CategoryCircuitOpen:
		return "CircuitOpen"
	case CategoryCancelled:
		return "Cancelled"
	case CategoryStorage:
		return "Storage"
	case CategoryParse:
		return "Parse"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the dispatcher's retry loop should attempt the
// call again. Auth failures and deterministic parse failures never are.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryServer:
		return true
	default:
		return false
	}
}

// CategorizedError extends error with a category for policy decisions
type CategorizedError interface {
	error
	Category() ErrorCategory
}

// LLMError is the concrete categorized error produced by provider clients
// and the dispatcher. It preserves the raw response body (when one exists)
// for the audit trail.
type LLMError struct {
	Provider      string
	Message       string
	StatusCode    int
	RawBody       string
	Suggestion    string
	ErrorCategory ErrorCategory
	Original      error
}

// Error implements the error interface
func (e *LLMError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As chains
func (e *LLMError) Unwrap() error { return e.Original }

// Category implements CategorizedError
func (e *LLMError) Category() ErrorCategory { return e.ErrorCategory }

// New creates a categorized error without an underlying cause
func New(provider string, category ErrorCategory, message string) *LLMError {
	return &LLMError{Provider: provider, Message: message, ErrorCategory: category}
}

// Wrap attaches provider, message, and category to an underlying error.
// A nil err returns nil.
func Wrap(err error, provider, message string, category ErrorCategory) *LLMError {
	if err == nil {
		return nil
	}
	return &LLMError{
		Provider:      provider,
		Message:       message,
		ErrorCategory: category,
		Original:      err,
	}
}

// CategoryOf extracts the category from an error chain, or CategoryUnknown
func CategoryOf(err error) ErrorCategory {
	var cerr CategorizedError
	if errors.As(err, &cerr) {
		return cerr.Category()
	}
	return CategoryUnknown
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return CategoryOf(err) == category
}

// DetectErrorCategory infers a category from an HTTP status and, failing
// that, from well-known substrings in the error text. Provider SDKs do not
// share an error type, so string sniffing is the lowest common denominator.
func DetectErrorCategory(err error, statusCode int) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	if cat := CategoryFromStatusCode(statusCode); cat != CategoryUnknown {
		return cat
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") || strings.Contains(msg, "too many requests"):
		return CategoryRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "permission"):
		return CategoryAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "refused"):
		return CategoryNetwork
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "server error") ||
		strings.Contains(msg, "internal error") || strings.Contains(msg, "overloaded"):
		return CategoryServer
	}
	return CategoryUnknown
}

// CategoryFromStatusCode maps an HTTP status to an error category
func CategoryFromStatusCode(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimit
	case status == 408:
		return CategoryTimeout
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}
