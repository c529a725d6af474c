package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a provider failure.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error is a structured provider error with classification. The Retryable
// flag drives worker backoff via the retry.RetryableError interface.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured provider error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes an error for consistent retry handling.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	statusCode := 0
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key"):
		llmErr = NewError(ErrorTypeAuth, "authentication failed", false, err)

	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")):
		llmErr = NewError(ErrorTypeModel, "model not found", false, err)

	case strings.Contains(errStr, "404"):
		llmErr = NewError(ErrorTypeEndpoint, "endpoint not found", false, err)

	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		llmErr = NewError(ErrorTypeEndpoint, "connection failed", true, err)

	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		llmErr = NewError(ErrorTypeEndpoint, "request timeout", true, err)

	case strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit"):
		llmErr = NewError(ErrorTypeUnknown, "rate limited", true, err)

	case statusCode >= 500:
		llmErr = NewError(ErrorTypeEndpoint, "server error", true, err)

	default:
		llmErr = NewError(ErrorTypeUnknown, "provider error", false, err)
	}

	llmErr.StatusCode = statusCode
	return llmErr
}

// IsRetryable reports whether an error is transient. Exposed for callers
// that hold plain errors rather than *Error values.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}
