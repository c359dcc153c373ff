package unifiedllm

import (
	"context"
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents a transport or API failure reported by a provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) retryable() bool { return e.Retryable }

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

// ConfigurationError means the system cannot run as configured: a missing
// credential, an unknown provider kind, or no provider registered at all.
type ConfigurationError struct{ SDKError }

func (e *ConfigurationError) retryable() bool { return false }

// NetworkError wraps a failure to reach the provider at all.
type NetworkError struct {
	SDKError
	Provider string
}

func (e *NetworkError) retryable() bool { return true }

// RequestTimeoutError is a provider-side or transport timeout.
type RequestTimeoutError struct{ SDKError }

func (e *RequestTimeoutError) retryable() bool { return true }

// AbortError is returned when a caller-side retry loop is cancelled.
type AbortError struct{ SDKError }

func (e *AbortError) retryable() bool { return false }

// ToolNotFoundError is produced when a model names a tool nobody registered.
// It never escapes the loop; it becomes a failed ToolResult.
type ToolNotFoundError struct {
	SDKError
	Name string
}

// ToolExecutionError wraps an error or panic raised by a tool.
// Like ToolNotFoundError it only ever surfaces inside a ToolResult.
type ToolExecutionError struct {
	SDKError
	Name string
}

func (e *ToolExecutionError) Error() string { return e.Message }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf(format, args...)}}
}

// NewToolNotFoundError reports an unknown tool name.
func NewToolNotFoundError(name string) *ToolNotFoundError {
	return &ToolNotFoundError{SDKError: SDKError{Message: "tool not found: " + name}, Name: name}
}

// NewToolExecutionError wraps a tool failure.
func NewToolExecutionError(name string, cause error) *ToolExecutionError {
	return &ToolExecutionError{SDKError: SDKError{Message: cause.Error(), Cause: cause}, Name: name}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
// 408, 429 and 5xx are retryable; every other 4xx is fatal.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64, cause error) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message, Cause: cause}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	}

	switch {
	case statusCode >= 500:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case statusCode >= 400:
		return &pe
	default:
		// No usable status; the request may not have been processed.
		pe.Retryable = true
		return &pe
	}
}

type retryableError interface {
	error
	retryable() bool
}

// IsRetryable reports whether err is safe to retry. It looks through wrapped
// errors; cancellation is never retryable and unclassified errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.retryable()
	}
	return true
}
