package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider call failed, for retry
// decisions.
type FailoverReason string

const (
	FailoverRateLimit FailoverReason = "rate_limit"
	FailoverAuth      FailoverReason = "auth"
	FailoverTimeout   FailoverReason = "timeout"
	FailoverServer    FailoverReason = "server_error"
	FailoverInvalid   FailoverReason = "invalid_request"
	FailoverUnknown   FailoverReason = "unknown"
)

// Retryable reports whether the failure class is worth a linear-backoff
// retry.
func (r FailoverReason) Retryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServer:
		return true
	default:
		return false
	}
}

// ProviderError is returned on transport/HTTP faults talking to a
// provider. It satisfies ClassifiedError.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
	Reason   FailoverReason
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether this error's failure class is worth retrying.
func (e *ProviderError) Retryable() bool { return e.Reason.Retryable() }

// RateLimitError is returned when the provider signals throttling.
type RateLimitError struct {
	Provider   string
	RetryAfter int // seconds, 0 if the provider didn't specify
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %ds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error  { return e.Cause }
func (e *RateLimitError) Retryable() bool { return true }

// AuthError is returned on credential failure.
type AuthError struct {
	Provider string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed", e.Provider)
}

func (e *AuthError) Unwrap() error  { return e.Cause }
func (e *AuthError) Retryable() bool { return false }

// ClassifiedError is implemented by every error kind this package
// returns, so retry logic can treat them uniformly.
type ClassifiedError interface {
	error
	Retryable() bool
}

// NewProviderError wraps cause into a ProviderError, classifying it from
// its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus stamps an HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// ClassifyError inspects an error's text and returns its FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"), strings.Contains(s, "too many requests"):
		return FailoverRateLimit
	case strings.Contains(s, "unauthorized"), strings.Contains(s, "invalid api key"), strings.Contains(s, "401"), strings.Contains(s, "403"):
		return FailoverAuth
	case strings.Contains(s, "bad request"), strings.Contains(s, "400"):
		return FailoverInvalid
	case strings.Contains(s, "internal server"), strings.Contains(s, "502"), strings.Contains(s, "503"), strings.Contains(s, "504"):
		return FailoverServer
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalid
	case status >= 500:
		return FailoverServer
	default:
		return FailoverUnknown
	}
}

// IsRetryable reports whether err, of any of this package's error kinds
// or otherwise, should be retried.
func IsRetryable(err error) bool {
	var classified ClassifiedError
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return ClassifyError(err).Retryable()
}
