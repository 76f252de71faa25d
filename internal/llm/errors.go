package llm

import (
	"context"
	"errors"
)

// Error code constants. Providers map their native errors to one of these.
const (
	ErrCodeRateLimit      = "rate_limit_exceeded"
	ErrCodeQuota          = "insufficient_quota"
	ErrCodeOverloaded     = "overloaded"
	ErrCodeAuthentication = "invalid_api_key"
	ErrCodeCanceled       = "canceled"
	ErrCodeServerError    = "server_error"
)

// ProviderError is a categorized failure from an LLM provider.
type ProviderError struct {
	Code    string // One of the ErrCode* constants.
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a typed provider error.
func NewProviderError(code, message string, err error) *ProviderError {
	return &ProviderError{Code: code, Message: message, Err: err}
}

// IsRateLimited reports whether the provider throttled the request.
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimit)
}

// IsQuotaExhausted reports whether the provider refused for lack of quota
// or capacity.
func IsQuotaExhausted(err error) bool {
	return hasCode(err, ErrCodeQuota) || hasCode(err, ErrCodeOverloaded)
}

// IsUnauthenticated reports whether the credentials were rejected.
func IsUnauthenticated(err error) bool {
	return hasCode(err, ErrCodeAuthentication)
}

// IsCanceled reports whether the request was canceled or timed out.
func IsCanceled(err error) bool {
	return hasCode(err, ErrCodeCanceled) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func hasCode(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(ErrCodeCanceled, "request canceled", err)
	}
	return nil
}
