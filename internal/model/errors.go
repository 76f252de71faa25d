package model

import (
	"errors"
	"net/http"
	"time"
)

// ErrorKind classifies a failed turn by the recovery it calls for.
type ErrorKind string

const (
	// KindMalformedRequest means the relay could not parse the request body.
	KindMalformedRequest ErrorKind = "malformed_request"
	// KindValidation is client-correctable input.
	KindValidation ErrorKind = "validation_error"
	// KindRateLimited means retry later; an advisory delay is provided.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServiceUnavailable means provider capacity or quota is exhausted.
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindConfiguration is operator-fixable and never retryable by the caller.
	KindConfiguration ErrorKind = "configuration_error"
	// KindServerError is any other provider or relay failure.
	KindServerError ErrorKind = "server_error"
	// KindTransmission is a transient network or stream fault.
	KindTransmission ErrorKind = "transmission_error"
	// KindEmptyResponse means the model produced nothing.
	KindEmptyResponse ErrorKind = "empty_response"
)

// ErrorKindHeader carries the ErrorKind on relay error responses.
const ErrorKindHeader = "X-Error-Kind"

// RetryAfter is the advisory delay attached to rate-limited responses.
const RetryAfter = 60 * time.Second

// Status returns the HTTP status the relay answers with for k.
func (k ErrorKind) Status() int {
	switch k {
	case KindMalformedRequest, KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether resubmitting the same content may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServiceUnavailable, KindServerError, KindTransmission, KindEmptyResponse:
		return true
	}
	return false
}

// KindFromResponse maps a non-success relay response to an ErrorKind. The
// kind header wins when the relay set one.
func KindFromResponse(status int, kindHeader string) ErrorKind {
	if kindHeader != "" {
		switch k := ErrorKind(kindHeader); k {
		case KindMalformedRequest, KindValidation, KindRateLimited, KindServiceUnavailable,
			KindConfiguration, KindServerError, KindTransmission, KindEmptyResponse:
			return k
		}
	}

	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusServiceUnavailable:
		return KindServiceUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindConfiguration
	case status >= 500:
		return KindServerError
	default:
		return KindTransmission
	}
}

// Error is a turn-scoped failure with a human-readable message.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the UI should offer a one-click retry.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf returns the ErrorKind carried by err, or KindServerError.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServerError
}
