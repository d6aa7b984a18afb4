// Package apperr defines the error taxonomy shared by the provider adapters,
// the coordinator and the HTTP surface.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Kind classifies an Error.
type Kind string

const (
	// KindConfiguration means no usable credential or setting; never retried.
	KindConfiguration Kind = "configuration_error"
	// KindCancelled is a user- or system-initiated abort.
	KindCancelled Kind = "cancelled"
	// KindInvalidCredential is an upstream 401.
	KindInvalidCredential Kind = "invalid_credential"
	// KindRateLimit is an upstream 429 or a local limiter refusal.
	KindRateLimit Kind = "rate_limit_error"
	// KindTransient is an upstream 5xx.
	KindTransient Kind = "transient_service_error"
	// KindRetryLater is a 503 or a "model loading" response.
	KindRetryLater Kind = "retry_later"
	// KindContentPolicy is a local prompt rejection; nothing was sent upstream.
	KindContentPolicy Kind = "content_policy_error"
	// KindStorage is a persistence read/write failure.
	KindStorage Kind = "storage_error"
	// KindProvider covers every other upstream failure.
	KindProvider Kind = "provider_error"
)

// Error is the base error type for kidcode failures.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	StatusCode int
	// Body is the raw upstream response body, kept for diagnostics only.
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil && msg == "" {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the HTTP surface answers with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499
	case KindInvalidCredential:
		return http.StatusBadGateway
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusBadGateway
	case KindRetryLater:
		return http.StatusServiceUnavailable
	case KindContentPolicy:
		return http.StatusUnprocessableEntity
	case KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Configuration creates a configuration error.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Cancelled creates a cancellation error wrapping the context cause.
func Cancelled(provider string, err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Message: "generation cancelled", Provider: provider, Err: err}
}

// ContentPolicy creates a local content rejection.
func ContentPolicy(reason string) *Error {
	return &Error{Kind: KindContentPolicy, Message: reason}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// RateLimit creates a rate limit error with an optional retry hint.
func RateLimit(provider string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    "rate limit exceeded, please wait a moment and try again",
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// FromStatus maps an upstream HTTP failure onto the taxonomy.
func FromStatus(provider string, status int, body string, retryAfter time.Duration) *Error {
	e := &Error{Provider: provider, StatusCode: status, Body: body}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindInvalidCredential
		e.Message = "invalid API key, please check your " + provider + " credential"
	case status == http.StatusTooManyRequests:
		e = RateLimit(provider, retryAfter)
		e.Body = body
	case status == http.StatusServiceUnavailable || (status == http.StatusBadRequest && strings.Contains(body, "loading")):
		e.Kind = KindRetryLater
		e.Message = "model is currently loading, please try again in a few moments"
	case status >= 500:
		e.Kind = KindTransient
		e.Message = "model service error, please try again later"
	default:
		e.Kind = KindProvider
		e.Message = fmt.Sprintf("request failed with status %d", status)
	}
	return e
}

// Wrap attaches a human-readable message to an arbitrary upstream failure.
// context.Canceled is reported as KindCancelled. Deadlines and network
// timeouts are upstream failures and come back as KindTransient.
func Wrap(provider, message string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if isTimeout(err) {
		return &Error{
			Kind:     KindTransient,
			Message:  "the AI service took too long to answer, please try again",
			Provider: provider,
			Err:      err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(provider, err)
	}
	return &Error{Kind: KindProvider, Message: message + ": " + err.Error(), Provider: provider, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsCancelled reports whether err is a cancellation, either typed or a bare
// context error.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsRateLimit reports whether err is a rate limit error.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsContentPolicy reports whether err is a local content rejection.
func IsContentPolicy(err error) bool { return KindOf(err) == KindContentPolicy }

// IsRetryable reports whether a human retry is likely to succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransient, KindRetryLater:
		return true
	}
	return false
}
