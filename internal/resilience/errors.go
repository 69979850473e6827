package resilience

import (
	"errors"
	"net"
	"net/http"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). RateLimited is set when the upstream explicitly throttled the
// caller, so callers never have to inspect message text.
type TransientError struct {
	Err         error
	StatusCode  int
	Source      string
	RateLimited bool
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{
		Err:         err,
		StatusCode:  statusCode,
		RateLimited: statusCode == http.StatusTooManyRequests,
	}
}

// MalformedError marks a response that could not be parsed into the expected
// shape. It is never retried.
type MalformedError struct {
	Err    error
	Source string
}

func (e *MalformedError) Error() string {
	return e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// NewMalformedError wraps err as a malformed response from source.
func NewMalformedError(source string, err error) *MalformedError {
	return &MalformedError{Err: err, Source: source}
}

// AuthError marks invalid or revoked credentials. It is fatal to a job.
type AuthError struct {
	Err        error
	Source     string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError wraps err as a credential failure from source.
func NewAuthError(source string, err error, statusCode int) *AuthError {
	return &AuthError{Err: err, Source: source, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or a network-level timeout, reset or refusal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

// IsRateLimited reports whether the chain carries a TransientError flagged
// as an upstream throttle.
func IsRateLimited(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.RateLimited
}

// IsMalformed reports whether the chain carries a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// IsAuth reports whether the chain carries an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsAuthHTTPStatus returns true for credential rejections.
func IsAuthHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// ClassifyHTTP maps a non-2xx status from source into the error taxonomy.
// It returns nil for 2xx codes.
func ClassifyHTTP(source string, statusCode int, err error) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case IsAuthHTTPStatus(statusCode):
		return NewAuthError(source, err, statusCode)
	case IsTransientHTTPStatus(statusCode):
		te := NewTransientError(err, statusCode)
		te.Source = source
		return te
	default:
		return err
	}
}
