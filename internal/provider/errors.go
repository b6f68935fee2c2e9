// SPDX-License-Identifier: MIT

package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/stackworks/agentmux/internal/types"
)

// ErrorKind is the unified cross-vendor error taxonomy.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindModelNotFound  ErrorKind = "model_not_found"
	KindContextLength  ErrorKind = "context_length"
	KindContentFilter  ErrorKind = "content_filter"
	KindServer         ErrorKind = "server"
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindUnknown        ErrorKind = "unknown"
)

// Error is the unified provider error. Concrete providers translate vendor
// responses into this form; callers branch on Kind.
type Error struct {
	Kind       ErrorKind
	Provider   types.ProviderID
	Message    string
	StatusCode int

	// RetryAfter, when non-zero, is the vendor-suggested wait before the
	// next attempt.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error kind permits another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout, KindNetwork:
		return true
	}
	return false
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}

// KindOf extracts the taxonomy kind, or unknown for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// kindFromStatus maps an HTTP status code to the taxonomy.
func kindFromStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuthentication
	case code == 404:
		return KindModelNotFound
	case code == 429:
		return KindRateLimit
	case code == 400 || code == 422:
		return KindInvalidRequest
	case code >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}
