// Package resultkind defines the structural error taxonomy shared by every
// component in the fabric. Components never branch on error strings; they
// wrap a Kind and callers recover it with errors.As.
package resultkind

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide retry/reject/log
// behavior without parsing messages.
type Kind int

const (
	Unknown Kind = iota
	ValidationError
	AuthError
	NotFound
	Timeout
	ConnectionError
	RateLimited
	CircuitOpen
	ExternalServiceError
	BusinessRuleViolation
	InternalError
)

func (k Kind) String() string {
	switch k {
	case ValidationError:
		return "validation_error"
	case AuthError:
		return "auth_error"
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case ConnectionError:
		return "connection_error"
	case RateLimited:
		return "rate_limited"
	case CircuitOpen:
		return "circuit_open"
	case ExternalServiceError:
		return "external_service_error"
	case BusinessRuleViolation:
		return "business_rule_violation"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether an error of this kind is worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, ConnectionError, RateLimited, ExternalServiceError:
		return true
	default:
		return false
	}
}

// Error is the concrete error type carrying a Kind plus context.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether err, unwrapped to a *Error if possible, should
// be retried.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
