package agent

import (
	"errors"
	"fmt"
)

// Kind classifies failures across the agent and delivery pipeline.
type Kind int

const (
	// KindUnavailable covers transport failures and timeouts.
	KindUnavailable Kind = iota + 1
	// KindAgentFailure is an upstream agent error (HTTP 5xx or a non-zero
	// envelope code with no more specific mapping).
	KindAgentFailure
	// KindInvalidRequest is a caller mistake (HTTP 4xx).
	KindInvalidRequest
	// KindNotInitialized means the agent session is gone (envelope 2xxx).
	KindNotInitialized
	// KindPlatformError is a service-platform failure during delivery.
	KindPlatformError
	// KindStoreError is a persistence failure.
	KindStoreError
	// KindConfigError is a configuration problem.
	KindConfigError
	// KindCancelled means the context was cancelled.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindAgentFailure:
		return "agent_failure"
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotInitialized:
		return "not_initialized"
	case KindPlatformError:
		return "platform_error"
	case KindStoreError:
		return "store_error"
	case KindConfigError:
		return "config_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed error carried through the agent pool and the
// dispatcher. Code is the upstream envelope code when one was present.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	err     error
}

// NewError creates an Error wrapping an underlying cause. cause may be nil.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Retryable reports whether a later attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindAgentFailure, KindNotInitialized,
		KindPlatformError, KindStoreError:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind carried by err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether err allows a later attempt. Errors without a
// Kind are treated as retryable: the dispatcher's attempt cap still bounds
// them.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return true
}
