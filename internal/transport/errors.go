package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// KindNetwork covers connection failures and timeouts.
	KindNetwork ErrorKind = "network"
	// KindQuota means the backend rejected the call for quota reasons.
	KindQuota ErrorKind = "quota"
	// KindServer covers 5xx-style backend failures.
	KindServer ErrorKind = "server"
)

// Error is a classified transport failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("planner api %s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("planner api %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified error. The cause may be nil.
func NewError(kind ErrorKind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: msg, cause: cause}
}

// IsRetryable reports whether a failed call may succeed if repeated.
// Network and server failures are retryable; quota rejections are not,
// and neither is user cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var terr *Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case KindNetwork, KindServer:
			return true
		case KindQuota:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
