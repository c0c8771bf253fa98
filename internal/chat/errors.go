package chat

import (
	"errors"
	"fmt"

	"github.com/venturekit/planner/internal/domain"
)

var (
	// ErrEmptyMessage rejects a send whose trimmed input is empty.
	// Resolved at the gate, before any state mutation.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy rejects a send while a response is already in flight for
	// the session.
	ErrBusy = errors.New("a response is already in flight")

	// ErrQuotaExceeded rejects a send when the usage gate blocks it.
	// This is a billing decision, not a transport failure.
	ErrQuotaExceeded = errors.New("message quota exceeded")

	// ErrMessageNotFound reports an unknown message id.
	ErrMessageNotFound = errors.New("message not found")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession reports an operation that needs an open
	// session when none is selected.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNotRetryable rejects a manual retry of a message that is not
	// in a retryable state.
	ErrNotRetryable = errors.New("message is not retryable")
)

// InvalidTransitionError reports an illegal message status change. It
// indicates a defect in the calling code, never a runtime condition, and
// must not be swallowed.
type InvalidTransitionError struct {
	MessageID string
	From, To  domain.MessageStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for message %s: %s -> %s", e.MessageID, e.From, e.To)
}

// CreationExhaustedError reports that a session could not be created
// after the full retry chain. It is terminal for that chain; a new one
// requires explicit user action.
type CreationExhaustedError struct {
	Attempts    int
	MaxAttempts int
	LastError   error
}

func (e *CreationExhaustedError) Error() string {
	return fmt.Sprintf("session creation exhausted after %d/%d attempts: %v", e.Attempts, e.MaxAttempts, e.LastError)
}

func (e *CreationExhaustedError) Unwrap() error { return e.LastError }
