package chat

import "github.com/venturekit/planner/internal/domain"

// EventType discriminates coordinator notifications.
type EventType string

const (
	// EventMessageUpdated fires on every message status change,
	// including the initial optimistic insert.
	EventMessageUpdated EventType = "message.updated"
	// EventMessageRemoved fires when an optimistic message is rolled
	// back out of the log.
	EventMessageRemoved EventType = "message.removed"
	// EventCreationUpdated fires on session creation state changes.
	EventCreationUpdated EventType = "session.creation"
	// EventWaitExceeded fires when a response outlives the estimated
	// wait time. Informational only.
	EventWaitExceeded EventType = "response.slow"
	// EventUsageUpdated fires after usage counters are re-read
	// following a terminal transition.
	EventUsageUpdated EventType = "usage.updated"
)

// Event is a coordinator notification pushed to the presentation layer.
type Event struct {
	Type      EventType             `json:"type"`
	SessionID string                `json:"sessionId"`
	MessageID string                `json:"messageId,omitempty"`
	Message   *domain.Message       `json:"message,omitempty"`
	Creation  *CreationState        `json:"creation,omitempty"`
	Usage     *domain.UsageSnapshot `json:"usage,omitempty"`
}

// CreationState is the observable state of the session creation machine.
type CreationState struct {
	Status domain.CreationStatus `json:"status"`
	Retry  domain.RetryState     `json:"retry"`
}

// Listener receives coordinator events. Implementations must not block;
// events are delivered synchronously from the coordinator's goroutines.
type Listener func(Event)
