package domain

import "time"

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus is the delivery state of a message.
//
// Legal transitions:
//
//	pending → streaming | sent | failed
//	streaming → sent | failed
//	failed → pending (one retry re-entry per attempt)
//
// sent is terminal.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusSent      MessageStatus = "sent"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no further automatic transition can occur.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// InFlight reports whether the message currently occupies the
// single-flight slot of its session.
func (s MessageStatus) InFlight() bool {
	return s == StatusPending || s == StatusStreaming
}

// Message is a single turn in a planner conversation. The ID is minted
// client-side at optimistic-insert time and is stable across retries of
// the same logical send.
type Message struct {
	ID        string        `json:"id"`
	Role      MessageRole   `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`

	// Retry metadata, present only while Status is failed with
	// retries remaining. A cancelled send carries neither.
	AttemptNumber int `json:"attemptNumber,omitempty"`
	MaxRetries    int `json:"maxRetries,omitempty"`

	TokensUsed int `json:"tokensUsed,omitempty"`
}
