package domain

import "time"

// CreationStatus tracks the remote-session creation state machine.
type CreationStatus string

const (
	CreationNotStarted CreationStatus = "not_started"
	CreationInProgress CreationStatus = "in_progress"
	CreationSucceeded  CreationStatus = "succeeded"
	CreationFailed     CreationStatus = "failed"
)

// BusinessContext is the immutable planning context supplied when a
// session is created.
type BusinessContext struct {
	BusinessType string    `json:"businessType"`
	TargetMarket string    `json:"targetMarket"`
	Challenge    string    `json:"challenge"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RetryState is the retry bookkeeping for session creation.
type RetryState struct {
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"maxAttempts"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
}

// Session is one planner conversation. ID is assigned client-side when
// the session is opened; RemoteID is assigned by the backend once
// creation succeeds and is immutable afterward.
type Session struct {
	ID        string          `json:"id"`
	RemoteID  string          `json:"remoteId,omitempty"`
	Context   BusinessContext `json:"context"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
