// Package transport defines the planner backend boundary: creating a
// remote session and delivering messages to it. Implementations must
// honor context cancellation on every call so user-initiated aborts
// unwind promptly.
package transport

import (
	"context"

	"github.com/venturekit/planner/internal/domain"
)

// SessionReply is the result of creating a remote session. The backend
// answers the first message as part of creation, so the opening
// assistant reply arrives with the session id.
type SessionReply struct {
	SessionID      string `json:"sessionId"`
	AssistantReply string `json:"assistantReply"`
	TokensUsed     int    `json:"tokensUsed,omitempty"`
}

// SendReply is the result of delivering one message.
type SendReply struct {
	AssistantReply string `json:"assistantReply"`
	TokensUsed     int    `json:"tokensUsed"`
}

// Transport is the remote planner API.
type Transport interface {
	// CreateSession opens a session seeded with the business context
	// and the user's first message.
	CreateSession(ctx context.Context, bctx domain.BusinessContext, firstMessage string) (*SessionReply, error)

	// SendMessage delivers content to an existing session and returns
	// the assistant's reply.
	SendMessage(ctx context.Context, sessionID, content string) (*SendReply, error)
}
