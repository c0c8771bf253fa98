package transport

import (
	"context"

	"github.com/venturekit/planner/internal/domain"
)

// Mock is a test double for Transport.
type Mock struct {
	CreateSessionFunc func(ctx context.Context, bctx domain.BusinessContext, firstMessage string) (*SessionReply, error)
	SendMessageFunc   func(ctx context.Context, sessionID, content string) (*SendReply, error)
}

func (m *Mock) CreateSession(ctx context.Context, bctx domain.BusinessContext, firstMessage string) (*SessionReply, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, bctx, firstMessage)
	}
	return &SessionReply{SessionID: "mock-session", AssistantReply: "mock welcome"}, nil
}

func (m *Mock) SendMessage(ctx context.Context, sessionID, content string) (*SendReply, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, sessionID, content)
	}
	return &SendReply{AssistantReply: "mock reply", TokensUsed: 1}, nil
}
