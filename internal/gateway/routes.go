package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/venturekit/planner/internal/chat"
	"github.com/venturekit/planner/internal/domain"
)

// sendTimeout bounds one delivery chain, creation included.
const sendTimeout = 5 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.retry", s.rpcChatRetry)
	s.Handle("chat.cancel", s.rpcChatCancel)
	s.Handle("chat.state", s.rpcChatState)
	s.Handle("session.create", s.rpcSessionCreate)
	s.Handle("session.retryCreate", s.rpcSessionRetryCreate)
	s.Handle("session.select", s.rpcSessionSelect)
	s.Handle("session.delete", s.rpcSessionDelete)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.history", s.rpcSessionHistory)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Clients:   s.clients.Count(),
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	})
}

// respondChatError maps coordinator errors onto wire error shapes.
func respondChatError(rc *RequestContext, err error) {
	var exhausted *chat.CreationExhaustedError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		rc.RespondError("empty_message", "message must not be empty")
	case errors.Is(err, chat.ErrBusy):
		rc.RespondError("busy", "a response is already in flight")
	case errors.Is(err, chat.ErrQuotaExceeded):
		rc.RespondError("quota_exceeded", "message allowance exhausted")
	case errors.Is(err, chat.ErrNoActiveSession):
		rc.RespondError("no_session", "no active session")
	case errors.Is(err, chat.ErrSessionNotFound):
		rc.RespondError("session_not_found", err.Error())
	case errors.Is(err, chat.ErrMessageNotFound):
		rc.RespondError("message_not_found", err.Error())
	case errors.Is(err, chat.ErrNotRetryable):
		rc.RespondError("not_retryable", err.Error())
	case errors.As(err, &exhausted):
		rc.RespondRetryable("creation_failed", exhausted.Error())
	case errors.Is(err, context.Canceled):
		rc.RespondError("cancelled", "response cancelled")
	default:
		rc.RespondRetryable("send_failed", err.Error())
	}
}

type chatSendParams struct {
	Message string `json:"message"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.coord.SendMessage(ctx, p.Message); err != nil {
		respondChatError(rc, err)
		return
	}
	rc.Respond(s.chatState())
}

type chatRetryParams struct {
	MessageID string `json:"messageId"`
}

func (s *Server) rpcChatRetry(rc *RequestContext) {
	var p chatRetryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.MessageID == "" {
		rc.RespondError("invalid_params", "messageId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.coord.RetrySendMessage(ctx, p.MessageID); err != nil {
		respondChatError(rc, err)
		return
	}
	rc.Respond(s.chatState())
}

func (s *Server) rpcChatCancel(rc *RequestContext) {
	s.coord.CancelResponse()
	rc.Respond(map[string]any{"cancelled": true})
}

// chatStatePayload is the full conversation view pushed to clients.
type chatStatePayload struct {
	Session         *domain.Session      `json:"session,omitempty"`
	Messages        []domain.Message     `json:"messages"`
	Creation        chat.CreationState   `json:"creation"`
	Loading         chat.LoadingState    `json:"loading"`
	Usage           domain.UsageSnapshot `json:"usage"`
	EstimatedWaitMs int64                `json:"estimatedWaitMs"`
}

func (s *Server) chatState() chatStatePayload {
	p := chatStatePayload{
		Messages:        s.coord.Messages(),
		Creation:        s.coord.CreationState(),
		Loading:         s.coord.Loading(),
		Usage:           s.coord.Usage(),
		EstimatedWaitMs: s.coord.EstimatedWaitTime().Milliseconds(),
	}
	if sess, ok := s.coord.ActiveSession(); ok {
		p.Session = &sess
	}
	if p.Messages == nil {
		p.Messages = []domain.Message{}
	}
	return p
}

func (s *Server) rpcChatState(rc *RequestContext) {
	rc.Respond(s.chatState())
}

type sessionCreateParams struct {
	BusinessType string `json:"businessType"`
	TargetMarket string `json:"targetMarket"`
	Challenge    string `json:"challenge"`
	FirstMessage string `json:"firstMessage,omitempty"`
}

func (s *Server) rpcSessionCreate(rc *RequestContext) {
	var p sessionCreateParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.BusinessType == "" {
		rc.RespondError("invalid_params", "businessType is required")
		return
	}

	sess := s.coord.OpenSession(domain.BusinessContext{
		BusinessType: p.BusinessType,
		TargetMarket: p.TargetMarket,
		Challenge:    p.Challenge,
		CreatedAt:    time.Now(),
	})

	// Creation against the backend is deferred until the first message;
	// an explicit firstMessage starts it now.
	if p.FirstMessage != "" {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.coord.CreateSession(ctx, p.FirstMessage); err != nil {
			respondChatError(rc, err)
			return
		}
	}

	rc.Respond(map[string]any{
		"sessionId": sess.ID,
		"state":     s.chatState(),
	})
}

func (s *Server) rpcSessionRetryCreate(rc *RequestContext) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.coord.RetryCreateSession(ctx); err != nil {
		respondChatError(rc, err)
		return
	}
	rc.Respond(s.chatState())
}

type sessionSelectParams struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) rpcSessionSelect(rc *RequestContext) {
	var p sessionSelectParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.SessionID == "" {
		rc.RespondError("invalid_params", "sessionId is required")
		return
	}

	if err := s.coord.SelectSession(p.SessionID); err != nil {
		respondChatError(rc, err)
		return
	}
	rc.Respond(s.chatState())
}

func (s *Server) rpcSessionDelete(rc *RequestContext) {
	var p sessionSelectParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.SessionID == "" {
		rc.RespondError("invalid_params", "sessionId is required")
		return
	}

	if err := s.coord.DeleteSession(p.SessionID); err != nil {
		respondChatError(rc, err)
		return
	}
	rc.Respond(map[string]any{"deleted": p.SessionID})
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	sessions := s.coord.Sessions()
	if s.archive != nil {
		// Include archived sessions not currently open.
		open := make(map[string]bool, len(sessions))
		for _, sess := range sessions {
			open[sess.ID] = true
		}
		for _, sess := range s.archive.ListSessions() {
			if !open[sess.ID] {
				sessions = append(sessions, sess)
			}
		}
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	rc.Respond(map[string]any{"sessions": sessions})
}

func (s *Server) rpcSessionHistory(rc *RequestContext) {
	var p sessionSelectParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.SessionID == "" {
		rc.RespondError("invalid_params", "sessionId is required")
		return
	}
	if s.archive == nil {
		rc.RespondError("unavailable", "no archive configured")
		return
	}

	msgs := s.archive.History(p.SessionID)
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rc.Respond(map[string]any{"messages": msgs})
}
