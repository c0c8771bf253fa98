package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/planner/internal/chat"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/transport"
	"github.com/venturekit/planner/internal/usage"
)

func testCoordinator(tr transport.Transport, notify chat.Listener) *chat.Coordinator {
	cfg := chat.Config{
		Limits:         chat.Limits{FreeLimit: 10, PaidLimit: 100},
		SendAttempts:   3,
		CreateAttempts: 3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		EstimatedWait:  time.Minute,
	}
	reader := usage.NewStatic(domain.UsageSnapshot{Subscription: domain.SubscriptionFree})
	return chat.New(cfg, tr, reader, nil, notify, logging.Silent())
}

func testServer(t *testing.T, tr transport.Transport) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token-123"

	log := logging.Silent()
	clients := NewClientRegistry(log.Sub("clients"))
	coord := testCoordinator(tr, func(e chat.Event) {
		clients.Broadcast(string(e.Type), e)
	})

	srv := New(cfg, coord, log, WithRegistry(clients))

	mux := http.NewServeMux()
	srv.registerHTTPRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t, &transport.Mock{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status; no version or client count
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t, &transport.Mock{})

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	_, ts := testServer(t, &transport.Mock{})
	conn := dial(t, ts)

	// Read challenge event
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, "connect.challenge", challenge.Event)

	// Send connect request
	connectReq, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: "test-token-123"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	// Read hello-ok response
	var helloResp Frame
	require.NoError(t, conn.ReadJSON(&helloResp))
	assert.Equal(t, FrameTypeResponse, helloResp.Type)
	assert.Equal(t, "req-1", helloResp.ID)
	require.NotNil(t, helloResp.OK)
	assert.True(t, *helloResp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(helloResp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Contains(t, hello.Features.Methods, "chat.send")
	assert.Contains(t, hello.Features.Events, string(chat.EventMessageUpdated))
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	_, ts := testServer(t, &transport.Mock{})
	conn := dial(t, ts)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	connectReq, _ := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: "wrong-token"},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	var errResp Frame
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Equal(t, FrameTypeResponse, errResp.Type)
	require.NotNil(t, errResp.OK)
	assert.False(t, *errResp.OK)
	require.NotNil(t, errResp.Error)
	assert.Equal(t, "unauthorized", errResp.Error.Code)
}

// authenticatedConn returns a WebSocket connection that has completed the
// handshake against a server using the given transport.
func authenticatedConn(t *testing.T, tr transport.Transport) *websocket.Conn {
	t.Helper()
	_, ts := testServer(t, tr)
	conn := dial(t, ts)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	connectReq, _ := NewRequest("auth-req", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: "test-token-123"},
	})
	require.NoError(t, conn.WriteJSON(connectReq))

	var helloResp Frame
	require.NoError(t, conn.ReadJSON(&helloResp))
	require.NotNil(t, helloResp.OK)
	require.True(t, *helloResp.OK, "handshake should succeed")

	return conn
}

// rpc sends a request and reads frames until the matching response,
// collecting any event frames seen along the way.
func rpc(t *testing.T, conn *websocket.Conn, id, method string, params any) (Frame, []Frame) {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var events []Frame
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		if f.ID == id {
			return f, events
		}
	}
	t.Fatalf("no response for %s", id)
	return Frame{}, nil
}

func TestWebSocketRPCHealth(t *testing.T) {
	conn := authenticatedConn(t, &transport.Mock{})

	resp, _ := rpc(t, conn, "req-2", "health", nil)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	conn := authenticatedConn(t, &transport.Mock{})

	resp, _ := rpc(t, conn, "req-6", "nonexistent.method", nil)
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestSessionCreateAndChatSend(t *testing.T) {
	mock := &transport.Mock{
		CreateSessionFunc: func(ctx context.Context, bctx domain.BusinessContext, first string) (*transport.SessionReply, error) {
			return &transport.SessionReply{SessionID: "remote-1", AssistantReply: "Welcome to your plan!"}, nil
		},
		SendMessageFunc: func(ctx context.Context, sessionID, content string) (*transport.SendReply, error) {
			return &transport.SendReply{AssistantReply: "Here is an idea."}, nil
		},
	}
	conn := authenticatedConn(t, mock)

	resp, _ := rpc(t, conn, "s-1", "session.create", sessionCreateParams{
		BusinessType: "bakery",
		TargetMarket: "local families",
		Challenge:    "first customers",
	})
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var created struct {
		SessionID string           `json:"sessionId"`
		State     chatStatePayload `json:"state"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &created))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, domain.CreationNotStarted, created.State.Creation.Status)

	// First send creates the remote session and settles both messages.
	resp, events := rpc(t, conn, "c-1", "chat.send", chatSendParams{Message: "Hello"})
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var state chatStatePayload
	require.NoError(t, json.Unmarshal(resp.Payload, &state))
	require.Len(t, state.Messages, 2)
	assert.Equal(t, domain.StatusSent, state.Messages[0].Status)
	assert.Equal(t, "Welcome to your plan!", state.Messages[1].Content)
	assert.Equal(t, domain.CreationSucceeded, state.Creation.Status)
	assert.False(t, state.Loading.IsLoading)

	// Message status changes were pushed as events during the send.
	seen := make(map[string]bool)
	for _, e := range events {
		seen[e.Event] = true
	}
	assert.True(t, seen[string(chat.EventMessageUpdated)], "expected message.updated events")
}

func TestChatSendEmptyMessage(t *testing.T) {
	conn := authenticatedConn(t, &transport.Mock{})

	resp, _ := rpc(t, conn, "s-1", "session.create", sessionCreateParams{BusinessType: "bakery"})
	require.True(t, *resp.OK)

	resp, _ = rpc(t, conn, "c-1", "chat.send", chatSendParams{Message: "   "})
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "empty_message", resp.Error.Code)
}

func TestChatSendWithoutSession(t *testing.T) {
	conn := authenticatedConn(t, &transport.Mock{})

	resp, _ := rpc(t, conn, "c-1", "chat.send", chatSendParams{Message: "Hello"})
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "no_session", resp.Error.Code)
}

func TestSessionDeleteRPC(t *testing.T) {
	conn := authenticatedConn(t, &transport.Mock{})

	resp, _ := rpc(t, conn, "s-1", "session.create", sessionCreateParams{BusinessType: "bakery"})
	require.True(t, *resp.OK)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &created))

	resp, _ = rpc(t, conn, "d-1", "session.delete", sessionSelectParams{SessionID: created.SessionID})
	require.True(t, *resp.OK)

	resp, _ = rpc(t, conn, "d-2", "session.delete", sessionSelectParams{SessionID: created.SessionID})
	assert.False(t, *resp.OK)
	assert.Equal(t, "session_not_found", resp.Error.Code)
}

func TestResolveAuth(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Mode:  "token",
		Token: "my-token",
	})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "my-token", auth.Token)
}

func TestResolveAuthDefaultsToPassword(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Password: "my-pass",
	})
	assert.Equal(t, "password", auth.Mode)
	assert.Equal(t, "my-pass", auth.Password)
}

func TestResolveAuthEnvOverride(t *testing.T) {
	t.Setenv("PLANNER_GATEWAY_TOKEN", "env-token")
	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
}

func TestAuthorizeTokenSuccess(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		&ConnectAuth{Token: "secret"},
	)
	assert.True(t, result.OK)
	assert.Equal(t, "token", result.Method)
}

func TestAuthorizeTokenFail(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		&ConnectAuth{Token: "wrong"},
	)
	assert.False(t, result.OK)
	assert.Equal(t, "token_mismatch", result.Reason)
}

func TestAuthorizeNoCredentials(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		nil,
	)
	assert.False(t, result.OK)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind string
		port int
		want string
	}{
		{"loopback", 18920, "127.0.0.1:18920"},
		{"lan", 9999, "0.0.0.0:9999"},
		{"auto", 8080, "0.0.0.0:8080"},
		{"custom", 3000, "0.0.0.0:3000"},
		{"unknown", 5000, "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.bind, func(t *testing.T) {
			addr := resolveBindAddr(config.GatewayConfig{Bind: tt.bind, Port: tt.port})
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0 // let OS pick a port
	cfg.Gateway.Auth.Token = "test-token"

	srv := New(cfg, testCoordinator(&transport.Mock{}, nil), logging.Silent())

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.NoError(t, <-errCh)
}
