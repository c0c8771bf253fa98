// Package gateway exposes the planner coordinator over HTTP and
// WebSocket. Clients authenticate once per connection, issue JSON-RPC
// style request frames, and receive pushed event frames for message
// status changes, creation progress, and usage updates.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
	"github.com/venturekit/planner/internal/chat"
	"github.com/venturekit/planner/internal/config"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/store"
	"github.com/venturekit/planner/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// Server is the planner gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string

	coord   *chat.Coordinator
	archive *store.SessionArchive

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// authRateLimiter blocks hosts that keep failing the handshake. Each
// host gets a fixed window; the counter resets when the window lapses.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*failWindow
}

type failWindow struct {
	count      int
	windowFrom time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // cap on tracked hosts
)

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{hosts: make(map[string]*failWindow)}
	go rl.sweep()
	return rl
}

// sweep drops lapsed windows once a minute so idle hosts do not
// accumulate.
func (l *authRateLimiter) sweep() {
	for range time.Tick(time.Minute) {
		l.mu.Lock()
		for host, w := range l.hosts {
			if time.Since(w.windowFrom) > authRateWindow {
				delete(l.hosts, host)
			}
		}
		l.mu.Unlock()
	}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.hosts[hostOf(remoteAddr)]
	if !ok {
		return true
	}
	if time.Since(w.windowFrom) > authRateWindow {
		delete(l.hosts, hostOf(remoteAddr))
		return true
	}
	return w.count < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authRateMaxIPs {
			// Evict the stalest window rather than grow unbounded.
			var oldest string
			for h, cand := range l.hosts {
				if oldest == "" || cand.windowFrom.Before(l.hosts[oldest].windowFrom) {
					oldest = h
				}
			}
			delete(l.hosts, oldest)
		}
		l.hosts[host] = &failWindow{count: 1, windowFrom: time.Now()}
		return
	}
	if time.Since(w.windowFrom) > authRateWindow {
		w.count, w.windowFrom = 0, time.Now()
	}
	w.count++
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithArchive sets the session archive for history access.
func WithArchive(a *store.SessionArchive) ServerOption {
	return func(s *Server) {
		s.archive = a
	}
}

// WithRegistry sets a shared client registry. The caller usually creates
// the registry first so coordinator events can be broadcast through it.
func WithRegistry(r *ClientRegistry) ServerOption {
	return func(s *Server) {
		s.clients = r
	}
}

// New creates a new gateway server around a coordinator.
func New(cfg config.Config, coord *chat.Coordinator, log *logging.Logger, opts ...ServerOption) *Server {
	allowedOrigins := cfg.Gateway.ControlUI.AllowedOrigins
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		coord:       coord,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(allowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// Clients returns the registry, for wiring coordinator events.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// checkWebSocketOrigin accepts non-browser clients (no Origin header)
// unconditionally; a browser Origin must be on the configured allow
// list.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted so the
// hello-ok advertisement is stable.
func (s *Server) Methods() []string {
	methods := maps.Keys(s.handlers)
	slices.Sort(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		if cfg.CustomBindHost != "" {
			host = cfg.CustomBindHost
		} else {
			host = "0.0.0.0"
		}
	}
	return fmt.Sprintf("%s:%d", host, cfg.Port)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Gateway.ControlUI.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := s.listen(addr)
	if err != nil {
		return err
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway listening")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// listen opens the TCP listener, wrapped in TLS when configured. A
// non-loopback listener without TLS gets a cleartext warning.
func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	tc := s.cfg.Gateway.TLS
	if !tc.Enabled {
		if s.cfg.Gateway.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled — credentials will be transmitted in cleartext")
		}
		return ln, nil
	}

	cert, err := tls.LoadX509KeyPair(tc.CertPath, tc.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	s.log.Info().Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, repeated auth failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(1 * 1024 * 1024) // 1MB

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket connection")

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(conn.RemoteAddr().String())
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake authenticates a fresh connection: challenge out, connect
// request in, hello-ok back. Anything else on the wire before
// authentication tears the connection down.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	challenge, err := NewEvent("connect.challenge", map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("challenge write: %w", err)
	}

	frame, params, err := readConnect(conn)
	if err != nil {
		return nil, err
	}

	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", auth.Reason)
		return nil, fmt.Errorf("auth failed: %s", auth.Reason)
	}

	// Authenticated: no read deadline from here on.
	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, auth, s.log.Sub("ws"))
	if err := s.sendHello(conn, frame.ID, client.ConnID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", auth.Method).
		Msg("client authenticated")

	return client, nil
}

// readConnect expects the very next frame to be a connect request and
// parses its params.
func readConnect(conn *websocket.Conn) (Frame, ConnectParams, error) {
	var frame Frame
	var params ConnectParams

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return frame, params, fmt.Errorf("connect read: %w", err)
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return frame, params, fmt.Errorf("connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return frame, params, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return frame, params, fmt.Errorf("connect params: %w", err)
	}
	return frame, params, nil
}

// sendHello completes the handshake, advertising the RPC surface and
// the event names the client may receive.
func (s *Server) sendHello(conn *websocket.Conn, reqID, connID string) error {
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  connID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events: []string{
				"connect.challenge",
				string(chat.EventMessageUpdated),
				string(chat.EventMessageRemoved),
				string(chat.EventCreationUpdated),
				string(chat.EventWaitExceeded),
				string(chat.EventUsageUpdated),
			},
		},
	}

	resp, err := NewResponse(reqID, hello)
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return fmt.Errorf("hello write: %w", err)
	}
	return nil
}

// readLoop consumes frames from an authenticated client until the
// connection drops. Only request frames are dispatched; a client that
// sends response or event frames is tolerated and ignored.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client disconnected")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(client, frame)
	}
}

// blockingMethods wait on the backend and must not stall the read loop:
// a chat.cancel frame has to be readable while its chat.send is still in
// flight.
var blockingMethods = map[string]bool{
	"chat.send":           true,
	"chat.retry":          true,
	"session.create":      true,
	"session.retryCreate": true,
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	}

	if blockingMethods[frame.Method] {
		go handler(rc)
		return
	}
	handler(rc)
}

// sendErrorAndClose reports a handshake failure and initiates a normal
// close so well-behaved clients do not reconnect blindly.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
