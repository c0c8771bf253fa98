// Package chat implements the business-planner conversation
// coordinator: optimistic message state, the single-flight delivery
// lock, bounded retries for session creation and sends, user
// cancellation, and the usage gate. The package has no transport or UI
// code of its own; collaborators are injected.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/retry"
	"github.com/venturekit/planner/internal/transport"
	"github.com/venturekit/planner/internal/usage"
)

// Config carries the coordinator's tunables, sourced from the config
// file.
type Config struct {
	Limits         Limits
	SendAttempts   int
	CreateAttempts int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	EstimatedWait  time.Duration
}

// Archiver persists sessions and settled history. A nil Archiver
// disables persistence; the coordinator's own state is always in
// memory.
type Archiver interface {
	SaveSession(s domain.Session) error
	SaveHistory(sessionID string, msgs []domain.Message) error
	DeleteSession(sessionID string) error
}

// LoadingState mirrors the UI's aiResponseLoading value.
type LoadingState struct {
	IsLoading bool      `json:"isLoading"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// sessionState bundles everything the coordinator tracks per session.
type sessionState struct {
	session      domain.Session
	lifecycle    *SessionLifecycle
	firstMessage string // retained for retryCreateSession
}

// Coordinator is the presentation boundary of the planner chat. All
// methods are safe for concurrent use; sends block until the delivery
// chain settles.
type Coordinator struct {
	cfg        Config
	transport  transport.Transport
	usage      usage.Reader
	store      *MessageStore
	delivery   *DeliveryController
	archive    Archiver
	notify     Listener
	log        *logging.Logger
	createCfg  retry.Config

	mu        sync.Mutex
	sessions  map[string]*sessionState
	activeID  string
	lastUsage domain.UsageSnapshot
}

// New wires a coordinator. archive and notify may be nil.
func New(cfg Config, tr transport.Transport, usageReader usage.Reader, archive Archiver, notify Listener, log *logging.Logger) *Coordinator {
	store := NewMessageStore()

	sendCfg := retry.Config{
		MaxAttempts:    cfg.SendAttempts,
		InitialBackoff: cfg.BackoffBase,
		MaxBackoff:     cfg.BackoffCap,
		Multiplier:     2.0,
		Retryable:      transport.IsRetryable,
	}
	createCfg := sendCfg
	createCfg.MaxAttempts = cfg.CreateAttempts

	return &Coordinator{
		cfg:       cfg,
		transport: tr,
		usage:     usageReader,
		store:     store,
		delivery:  NewDeliveryController(store, sendCfg, cfg.EstimatedWait, notify, log),
		archive:   archive,
		notify:    notify,
		log:       log.Sub("chat"),
		createCfg: createCfg,
		sessions:  make(map[string]*sessionState),
	}
}

// OpenSession starts tracking a new local session around the given
// business context and makes it active. No remote call happens until
// the first send.
func (c *Coordinator) OpenSession(bctx domain.BusinessContext) domain.Session {
	now := time.Now()
	sess := domain.Session{
		ID:        uuid.New().String(),
		Context:   bctx,
		CreatedAt: now,
		UpdatedAt: now,
	}

	cfg := c.createCfg
	st := &sessionState{
		session:   sess,
		lifecycle: NewSessionLifecycle(sess.ID, cfg, c.notify, c.log),
	}

	c.mu.Lock()
	c.sessions[sess.ID] = st
	c.activeID = sess.ID
	c.mu.Unlock()

	c.log.Info().Str("sessionId", sess.ID).Str("businessType", bctx.BusinessType).Msg("session opened")
	return sess
}

// SelectSession makes an open session the active one. The creation
// machine and message log of the previously active session are left
// untouched; operations on distinct sessions are independent.
func (c *Coordinator) SelectSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	c.activeID = sessionID
	return nil
}

// DeleteSession cancels any in-flight response for the session, then
// removes its messages, its creation machine, and its archived rows.
func (c *Coordinator) DeleteSession(sessionID string) error {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	// The lock must not survive the session: cancel first, the chain
	// settles cooperatively and tolerates the log disappearing.
	c.delivery.Cancel(sessionID)
	c.delivery.Release(sessionID)
	c.store.Drop(sessionID)

	c.mu.Lock()
	delete(c.sessions, sessionID)
	if c.activeID == sessionID {
		c.activeID = ""
	}
	c.mu.Unlock()

	if c.archive != nil {
		if err := c.archive.DeleteSession(sessionID); err != nil {
			c.log.Error().Err(err).Str("sessionId", sessionID).Msg("deleting archived session")
		}
	}

	c.log.Info().Str("sessionId", sessionID).Str("remoteId", st.session.RemoteID).Msg("session deleted")
	return nil
}

// SendMessage runs the full pipeline for the active session: usage
// gate, optimistic insert, session creation if needed, delivery with
// retries. It blocks until the send settles.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	st := c.active()
	if st == nil {
		return ErrNoActiveSession
	}

	snap, err := c.usage.Snapshot(ctx)
	if err != nil {
		return err
	}
	c.setUsage(snap)

	loading, _ := c.delivery.Loading(st.session.ID)
	switch Decide(snap, loading, content, c.cfg.Limits) {
	case BlockedEmpty:
		return ErrEmptyMessage
	case BlockedBusy:
		return ErrBusy
	case BlockedQuota:
		return ErrQuotaExceeded
	}
	content = strings.TrimSpace(content)

	msg := domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}

	remoteID, created := st.lifecycle.RemoteID()
	if !created {
		return c.createAndDeliver(ctx, st, msg)
	}

	err = c.delivery.Deliver(ctx, st.session.ID, msg, c.sendFunc(remoteID, content), KeepFailed)
	c.afterSettle(st)
	return err
}

// RetrySendMessage re-delivers a failed message. The message id and
// content are reused so the store sees the same logical send; a
// successful retry leaves the session's message count unchanged.
func (c *Coordinator) RetrySendMessage(ctx context.Context, messageID string) error {
	st := c.active()
	if st == nil {
		return ErrNoActiveSession
	}

	remoteID, created := st.lifecycle.RemoteID()
	if !created {
		return ErrNotRetryable
	}

	msg, ok := c.store.Get(st.session.ID, messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Role != domain.RoleUser {
		return ErrNotRetryable
	}

	err := c.delivery.Redeliver(ctx, st.session.ID, messageID, c.sendFunc(remoteID, msg.Content))
	c.afterSettle(st)
	return err
}

// CreateSession starts remote creation for the active session with an
// explicit first message, without waiting for a send.
func (c *Coordinator) CreateSession(ctx context.Context, firstMessage string) error {
	st := c.active()
	if st == nil {
		return ErrNoActiveSession
	}
	if _, created := st.lifecycle.RemoteID(); created {
		return nil
	}
	if len(strings.TrimSpace(firstMessage)) == 0 {
		return ErrEmptyMessage
	}

	msg := domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   strings.TrimSpace(firstMessage),
		CreatedAt: time.Now(),
	}
	return c.createAndDeliver(ctx, st, msg)
}

// RetryCreateSession starts a fresh creation chain after exhaustion,
// re-sending the message that triggered creation. Exhaustion rolled the
// original optimistic message back, so the re-send is a new entry.
func (c *Coordinator) RetryCreateSession(ctx context.Context) error {
	st := c.active()
	if st == nil {
		return ErrNoActiveSession
	}

	c.mu.Lock()
	first := st.firstMessage
	c.mu.Unlock()

	if st.lifecycle.State().Status != domain.CreationFailed || first == "" {
		return ErrNotRetryable
	}

	msg := domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   first,
		CreatedAt: time.Now(),
	}
	return c.createAndDeliver(ctx, st, msg)
}

// CancelResponse aborts the in-flight response for the active session.
// No-op when idle.
func (c *Coordinator) CancelResponse() {
	if st := c.active(); st != nil {
		c.delivery.Cancel(st.session.ID)
	}
}

// Messages returns the active session's log in insertion order.
func (c *Coordinator) Messages() []domain.Message {
	st := c.active()
	if st == nil {
		return nil
	}
	return c.store.List(st.session.ID)
}

// CreationState returns the active session's creation machine state.
func (c *Coordinator) CreationState() CreationState {
	st := c.active()
	if st == nil {
		return CreationState{Status: domain.CreationNotStarted}
	}
	return st.lifecycle.State()
}

// Loading reports whether the active session has a response in flight.
func (c *Coordinator) Loading() LoadingState {
	st := c.active()
	if st == nil {
		return LoadingState{}
	}
	loading, startedAt := c.delivery.Loading(st.session.ID)
	return LoadingState{IsLoading: loading, StartedAt: startedAt}
}

// EstimatedWaitTime is the configured expected response time.
func (c *Coordinator) EstimatedWaitTime() time.Duration {
	return c.cfg.EstimatedWait
}

// Usage returns the last observed usage counters.
func (c *Coordinator) Usage() domain.UsageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

// Sessions lists the open sessions, active first.
func (c *Coordinator) Sessions() []domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Session, 0, len(c.sessions))
	if st, ok := c.sessions[c.activeID]; ok {
		out = append(out, st.session)
	}
	for id, st := range c.sessions {
		if id != c.activeID {
			out = append(out, st.session)
		}
	}
	return out
}

// ActiveSession returns the active session, if any.
func (c *Coordinator) ActiveSession() (domain.Session, bool) {
	st := c.active()
	if st == nil {
		return domain.Session{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.session, true
}

// createAndDeliver runs the session-creation chain. The backend answers
// the first message as part of creation, so the chain settles the user
// message exactly like a send; on exhaustion the message rolls back
// rather than lingering against a session that does not exist.
func (c *Coordinator) createAndDeliver(ctx context.Context, st *sessionState, msg domain.Message) error {
	if err := st.lifecycle.Begin(); err != nil {
		return err
	}

	c.mu.Lock()
	st.firstMessage = msg.Content
	c.mu.Unlock()

	var created *transport.SessionReply
	deliver := func(ctx context.Context) (*transport.SendReply, error) {
		r, err := c.transport.CreateSession(ctx, st.session.Context, msg.Content)
		if err != nil {
			return nil, err
		}
		created = r
		return &transport.SendReply{AssistantReply: r.AssistantReply, TokensUsed: r.TokensUsed}, nil
	}

	err := c.delivery.DeliverWith(ctx, st.session.ID, msg, deliver, RollbackOnFailure, st.lifecycle.RetryConfig())
	switch {
	case err == nil:
		st.lifecycle.Succeed(created.SessionID)
		c.mu.Lock()
		st.session.RemoteID = created.SessionID
		st.session.UpdatedAt = time.Now()
		c.mu.Unlock()
		c.afterSettle(st)
		return nil

	case errors.Is(err, context.Canceled):
		st.lifecycle.Abort()
		return err

	case errors.Is(err, ErrBusy):
		// Lost a race after Begin; rewind so the machine is not stuck.
		st.lifecycle.Abort()
		return err

	default:
		exhausted := st.lifecycle.Fail(err)
		c.afterSettle(st)
		return exhausted
	}
}

func (c *Coordinator) sendFunc(remoteID, content string) DeliverFunc {
	return func(ctx context.Context) (*transport.SendReply, error) {
		return c.transport.SendMessage(ctx, remoteID, content)
	}
}

// afterSettle re-reads usage counters and persists the session's
// history. Terminal transitions are when billing may have counted a
// message, so the gate's next read must be fresh.
func (c *Coordinator) afterSettle(st *sessionState) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	if snap, err := c.usage.Snapshot(ctx); err == nil {
		c.setUsage(snap)
		if c.notify != nil {
			c.notify(Event{Type: EventUsageUpdated, SessionID: st.session.ID, Usage: &snap})
		}
	} else {
		c.log.Warn().Err(err).Msg("refreshing usage counters")
	}

	if c.archive != nil {
		c.mu.Lock()
		sess := st.session
		c.mu.Unlock()
		if err := c.archive.SaveSession(sess); err != nil {
			c.log.Error().Err(err).Str("sessionId", sess.ID).Msg("archiving session")
		}
		if err := c.archive.SaveHistory(sess.ID, c.store.List(sess.ID)); err != nil {
			c.log.Error().Err(err).Str("sessionId", sess.ID).Msg("archiving history")
		}
	}
}

func (c *Coordinator) active() *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[c.activeID]
}

func (c *Coordinator) setUsage(snap domain.UsageSnapshot) {
	c.mu.Lock()
	c.lastUsage = snap
	c.mu.Unlock()
}
