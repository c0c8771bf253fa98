package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/retry"
	"github.com/venturekit/planner/internal/transport"
)

// DeliverFunc performs the remote call for one logical message. The
// controller retries it according to policy; implementations must honor
// cancellation of the passed context.
type DeliverFunc func(ctx context.Context) (*transport.SendReply, error)

// FailureMode selects what happens to the user message when the retry
// chain fails.
type FailureMode int

const (
	// KeepFailed leaves the message visible as failed with retry
	// metadata so the user can retry it manually.
	KeepFailed FailureMode = iota
	// RollbackOnFailure removes the message entirely. Used for the
	// message that triggered session creation: it must never linger as
	// an orphan of a session that does not exist.
	RollbackOnFailure
)

// inFlight is the per-session lock handle: nil in the map means idle.
type inFlight struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

// DeliveryController owns the at-most-one-in-flight invariant per
// session. Every send acquires the session's flight slot, arms the wait
// monitor, runs the retry chain, and releases the slot on every exit
// path, including panics in the transport.
type DeliveryController struct {
	store    *MessageStore
	retryCfg retry.Config
	waitTime time.Duration
	notify   Listener
	log      *logging.Logger

	mu       sync.Mutex
	inflight map[string]*inFlight
	monitors map[string]*WaitTimeMonitor
}

// NewDeliveryController creates a controller over the given store.
// waitTime is the estimated response time after which the wait notice
// fires. notify may be nil.
func NewDeliveryController(store *MessageStore, retryCfg retry.Config, waitTime time.Duration, notify Listener, log *logging.Logger) *DeliveryController {
	return &DeliveryController{
		store:    store,
		retryCfg: retryCfg,
		waitTime: waitTime,
		notify:   notify,
		log:      log.Sub("delivery"),
		inflight: make(map[string]*inFlight),
		monitors: make(map[string]*WaitTimeMonitor),
	}
}

// Deliver optimistically inserts msg and runs the delivery chain,
// blocking until it settles. Returns ErrBusy without mutating the store
// if the session already has a message in flight.
func (d *DeliveryController) Deliver(ctx context.Context, sessionID string, msg domain.Message, deliver DeliverFunc, mode FailureMode) error {
	if d.busy(sessionID) {
		return ErrBusy
	}
	if err := d.store.InsertOptimistic(sessionID, msg); err != nil {
		return err
	}
	d.emitMessage(sessionID, msg.ID)
	return d.run(ctx, sessionID, msg.ID, deliver, mode, d.retryCfg)
}

// DeliverWith is Deliver with an explicit retry policy for this chain.
// Session creation uses it: the creation chain has its own attempt cap
// and bookkeeping hooks.
func (d *DeliveryController) DeliverWith(ctx context.Context, sessionID string, msg domain.Message, deliver DeliverFunc, mode FailureMode, cfg retry.Config) error {
	if d.busy(sessionID) {
		return ErrBusy
	}
	if err := d.store.InsertOptimistic(sessionID, msg); err != nil {
		return err
	}
	d.emitMessage(sessionID, msg.ID)
	return d.run(ctx, sessionID, msg.ID, deliver, mode, cfg)
}

// Redeliver re-enters the chain for a previously failed message. The
// message keeps its id, content, and position; only its status moves
// back to pending for the fresh attempt.
func (d *DeliveryController) Redeliver(ctx context.Context, sessionID, messageID string, deliver DeliverFunc) error {
	if d.busy(sessionID) {
		return ErrBusy
	}

	msg, ok := d.store.Get(sessionID, messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Status != domain.StatusFailed {
		return ErrNotRetryable
	}
	if err := d.store.Transition(sessionID, messageID, domain.StatusPending, nil); err != nil {
		return err
	}
	d.emitMessage(sessionID, messageID)
	return d.run(ctx, sessionID, messageID, deliver, KeepFailed, d.retryCfg)
}

// Cancel aborts the in-flight delivery for the session, if any.
// Cancellation is cooperative: the chain observes the signal at its next
// check and releases the slot; this call does not wait for that. Calling
// it while idle is a no-op.
func (d *DeliveryController) Cancel(sessionID string) {
	d.mu.Lock()
	flight := d.inflight[sessionID]
	d.mu.Unlock()

	if flight == nil {
		return
	}
	d.log.Info().Str("sessionId", sessionID).Msg("cancelling in-flight response")
	flight.cancel()
}

// Loading reports whether a response is in flight and since when.
func (d *DeliveryController) Loading(sessionID string) (bool, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if flight := d.inflight[sessionID]; flight != nil {
		return true, flight.startedAt
	}
	return false, time.Time{}
}

// Release discards the session's monitor state after the session is
// deleted. The caller must Cancel first and let the chain settle.
func (d *DeliveryController) Release(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mon := d.monitors[sessionID]; mon != nil {
		mon.Disarm()
	}
	delete(d.monitors, sessionID)
}

func (d *DeliveryController) busy(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[sessionID] != nil
}

func (d *DeliveryController) monitor(sessionID string) *WaitTimeMonitor {
	d.mu.Lock()
	defer d.mu.Unlock()

	mon := d.monitors[sessionID]
	if mon == nil {
		mon = NewWaitTimeMonitor()
		d.monitors[sessionID] = mon
	}
	return mon
}

// run executes the retry chain for one message and settles the store.
// The flight slot and wait monitor are released on every path out.
func (d *DeliveryController) run(ctx context.Context, sessionID, messageID string, deliver DeliverFunc, mode FailureMode, cfg retry.Config) error {
	runCtx, cancel := context.WithCancel(ctx)
	flight := &inFlight{cancel: cancel, startedAt: time.Now()}

	d.mu.Lock()
	d.inflight[sessionID] = flight
	d.mu.Unlock()

	mon := d.monitor(sessionID)
	mon.Arm(d.waitTime, func() {
		d.log.Warn().Str("sessionId", sessionID).Dur("waited", time.Since(flight.startedAt)).Msg("response exceeding estimated wait time")
		d.emit(Event{Type: EventWaitExceeded, SessionID: sessionID})
	})

	defer func() {
		mon.Disarm()
		d.mu.Lock()
		delete(d.inflight, sessionID)
		d.mu.Unlock()
		cancel()
	}()

	var reply *transport.SendReply
	err := retry.Do(runCtx, cfg, func(c context.Context) error {
		r, err := deliver(c)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})

	switch {
	case err == nil:
		return d.settleSent(sessionID, messageID, reply)
	case errors.Is(err, context.Canceled):
		d.settleCancelled(sessionID, messageID, mode)
		return err
	default:
		d.settleFailed(sessionID, messageID, err, mode, cfg.MaxAttempts)
		return err
	}
}

func (d *DeliveryController) settleSent(sessionID, messageID string, reply *transport.SendReply) error {
	if err := d.store.Transition(sessionID, messageID, domain.StatusSent, &TransitionPatch{TokensUsed: reply.TokensUsed}); err != nil {
		return err
	}
	d.emitMessage(sessionID, messageID)

	assistant := domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleAssistant,
		Content:   reply.AssistantReply,
		CreatedAt: time.Now(),
	}
	d.store.AppendSent(sessionID, assistant)
	d.emitMessage(sessionID, assistant.ID)

	d.log.Info().Str("sessionId", sessionID).Str("messageId", messageID).Int("tokens", reply.TokensUsed).Msg("message delivered")
	return nil
}

// settleCancelled marks the message failed without retry metadata: a
// cancelled send requires a fresh send, not a retry. A cancelled
// creation chain instead rolls its message back, since no session exists
// to hold it.
func (d *DeliveryController) settleCancelled(sessionID, messageID string, mode FailureMode) {
	if mode == RollbackOnFailure {
		if err := d.store.Rollback(sessionID, messageID); err != nil {
			d.log.Debug().Err(err).Str("sessionId", sessionID).Msg("rolling back cancelled message")
		}
		d.emit(Event{Type: EventMessageRemoved, SessionID: sessionID, MessageID: messageID})
		return
	}

	if err := d.store.Transition(sessionID, messageID, domain.StatusFailed, nil); err != nil {
		// The session may have been deleted while the chain unwound.
		d.log.Debug().Err(err).Str("sessionId", sessionID).Msg("settling cancelled message")
		return
	}
	d.emitMessage(sessionID, messageID)
	d.log.Info().Str("sessionId", sessionID).Str("messageId", messageID).Msg("delivery cancelled by user")
}

func (d *DeliveryController) settleFailed(sessionID, messageID string, cause error, mode FailureMode, maxAttempts int) {
	if mode == RollbackOnFailure {
		if err := d.store.Rollback(sessionID, messageID); err != nil {
			d.log.Debug().Err(err).Str("sessionId", sessionID).Msg("rolling back failed message")
		}
		d.emit(Event{Type: EventMessageRemoved, SessionID: sessionID, MessageID: messageID})
		return
	}

	patch := &TransitionPatch{AttemptNumber: 1, MaxRetries: maxAttempts}
	var exhausted *retry.ExhaustedError
	if errors.As(cause, &exhausted) {
		patch.AttemptNumber = exhausted.Attempts
		patch.MaxRetries = exhausted.MaxAttempts
	}

	if err := d.store.Transition(sessionID, messageID, domain.StatusFailed, patch); err != nil {
		d.log.Debug().Err(err).Str("sessionId", sessionID).Msg("settling failed message")
		return
	}
	d.emitMessage(sessionID, messageID)
	d.log.Warn().Err(cause).Str("sessionId", sessionID).Str("messageId", messageID).Int("attempts", patch.AttemptNumber).Msg("delivery failed")
}

func (d *DeliveryController) emitMessage(sessionID, messageID string) {
	if d.notify == nil {
		return
	}
	if msg, ok := d.store.Get(sessionID, messageID); ok {
		d.emit(Event{Type: EventMessageUpdated, SessionID: sessionID, MessageID: messageID, Message: &msg})
	}
}

func (d *DeliveryController) emit(ev Event) {
	if d.notify != nil {
		d.notify(ev)
	}
}
