package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/venturekit/planner/internal/domain"
	"github.com/venturekit/planner/internal/logging"
	"github.com/venturekit/planner/internal/retry"
	"github.com/venturekit/planner/internal/transport"
)

// SessionLifecycle owns the remote-session creation state machine for
// one session. Nothing else mutates creation state.
//
//	not_started --begin--> in_progress
//	in_progress --attempt failure--> in_progress (attempt++, nextRetryAt)
//	in_progress --success--> succeeded (remote id assigned, immutable)
//	in_progress --exhaustion--> failed
//	failed --user retry--> in_progress (fresh chain)
//
// succeeded is terminal; a cancelled chain rewinds to not_started so a
// later send can start over.
type SessionLifecycle struct {
	sessionID string
	retryCfg  retry.Config
	notify    Listener
	log       *logging.Logger

	mu       sync.Mutex
	status   domain.CreationStatus
	retrying domain.RetryState
	remoteID string
}

// NewSessionLifecycle creates a fresh machine in not_started.
func NewSessionLifecycle(sessionID string, retryCfg retry.Config, notify Listener, log *logging.Logger) *SessionLifecycle {
	return &SessionLifecycle{
		sessionID: sessionID,
		retryCfg:  retryCfg,
		notify:    notify,
		log:       log.Sub("lifecycle"),
		status:    domain.CreationNotStarted,
		retrying:  domain.RetryState{MaxAttempts: retryCfg.MaxAttempts},
	}
}

// State returns the observable creation state.
func (l *SessionLifecycle) State() CreationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CreationState{Status: l.status, Retry: l.retrying}
}

// RemoteID returns the backend session id once creation has succeeded.
func (l *SessionLifecycle) RemoteID() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteID, l.status == domain.CreationSucceeded
}

// Begin moves the machine into in_progress. Legal from not_started and,
// for an explicit user retry, from failed — a failed machine never
// restarts on its own.
func (l *SessionLifecycle) Begin() error {
	l.mu.Lock()
	switch l.status {
	case domain.CreationInProgress:
		l.mu.Unlock()
		return ErrBusy
	case domain.CreationSucceeded:
		l.mu.Unlock()
		return fmt.Errorf("session %s: creation already succeeded", l.sessionID)
	}
	l.status = domain.CreationInProgress
	l.retrying = domain.RetryState{Attempt: 1, MaxAttempts: l.retryCfg.MaxAttempts}
	l.mu.Unlock()

	l.emit()
	return nil
}

// RetryConfig returns the retry chain for one creation run, with
// attempt bookkeeping wired into this machine. The chain retries only
// transport failures.
func (l *SessionLifecycle) RetryConfig() retry.Config {
	cfg := l.retryCfg
	cfg.Retryable = transport.IsRetryable
	cfg.OnAttemptFailure = func(attempt int, err error, next time.Duration) {
		at := time.Now().Add(next)
		l.mu.Lock()
		l.retrying.Attempt = attempt + 1
		l.retrying.NextRetryAt = &at
		l.mu.Unlock()

		l.log.Warn().Err(err).Str("sessionId", l.sessionID).Int("attempt", attempt).Time("nextRetryAt", at).Msg("session creation attempt failed")
		l.emit()
	}
	return cfg
}

// Succeed records the backend id and makes the machine terminal.
func (l *SessionLifecycle) Succeed(remoteID string) {
	l.mu.Lock()
	l.status = domain.CreationSucceeded
	l.remoteID = remoteID
	l.retrying.NextRetryAt = nil
	l.mu.Unlock()

	l.log.Info().Str("sessionId", l.sessionID).Str("remoteId", remoteID).Msg("session created")
	l.emit()
}

// Fail records exhaustion of the chain and returns the terminal error
// the UI must surface.
func (l *SessionLifecycle) Fail(cause error) *CreationExhaustedError {
	l.mu.Lock()
	l.status = domain.CreationFailed
	l.retrying.NextRetryAt = nil
	attempts := l.retrying.Attempt
	max := l.retrying.MaxAttempts
	l.mu.Unlock()

	l.log.Error().Err(cause).Str("sessionId", l.sessionID).Msg("session creation exhausted")
	l.emit()
	return &CreationExhaustedError{Attempts: attempts, MaxAttempts: max, LastError: cause}
}

// Abort rewinds a cancelled chain to not_started. Cancellation is user
// intent, not a failure; a later send starts a fresh chain.
func (l *SessionLifecycle) Abort() {
	l.mu.Lock()
	l.status = domain.CreationNotStarted
	l.retrying = domain.RetryState{MaxAttempts: l.retryCfg.MaxAttempts}
	l.mu.Unlock()

	l.log.Info().Str("sessionId", l.sessionID).Msg("session creation cancelled")
	l.emit()
}

func (l *SessionLifecycle) emit() {
	if l.notify == nil {
		return
	}
	state := l.State()
	l.notify(Event{Type: EventCreationUpdated, SessionID: l.sessionID, Creation: &state})
}
