package chat

import (
	"fmt"
	"sync"

	"github.com/venturekit/planner/internal/domain"
)

// MessageStore is the writer-of-record for message state. It keeps an
// ordered, append-only log per session; every status change goes through
// Transition so the legal status graph is enforced in one place.
//
// The store also defends the single-flight invariant at the data layer:
// a second optimistic insert while one message is pending is rejected
// even if the gate upstream failed to block it.
type MessageStore struct {
	mu   sync.Mutex
	logs map[string][]domain.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{logs: make(map[string][]domain.Message)}
}

// InsertOptimistic appends a not-yet-confirmed user message with status
// pending. It fails with ErrBusy if the session already has a message in
// flight.
func (s *MessageStore) InsertOptimistic(sessionID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.logs[sessionID] {
		if m.Status.InFlight() {
			return fmt.Errorf("optimistic insert into session %s: %w", sessionID, ErrBusy)
		}
	}

	msg.Status = domain.StatusPending
	s.logs[sessionID] = append(s.logs[sessionID], msg)
	return nil
}

// AppendSent appends a message that is already confirmed, such as an
// assistant reply that arrived atomically. It never occupies the
// single-flight slot.
func (s *MessageStore) AppendSent(sessionID string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Status = domain.StatusSent
	s.logs[sessionID] = append(s.logs[sessionID], msg)
}

// TransitionPatch carries optional field updates applied together with a
// status change.
type TransitionPatch struct {
	AttemptNumber int
	MaxRetries    int
	TokensUsed    int
}

// legalTransitions is the allowed status graph. failed → pending is the
// manual-retry re-entry; sent is terminal.
var legalTransitions = map[domain.MessageStatus][]domain.MessageStatus{
	domain.StatusPending:   {domain.StatusStreaming, domain.StatusSent, domain.StatusFailed},
	domain.StatusStreaming: {domain.StatusSent, domain.StatusFailed},
	domain.StatusFailed:    {domain.StatusPending},
	domain.StatusSent:      {},
}

// Transition moves a message to a new status, validating against the
// status graph. An illegal move returns *InvalidTransitionError, which
// callers must treat as a programming defect.
//
// Moving to failed records the patch's retry metadata; a nil patch
// leaves the message failed with none, which is how a cancelled send is
// distinguished from a retryable failure. Re-entering pending clears the
// metadata for the fresh attempt.
func (s *MessageStore) Transition(sessionID, messageID string, to domain.MessageStatus, patch *TransitionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sessionID]
	idx := indexOf(log, messageID)
	if idx < 0 {
		return fmt.Errorf("transition in session %s: %w", sessionID, ErrMessageNotFound)
	}

	msg := &log[idx]
	if !transitionAllowed(msg.Status, to) {
		return &InvalidTransitionError{MessageID: messageID, From: msg.Status, To: to}
	}

	msg.Status = to
	switch to {
	case domain.StatusFailed:
		if patch != nil {
			msg.AttemptNumber = patch.AttemptNumber
			msg.MaxRetries = patch.MaxRetries
		} else {
			msg.AttemptNumber = 0
			msg.MaxRetries = 0
		}
	case domain.StatusPending:
		msg.AttemptNumber = 0
		msg.MaxRetries = 0
	case domain.StatusSent:
		msg.AttemptNumber = 0
		msg.MaxRetries = 0
		if patch != nil {
			msg.TokensUsed = patch.TokensUsed
		}
	}
	return nil
}

// Rollback removes a not-yet-confirmed message entirely. Only pending
// and failed messages may be rolled back; confirmed or streaming content
// can only be failed via Transition.
func (s *MessageStore) Rollback(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sessionID]
	idx := indexOf(log, messageID)
	if idx < 0 {
		return fmt.Errorf("rollback in session %s: %w", sessionID, ErrMessageNotFound)
	}

	st := log[idx].Status
	if st != domain.StatusPending && st != domain.StatusFailed {
		return &InvalidTransitionError{MessageID: messageID, From: st, To: "(rollback)"}
	}

	s.logs[sessionID] = append(log[:idx], log[idx+1:]...)
	return nil
}

// List returns the session's messages in insertion order. The result is
// a copy; callers may range over it any number of times.
func (s *MessageStore) List(sessionID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sessionID]
	out := make([]domain.Message, len(log))
	copy(out, log)
	return out
}

// Get returns a copy of one message.
func (s *MessageStore) Get(sessionID, messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[sessionID]
	idx := indexOf(log, messageID)
	if idx < 0 {
		return domain.Message{}, false
	}
	return log[idx], true
}

// HasInFlight reports whether any message in the session is pending or
// streaming.
func (s *MessageStore) HasInFlight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.logs[sessionID] {
		if m.Status.InFlight() {
			return true
		}
	}
	return false
}

// Drop discards a session's entire log. Used when the session itself is
// deleted.
func (s *MessageStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
}

func indexOf(log []domain.Message, id string) int {
	for i := range log {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

func transitionAllowed(from, to domain.MessageStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
