package store

import (
	"fmt"
	"time"

	"github.com/venturekit/planner/internal/domain"
)

// SessionArchive persists planner sessions and their settled message
// logs. It is the durable mirror of the in-memory conversation state;
// history is written whole after each settle, so a crash loses at most
// the in-flight exchange.
type SessionArchive struct {
	db *DB
}

// NewSessionArchive creates an archive using the given database.
func NewSessionArchive(db *DB) *SessionArchive {
	return &SessionArchive{db: db}
}

// SaveSession inserts or updates a session row.
func (a *SessionArchive) SaveSession(s domain.Session) error {
	_, err := a.db.sql.Exec(
		`INSERT INTO sessions (id, remote_id, business_type, target_market, challenge, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   remote_id = excluded.remote_id,
		   updated_at = excluded.updated_at`,
		s.ID, s.RemoteID, s.Context.BusinessType, s.Context.TargetMarket, s.Context.Challenge,
		s.CreatedAt.Format(time.DateTime), s.UpdatedAt.Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// SaveHistory replaces the archived message log for a session. The log
// is small (one conversation) and its rows change status in place, so a
// full rewrite in one transaction is simpler than diffing.
func (a *SessionArchive) SaveHistory(sessionID string, msgs []domain.Message) error {
	tx, err := a.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin history save: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing history for %s: %w", sessionID, err)
	}

	for i, m := range msgs {
		if _, err := tx.Exec(
			`INSERT INTO messages (id, session_id, position, role, content, status, attempt, max_retries, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, i, string(m.Role), m.Content, string(m.Status),
			m.AttemptNumber, m.MaxRetries, m.TokensUsed,
			m.CreatedAt.Format(time.DateTime),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history save: %w", err)
	}
	return nil
}

// DeleteSession removes a session and, via the cascade, its messages.
func (a *SessionArchive) DeleteSession(sessionID string) error {
	if _, err := a.db.sql.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// GetSession returns an archived session by id, or nil if not found.
func (a *SessionArchive) GetSession(id string) *domain.Session {
	var s domain.Session
	var createdAt, updatedAt string

	err := a.db.sql.QueryRow(
		`SELECT id, remote_id, business_type, target_market, challenge, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.RemoteID, &s.Context.BusinessType, &s.Context.TargetMarket, &s.Context.Challenge,
		&createdAt, &updatedAt)
	if err != nil {
		return nil
	}

	s.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	s.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	s.Context.CreatedAt = s.CreatedAt
	return &s
}

// ListSessions returns all archived sessions, most recently updated
// first.
func (a *SessionArchive) ListSessions() []domain.Session {
	rows, err := a.db.sql.Query(
		`SELECT id, remote_id, business_type, target_market, challenge, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		var createdAt, updatedAt string
		if err := rows.Scan(&s.ID, &s.RemoteID, &s.Context.BusinessType, &s.Context.TargetMarket,
			&s.Context.Challenge, &createdAt, &updatedAt); err != nil {
			continue
		}
		s.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		s.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		s.Context.CreatedAt = s.CreatedAt
		out = append(out, s)
	}
	return out
}

// History returns the archived message log in insertion order.
func (a *SessionArchive) History(sessionID string) []domain.Message {
	rows, err := a.db.sql.Query(
		`SELECT id, role, content, status, attempt, max_retries, tokens_used, created_at
		 FROM messages WHERE session_id = ? ORDER BY position`, sessionID,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, status, createdAt string
		if err := rows.Scan(&m.ID, &role, &m.Content, &status,
			&m.AttemptNumber, &m.MaxRetries, &m.TokensUsed, &createdAt); err != nil {
			continue
		}
		m.Role = domain.MessageRole(role)
		m.Status = domain.MessageStatus(status)
		m.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		msgs = append(msgs, m)
	}
	return msgs
}
