package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id             TEXT PRIMARY KEY,
				remote_id      TEXT NOT NULL DEFAULT '',
				business_type  TEXT NOT NULL,
				target_market  TEXT NOT NULL,
				challenge      TEXT NOT NULL,
				created_at     TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sessions_remote ON sessions (remote_id);
			CREATE INDEX idx_sessions_updated ON sessions (updated_at);

			CREATE TABLE messages (
				id           TEXT NOT NULL,
				session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				position     INTEGER NOT NULL,
				role         TEXT NOT NULL,
				content      TEXT NOT NULL,
				status       TEXT NOT NULL,
				attempt      INTEGER NOT NULL DEFAULT 0,
				max_retries  INTEGER NOT NULL DEFAULT 0,
				tokens_used  INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL,
				PRIMARY KEY (session_id, id)
			);

			CREATE INDEX idx_messages_session ON messages (session_id, position);
		`,
	},
}
