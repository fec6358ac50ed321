package database

type migration struct {
	version string
	sql     string
}

// migrations are embedded rather than read from disk so the binary can run
// from any working directory.
var migrations = []migration{
	{
		version: "001_initial",
		sql: `
CREATE TABLE users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE cookies (
	id                        TEXT PRIMARY KEY,
	user_id                   TEXT REFERENCES users(id) ON DELETE CASCADE,
	anonymous                 INTEGER NOT NULL DEFAULT 0,
	secret                    TEXT NOT NULL,
	platform                  TEXT NOT NULL DEFAULT '',
	platform_details          TEXT,
	signed_identity_keys_blob TEXT,
	created_at                INTEGER NOT NULL,
	last_used_at              INTEGER NOT NULL
);

CREATE TABLE sessions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	cookie_id      TEXT NOT NULL REFERENCES cookies(id) ON DELETE CASCADE,
	calendar_query TEXT NOT NULL,
	last_update    INTEGER NOT NULL,
	last_validated INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX idx_sessions_user ON sessions(user_id);

CREATE TABLE threads (
	id               TEXT PRIMARY KEY,
	type             INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	color            TEXT NOT NULL DEFAULT '88048d',
	creator_id       TEXT NOT NULL REFERENCES users(id),
	parent_thread_id TEXT,
	created_at       INTEGER NOT NULL
);

CREATE TABLE memberships (
	thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	unread    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (thread_id, user_id)
);
CREATE INDEX idx_memberships_user ON memberships(user_id);

CREATE TABLE messages (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	creator_id TEXT NOT NULL REFERENCES users(id),
	type       INTEGER NOT NULL DEFAULT 0,
	text       TEXT NOT NULL DEFAULT '',
	time       INTEGER NOT NULL
);
CREATE INDEX idx_messages_thread_time ON messages(thread_id, time);

CREATE TABLE entries (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	text       TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	day        INTEGER NOT NULL,
	creator_id TEXT NOT NULL REFERENCES users(id),
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX idx_entries_date ON entries(year, month, day);

CREATE TABLE updates (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type           TEXT NOT NULL,
	payload        TEXT,
	time           INTEGER NOT NULL,
	target_session TEXT
);
CREATE INDEX idx_updates_user_time ON updates(user_id, time);

CREATE TABLE reports (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE one_time_keys (
	cookie_id  TEXT NOT NULL REFERENCES cookies(id) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (cookie_id, key)
);

CREATE TABLE focused (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	session_id TEXT NOT NULL,
	thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	time       INTEGER NOT NULL,
	PRIMARY KEY (user_id, session_id, thread_id)
);
`,
	},
}
