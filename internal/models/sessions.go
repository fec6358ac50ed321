package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Session is a server-side session record.
type Session struct {
	ID            string
	UserID        string
	CookieID      string
	CalendarQuery wire.CalendarQuery
	LastUpdate    int64
	LastValidated int64
	CreatedAt     int64
}

// GetSession fetches a session by id.
func (q *Queries) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var rawQuery string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, cookie_id, calendar_query, last_update, last_validated, created_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.CookieID, &rawQuery, &s.LastUpdate, &s.LastValidated, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(rawQuery), &s.CalendarQuery); err != nil {
		return Session{}, fmt.Errorf("decode session calendar query: %w", err)
	}
	return s, nil
}

// CreateSessionParams are the fields of a new session row.
type CreateSessionParams struct {
	ID            string
	UserID        string
	CookieID      string
	CalendarQuery wire.CalendarQuery
	LastUpdate    int64
	LastValidated int64
	CreatedAt     int64
}

// CreateSession inserts a session, replacing any prior row with the same id.
func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) error {
	rawQuery, err := json.Marshal(arg.CalendarQuery)
	if err != nil {
		return fmt.Errorf("encode calendar query: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, user_id, cookie_id, calendar_query, last_update, last_validated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.UserID, arg.CookieID, string(rawQuery),
		arg.LastUpdate, arg.LastValidated, arg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionUpdate is a partial mutation of a session record. Nil fields are
// left unchanged.
type SessionUpdate struct {
	CalendarQuery *wire.CalendarQuery
	LastUpdate    *int64
	LastValidated *int64
}

// CommitSessionUpdate applies a partial session mutation.
func (q *Queries) CommitSessionUpdate(ctx context.Context, id string, update SessionUpdate) error {
	if update.CalendarQuery == nil && update.LastUpdate == nil && update.LastValidated == nil {
		return nil
	}
	query := "UPDATE sessions SET "
	var args []any
	sep := ""
	if update.CalendarQuery != nil {
		raw, err := json.Marshal(update.CalendarQuery)
		if err != nil {
			return fmt.Errorf("encode calendar query: %w", err)
		}
		query += sep + "calendar_query = ?"
		args = append(args, string(raw))
		sep = ", "
	}
	if update.LastUpdate != nil {
		query += sep + "last_update = ?"
		args = append(args, *update.LastUpdate)
		sep = ", "
	}
	if update.LastValidated != nil {
		query += sep + "last_validated = ?"
		args = append(args, *update.LastValidated)
		sep = ", "
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session row.
func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
