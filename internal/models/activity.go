package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// UpdateActivityParams carry a batch of focus changes for one session.
type UpdateActivityParams struct {
	UserID    string
	SessionID string
	Updates   []wire.ActivityUpdate
	Now       int64
}

// UpdateActivity applies focus/unfocus changes. Focusing a thread clears its
// unread flag; unfocusing a thread that has unread messages reports it in
// UnfocusedToUnread so the client can restore its badge.
func (q *Queries) UpdateActivity(ctx context.Context, arg UpdateActivityParams) (wire.UpdateActivityResult, error) {
	result := wire.UpdateActivityResult{UnfocusedToUnread: []string{}}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("update activity: %w", err)
	}
	defer tx.Rollback()

	for _, update := range arg.Updates {
		if update.Focus {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO focused (user_id, session_id, thread_id, time)
				VALUES (?, ?, ?, ?)`,
				arg.UserID, arg.SessionID, update.ThreadID, arg.Now); err != nil {
				return result, fmt.Errorf("focus thread: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE memberships SET unread = 0 WHERE thread_id = ? AND user_id = ?`,
				update.ThreadID, arg.UserID); err != nil {
				return result, fmt.Errorf("clear unread: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM focused WHERE user_id = ? AND session_id = ? AND thread_id = ?`,
			arg.UserID, arg.SessionID, update.ThreadID); err != nil {
			return result, fmt.Errorf("unfocus thread: %w", err)
		}
		var unread int
		err := tx.QueryRowContext(ctx,
			"SELECT unread FROM memberships WHERE thread_id = ? AND user_id = ?",
			update.ThreadID, arg.UserID).Scan(&unread)
		if err == nil && unread != 0 {
			result.UnfocusedToUnread = append(result.UnfocusedToUnread, update.ThreadID)
		}
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("update activity: %w", err)
	}
	return result, nil
}

// DeleteActivityForSession drops all focus rows held by a session. Called on
// socket close.
func (q *Queries) DeleteActivityForSession(ctx context.Context, userID, sessionID string) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM focused WHERE user_id = ? AND session_id = ?", userID, sessionID)
	if err != nil {
		return fmt.Errorf("delete session activity: %w", err)
	}
	return nil
}

// CreateReportParams are the fields of an inconsistency report.
type CreateReportParams struct {
	ID        string
	UserID    string
	Type      string
	Report    json.RawMessage
	CreatedAt int64
}

// CreateReport persists a client-submitted inconsistency report.
func (q *Queries) CreateReport(ctx context.Context, arg CreateReportParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, type, report, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		arg.ID, arg.UserID, arg.Type, string(arg.Report), arg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// CreateOneTimeKeys banks client-uploaded one-time keys for a cookie.
func (q *Queries) CreateOneTimeKeys(ctx context.Context, cookieID string, keys []string, now int64) error {
	for _, key := range keys {
		if _, err := q.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO one_time_keys (cookie_id, key, created_at)
			VALUES (?, ?, ?)`,
			cookieID, key, now); err != nil {
			return fmt.Errorf("store one-time key: %w", err)
		}
	}
	return nil
}

// CountOneTimeKeys reports how many banked keys a cookie has left.
func (q *Queries) CountOneTimeKeys(ctx context.Context, cookieID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM one_time_keys WHERE cookie_id = ?", cookieID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count one-time keys: %w", err)
	}
	return count, nil
}
