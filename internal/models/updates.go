package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// GetUpdatesSince returns updates for the user newer than the watermark,
// skipping updates targeted exclusively at other sessions, in time order.
func (q *Queries) GetUpdatesSince(ctx context.Context, userID, sessionID string, since int64) ([]wire.UpdateInfo, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, payload, time
		FROM updates
		WHERE user_id = ? AND time > ?
		  AND (target_session IS NULL OR target_session = ?)
		ORDER BY time, id`,
		userID, since, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	defer rows.Close()

	var updates []wire.UpdateInfo
	for rows.Next() {
		var u wire.UpdateInfo
		var payload sql.NullString
		if err := rows.Scan(&u.ID, &u.Type, &payload, &u.Time); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if payload.Valid {
			u.Payload = json.RawMessage(payload.String)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	return updates, nil
}

// AckUpdatesParams describe one acknowledged delivery watermark.
type AckUpdatesParams struct {
	UserID      string
	SessionID   string
	CurrentAsOf int64
	// AdvanceWatermark is false for anonymous viewers, which have no
	// session row to advance.
	AdvanceWatermark bool
}

// AckUpdates removes updates at or before the acked watermark that were
// visible to the session and advances the session's watermark in the same
// transaction. A failure applies neither.
func (q *Queries) AckUpdates(ctx context.Context, arg AckUpdatesParams) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ack updates: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM updates
		WHERE user_id = ? AND time <= ?
		  AND (target_session IS NULL OR target_session = ?)`,
		arg.UserID, arg.CurrentAsOf, arg.SessionID); err != nil {
		return fmt.Errorf("delete acked updates: %w", err)
	}

	if arg.AdvanceWatermark {
		result, err := tx.ExecContext(ctx,
			"UPDATE sessions SET last_update = ? WHERE id = ?",
			arg.CurrentAsOf, arg.SessionID)
		if err != nil {
			return fmt.Errorf("advance update watermark: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance update watermark: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ack updates: %w", err)
	}
	return nil
}

// CreateUpdateParams are the fields of a new update row.
type CreateUpdateParams struct {
	ID            string
	UserID        string
	Type          string
	Payload       json.RawMessage
	Time          int64
	TargetSession string
}

// CreateUpdate inserts an update row.
func (q *Queries) CreateUpdate(ctx context.Context, arg CreateUpdateParams) error {
	target := sql.NullString{String: arg.TargetSession, Valid: arg.TargetSession != ""}
	var payload sql.NullString
	if len(arg.Payload) > 0 {
		payload = sql.NullString{String: string(arg.Payload), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO updates (id, user_id, type, payload, time, target_session)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.UserID, arg.Type, payload, arg.Time, target)
	if err != nil {
		return fmt.Errorf("create update: %w", err)
	}
	return nil
}
