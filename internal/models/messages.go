package models

import (
	"context"
	"fmt"

	"github.com/tbalsam/ripple/internal/wire"
)

// DefaultMessagesPerThread bounds how many messages a single thread
// contributes to a sync payload.
const DefaultMessagesPerThread = 20

const truncationExhaustive = "exhaustive"
const truncationTruncated = "truncated"

// MessageSelection describes which messages a sync round should fetch.
type MessageSelection struct {
	NewerThan  int64
	WatchedIDs []string
}

// GetMessagesSince returns per-thread message windows newer than the
// selection watermark, covering the user's joined threads plus any watched
// thread ids, at most perThread each.
func (q *Queries) GetMessagesSince(ctx context.Context, userID string, selection MessageSelection, perThread int) (wire.MessagesResult, error) {
	threadQuery := "SELECT thread_id FROM memberships WHERE user_id = ?"
	rows, err := q.db.QueryContext(ctx, threadQuery, userID)
	if err != nil {
		return wire.MessagesResult{}, fmt.Errorf("fetch joined threads: %w", err)
	}
	threadIDs := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return wire.MessagesResult{}, fmt.Errorf("scan joined thread: %w", err)
		}
		threadIDs[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wire.MessagesResult{}, fmt.Errorf("fetch joined threads: %w", err)
	}
	rows.Close()
	for _, id := range selection.WatchedIDs {
		threadIDs[id] = true
	}

	result := wire.MessagesResult{
		RawMessageInfos:    []wire.MessageInfo{},
		TruncationStatuses: make(map[string]string),
		CurrentAsOf:        selection.NewerThan,
	}
	for threadID := range threadIDs {
		// Fetch one extra row to detect truncation.
		msgRows, err := q.db.QueryContext(ctx, `
			SELECT id, thread_id, creator_id, type, text, time
			FROM messages
			WHERE thread_id = ? AND time > ?
			ORDER BY time DESC LIMIT ?`,
			threadID, selection.NewerThan, perThread+1)
		if err != nil {
			return wire.MessagesResult{}, fmt.Errorf("fetch messages: %w", err)
		}
		var threadMessages []wire.MessageInfo
		for msgRows.Next() {
			var m wire.MessageInfo
			if err := msgRows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Type, &m.Text, &m.Time); err != nil {
				msgRows.Close()
				return wire.MessagesResult{}, fmt.Errorf("scan message: %w", err)
			}
			threadMessages = append(threadMessages, m)
		}
		if err := msgRows.Err(); err != nil {
			msgRows.Close()
			return wire.MessagesResult{}, fmt.Errorf("fetch messages: %w", err)
		}
		msgRows.Close()

		status := truncationExhaustive
		if len(threadMessages) > perThread {
			threadMessages = threadMessages[:perThread]
			status = truncationTruncated
		}
		result.TruncationStatuses[threadID] = status
		for _, m := range threadMessages {
			if m.Time > result.CurrentAsOf {
				result.CurrentAsOf = m.Time
			}
			result.RawMessageInfos = append(result.RawMessageInfos, m)
		}
	}
	return result, nil
}

// CreateMessageParams are the fields of a new message row.
type CreateMessageParams struct {
	ID       string
	ThreadID string
	UserID   string
	Type     int
	Text     string
	Time     int64
}

// CreateMessage inserts a message and marks the thread unread for every
// other member.
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, creator_id, type, text, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.ThreadID, arg.UserID, arg.Type, arg.Text, arg.Time); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE memberships SET unread = 1
		WHERE thread_id = ? AND user_id != ?`,
		arg.ThreadID, arg.UserID); err != nil {
		return fmt.Errorf("mark thread unread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}
