package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tbalsam/ripple/internal/wire"
)

// GetThreadInfos returns every thread the user is a member of, keyed by id,
// with member lists populated.
func (q *Queries) GetThreadInfos(ctx context.Context, userID string) (map[string]wire.ThreadInfo, error) {
	return q.getThreadInfos(ctx, userID, nil)
}

// GetThreadInfosByID returns the subset of the user's threads with the given
// ids. Ids the user cannot see are simply absent from the result.
func (q *Queries) GetThreadInfosByID(ctx context.Context, userID string, ids []string) (map[string]wire.ThreadInfo, error) {
	if len(ids) == 0 {
		return map[string]wire.ThreadInfo{}, nil
	}
	return q.getThreadInfos(ctx, userID, ids)
}

func (q *Queries) getThreadInfos(ctx context.Context, userID string, ids []string) (map[string]wire.ThreadInfo, error) {
	query := `
		SELECT t.id, t.type, t.name, t.description, t.color, t.creator_id,
		       t.parent_thread_id, t.created_at
		FROM threads t
		JOIN memberships m ON m.thread_id = t.id
		WHERE m.user_id = ?`
	args := []any{userID}
	if ids != nil {
		query += fmt.Sprintf(" AND t.id IN (%s)", placeholders(len(ids)))
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch threads: %w", err)
	}
	defer rows.Close()

	threadInfos := make(map[string]wire.ThreadInfo)
	var threadIDs []string
	for rows.Next() {
		var info wire.ThreadInfo
		var parent sql.NullString
		if err := rows.Scan(&info.ID, &info.Type, &info.Name, &info.Description,
			&info.Color, &info.CreatorID, &parent, &info.CreationTime); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		info.ParentThreadID = parent.String
		threadInfos[info.ID] = info
		threadIDs = append(threadIDs, info.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch threads: %w", err)
	}
	if len(threadIDs) == 0 {
		return threadInfos, nil
	}

	memberQuery := fmt.Sprintf(
		"SELECT thread_id, user_id FROM memberships WHERE thread_id IN (%s) ORDER BY user_id",
		placeholders(len(threadIDs)))
	memberArgs := make([]any, len(threadIDs))
	for i, id := range threadIDs {
		memberArgs[i] = id
	}
	memberRows, err := q.db.QueryContext(ctx, memberQuery, memberArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetch thread members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var threadID, memberID string
		if err := memberRows.Scan(&threadID, &memberID); err != nil {
			return nil, fmt.Errorf("scan thread member: %w", err)
		}
		info := threadInfos[threadID]
		info.MemberIDs = append(info.MemberIDs, memberID)
		threadInfos[threadID] = info
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("fetch thread members: %w", err)
	}
	return threadInfos, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
