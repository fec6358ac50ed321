package models

import (
	"context"
	"fmt"
	"time"

	"github.com/tbalsam/ripple/internal/wire"
)

func dateOrdinal(date string) (int, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("bad calendar date %q: %w", date, err)
	}
	return t.Year()*10000 + int(t.Month())*100 + t.Day(), nil
}

// GetEntryInfos returns the calendar entries visible to the user within the
// query's window, honoring its filters.
func (q *Queries) GetEntryInfos(ctx context.Context, userID string, query wire.CalendarQuery) ([]wire.EntryInfo, error) {
	start, err := dateOrdinal(query.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := dateOrdinal(query.EndDate)
	if err != nil {
		return nil, err
	}

	sqlQuery := `
		SELECT e.id, e.thread_id, e.text, e.year, e.month, e.day,
		       e.created_at, e.creator_id, e.deleted
		FROM entries e
		JOIN memberships m ON m.thread_id = e.thread_id
		WHERE m.user_id = ?
		  AND (e.year * 10000 + e.month * 100 + e.day) BETWEEN ? AND ?`
	args := []any{userID, start, end}

	for _, filter := range query.Filters {
		switch filter.Type {
		case wire.CalendarFilterNotDeleted:
			sqlQuery += " AND e.deleted = 0"
		case wire.CalendarFilterThreads:
			sqlQuery += fmt.Sprintf(" AND e.thread_id IN (%s)", placeholders(len(filter.ThreadIDs)))
			for _, id := range filter.ThreadIDs {
				args = append(args, id)
			}
		}
	}
	sqlQuery += " ORDER BY e.created_at"

	return q.scanEntries(ctx, sqlQuery, args)
}

// GetEntryInfosByID returns the subset of visible entries with the given ids.
func (q *Queries) GetEntryInfosByID(ctx context.Context, userID string, ids []string) ([]wire.EntryInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sqlQuery := fmt.Sprintf(`
		SELECT e.id, e.thread_id, e.text, e.year, e.month, e.day,
		       e.created_at, e.creator_id, e.deleted
		FROM entries e
		JOIN memberships m ON m.thread_id = e.thread_id
		WHERE m.user_id = ? AND e.id IN (%s)`, placeholders(len(ids)))
	args := []any{userID}
	for _, id := range ids {
		args = append(args, id)
	}
	return q.scanEntries(ctx, sqlQuery, args)
}

func (q *Queries) scanEntries(ctx context.Context, sqlQuery string, args []any) ([]wire.EntryInfo, error) {
	rows, err := q.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}
	defer rows.Close()

	var entries []wire.EntryInfo
	for rows.Next() {
		var e wire.EntryInfo
		var deleted int
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Text, &e.Year, &e.Month, &e.Day,
			&e.CreationTime, &e.CreatorID, &deleted); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Deleted = deleted != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}
	return entries, nil
}
