package session

import (
	"context"
	"fmt"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/wire"
)

// CalendarQueryUpdateResult carries the entries a widened calendar query
// newly covers, split into live entries and ids deleted within the added
// range, plus the users those entries reference.
type CalendarQueryUpdateResult struct {
	RawEntryInfos   []wire.EntryInfo `json:"rawEntryInfos"`
	DeletedEntryIDs []string         `json:"deletedEntryIDs"`
	UserInfos       []wire.UserInfo  `json:"userInfos"`
}

// UpdateCalendarQuery moves the session to a new calendar query and returns
// only the entries the old query did not cover. Anonymous viewers have no
// session row, so for them the change lives on the viewer alone.
func (m *Manager) UpdateCalendarQuery(ctx context.Context, viewer *Viewer, newQuery wire.CalendarQuery) (CalendarQueryUpdateResult, error) {
	comparison := CompareCalendarQueries(viewer.CalendarQuery(), newQuery)

	result, err := m.fetchEntryDelta(ctx, viewer, comparison.Difference)
	if err != nil {
		return result, err
	}

	if comparison.QueryChanged {
		if viewer.LoggedIn() {
			query := newQuery
			update := models.SessionUpdate{CalendarQuery: &query}
			if err := m.store.CommitSessionUpdate(ctx, viewer.SessionID(), update); err != nil {
				return result, fmt.Errorf("commit session update: %w", err)
			}
		}
		viewer.SetCalendarQuery(newQuery)
	}
	return result, nil
}

// fetchEntryDelta fetches the entries covered by the difference queries.
// Each difference query is fetched with deletions visible so ids deleted
// inside the added range reach the client instead of silently missing.
func (m *Manager) fetchEntryDelta(ctx context.Context, viewer *Viewer, difference []wire.CalendarQuery) (CalendarQueryUpdateResult, error) {
	result := CalendarQueryUpdateResult{
		RawEntryInfos:   []wire.EntryInfo{},
		DeletedEntryIDs: []string{},
		UserInfos:       []wire.UserInfo{},
	}

	userIDs := map[string]bool{}
	for _, query := range difference {
		entries, err := m.store.GetEntryInfos(ctx, viewer.UserID(), withDeletedEntries(query))
		if err != nil {
			return result, fmt.Errorf("fetch delta entries: %w", err)
		}
		excludeDeleted := hasFilterType(query.Filters, wire.CalendarFilterNotDeleted)
		for _, entry := range entries {
			if entry.Deleted && excludeDeleted {
				result.DeletedEntryIDs = append(result.DeletedEntryIDs, entry.ID)
				continue
			}
			result.RawEntryInfos = append(result.RawEntryInfos, entry)
			userIDs[entry.CreatorID] = true
		}
	}

	if len(userIDs) > 0 {
		ids := make([]string, 0, len(userIDs))
		for id := range userIDs {
			ids = append(ids, id)
		}
		userInfos, err := m.store.GetUserInfosByID(ctx, ids)
		if err != nil {
			return result, fmt.Errorf("fetch delta user infos: %w", err)
		}
		for _, info := range userInfos {
			result.UserInfos = append(result.UserInfos, info)
		}
	}
	return result, nil
}
