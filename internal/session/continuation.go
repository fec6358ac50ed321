package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/statesync"
	"github.com/tbalsam/ripple/internal/wire"
)

// InitializeSession decides whether the client's prior session can be
// extended incrementally and builds the matching STATE_SYNC payload.
//
// The decision runs in order, first match wins: unauthenticated viewers and
// viewers without a server-side session record always get a full resync; a
// client watermark behind the server's means the client lost state (for
// example a restore from backup) and also forces a full resync; otherwise
// the calendar queries are compared and only the added coverage is fetched.
func (m *Manager) InitializeSession(ctx context.Context, viewer *Viewer, state wire.SessionState) (wire.StateSyncType, any, error) {
	continued, err := m.continueSession(ctx, viewer, state)
	if err != nil {
		return "", nil, err
	}
	if continued == nil {
		payload, err := m.fullResyncPayload(ctx, viewer, state)
		if err != nil {
			return "", nil, err
		}
		return wire.StateSyncFull, payload, nil
	}
	payload, err := m.incrementalResyncPayload(ctx, viewer, state, continued.difference)
	if err != nil {
		return "", nil, err
	}
	return wire.StateSyncIncremental, payload, nil
}

// continuedSession describes an accepted incremental continuation.
type continuedSession struct {
	difference []wire.CalendarQuery
}

// continueSession returns nil when a new session was started and a full
// resync is required.
func (m *Manager) continueSession(ctx context.Context, viewer *Viewer, state wire.SessionState) (*continuedSession, error) {
	clientWatermark := state.UpdatesCurrentAsOf

	if !viewer.LoggedIn() {
		viewer.startFreshSession(state.CalendarQuery)
		return nil, nil
	}

	record, err := m.store.GetSession(ctx, viewer.SessionID())
	if errors.Is(err, models.ErrNotFound) {
		// A logged-in viewer without a session record had its session
		// expire or get invalidated. Start over.
		if err := m.setNewSession(ctx, viewer, state.CalendarQuery, clientWatermark); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}

	if clientWatermark < record.LastUpdate {
		// The client is behind the checkpoint the server recorded for it,
		// so the server may no longer hold every update it needs.
		if err := m.setNewSession(ctx, viewer, state.CalendarQuery, clientWatermark); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if clientWatermark == 0 && record.LastUpdate == 0 {
		// Fresh registration or fresh login. Anchoring at zero would make
		// the new session download ancient updates, so anchor at now.
		if err := m.setNewSession(ctx, viewer, state.CalendarQuery, m.now().UnixMilli()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	comparison, err := compareSessionQuery(&record, state.CalendarQuery)
	if errors.Is(err, ErrNoQueryComparison) {
		if err := m.setNewSession(ctx, viewer, state.CalendarQuery, clientWatermark); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	update := models.SessionUpdate{LastUpdate: &clientWatermark}
	if comparison.QueryChanged {
		query := state.CalendarQuery
		update.CalendarQuery = &query
	}
	if err := m.store.CommitSessionUpdate(ctx, viewer.SessionID(), update); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	viewer.SetCalendarQuery(state.CalendarQuery)
	viewer.lastValidated = record.LastValidated
	return &continuedSession{difference: comparison.Difference}, nil
}

// compareSessionQuery compares the session's recorded query with the
// client-declared one. A missing record signals an internal inconsistency
// rather than a client error; callers fall back to a fresh session.
func compareSessionQuery(record *models.Session, newQuery wire.CalendarQuery) (CalendarQueryComparison, error) {
	if record == nil {
		return CalendarQueryComparison{}, ErrNoQueryComparison
	}
	return CompareCalendarQueries(record.CalendarQuery, newQuery), nil
}

// setNewSession replaces the viewer's session with a fresh one anchored at
// the given watermark.
func (m *Manager) setNewSession(ctx context.Context, viewer *Viewer, query wire.CalendarQuery, watermark int64) error {
	viewer.startFreshSession(query)
	now := m.now().UnixMilli()
	err := m.store.CreateSession(ctx, models.CreateSessionParams{
		ID:            viewer.SessionID(),
		UserID:        viewer.UserID(),
		CookieID:      viewer.CookieID(),
		CalendarQuery: query,
		LastUpdate:    watermark,
		LastValidated: now,
		CreatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	viewer.newWatermark = watermark
	viewer.lastValidated = now
	return nil
}

func (m *Manager) fullResyncPayload(ctx context.Context, viewer *Viewer, state wire.SessionState) (wire.FullStateSyncPayload, error) {
	payload := wire.FullStateSyncPayload{Type: wire.StateSyncFull}

	for _, spec := range m.specs {
		if spec.HashKey() == currentUserHashKey && !viewer.LoggedIn() {
			payload.CurrentUserInfo = viewer.anonymousUserInfo()
			continue
		}
		collection, err := spec.FetchFullSnapshot(ctx, viewer, state.CalendarQuery)
		if err != nil {
			return payload, fmt.Errorf("fetch %s snapshot: %w", spec.HashKey(), err)
		}
		switch spec.HashKey() {
		case threadsHashKey:
			payload.ThreadInfos = threadInfosFromCollection(collection)
		case entriesHashKey:
			payload.RawEntryInfos = entryInfosFromCollection(collection)
		case usersHashKey:
			payload.UserInfos = userInfosFromCollection(collection)
		case currentUserHashKey:
			if info, ok := collection[statesync.CurrentUserKey].(wire.CurrentUserInfo); ok {
				payload.CurrentUserInfo = info
			}
		}
	}

	messages, err := m.store.GetMessagesSince(ctx, viewer.UserID(), models.MessageSelection{
		NewerThan:  state.MessagesCurrentAsOf,
		WatchedIDs: state.WatchedIDs,
	}, models.DefaultMessagesPerThread)
	if err != nil {
		return payload, fmt.Errorf("fetch messages: %w", err)
	}
	payload.MessagesResult = messages

	payload.UpdatesCurrentAsOf = viewer.newWatermark
	if payload.UpdatesCurrentAsOf == 0 {
		payload.UpdatesCurrentAsOf = m.now().UnixMilli()
	}
	if viewer.sessionReplaced || !viewer.LoggedIn() {
		payload.SessionID = viewer.SessionID()
	}
	return payload, nil
}

func (m *Manager) incrementalResyncPayload(ctx context.Context, viewer *Viewer, state wire.SessionState, difference []wire.CalendarQuery) (wire.IncrementalStateSyncPayload, error) {
	payload := wire.IncrementalStateSyncPayload{
		Type:            wire.StateSyncIncremental,
		DeltaEntryInfos: []wire.EntryInfo{},
		DeletedEntryIDs: []string{},
		UserInfos:       []wire.UserInfo{},
	}

	delta, err := m.fetchEntryDelta(ctx, viewer, difference)
	if err != nil {
		return payload, err
	}
	payload.DeltaEntryInfos = delta.RawEntryInfos
	payload.DeletedEntryIDs = delta.DeletedEntryIDs
	payload.UserInfos = delta.UserInfos

	updates, err := m.store.GetUpdatesSince(ctx, viewer.UserID(), viewer.SessionID(), state.UpdatesCurrentAsOf)
	if err != nil {
		return payload, fmt.Errorf("fetch updates: %w", err)
	}
	payload.UpdatesResult = wire.UpdatesResult{
		NewUpdates:  updates,
		CurrentAsOf: state.UpdatesCurrentAsOf,
	}
	if len(updates) > 0 {
		payload.UpdatesResult.CurrentAsOf = updates[len(updates)-1].Time
	}

	messages, err := m.store.GetMessagesSince(ctx, viewer.UserID(), models.MessageSelection{
		NewerThan:  state.MessagesCurrentAsOf,
		WatchedIDs: state.WatchedIDs,
	}, models.DefaultMessagesPerThread)
	if err != nil {
		return payload, fmt.Errorf("fetch messages: %w", err)
	}
	payload.MessagesResult = messages
	return payload, nil
}

// withDeletedEntries strips the not_deleted filter so deletions are visible
// to the caller.
func withDeletedEntries(query wire.CalendarQuery) wire.CalendarQuery {
	filtered := query
	filtered.Filters = nil
	for _, f := range query.Filters {
		if f.Type != wire.CalendarFilterNotDeleted {
			filtered.Filters = append(filtered.Filters, f)
		}
	}
	return filtered
}

func threadInfosFromCollection(collection statesync.Collection) map[string]wire.ThreadInfo {
	infos := make(map[string]wire.ThreadInfo, len(collection))
	for id, item := range collection {
		if info, ok := item.(wire.ThreadInfo); ok {
			infos[id] = info
		}
	}
	return infos
}

func entryInfosFromCollection(collection statesync.Collection) []wire.EntryInfo {
	infos := make([]wire.EntryInfo, 0, len(collection))
	for _, item := range collection {
		if info, ok := item.(wire.EntryInfo); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

func userInfosFromCollection(collection statesync.Collection) []wire.UserInfo {
	infos := make([]wire.UserInfo, 0, len(collection))
	for _, item := range collection {
		if info, ok := item.(wire.UserInfo); ok {
			infos = append(infos, info)
		}
	}
	return infos
}
