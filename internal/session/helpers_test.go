package session

import (
	"context"
	"time"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/wire"
)

// fakeStore implements Store with overridable behavior per method. Methods
// without an override return empty results so tests only spell out what
// they care about.
type fakeStore struct {
	getThreadInfos     func(ctx context.Context, userID string) (map[string]wire.ThreadInfo, error)
	getThreadInfosByID func(ctx context.Context, userID string, ids []string) (map[string]wire.ThreadInfo, error)
	getEntryInfos      func(ctx context.Context, userID string, query wire.CalendarQuery) ([]wire.EntryInfo, error)
	getEntryInfosByID  func(ctx context.Context, userID string, ids []string) ([]wire.EntryInfo, error)
	getKnownUserInfos  func(ctx context.Context, userID string) (map[string]wire.UserInfo, error)
	getUserInfosByID   func(ctx context.Context, ids []string) (map[string]wire.UserInfo, error)
	getCurrentUserInfo func(ctx context.Context, userID string) (wire.CurrentUserInfo, error)

	getSession          func(ctx context.Context, id string) (models.Session, error)
	createSession       func(ctx context.Context, arg models.CreateSessionParams) error
	commitSessionUpdate func(ctx context.Context, id string, update models.SessionUpdate) error
	deleteSession       func(ctx context.Context, id string) error

	getMessagesSince func(ctx context.Context, userID string, selection models.MessageSelection, perThread int) (wire.MessagesResult, error)
	getUpdatesSince  func(ctx context.Context, userID, sessionID string, since int64) ([]wire.UpdateInfo, error)
	ackUpdates       func(ctx context.Context, arg models.AckUpdatesParams) error

	setCookiePlatform               func(ctx context.Context, id, platform string) error
	setCookiePlatformDetails        func(ctx context.Context, id string, details wire.PlatformDetails) error
	setCookieSignedIdentityKeysBlob func(ctx context.Context, id string, blob wire.SignedIdentityKeysBlob) error

	createReport             func(ctx context.Context, arg models.CreateReportParams) error
	updateActivity           func(ctx context.Context, arg models.UpdateActivityParams) (wire.UpdateActivityResult, error)
	deleteActivityForSession func(ctx context.Context, userID, sessionID string) error
	createOneTimeKeys        func(ctx context.Context, cookieID string, keys []string, now int64) error
	countOneTimeKeys         func(ctx context.Context, cookieID string) (int, error)
}

func (f *fakeStore) GetThreadInfos(ctx context.Context, userID string) (map[string]wire.ThreadInfo, error) {
	if f.getThreadInfos != nil {
		return f.getThreadInfos(ctx, userID)
	}
	return map[string]wire.ThreadInfo{}, nil
}

func (f *fakeStore) GetThreadInfosByID(ctx context.Context, userID string, ids []string) (map[string]wire.ThreadInfo, error) {
	if f.getThreadInfosByID != nil {
		return f.getThreadInfosByID(ctx, userID, ids)
	}
	return map[string]wire.ThreadInfo{}, nil
}

func (f *fakeStore) GetEntryInfos(ctx context.Context, userID string, query wire.CalendarQuery) ([]wire.EntryInfo, error) {
	if f.getEntryInfos != nil {
		return f.getEntryInfos(ctx, userID, query)
	}
	return nil, nil
}

func (f *fakeStore) GetEntryInfosByID(ctx context.Context, userID string, ids []string) ([]wire.EntryInfo, error) {
	if f.getEntryInfosByID != nil {
		return f.getEntryInfosByID(ctx, userID, ids)
	}
	return nil, nil
}

func (f *fakeStore) GetKnownUserInfos(ctx context.Context, userID string) (map[string]wire.UserInfo, error) {
	if f.getKnownUserInfos != nil {
		return f.getKnownUserInfos(ctx, userID)
	}
	return map[string]wire.UserInfo{}, nil
}

func (f *fakeStore) GetUserInfosByID(ctx context.Context, ids []string) (map[string]wire.UserInfo, error) {
	if f.getUserInfosByID != nil {
		return f.getUserInfosByID(ctx, ids)
	}
	return map[string]wire.UserInfo{}, nil
}

func (f *fakeStore) GetCurrentUserInfo(ctx context.Context, userID string) (wire.CurrentUserInfo, error) {
	if f.getCurrentUserInfo != nil {
		return f.getCurrentUserInfo(ctx, userID)
	}
	return wire.CurrentUserInfo{ID: userID}, nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	if f.getSession != nil {
		return f.getSession(ctx, id)
	}
	return models.Session{}, models.ErrNotFound
}

func (f *fakeStore) CreateSession(ctx context.Context, arg models.CreateSessionParams) error {
	if f.createSession != nil {
		return f.createSession(ctx, arg)
	}
	return nil
}

func (f *fakeStore) CommitSessionUpdate(ctx context.Context, id string, update models.SessionUpdate) error {
	if f.commitSessionUpdate != nil {
		return f.commitSessionUpdate(ctx, id, update)
	}
	return nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id string) error {
	if f.deleteSession != nil {
		return f.deleteSession(ctx, id)
	}
	return nil
}

func (f *fakeStore) GetMessagesSince(ctx context.Context, userID string, selection models.MessageSelection, perThread int) (wire.MessagesResult, error) {
	if f.getMessagesSince != nil {
		return f.getMessagesSince(ctx, userID, selection, perThread)
	}
	return wire.MessagesResult{
		RawMessageInfos:    []wire.MessageInfo{},
		TruncationStatuses: map[string]string{},
		CurrentAsOf:        selection.NewerThan,
	}, nil
}

func (f *fakeStore) GetUpdatesSince(ctx context.Context, userID, sessionID string, since int64) ([]wire.UpdateInfo, error) {
	if f.getUpdatesSince != nil {
		return f.getUpdatesSince(ctx, userID, sessionID, since)
	}
	return nil, nil
}

func (f *fakeStore) AckUpdates(ctx context.Context, arg models.AckUpdatesParams) error {
	if f.ackUpdates != nil {
		return f.ackUpdates(ctx, arg)
	}
	return nil
}

func (f *fakeStore) SetCookiePlatform(ctx context.Context, id, platform string) error {
	if f.setCookiePlatform != nil {
		return f.setCookiePlatform(ctx, id, platform)
	}
	return nil
}

func (f *fakeStore) SetCookiePlatformDetails(ctx context.Context, id string, details wire.PlatformDetails) error {
	if f.setCookiePlatformDetails != nil {
		return f.setCookiePlatformDetails(ctx, id, details)
	}
	return nil
}

func (f *fakeStore) SetCookieSignedIdentityKeysBlob(ctx context.Context, id string, blob wire.SignedIdentityKeysBlob) error {
	if f.setCookieSignedIdentityKeysBlob != nil {
		return f.setCookieSignedIdentityKeysBlob(ctx, id, blob)
	}
	return nil
}

func (f *fakeStore) CreateReport(ctx context.Context, arg models.CreateReportParams) error {
	if f.createReport != nil {
		return f.createReport(ctx, arg)
	}
	return nil
}

func (f *fakeStore) UpdateActivity(ctx context.Context, arg models.UpdateActivityParams) (wire.UpdateActivityResult, error) {
	if f.updateActivity != nil {
		return f.updateActivity(ctx, arg)
	}
	return wire.UpdateActivityResult{UnfocusedToUnread: []string{}}, nil
}

func (f *fakeStore) DeleteActivityForSession(ctx context.Context, userID, sessionID string) error {
	if f.deleteActivityForSession != nil {
		return f.deleteActivityForSession(ctx, userID, sessionID)
	}
	return nil
}

func (f *fakeStore) CreateOneTimeKeys(ctx context.Context, cookieID string, keys []string, now int64) error {
	if f.createOneTimeKeys != nil {
		return f.createOneTimeKeys(ctx, cookieID, keys, now)
	}
	return nil
}

func (f *fakeStore) CountOneTimeKeys(ctx context.Context, cookieID string) (int, error) {
	if f.countOneTimeKeys != nil {
		return f.countOneTimeKeys(ctx, cookieID)
	}
	return oneTimeKeyRefillThreshold, nil
}

// newTestManager wires a manager over the fake store with a fixed clock.
func newTestManager(store *fakeStore, at time.Time) *Manager {
	m := NewManager(store)
	m.now = func() time.Time { return at }
	return m
}

func loggedInViewer(userID, sessionID string) *Viewer {
	return &Viewer{
		cookie: models.Cookie{
			ID:     "cookie-" + userID,
			UserID: userID,
			Secret: "secret",
			SignedIdentityKeysBlob: &wire.SignedIdentityKeysBlob{
				Payload:   "{}",
				Signature: "sig",
			},
			PlatformDetails: &wire.PlatformDetails{Platform: "ios", CodeVersion: 80},
			Platform:        "ios",
		},
		sessionID: sessionID,
	}
}

func anonymousViewer(cookieID, sessionID string) *Viewer {
	return &Viewer{
		cookie: models.Cookie{
			ID:        cookieID,
			Anonymous: true,
			Secret:    "secret",
		},
		sessionID: sessionID,
	}
}
