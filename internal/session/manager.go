package session

import (
	"context"
	"time"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/statesync"
	"github.com/tbalsam/ripple/internal/wire"
)

// StateCheckFrequency is how often a logged-in session gets a proactive
// consistency check.
const StateCheckFrequency = 3 * time.Minute

// oneTimeKeyRefillThreshold is the banked-key count below which the server
// asks for more.
const oneTimeKeyRefillThreshold = 5

// Store is the persistence surface the session layer drives. *models.Queries
// satisfies it.
type Store interface {
	statesync.Store

	GetSession(ctx context.Context, id string) (models.Session, error)
	CreateSession(ctx context.Context, arg models.CreateSessionParams) error
	CommitSessionUpdate(ctx context.Context, id string, update models.SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error

	GetMessagesSince(ctx context.Context, userID string, selection models.MessageSelection, perThread int) (wire.MessagesResult, error)
	GetUpdatesSince(ctx context.Context, userID, sessionID string, since int64) ([]wire.UpdateInfo, error)
	AckUpdates(ctx context.Context, arg models.AckUpdatesParams) error

	SetCookiePlatform(ctx context.Context, id, platform string) error
	SetCookiePlatformDetails(ctx context.Context, id string, details wire.PlatformDetails) error
	SetCookieSignedIdentityKeysBlob(ctx context.Context, id string, blob wire.SignedIdentityKeysBlob) error

	CreateReport(ctx context.Context, arg models.CreateReportParams) error
	UpdateActivity(ctx context.Context, arg models.UpdateActivityParams) (wire.UpdateActivityResult, error)
	DeleteActivityForSession(ctx context.Context, userID, sessionID string) error
	CreateOneTimeKeys(ctx context.Context, cookieID string, keys []string, now int64) error
	CountOneTimeKeys(ctx context.Context, cookieID string) (int, error)
}

// Manager coordinates session continuation, client-response processing and
// consistency checks for socket connections.
type Manager struct {
	store Store
	specs []statesync.Spec

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a session manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		specs: statesync.Specs(store),
		now:   time.Now,
	}
}

// AckUpdates deletes delivered updates targeting the session and advances
// its watermark, both in one store transaction so a failure applies
// neither. Repeating the same ack is a no-op.
func (m *Manager) AckUpdates(ctx context.Context, viewer *Viewer, currentAsOf int64) error {
	return m.store.AckUpdates(ctx, models.AckUpdatesParams{
		UserID:           viewer.UserID(),
		SessionID:        viewer.SessionID(),
		CurrentAsOf:      currentAsOf,
		AdvanceWatermark: viewer.LoggedIn(),
	})
}

// CleanupSession releases per-session activity tracking on socket close.
func (m *Manager) CleanupSession(ctx context.Context, viewer *Viewer) error {
	return m.store.DeleteActivityForSession(ctx, viewer.UserID(), viewer.SessionID())
}

// UpdateActivity applies focus changes reported over the socket.
func (m *Manager) UpdateActivity(ctx context.Context, viewer *Viewer, updates []wire.ActivityUpdate) (wire.UpdateActivityResult, error) {
	return m.store.UpdateActivity(ctx, models.UpdateActivityParams{
		UserID:    viewer.UserID(),
		SessionID: viewer.SessionID(),
		Updates:   updates,
		Now:       m.now().UnixMilli(),
	})
}
