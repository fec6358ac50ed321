package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbalsam/ripple/internal/crypto"
	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/wire"
)

// MinimumCodeVersion is the oldest client build the socket will speak to.
// Older builds get AUTH_ERROR and close code 4101.
const MinimumCodeVersion = 24

// userInfosHashCodeVersion is the first client build that checks user-info
// hashes itself; older builds need user infos backfilled alongside thread
// and entry repairs.
const userInfosHashCodeVersion = 59

// cookieSecretBytes is the random byte length of cookie secrets.
const cookieSecretBytes = 32

// Viewer is the authenticated identity behind one socket connection. It
// satisfies statesync.Principal.
type Viewer struct {
	cookie    models.Cookie
	sessionID string

	// calendarQuery tracks the session's recorded query; continuation
	// swaps it for the client-declared one once accepted.
	calendarQuery wire.CalendarQuery

	// Continuation bookkeeping, maintained by the session manager.
	newWatermark    int64
	lastValidated   int64
	sessionReplaced bool
}

func (v *Viewer) UserID() string {
	if v.cookie.Anonymous {
		return v.cookie.ID
	}
	return v.cookie.UserID
}

func (v *Viewer) SessionID() string                 { return v.sessionID }
func (v *Viewer) CookieID() string                  { return v.cookie.ID }
func (v *Viewer) LoggedIn() bool                    { return !v.cookie.Anonymous }
func (v *Viewer) CalendarQuery() wire.CalendarQuery { return v.calendarQuery }

func (v *Viewer) SetCalendarQuery(query wire.CalendarQuery) { v.calendarQuery = query }

// LastValidated is the ms timestamp of the last completed consistency
// check, used to schedule the next proactive one.
func (v *Viewer) LastValidated() int64 { return v.lastValidated }

// startFreshSession discards the session id the client presented and mints
// a new one, adopting the client-declared query.
func (v *Viewer) startFreshSession(query wire.CalendarQuery) {
	v.sessionID = uuid.NewString()
	v.calendarQuery = query
	v.sessionReplaced = true
}

// PlatformDetails returns the build info the cookie has recorded, or nil if
// the client never reported any.
func (v *Viewer) PlatformDetails() *wire.PlatformDetails { return v.cookie.PlatformDetails }

// SetPlatformDetails mirrors a freshly persisted PLATFORM_DETAILS response
// so version gates on this connection see it without a refetch.
func (v *Viewer) SetPlatformDetails(details wire.PlatformDetails) {
	v.cookie.PlatformDetails = &details
}

// HasMinCodeVersion reports whether the client build is at least version.
// Clients that never reported details are assumed current, matching the
// web client which has no code version.
func (v *Viewer) HasMinCodeVersion(version int) bool {
	if v.cookie.PlatformDetails == nil || v.cookie.PlatformDetails.CodeVersion == 0 {
		return true
	}
	return v.cookie.PlatformDetails.CodeVersion >= version
}

// HasSignedIdentityKeysBlob reports whether the cookie carries a verified
// identity-key blob.
func (v *Viewer) HasSignedIdentityKeysBlob() bool {
	return v.cookie.SignedIdentityKeysBlob != nil
}

// CurrentUserInfo derives the scalar user record for this viewer without a
// database round trip. Only valid for anonymous viewers, whose identity is
// the cookie itself.
func (v *Viewer) anonymousUserInfo() wire.CurrentUserInfo {
	return wire.CurrentUserInfo{ID: v.cookie.ID, Anonymous: true}
}

// CookieStore is the credential persistence surface viewer authentication
// needs.
type CookieStore interface {
	GetCookie(ctx context.Context, id string) (models.Cookie, error)
	CreateCookie(ctx context.Context, arg models.CreateCookieParams) error
	DeleteCookie(ctx context.Context, id string) error
	ExtendCookieLifespan(ctx context.Context, id string, now int64) error
}

// FetchViewer validates the cookie pair presented in a socket INITIAL frame
// and returns the viewer it authenticates. The cookie's lifespan is
// extended as a side effect, matching what HTTP requests do via headers.
func FetchViewer(ctx context.Context, store CookieStore, ident wire.SessionIdentification, now time.Time) (*Viewer, error) {
	cookieID, secret, ok := splitCookiePair(ident.Cookie)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	cookie, err := store.GetCookie(ctx, cookieID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("fetch cookie: %w", err)
	}
	if cookie.Secret != secret {
		return nil, ErrInvalidCredentials
	}
	if err := store.ExtendCookieLifespan(ctx, cookie.ID, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("extend cookie lifespan: %w", err)
	}

	sessionID := ident.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Viewer{cookie: cookie, sessionID: sessionID}, nil
}

// VerifyClientSupported gates the connection on the reported client build.
func VerifyClientSupported(viewer *Viewer) error {
	if !viewer.HasMinCodeVersion(MinimumCodeVersion) {
		return ErrClientVersionUnsupported
	}
	return nil
}

// CookiePair formats a credential for transmission to the client.
func CookiePair(cookieID, secret string) string {
	return cookieID + ":" + secret
}

func splitCookiePair(pair string) (cookieID, secret string, ok bool) {
	cookieID, secret, ok = strings.Cut(pair, ":")
	if !ok || cookieID == "" || secret == "" {
		return "", "", false
	}
	return cookieID, secret, true
}

// AnonymousCredential is a freshly issued anonymous cookie, handed to
// clients whose previous credential was invalidated.
type AnonymousCredential struct {
	Cookie          string
	CurrentUserInfo wire.CurrentUserInfo
}

// IssueAnonymousCookie mints a replacement anonymous credential. Used by
// the socket_deauthorized and client_version_unsupported teardown paths and
// by first-contact REST clients.
func IssueAnonymousCookie(ctx context.Context, store CookieStore, platform string, now time.Time) (*AnonymousCredential, error) {
	secretBytes, err := crypto.RandBytes(make([]byte, cookieSecretBytes))
	if err != nil {
		return nil, fmt.Errorf("generate cookie secret: %w", err)
	}
	secret := crypto.BytesToBase64(secretBytes)
	cookieID := uuid.NewString()
	err = store.CreateCookie(ctx, models.CreateCookieParams{
		ID:        cookieID,
		Anonymous: true,
		Secret:    secret,
		Platform:  platform,
		CreatedAt: now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("create anonymous cookie: %w", err)
	}
	return &AnonymousCredential{
		Cookie:          CookiePair(cookieID, secret),
		CurrentUserInfo: wire.CurrentUserInfo{ID: cookieID, Anonymous: true},
	}, nil
}
