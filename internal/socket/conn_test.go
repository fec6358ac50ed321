package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tbalsam/ripple/internal/api"
	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/pubsub"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/wire"
)

// socketBackend is an in-memory stand-in for the query layer, enough to
// drive full protocol round trips.
type socketBackend struct {
	mu       sync.Mutex
	cookies  map[string]models.Cookie
	sessions map[string]models.Session
	keyCount int
}

func newSocketBackend() *socketBackend {
	return &socketBackend{
		cookies:  map[string]models.Cookie{},
		sessions: map[string]models.Session{},
		keyCount: 10,
	}
}

func (b *socketBackend) addCookie(c models.Cookie) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[c.ID] = c
}

func (b *socketBackend) session(id string) (models.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

func (b *socketBackend) GetCookie(_ context.Context, id string) (models.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cookies[id]
	if !ok {
		return models.Cookie{}, models.ErrNotFound
	}
	return c, nil
}

func (b *socketBackend) CreateCookie(_ context.Context, arg models.CreateCookieParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[arg.ID] = models.Cookie{
		ID:        arg.ID,
		UserID:    arg.UserID,
		Anonymous: arg.Anonymous,
		Secret:    arg.Secret,
		Platform:  arg.Platform,
		CreatedAt: arg.CreatedAt,
	}
	return nil
}

func (b *socketBackend) DeleteCookie(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cookies, id)
	return nil
}

func (b *socketBackend) ExtendCookieLifespan(_ context.Context, id string, now int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cookies[id]; ok {
		c.LastUsedAt = now
		b.cookies[id] = c
	}
	return nil
}

func (b *socketBackend) GetSession(_ context.Context, id string) (models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return models.Session{}, models.ErrNotFound
	}
	return s, nil
}

func (b *socketBackend) CreateSession(_ context.Context, arg models.CreateSessionParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[arg.ID] = models.Session{
		ID:            arg.ID,
		UserID:        arg.UserID,
		CookieID:      arg.CookieID,
		CalendarQuery: arg.CalendarQuery,
		LastUpdate:    arg.LastUpdate,
		LastValidated: arg.LastValidated,
		CreatedAt:     arg.CreatedAt,
	}
	return nil
}

func (b *socketBackend) CommitSessionUpdate(_ context.Context, id string, update models.SessionUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	if update.CalendarQuery != nil {
		s.CalendarQuery = *update.CalendarQuery
	}
	if update.LastUpdate != nil {
		s.LastUpdate = *update.LastUpdate
	}
	if update.LastValidated != nil {
		s.LastValidated = *update.LastValidated
	}
	b.sessions[id] = s
	return nil
}

func (b *socketBackend) DeleteSession(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

func (b *socketBackend) GetThreadInfos(context.Context, string) (map[string]wire.ThreadInfo, error) {
	return map[string]wire.ThreadInfo{}, nil
}

func (b *socketBackend) GetThreadInfosByID(context.Context, string, []string) (map[string]wire.ThreadInfo, error) {
	return map[string]wire.ThreadInfo{}, nil
}

func (b *socketBackend) GetEntryInfos(context.Context, string, wire.CalendarQuery) ([]wire.EntryInfo, error) {
	return nil, nil
}

func (b *socketBackend) GetEntryInfosByID(context.Context, string, []string) ([]wire.EntryInfo, error) {
	return nil, nil
}

func (b *socketBackend) GetKnownUserInfos(context.Context, string) (map[string]wire.UserInfo, error) {
	return map[string]wire.UserInfo{}, nil
}

func (b *socketBackend) GetUserInfosByID(context.Context, []string) (map[string]wire.UserInfo, error) {
	return map[string]wire.UserInfo{}, nil
}

func (b *socketBackend) GetCurrentUserInfo(_ context.Context, userID string) (wire.CurrentUserInfo, error) {
	return wire.CurrentUserInfo{ID: userID, Username: "user-" + userID}, nil
}

func (b *socketBackend) GetMessagesSince(_ context.Context, _ string, selection models.MessageSelection, _ int) (wire.MessagesResult, error) {
	return wire.MessagesResult{
		RawMessageInfos:    []wire.MessageInfo{},
		TruncationStatuses: map[string]string{},
		CurrentAsOf:        selection.NewerThan,
	}, nil
}

func (b *socketBackend) GetUpdatesSince(context.Context, string, string, int64) ([]wire.UpdateInfo, error) {
	return nil, nil
}

func (b *socketBackend) AckUpdates(_ context.Context, arg models.AckUpdatesParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !arg.AdvanceWatermark {
		return nil
	}
	s, ok := b.sessions[arg.SessionID]
	if !ok {
		return models.ErrNotFound
	}
	s.LastUpdate = arg.CurrentAsOf
	b.sessions[arg.SessionID] = s
	return nil
}

func (b *socketBackend) SetCookiePlatform(_ context.Context, id, platform string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cookies[id]; ok {
		c.Platform = platform
		b.cookies[id] = c
	}
	return nil
}

func (b *socketBackend) SetCookiePlatformDetails(_ context.Context, id string, details wire.PlatformDetails) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cookies[id]; ok {
		c.PlatformDetails = &details
		b.cookies[id] = c
	}
	return nil
}

func (b *socketBackend) SetCookieSignedIdentityKeysBlob(_ context.Context, id string, blob wire.SignedIdentityKeysBlob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cookies[id]; ok {
		c.SignedIdentityKeysBlob = &blob
		b.cookies[id] = c
	}
	return nil
}

func (b *socketBackend) CreateReport(context.Context, models.CreateReportParams) error {
	return nil
}

func (b *socketBackend) UpdateActivity(context.Context, models.UpdateActivityParams) (wire.UpdateActivityResult, error) {
	return wire.UpdateActivityResult{UnfocusedToUnread: []string{}}, nil
}

func (b *socketBackend) DeleteActivityForSession(context.Context, string, string) error {
	return nil
}

func (b *socketBackend) CreateOneTimeKeys(context.Context, string, []string, int64) error {
	return nil
}

func (b *socketBackend) CountOneTimeKeys(context.Context, string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keyCount, nil
}

// equippedCookie is a logged-in credential that triggers no server
// requests, keeping INITIAL responses down to the STATE_SYNC frame.
func equippedCookie(id, userID string) models.Cookie {
	return models.Cookie{
		ID:        id,
		UserID:    userID,
		Secret:    "secret-" + id,
		Platform:  "ios",
		PlatformDetails: &wire.PlatformDetails{
			Platform: "ios", CodeVersion: 30, StateVersion: 1,
		},
		SignedIdentityKeysBlob: &wire.SignedIdentityKeysBlob{
			Payload: "{}", Signature: "sig",
		},
		CreatedAt: time.Now().UnixMilli(),
	}
}

type socketHarness struct {
	backend *socketBackend
	bus     *pubsub.MemoryBus
	url     string
}

func newSocketHarness(t *testing.T) *socketHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := newSocketBackend()
	bus := pubsub.NewMemoryBus()

	registry := api.NewRegistry()
	registry.Register("echo", api.Endpoint{
		SocketSafe: true,
		Responder: func(_ context.Context, _ *session.Viewer, input json.RawMessage) (any, error) {
			return map[string]any{"echo": string(input)}, nil
		},
	})
	registry.Register("rotate_credentials", api.Endpoint{
		SocketSafe: false,
		Responder: func(context.Context, *session.Viewer, json.RawMessage) (any, error) {
			return nil, nil
		},
	})

	server := NewServer(Deps{
		Sessions:  session.NewManager(backend),
		Cookies:   backend,
		Bus:       bus,
		Endpoints: registry,
	})

	router := gin.New()
	router.GET("/ws", server.HandleWebSocket)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &socketHarness{
		backend: backend,
		bus:     bus,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (h *socketHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type serverFrame struct {
	Type          string          `json:"type"`
	ResponseTo    *int64          `json:"responseTo"`
	Message       string          `json:"message"`
	Payload       json.RawMessage `json:"payload"`
	SessionChange json.RawMessage `json:"sessionChange"`
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func initialFrame(id int64, cookie, sessionID string, updatesCurrentAsOf int64) string {
	return fmt.Sprintf(`{
		"type": "INITIAL", "id": %d,
		"payload": {
			"sessionIdentification": {"cookie": %q, "sessionID": %q},
			"sessionState": {
				"calendarQuery": {"startDate": "2026-08-01", "endDate": "2026-08-31", "filters": []},
				"messagesCurrentAsOf": 0,
				"updatesCurrentAsOf": %d,
				"watchedIDs": []
			},
			"clientResponses": []
		}
	}`, id, cookie, sessionID, updatesCurrentAsOf)
}

// connectInitialized performs a successful handshake and returns the server
// assigned session id.
func connectInitialized(t *testing.T, h *socketHarness, conn *websocket.Conn, cookiePair string) string {
	t.Helper()
	writeFrame(t, conn, initialFrame(1, cookiePair, "stale-session", 0))
	frame := readFrame(t, conn)
	require.Equal(t, "STATE_SYNC", frame.Type)
	require.NotNil(t, frame.ResponseTo)
	require.EqualValues(t, 1, *frame.ResponseTo)

	var payload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionID"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	require.Equal(t, "FULL", payload.Type)
	require.NotEmpty(t, payload.SessionID)
	return payload.SessionID
}

func TestSocketInitialHandshake(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))
	conn := h.dial(t)

	sessionID := connectInitialized(t, h, conn, "c1:secret-c1")

	// The stale session id was replaced with a server-created row.
	record, ok := h.backend.session(sessionID)
	require.True(t, ok)
	require.Equal(t, "u1", record.UserID)
	require.Equal(t, "c1", record.CookieID)

	writeFrame(t, conn, `{"type": "PING", "id": 2}`)
	frame := readFrame(t, conn)
	require.Equal(t, "PONG", frame.Type)
	require.EqualValues(t, 2, *frame.ResponseTo)
}

func TestSocketRejectsSecondInitial(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))
	conn := h.dial(t)
	connectInitialized(t, h, conn, "c1:secret-c1")

	writeFrame(t, conn, initialFrame(5, "c1:secret-c1", "", 0))
	frame := readFrame(t, conn)
	require.Equal(t, "ERROR", frame.Type)
	require.Equal(t, ErrCodeAlreadyInitialized, frame.Message)
	require.EqualValues(t, 5, *frame.ResponseTo)

	// Recoverable: the connection keeps serving.
	writeFrame(t, conn, `{"type": "PING", "id": 6}`)
	require.Equal(t, "PONG", readFrame(t, conn).Type)
}

func TestSocketRequiresInitialization(t *testing.T) {
	t.Parallel()

	// Every non-INITIAL frame type is rejected before the handshake,
	// including PING.
	firstFrames := map[string]string{
		"RESPONSES":   `{"type": "RESPONSES", "id": 1, "payload": {"clientResponses": []}}`,
		"PING":        `{"type": "PING", "id": 1}`,
		"ACK_UPDATES": `{"type": "ACK_UPDATES", "id": 1, "payload": {"currentAsOf": 100}}`,
		"API_REQUEST": `{"type": "API_REQUEST", "id": 1, "payload": {"endpoint": "echo", "input": {}}}`,
	}
	for name, first := range firstFrames {
		h := newSocketHarness(t)
		conn := h.dial(t)

		writeFrame(t, conn, first)
		frame := readFrame(t, conn)
		require.Equal(t, "ERROR", frame.Type, name)
		require.Equal(t, ErrCodeUninitialized, frame.Message, name)
		require.NotNil(t, frame.ResponseTo, name)
		require.EqualValues(t, 1, *frame.ResponseTo, name)
	}
}

func TestSocketDeauthorizedClosesWithFreshCredential(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	conn := h.dial(t)

	writeFrame(t, conn, initialFrame(1, "nope:wrong", "", 0))
	frame := readFrame(t, conn)
	require.Equal(t, "AUTH_ERROR", frame.Type)
	require.Equal(t, ErrCodeDeauthorized, frame.Message)

	var change wire.SessionChange
	require.NoError(t, json.Unmarshal(frame.SessionChange, &change))
	require.True(t, change.CurrentUserInfo.Anonymous)
	require.Contains(t, change.Cookie, ":")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, CloseDeauthorized), "got %v", err)
}

func TestSocketUnsupportedVersionDeletesCookie(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	old := equippedCookie("old", "u1")
	old.PlatformDetails.CodeVersion = 10
	h.backend.addCookie(old)
	conn := h.dial(t)

	writeFrame(t, conn, initialFrame(1, "old:secret-old", "", 0))
	frame := readFrame(t, conn)
	require.Equal(t, "AUTH_ERROR", frame.Type)
	require.Equal(t, ErrCodeClientVersionUnsupported, frame.Message)
	require.NotEmpty(t, frame.SessionChange)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, CloseClientVersionUnsupported), "got %v", err)

	h.backend.mu.Lock()
	_, stillThere := h.backend.cookies["old"]
	h.backend.mu.Unlock()
	require.False(t, stillThere)
}

func TestSocketAPIRequestPolicy(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))
	conn := h.dial(t)
	connectInitialized(t, h, conn, "c1:secret-c1")

	writeFrame(t, conn, `{"type": "API_REQUEST", "id": 2, "payload": {"endpoint": "rotate_credentials", "input": {}}}`)
	frame := readFrame(t, conn)
	require.Equal(t, "ERROR", frame.Type)
	require.Equal(t, ErrCodeEndpointUnsafe, frame.Message)

	writeFrame(t, conn, `{"type": "API_REQUEST", "id": 3, "payload": {"endpoint": "echo", "input": {"a": 1}}}`)
	frame = readFrame(t, conn)
	require.Equal(t, "API_RESPONSE", frame.Type)
	require.EqualValues(t, 3, *frame.ResponseTo)
	var echoed struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &echoed))
	require.JSONEq(t, `{"a": 1}`, echoed.Echo)
}

func TestSocketAckUpdatesAdvancesWatermark(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))
	conn := h.dial(t)
	sessionID := connectInitialized(t, h, conn, "c1:secret-c1")

	writeFrame(t, conn, `{"type": "ACK_UPDATES", "id": 2, "payload": {"currentAsOf": 4200}}`)
	// ACK_UPDATES has no response; a PONG after it proves it was handled.
	writeFrame(t, conn, `{"type": "PING", "id": 3}`)
	require.Equal(t, "PONG", readFrame(t, conn).Type)

	record, ok := h.backend.session(sessionID)
	require.True(t, ok)
	require.EqualValues(t, 4200, record.LastUpdate)
}

func TestSocketDeliversFanOutMessages(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))
	conn := h.dial(t)
	sessionID := connectInitialized(t, h, conn, "c1:secret-c1")

	// An echo of this session's own mutation must be suppressed.
	require.NoError(t, h.bus.Publish(context.Background(), pubsub.Event{
		Type:          pubsub.EventNewMessages,
		UserID:        "u1",
		IgnoreSession: sessionID,
		Messages:      []wire.MessageInfo{{ID: "m-own", ThreadID: "t1", Time: 10}},
	}))
	require.NoError(t, h.bus.Publish(context.Background(), pubsub.Event{
		Type:     pubsub.EventNewMessages,
		UserID:   "u1",
		Messages: []wire.MessageInfo{{ID: "m-other", ThreadID: "t1", Time: 20}},
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "MESSAGES", frame.Type)
	require.Contains(t, string(frame.Payload), "m-other")
	require.NotContains(t, string(frame.Payload), "m-own")
}

func TestSocketTakeoverTerminatesPreviousConnection(t *testing.T) {
	t.Parallel()

	h := newSocketHarness(t)
	h.backend.addCookie(equippedCookie("c1", "u1"))

	first := h.dial(t)
	sessionID := connectInitialized(t, h, first, "c1:secret-c1")

	// Advance the session watermark so a reconnect can continue the same
	// session instead of starting a fresh one.
	writeFrame(t, first, `{"type": "ACK_UPDATES", "id": 2, "payload": {"currentAsOf": 4200}}`)
	writeFrame(t, first, `{"type": "PING", "id": 3}`)
	require.Equal(t, "PONG", readFrame(t, first).Type)

	second := h.dial(t)
	writeFrame(t, second, initialFrame(1, "c1:secret-c1", sessionID, 4200))
	frame := readFrame(t, second)
	require.Equal(t, "STATE_SYNC", frame.Type)
	var payload struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	require.Equal(t, "INCREMENTAL", payload.Type)

	// The takeover announcement terminates the previous holder.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
}
