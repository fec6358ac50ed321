package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tbalsam/ripple/internal/models"
	"github.com/tbalsam/ripple/internal/pubsub"
	"github.com/tbalsam/ripple/internal/session"
	"github.com/tbalsam/ripple/internal/wire"
)

// Endpoints bundles the dependencies the default responders need.
type Endpoints struct {
	Sessions *session.Manager
	Queries  *models.Queries
	Cookies  session.CookieStore
	Bus      pubsub.Bus
}

// NewDefaultRegistry registers the built-in endpoints. Endpoints that swap
// credentials (log_out) are deliberately not socket-safe.
func NewDefaultRegistry(deps Endpoints) *Registry {
	registry := NewRegistry()
	registry.Register("update_activity", Endpoint{
		Responder:  deps.updateActivity,
		SocketSafe: true,
	})
	registry.Register("update_calendar_query", Endpoint{
		Responder:  deps.updateCalendarQuery,
		SocketSafe: true,
	})
	registry.Register("create_text_message", Endpoint{
		Responder:  deps.createTextMessage,
		SocketSafe: true,
	})
	registry.Register("log_out", Endpoint{
		Responder:  deps.logOut,
		SocketSafe: false,
	})
	return registry
}

type updateActivityInput struct {
	ActivityUpdates []wire.ActivityUpdate `json:"activityUpdates"`
}

func (e Endpoints) updateActivity(ctx context.Context, viewer *session.Viewer, input json.RawMessage) (any, error) {
	var in updateActivityInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("parse update_activity input: %w", err)
	}
	return e.Sessions.UpdateActivity(ctx, viewer, in.ActivityUpdates)
}

type updateCalendarQueryInput struct {
	CalendarQuery wire.CalendarQuery `json:"calendarQuery"`
}

func (e Endpoints) updateCalendarQuery(ctx context.Context, viewer *session.Viewer, input json.RawMessage) (any, error) {
	var in updateCalendarQueryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("parse update_calendar_query input: %w", err)
	}
	return e.Sessions.UpdateCalendarQuery(ctx, viewer, in.CalendarQuery)
}

type createTextMessageInput struct {
	ThreadID string `json:"threadID"`
	Text     string `json:"text"`
}

type createTextMessageResult struct {
	MessageInfo wire.MessageInfo `json:"messageInfo"`
}

// textMessageType is the message-row type of a plain text message.
const textMessageType = 0

func (e Endpoints) createTextMessage(ctx context.Context, viewer *session.Viewer, input json.RawMessage) (any, error) {
	var in createTextMessageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("parse create_text_message input: %w", err)
	}
	if in.ThreadID == "" || in.Text == "" {
		return nil, fmt.Errorf("create_text_message requires threadID and text")
	}
	if !viewer.LoggedIn() {
		return nil, session.ErrNotLoggedIn
	}

	threads, err := e.Queries.GetThreadInfosByID(ctx, viewer.UserID(), []string{in.ThreadID})
	if err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}
	thread, ok := threads[in.ThreadID]
	if !ok {
		return nil, fmt.Errorf("unknown thread %s", in.ThreadID)
	}

	info := wire.MessageInfo{
		ID:       uuid.New().String(),
		ThreadID: in.ThreadID,
		UserID:   viewer.UserID(),
		Type:     textMessageType,
		Text:     in.Text,
		Time:     time.Now().UnixMilli(),
	}
	if err := e.Queries.CreateMessage(ctx, models.CreateMessageParams{
		ID:       info.ID,
		ThreadID: info.ThreadID,
		UserID:   info.UserID,
		Type:     info.Type,
		Text:     info.Text,
		Time:     info.Time,
	}); err != nil {
		return nil, err
	}

	// Fan out to every member. The author's own session is suppressed so
	// the socket does not echo a mutation the client already applied.
	for _, memberID := range thread.MemberIDs {
		event := pubsub.Event{
			Type:     pubsub.EventNewMessages,
			UserID:   memberID,
			Messages: []wire.MessageInfo{info},
		}
		if memberID == viewer.UserID() {
			event.IgnoreSession = viewer.SessionID()
		}
		if err := e.Bus.Publish(ctx, event); err != nil {
			return nil, fmt.Errorf("publish message: %w", err)
		}
	}
	return createTextMessageResult{MessageInfo: info}, nil
}

type logOutResult struct {
	CurrentUserInfo wire.CurrentUserInfo `json:"currentUserInfo"`
	Cookie          string               `json:"cookie"`
}

func (e Endpoints) logOut(ctx context.Context, viewer *session.Viewer, _ json.RawMessage) (any, error) {
	if err := e.Sessions.CleanupSession(ctx, viewer); err != nil {
		return nil, err
	}
	if viewer.LoggedIn() {
		if err := e.Queries.DeleteSession(ctx, viewer.SessionID()); err != nil {
			return nil, fmt.Errorf("delete session: %w", err)
		}
	}
	if err := e.Cookies.DeleteCookie(ctx, viewer.CookieID()); err != nil {
		return nil, fmt.Errorf("delete cookie: %w", err)
	}
	platform := ""
	if details := viewer.PlatformDetails(); details != nil {
		platform = details.Platform
	}
	credential, err := session.IssueAnonymousCookie(ctx, e.Cookies, platform, time.Now())
	if err != nil {
		return nil, err
	}
	return logOutResult{
		CurrentUserInfo: credential.CurrentUserInfo,
		Cookie:          credential.Cookie,
	}, nil
}
