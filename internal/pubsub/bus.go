// Package pubsub fans out update and message notifications to the socket
// holding a (user, session) subscription, across process boundaries when a
// Redis deployment is configured.
package pubsub

import (
	"context"

	"github.com/tbalsam/ripple/internal/wire"
)

// EventType tags fan-out events.
type EventType string

const (
	// EventNewUpdates announces freshly persisted updates for a user.
	EventNewUpdates EventType = "NEW_UPDATES"
	// EventNewMessages announces freshly persisted messages for a user.
	EventNewMessages EventType = "NEW_MESSAGES"
	// EventStartSubscription announces that another connection took over
	// a session's subscription. The previous holder must terminate.
	EventStartSubscription EventType = "START_SUBSCRIPTION"
)

// Event is one fan-out notification.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userID,omitempty"`
	SessionID string    `json:"sessionID,omitempty"`

	// IgnoreSession suppresses delivery to the session that caused the
	// change, so a client acting over REST while socket-connected does
	// not see an echo of its own mutation.
	IgnoreSession string `json:"ignoreSession,omitempty"`

	// Subscriber identifies the subscription that published a takeover,
	// so it does not terminate itself.
	Subscriber string `json:"subscriber,omitempty"`

	Updates  []wire.UpdateInfo  `json:"updates,omitempty"`
	Messages []wire.MessageInfo `json:"messages,omitempty"`
}

// Handler receives delivered events. It must not block; heavy work belongs
// on the receiving socket's delivery queue.
type Handler func(event Event)

// Subscription is a live (user, session) registration.
type Subscription interface {
	Close() error
}

// Bus is the fan-out transport. Update and message events address the
// user's channel; takeover events address the session's channel.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe registers for the user's and session's channels and
	// announces a takeover for the session, terminating any previous
	// subscriber. At most one live subscription per session exists.
	Subscribe(userID, sessionID string, handler Handler) (Subscription, error)
}

// deliverable centralizes the suppression rules shared by every bus
// implementation.
func deliverable(event Event, sessionID, subscriberToken string) bool {
	if event.IgnoreSession != "" && event.IgnoreSession == sessionID {
		return false
	}
	if event.Type == EventStartSubscription && event.Subscriber == subscriberToken {
		return false
	}
	return true
}

func userChannel(userID string) string       { return "ripple.user." + userID }
func sessionChannel(sessionID string) string { return "ripple.session." + sessionID }

// channelFor routes an event to the channel its type addresses.
func channelFor(event Event) string {
	if event.Type == EventStartSubscription {
		return sessionChannel(event.SessionID)
	}
	return userChannel(event.UserID)
}
