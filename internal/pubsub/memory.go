package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is the in-process Bus used for single-node deployments and
// tests.
type MemoryBus struct {
	mu       sync.RWMutex
	channels map[string][]*memorySubscription
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string][]*memorySubscription)}
}

type memorySubscription struct {
	bus       *MemoryBus
	token     string
	sessionID string
	channels  []string
	handler   Handler
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for _, channel := range s.channels {
		subs := s.bus.channels[channel]
		for i, sub := range subs {
			if sub == s {
				s.bus.channels[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(s.bus.channels[channel]) == 0 {
			delete(s.bus.channels, channel)
		}
	}
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, len(b.channels[channelFor(event)]))
	copy(subs, b.channels[channelFor(event)])
	b.mu.RUnlock()

	for _, sub := range subs {
		if deliverable(event, sub.sessionID, sub.token) {
			sub.handler(event)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(userID, sessionID string, handler Handler) (Subscription, error) {
	sub := &memorySubscription{
		bus:       b,
		token:     uuid.NewString(),
		sessionID: sessionID,
		channels:  []string{userChannel(userID), sessionChannel(sessionID)},
		handler:   handler,
	}

	// Announce the takeover before registering so the announcement cannot
	// loop back to the new subscriber.
	err := b.Publish(context.Background(), Event{
		Type:       EventStartSubscription,
		SessionID:  sessionID,
		Subscriber: sub.token,
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	for _, channel := range sub.channels {
		b.channels[channel] = append(b.channels[channel], sub)
	}
	b.mu.Unlock()
	return sub, nil
}
