package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbalsam/ripple/internal/wire"
)

func TestMemoryBusDeliversUpdatesToUserSubscribers(t *testing.T) {
	bus := NewMemoryBus()

	var received []Event
	sub, err := bus.Subscribe("100", "session-1", func(event Event) {
		received = append(received, event)
	})
	require.NoError(t, err)
	defer sub.Close()

	err = bus.Publish(context.Background(), Event{
		Type:    EventNewUpdates,
		UserID:  "100",
		Updates: []wire.UpdateInfo{{ID: "u1", Type: "update_thread", Time: 1000}},
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, EventNewUpdates, received[0].Type)
	require.Len(t, received[0].Updates, 1)
}

func TestMemoryBusDoesNotCrossUsers(t *testing.T) {
	bus := NewMemoryBus()

	delivered := false
	sub, err := bus.Subscribe("100", "session-1", func(Event) { delivered = true })
	require.NoError(t, err)
	defer sub.Close()

	err = bus.Publish(context.Background(), Event{Type: EventNewMessages, UserID: "200"})
	require.NoError(t, err)
	require.False(t, delivered)
}

func TestMemoryBusSuppressesEchoToOriginSession(t *testing.T) {
	bus := NewMemoryBus()

	var originEvents, otherEvents []Event
	originSub, err := bus.Subscribe("100", "session-origin", func(event Event) {
		originEvents = append(originEvents, event)
	})
	require.NoError(t, err)
	defer originSub.Close()

	otherSub, err := bus.Subscribe("100", "session-other", func(event Event) {
		otherEvents = append(otherEvents, event)
	})
	require.NoError(t, err)
	defer otherSub.Close()

	// A mutation performed by session-origin over REST fans out to every
	// other session of the user, but never back to its own socket.
	err = bus.Publish(context.Background(), Event{
		Type:          EventNewUpdates,
		UserID:        "100",
		IgnoreSession: "session-origin",
		Updates:       []wire.UpdateInfo{{ID: "u1", Time: 1000}},
	})
	require.NoError(t, err)

	require.Empty(t, originEvents)
	require.Len(t, otherEvents, 1)
}

func TestMemoryBusTakeoverTerminatesPreviousSubscriber(t *testing.T) {
	bus := NewMemoryBus()

	var firstEvents []Event
	first, err := bus.Subscribe("100", "session-1", func(event Event) {
		firstEvents = append(firstEvents, event)
	})
	require.NoError(t, err)
	defer first.Close()

	var secondEvents []Event
	second, err := bus.Subscribe("100", "session-1", func(event Event) {
		secondEvents = append(secondEvents, event)
	})
	require.NoError(t, err)
	defer second.Close()

	// The first holder sees the takeover; the new one must not terminate
	// itself.
	require.Len(t, firstEvents, 1)
	require.Equal(t, EventStartSubscription, firstEvents[0].Type)
	require.Empty(t, secondEvents)
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()

	delivered := 0
	sub, err := bus.Subscribe("100", "session-1", func(Event) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventNewMessages, UserID: "100"}))
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventNewMessages, UserID: "100"}))

	require.Equal(t, 1, delivered)
}
