package socket

import (
	"sync"

	"github.com/tbalsam/ripple/internal/wire"
)

// Producer eventually yields zero or one outbound message. A nil message
// with a nil error contributes no output but still holds its place in the
// delivery order.
type Producer func() (wire.ServerMessage, error)

// DeliveryQueue flushes produced messages strictly in submission order,
// regardless of the order the producers finish in. Add never blocks.
type DeliveryQueue struct {
	deliver func(message wire.ServerMessage)
	onError func(err error)

	mu      sync.Mutex
	pending []*queueEntry
	signal  chan struct{}
	quit    chan struct{}
	once    sync.Once
}

type queueEntry struct {
	message wire.ServerMessage
	err     error
	done    chan struct{}
}

// NewDeliveryQueue starts the flusher goroutine. deliver runs on that
// goroutine, one message at a time, in submission order.
func NewDeliveryQueue(deliver func(wire.ServerMessage), onError func(error)) *DeliveryQueue {
	q := &DeliveryQueue{
		deliver: deliver,
		onError: onError,
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go q.flush()
	return q
}

// Add enqueues a producer and runs it concurrently. The produced message
// will not be flushed before every earlier entry has been.
func (q *DeliveryQueue) Add(produce Producer) {
	entry := &queueEntry{done: make(chan struct{})}
	q.mu.Lock()
	q.pending = append(q.pending, entry)
	q.mu.Unlock()

	go func() {
		entry.message, entry.err = produce()
		close(entry.done)
	}()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// AddMessage enqueues an already-built message.
func (q *DeliveryQueue) AddMessage(message wire.ServerMessage) {
	q.Add(func() (wire.ServerMessage, error) { return message, nil })
}

// Close stops the flusher. Entries not yet flushed are dropped.
func (q *DeliveryQueue) Close() {
	q.once.Do(func() { close(q.quit) })
}

func (q *DeliveryQueue) flush() {
	for {
		entry := q.next()
		if entry == nil {
			return
		}
		select {
		case <-entry.done:
		case <-q.quit:
			return
		}
		if entry.err != nil {
			if q.onError != nil {
				q.onError(entry.err)
			}
			continue
		}
		if entry.message != nil {
			q.deliver(entry.message)
		}
	}
}

// next blocks until an entry is at the head of the queue or the queue is
// closed.
func (q *DeliveryQueue) next() *queueEntry {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			entry := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return entry
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.quit:
			return nil
		}
	}
}
