package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"github.com/tbalsam/ripple/internal/logger"
)

// RedisBus fans events out across processes over Redis pub/sub.
type RedisBus struct {
	pool *redis.Pool
	addr string
}

// NewRedisBus creates a bus over a Redis connection pool.
func NewRedisBus(addr string) *RedisBus {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisBus{pool: pool, addr: addr}
}

// Close releases the connection pool.
func (b *RedisBus) Close() error {
	return b.pool.Close()
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Do("PUBLISH", channelFor(event), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", channelFor(event), err)
	}
	return nil
}

type redisSubscription struct {
	psc  redis.PubSubConn
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if err := s.psc.Unsubscribe(); err != nil {
		return err
	}
	return s.psc.Close()
}

func (b *RedisBus) Subscribe(userID, sessionID string, handler Handler) (Subscription, error) {
	conn, err := redis.Dial("tcp", b.addr)
	if err != nil {
		return nil, fmt.Errorf("redis dial: %w", err)
	}
	token := uuid.NewString()

	// Announce the takeover before subscribing so the announcement cannot
	// loop back to the new subscriber.
	err = b.Publish(context.Background(), Event{
		Type:       EventStartSubscription,
		SessionID:  sessionID,
		Subscriber: token,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(userChannel(userID), sessionChannel(sessionID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSubscription{psc: psc, done: make(chan struct{})}
	go func() {
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				var event Event
				if err := json.Unmarshal(v.Data, &event); err != nil {
					logger.Warnf("dropping malformed pubsub event on %s: %v", v.Channel, err)
					continue
				}
				if deliverable(event, sessionID, token) {
					handler(event)
				}
			case redis.Subscription:
				// Subscribe/unsubscribe confirmations need no handling.
			case error:
				select {
				case <-sub.done:
				default:
					logger.Errorf("pubsub receive for user %s: %v", userID, v)
				}
				return
			}
		}
	}()
	return sub, nil
}
