package vocabulary

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
)

// Channel is the Redis pub/sub channel carrying vocabulary versions.
const Channel = "venuescout:vocabulary"

const resubscribeDelay = 2 * time.Second

// NewRedisPool creates a connection pool for a redis:// URL.
func NewRedisPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url,
				redis.DialConnectTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// RedisNotifier publishes vocabulary versions on Channel.
type RedisNotifier struct {
	pool    *redis.Pool
	channel string
}

// NewRedisNotifier creates a notifier backed by pool.
func NewRedisNotifier(pool *redis.Pool) *RedisNotifier {
	return &RedisNotifier{pool: pool, channel: Channel}
}

// Publish announces version to every subscriber.
func (n *RedisNotifier) Publish(ctx context.Context, version int64) error {
	conn, err := n.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "PUBLISH", n.channel, version); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscriber invalidates a Manager's cache when another process announces a newer version.
type Subscriber struct {
	log     zerolog.Logger
	pool    *redis.Pool
	manager *Manager
	stopCh  chan struct{}
	doneCh  chan struct{}
	channel string
	mu      sync.Mutex
	running bool
}

// NewSubscriber creates a subscriber for manager.
func NewSubscriber(pool *redis.Pool, manager *Manager, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		pool:    pool,
		manager: manager,
		channel: Channel,
		log:     log.With().Str("component", "vocabulary-subscriber").Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start listens until ctx is cancelled or Stop is called, resubscribing after errors.
// This should be called in a goroutine.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	for {
		if err := s.listen(ctx); err != nil {
			s.log.Warn().Err(err).Msg("vocabulary subscription dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// Stop ends the subscription and waits for Start to return.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *Subscriber) listen(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	psc := redis.PubSubConn{Conn: conn}
	defer psc.Close()

	if err := psc.Subscribe(s.channel); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-done:
			return
		}
		_ = psc.Unsubscribe()
	}()

	for {
		switch msg := psc.Receive().(type) {
		case redis.Message:
			s.handle(msg.Data)
		case redis.Subscription:
			if msg.Kind == "subscribe" {
				s.log.Info().Str("channel", msg.Channel).Msg("subscribed to vocabulary updates")
			}
			if msg.Count == 0 {
				return nil
			}
		case error:
			return msg
		}
	}
}

// handle applies one announced version.
func (s *Subscriber) handle(payload []byte) {
	version, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		s.log.Warn().Str("payload", string(payload)).Msg("bad vocabulary version payload")
		return
	}
	if s.manager.ObserveVersion(version) {
		s.log.Debug().Int64("version", version).Msg("vocabulary cache invalidated by peer")
	}
}
