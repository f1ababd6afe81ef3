package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"writecheck/pkg/auth"
)

const defaultChannelPrefix = "writecheck"

var errPubSubClosed = errors.New("redis pubsub channel closed")

// RedisTransport subscribes to record updates fanned out over Redis pub/sub.
// Channels are scoped by the token subject.
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisTransport connects to Redis and verifies the connection.
func NewRedisTransport(addr, password, prefix string, logger *slog.Logger) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{client: client, prefix: prefix, logger: logger}, nil
}

// Close closes the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

// ChannelName returns the pub/sub channel for a user's feed.
func ChannelName(prefix, user string, ch Channel) string {
	if ch.Kind == KindDetail {
		return fmt.Sprintf("%s:%s:writing:%d", prefix, user, ch.WritingID)
	}
	return fmt.Sprintf("%s:%s:writings", prefix, user)
}

// Publish sends payload to a user's feed.
func (t *RedisTransport) Publish(ctx context.Context, user string, ch Channel, payload []byte) error {
	return t.client.Publish(ctx, ChannelName(t.prefix, user, ch), payload).Err()
}

// Subscribe opens a pub/sub subscription for the token's user and waits for
// the server to confirm it.
func (t *RedisTransport) Subscribe(ctx context.Context, token string, ch Channel, h Handler) (Subscription, error) {
	claims, err := auth.Inspect(token)
	if err != nil {
		return nil, fmt.Errorf("resolve subscriber: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("resolve subscriber: token has no subject")
	}
	name := ChannelName(t.prefix, claims.Subject, ch)
	ps := t.client.Subscribe(ctx, name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go sub.readLoop(ps.Channel(), h)
	t.logger.Debug("redis subscription confirmed", "channel", name)
	return sub, nil
}

type redisSubscription struct {
	ps      *redis.PubSub
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (s *redisSubscription) readLoop(msgs <-chan *redis.Message, h Handler) {
	defer close(s.done)
	for msg := range msgs {
		if h.OnMessage != nil {
			h.OnMessage([]byte(msg.Payload))
		}
	}
	if !s.closing.Load() && h.OnClose != nil {
		h.OnClose(errPubSubClosed)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		err = s.ps.Close()
		select {
		case <-s.done:
		case <-time.After(closeWait):
		}
	})
	return err
}
