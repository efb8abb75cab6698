package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/metrics"
)

const (
	relayChannel    = "queuecall:changes"
	relayBuffer     = 256
	relaySendWindow = 2 * time.Second
)

// relayMessage wraps a change with the instance that produced it.
type relayMessage struct {
	Origin string          `json:"origin"`
	Change *counter.Change `json:"change"`
}

// RedisRelay mirrors changes between server instances over Redis Pub/Sub so
// displays connected to one instance see counters driven from another.
// Each counter is driven by the instance holding its lease.
type RedisRelay struct {
	rdb      *redis.Client
	instance string
	out      chan []byte
	log      *logrus.Logger
}

// NewRedisRelay connects to the Redis server at url.
func NewRedisRelay(url string, log *logrus.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	return &RedisRelay{
		rdb:      redis.NewClient(opt),
		instance: uuid.New().String(),
		out:      make(chan []byte, relayBuffer),
		log:      log,
	}, nil
}

// Client returns the underlying Redis client.
func (r *RedisRelay) Client() *redis.Client { return r.rdb }

// Instance returns the id this instance tags its relayed changes with.
func (r *RedisRelay) Instance() string { return r.instance }

// Ping verifies the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Send queues a change for publication without blocking the caller.
func (r *RedisRelay) Send(ch *counter.Change) {
	data, err := json.Marshal(relayMessage{Origin: r.instance, Change: ch})
	if err != nil {
		r.log.WithError(err).Error("encoding relay message")
		return
	}

	select {
	case r.out <- data:
	default:
		r.log.Warn("relay queue full, dropping change")
	}
}

// Run publishes queued changes and applies changes from other instances
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, apply func(*counter.Change)) error {
	ps := r.rdb.Subscribe(ctx, relayChannel)
	defer ps.Close() //nolint:errcheck // best-effort on shutdown

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", relayChannel, err)
	}

	r.log.WithField("channel", relayChannel).Info("relay subscribed")

	in := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-r.out:
			r.publish(ctx, data)
		case msg, ok := <-in:
			if !ok {
				return fmt.Errorf("relay subscription closed")
			}

			if ch, ok := r.decode(msg.Payload); ok {
				metrics.RelayMessages.WithLabelValues("in").Inc()
				apply(ch)
			}
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, relaySendWindow)
	defer cancel()

	if err := r.rdb.Publish(ctx, relayChannel, data).Err(); err != nil {
		r.log.WithError(err).Warn("relay publish failed")
		return
	}

	metrics.RelayMessages.WithLabelValues("out").Inc()
}

// decode parses a relay payload, skipping this instance's own messages.
func (r *RedisRelay) decode(payload string) (*counter.Change, bool) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.log.WithError(err).Warn("dropping malformed relay message")
		return nil, false
	}

	if msg.Origin == r.instance || msg.Change == nil {
		return nil, false
	}

	return msg.Change, true
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
