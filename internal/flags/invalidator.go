package flags

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries flag names whose cache entries must be dropped.
const InvalidationChannel = "doorlock:flags:invalidate"

const invalidateAll = "*"

// RedisInvalidator propagates flag invalidations between processes over Redis pub/sub.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisInvalidator constructs the invalidator.
func NewRedisInvalidator(client *redis.Client, logger *slog.Logger) *RedisInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisInvalidator{client: client, channel: InvalidationChannel, logger: logger}
}

// PublishInvalidation implements Broadcaster.
func (r *RedisInvalidator) PublishInvalidation(ctx context.Context, name string) error {
	if r == nil || r.client == nil {
		return nil
	}
	if name == "" {
		name = invalidateAll
	}
	return r.client.Publish(ctx, r.channel, name).Err()
}

// Listen subscribes to the invalidation channel and drops matching entries
// from store until ctx is cancelled. It returns once the subscription is live.
func (r *RedisInvalidator) Listen(ctx context.Context, store *Store) error {
	if r == nil || r.client == nil {
		return nil
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == invalidateAll || msg.Payload == "" {
					store.Invalidate()
					continue
				}
				store.Invalidate(msg.Payload)
				r.logger.Debug("feature flag invalidated by peer", slog.String("flag", msg.Payload))
			}
		}
	}()
	return nil
}
