package publish

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes on a Redis-compatible pub/sub server.
type RedisBroker struct {
	client *redis.Client
}

// RedisConfig holds broker connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker connects a Redis client. Reachability is verified by the
// caller via Ping during startup, not here.
func NewRedisBroker(cfg RedisConfig) *RedisBroker {
	return &RedisBroker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Publish sends payload on the named channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (b *RedisBroker) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
