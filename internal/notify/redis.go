package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis carries notifications over a Redis pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis connects to redis and verifies connectivity.
func NewRedis(ctx context.Context, addr string, db int, channel string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With("notifier", "redis", "channel", channel),
	}, nil
}

func (r *Redis) Notify(ctx context.Context) error {
	return r.rdb.Publish(ctx, r.channel, "").Err()
}

func (r *Redis) Subscribe(ctx context.Context, fn func()) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no notification is missed
	// between here and the first receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	r.logger.Info("listening for notifications")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			}
			fn()
		}
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
