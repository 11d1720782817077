package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps publishing and subscribing on separate pools so that
// long-lived subscriptions never starve event publication.
type RedisClients struct {
	Publisher  *redis.Client
	Subscriber *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	publisher := redis.NewClient(opt)
	if err := publisher.Ping(ctx).Err(); err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to ping Redis (publisher): %w", err)
	}

	subscriberOpt := *opt
	subscriber := redis.NewClient(&subscriberOpt)
	if err := subscriber.Ping(ctx).Err(); err != nil {
		publisher.Close()
		subscriber.Close()
		return nil, fmt.Errorf("failed to ping Redis (subscriber): %w", err)
	}

	return &RedisClients{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func (r *RedisClients) Close() {
	r.Publisher.Close()
	r.Subscriber.Close()
}
