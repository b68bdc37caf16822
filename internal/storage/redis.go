package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix namespaces every key so a shared Redis instance stays tidy.
const keyPrefix = "repguard:"

// RedisStore persists state in Redis. Connection failure at construction is
// an error so the caller can fall back to the in-memory store explicitly.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(addr string, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("Redis store connected", zap.String("addr", addr))
	return &RedisStore{
		client: client,
		logger: logger.Named("storage"),
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Client exposes the underlying connection so other components can share it.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
