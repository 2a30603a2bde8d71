package localstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps entries as fields of one Redis hash, so a team can share
// a cache between machines.
type RedisBackend struct {
	client *redis.Client
	hash   string
}

// NewRedisBackend stores entries in the hash <namespace>:app-info.
func NewRedisBackend(client *redis.Client, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = "appdev"
	}
	return &RedisBackend{client: client, hash: namespace + ":app-info"}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.HGet(ctx, b.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.client.HSet(ctx, b.hash, key, value).Err()
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.HDel(ctx, b.hash, key).Err()
}

// Clear implements Backend.
func (b *RedisBackend) Clear(ctx context.Context) error {
	return b.client.Del(ctx, b.hash).Err()
}

// Open builds a cache from a DSN: redis:// and rediss:// URLs select Redis,
// anything else is a SQLite file path. The closer releases the connection.
func Open(dsn string) (*Cache, io.Closer, error) {
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse cache url: %w", err)
		}
		client := redis.NewClient(opts)
		return New(NewRedisBackend(client, "appdev")), client, nil
	}
	backend, db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, nil, err
	}
	return New(backend), db, nil
}
