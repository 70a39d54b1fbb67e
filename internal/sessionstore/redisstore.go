package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "dropclaim:session:"
	redisPingTimeout   = 2 * time.Second
)

// RedisStore keeps session material in redis with an optional expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// WithRedisTTL expires entries after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(store *RedisStore) {
		if ttl > 0 {
			store.ttl = ttl
		}
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client, options ...RedisStoreOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, option := range options {
		option(store)
	}
	return store
}

// DialRedis parses a redis:// or rediss:// URL and verifies the server is reachable.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	redisOptions, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidStoreURL, err)
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Store saves value under key.
func (store *RedisStore) Store(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeStore, err)
	}
	return wrapStoreError(errorCodeStore, store.client.Set(ctx, store.prefix+key, value, store.ttl).Err())
}

// Load returns the value under key.
func (store *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	value, err := store.client.Get(ctx, store.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	return value, true, nil
}

// Clear deletes key.
func (store *RedisStore) Clear(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeClear, err)
	}
	return wrapStoreError(errorCodeClear, store.client.Del(ctx, store.prefix+key).Err())
}

// Close closes the redis client.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
