package bundlecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "artifacts:bundle:"

// RedisIndex stores entries as JSON strings with a TTL
type RedisIndex struct {
	client redis.UniversalClient
}

// NewRedisIndex connects to the Redis-compatible backend at url
func NewRedisIndex(url string) (*RedisIndex, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for bundle cache")

	return &RedisIndex{client: client}, nil
}

// NewRedisIndexWithClient wraps an existing client
func NewRedisIndexWithClient(client redis.UniversalClient) *RedisIndex {
	return &RedisIndex{client: client}
}

// Get returns the entry for hash
func (r *RedisIndex) Get(ctx context.Context, hash string) (*Entry, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Put stores entry until entry.ExpiresAt
func (r *RedisIndex) Put(ctx context.Context, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+e.Hash, raw, ttlUntil(e.ExpiresAt)).Err()
}

// UpdateURL replaces the signed URL of an existing entry, keeping its TTL
func (r *RedisIndex) UpdateURL(ctx context.Context, hash, url string, expiresAt time.Time) error {
	e, err := r.Get(ctx, hash)
	if err != nil || e == nil {
		return err
	}
	e.URL = url
	e.URLExpiresAt = expiresAt
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.SetArgs(ctx, redisKeyPrefix+hash, raw, redis.SetArgs{KeepTTL: true}).Err()
}

// Delete removes the entry for hash
func (r *RedisIndex) Delete(ctx context.Context, hash string) error {
	return r.client.Del(ctx, redisKeyPrefix+hash).Err()
}

// Close closes the client
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
