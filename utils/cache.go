package utils

import (
	"DriveVault/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
}

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis cache client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
	}
}

// Get reads a cached JSON value into dest.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Set writes a value as JSON.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, string(data), expiration).Err()
}

// Delete removes a cache entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Incr atomically increments an integer key, creating it at 1.
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// BuildCacheKey builds a cache key.
func BuildCacheKey(prefix string, params ...interface{}) string {
	key := prefix
	for _, param := range params {
		key += fmt.Sprintf(":%v", param)
	}
	return key
}

const (
	CacheKeyFileRecordList = "file:record:list"
	CacheKeyFileRecordGen  = "file:record:gen"
)

// ListCache keeps each owner's full file listing under a generation
// counter. Invalidate bumps the counter, so a listing loaded before the
// bump is written under a key nobody reads any more.
type ListCache struct {
	cache Cache
	ttl   time.Duration
}

// NewListCache wraps a Cache with the list key layout and TTL.
func NewListCache(cache Cache, ttl time.Duration) *ListCache {
	return &ListCache{cache: cache, ttl: ttl}
}

// Generation returns the owner's current listing generation, 0 if the
// owner never wrote.
func (l *ListCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	var gen int64
	err := l.cache.Get(ctx, BuildCacheKey(CacheKeyFileRecordGen, ownerID), &gen)
	if errors.Is(err, ErrCacheMiss) {
		return 0, nil
	}
	return gen, err
}

// Get returns the listing cached for gen; ok is false on a miss.
func (l *ListCache) Get(ctx context.Context, ownerID string, gen int64) ([]model.FileRecord, bool, error) {
	var records []model.FileRecord
	err := l.cache.Get(ctx, BuildCacheKey(CacheKeyFileRecordList, ownerID, gen), &records)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if records == nil {
		records = []model.FileRecord{}
	}
	return records, true, nil
}

// Set stores the listing loaded under gen.
func (l *ListCache) Set(ctx context.Context, ownerID string, gen int64, records []model.FileRecord) error {
	return l.cache.Set(ctx, BuildCacheKey(CacheKeyFileRecordList, ownerID, gen), records, l.ttl)
}

// Invalidate moves the owner to a new generation.
func (l *ListCache) Invalidate(ctx context.Context, ownerID string) error {
	_, err := l.cache.Incr(ctx, BuildCacheKey(CacheKeyFileRecordGen, ownerID))
	return err
}
