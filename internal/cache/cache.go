package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key is absent. Backends also map their
// own failures to ErrMiss so an unavailable cache never fails a request.
var ErrMiss = errors.New("cache miss")

// TTLs for the two key families served from cache.
const (
	PostTTL    = time.Hour
	ListingTTL = 5 * time.Minute
)

// Cache is a best-effort key-value store for rendered responses. It is never
// authoritative: callers must treat every Get failure as a miss and fall back
// to the post store.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Del(ctx context.Context, key string)
}

// PostKey is the cache key for a single published post.
func PostKey(id uint) string {
	return fmt.Sprintf("post:%d", id)
}

// ListingKey is the cache key for a page of the published listing.
func ListingKey(page, limit int) string {
	return fmt.Sprintf("published_posts:%d:%d", page, limit)
}

// Redis backs Cache with a Redis server. All errors degrade to misses.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(addr, password string, db int, logger *zap.Logger) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: logger,
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Cache get failed", zap.String("key", key), zap.Error(err))
		}
		return "", ErrMiss
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Warn("Cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Del(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn("Cache del failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
