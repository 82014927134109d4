package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "cloudbot:cache:"
	redisTimeout   = 500 * time.Millisecond
	scanBatch      = 500
)

// Redis is a Cache shared by every process pointed at the same redis.
// Values are stored as JSON, so reads return json.RawMessage; use GetAs.
// Redis failures are logged and behave like misses.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb, prefix: redisKeyPrefix}
}

func (r *Redis) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		r.Del(key)
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		zap.L().Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.prefix+key, b, ttl).Err(); err != nil {
		zap.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Get(key string) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		cacheMiss.WithLabelValues(namespace(key)).Inc()
		return nil, false
	}

	cacheHits.WithLabelValues(namespace(key)).Inc()
	return json.RawMessage(b), true
}

func (r *Redis) Del(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		zap.L().Warn("cache del failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) DelPattern(glob string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*redisTimeout)
	defer cancel()

	match := escapeRedisGlob(r.prefix + glob)
	iter := r.rdb.Scan(ctx, 0, match, scanBatch).Iterator()

	var (
		batch   []string
		removed int
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := r.rdb.Del(ctx, batch...).Result()
		if err != nil {
			zap.L().Warn("cache pattern delete failed", zap.String("pattern", glob), zap.Error(err))
		}
		removed += int(n)
		cacheEvictions.WithLabelValues(namespace(strings.TrimPrefix(batch[0], r.prefix))).Add(float64(n))
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		zap.L().Warn("cache scan failed", zap.String("pattern", glob), zap.Error(err))
	}
	return removed
}

// Clear removes only keys written by this cache.
func (r *Redis) Clear() {
	r.DelPattern("*")
}

// escapeRedisGlob keeps '*' as the only wildcard in a redis MATCH pattern.
func escapeRedisGlob(glob string) string {
	var b strings.Builder
	b.Grow(len(glob))
	for _, c := range glob {
		switch c {
		case '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
