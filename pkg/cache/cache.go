// Package cache holds the short-lived read cache used by the scoring services.
// Entries expire lazily on read; bulk invalidation uses glob patterns where
// only '*' is special.
package cache

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudbot_cache_hits_total",
		Help: "Cache reads that found a live entry.",
	}, []string{"namespace"})
	cacheMiss = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudbot_cache_miss_total",
		Help: "Cache reads that found nothing or an expired entry.",
	}, []string{"namespace"})
	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudbot_cache_evictions_total",
		Help: "Entries removed by expiry or invalidation.",
	}, []string{"namespace"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss, cacheEvictions)
}

type Cache interface {
	Set(key string, value any, ttl time.Duration)
	Get(key string) (any, bool)
	Del(key string)
	// DelPattern removes every key matching glob and returns how many were removed.
	DelPattern(glob string) int
	Clear()
}

// TTL groups the expiry used for each key namespace.
type TTL struct {
	User        time.Duration
	Stats       time.Duration
	Leaderboard time.Duration
	Rank        time.Duration
	Admin       time.Duration
}

func DefaultTTL() TTL {
	return TTL{
		User:        5 * time.Minute,
		Stats:       2 * time.Minute,
		Leaderboard: time.Minute,
		Rank:        time.Minute,
		Admin:       time.Minute,
	}
}

// GetAs reads key and converts the value to T. The memory backend hands back
// the stored value; the redis backend hands back its JSON encoding.
func GetAs[T any](c Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}

	switch tv := v.(type) {
	case T:
		return tv, true
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(tv, &out); err != nil {
			zap.L().Warn("cache value decode failed", zap.String("key", key), zap.Error(err))
			return zero, false
		}
		return out, true
	default:
		zap.L().Warn("cache value has unexpected type", zap.String("key", key))
		return zero, false
	}
}

func namespace(key string) string {
	ns, _, found := strings.Cut(key, ":")
	if !found {
		return "default"
	}
	return ns
}

// globRegexp anchors glob against the whole key; '*' matches any run of characters.
func globRegexp(glob string) *regexp.Regexp {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
