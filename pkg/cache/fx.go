package cache

import (
	"context"
	"fmt"

	"cloudbot/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(New, NewTTL),
	fx.Invoke(registerLifecycle),
)

type Params struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func New(p Params) (Cache, error) {
	switch p.Config.Cache.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis client")
		}
		return NewRedis(p.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", p.Config.Cache.Backend)
	}
}

// NewTTL reads per-namespace expiry from config, keeping defaults for unset values.
func NewTTL(cfg *config.Config) TTL {
	ttl := DefaultTTL()
	c := cfg.Cache
	if c.UserTTL > 0 {
		ttl.User = c.UserTTL
	}
	if c.StatsTTL > 0 {
		ttl.Stats = c.StatsTTL
	}
	if c.LeaderboardTTL > 0 {
		ttl.Leaderboard = c.LeaderboardTTL
	}
	if c.RankTTL > 0 {
		ttl.Rank = c.RankTTL
	}
	if c.AdminTTL > 0 {
		ttl.Admin = c.AdminTTL
	}
	return ttl
}

func registerLifecycle(lc fx.Lifecycle, c Cache) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Clear()
			zap.L().Info("cache cleared")
			return nil
		},
	})
}
