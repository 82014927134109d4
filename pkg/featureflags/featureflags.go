// Package featureflags reads operator kill switches from Flagsmith.
package featureflags

import (
	"context"

	"cloudbot/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// Broadcast gates new admin broadcasts.
	Broadcast = "broadcast"
	// WeeklyRewards gates the scheduled weekly distribution.
	WeeklyRewards = "weekly_rewards"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	// Enabled returns fallback when flags are not configured or cannot be read.
	Enabled(ctx context.Context, name string, fallback bool) bool
}

type environmentFlags interface {
	GetEnvironmentFlags() (flagsmith.Flags, error)
}

type featureflag struct {
	client environmentFlags
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{flagsmith.WithAnalytics()}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}
	return &featureflag{client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...)}
}

func (s *featureflag) Enabled(ctx context.Context, name string, fallback bool) bool {
	if s.client == nil {
		return fallback
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		zap.L().Warn("failed to read feature flags", zap.String("flag", name), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(name)
	if err != nil {
		return fallback
	}
	return enabled
}

// Static is a fixed flag set, used when no flag service is wanted.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, name string, fallback bool) bool {
	if v, ok := s[name]; ok {
		return v
	}
	return fallback
}
