package main

import (
	"log"

	"cloudbot/pkg/cache"
	"cloudbot/pkg/config"
	"cloudbot/pkg/db"
	"cloudbot/pkg/featureflags"
	"cloudbot/pkg/gen"
	"cloudbot/pkg/health"
	"cloudbot/pkg/logger"
	"cloudbot/pkg/otelcol"
	"cloudbot/pkg/profiling"
	"cloudbot/pkg/redis"
	"cloudbot/pkg/secretmanager"
	"cloudbot/pkg/server"
	"cloudbot/pkg/task"
	"cloudbot/pkg/telegram"
	"cloudbot/services/account"
	"cloudbot/services/broadcast"
	"cloudbot/services/referral"
	"cloudbot/services/reward"
	"cloudbot/services/score"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		db.Migrate(&account.Account{}, &account.File{}, &reward.Grant{}),
		redis.Module,
		cache.Module,
		featureflags.Module,
		task.Client,
		telegram.Module,
		gen.Module,

		account.Module,
		account.Gateway,
		referral.Module,
		score.Module,
		score.Gateway,
		reward.Module,
		reward.Gateway,
		broadcast.Module,
		broadcast.Gateway,

		health.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
