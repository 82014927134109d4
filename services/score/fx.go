package score

import (
	"context"

	"cloudbot/pkg/config"
	"cloudbot/services/account"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("score.service",
	fx.Provide(
		NewStore,
		provideWriteBack,
		NewAggregator,
		func(a *Aggregator) account.Invalidator { return a },
	),
	fx.Invoke(registerWriteBack),
)

var Gateway = fx.Module("score.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func provideWriteBack(store Store, cfg *config.Config) *WriteBack {
	return NewWriteBack(store, cfg.Score.WriteBackBuffer)
}

func registerWriteBack(lc fx.Lifecycle, w *WriteBack) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.Stop(ctx)
			zap.L().Info("score write-back drained")
			return nil
		},
	})
}

func registerRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	v1.GET("/accounts/:id/stats", h.GetUserStats)
	v1.GET("/accounts/:id/rank", h.GetRank)
	v1.GET("/leaderboards/:period", h.GetLeaderboard)
}
