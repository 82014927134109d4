package reward

import (
	"cloudbot/pkg/config"
	"cloudbot/pkg/middleware"
	"cloudbot/pkg/taskname"
	"cloudbot/services/score"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(
		NewService,
		func(a *score.Aggregator) Leaderboard { return a },
	),
)

var Gateway = fx.Module("reward.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

// TaskModule runs weekly distributions inside the worker.
var TaskModule = fx.Module("reward.task",
	fx.Provide(NewScheduler),
	fx.Invoke(registerTaskHandlers, StartScheduler),
)

func registerRoutes(r *gin.Engine, cfg *config.Config, h *Handler) {
	r.POST("/v1/accounts/:id/rewards/claim", h.Claim)

	admin := r.Group("/v1/admin", middleware.AdminOnly(cfg.AdminIDs))
	admin.POST("/rewards/distribute", h.Distribute)
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.RewardDistributeWeekly, svc.HandleDistributeWeeklyTask)
}
