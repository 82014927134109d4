package broadcast

import (
	"cloudbot/pkg/config"
	"cloudbot/pkg/middleware"
	"cloudbot/pkg/taskname"
	"cloudbot/pkg/telegram"
	"cloudbot/services/account"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("broadcast.service",
	fx.Provide(
		NewService,
		func(r account.Repository) Recipients { return r },
		func(c *telegram.Client) Sender { return c },
	),
)

var Gateway = fx.Module("broadcast.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

var TaskModule = fx.Module("broadcast.task",
	fx.Invoke(registerTaskHandlers),
)

func registerRoutes(r *gin.Engine, cfg *config.Config, h *Handler) {
	admin := r.Group("/v1/admin", middleware.AdminOnly(cfg.AdminIDs))
	admin.POST("/broadcasts", h.Enqueue)
	admin.DELETE("/broadcasts/:id", h.Cancel)
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.BroadcastDispatch, svc.HandleDispatchTask)
}
