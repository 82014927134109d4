package account

import (
	"cloudbot/pkg/config"
	"cloudbot/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(
		NewRepository,
		NewService,
	),
)

var Gateway = fx.Module("account.gateway",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, cfg *config.Config, h *Handler) {
	v1 := r.Group("/v1")
	v1.POST("/accounts", h.Register)
	v1.GET("/accounts/:id", h.Get)
	v1.POST("/accounts/:id/referral", h.LinkReferral)
	v1.POST("/accounts/:id/files", h.RecordUpload)

	admin := r.Group("/v1/admin", middleware.AdminOnly(cfg.AdminIDs))
	admin.GET("/stats", h.AdminStats)
}
