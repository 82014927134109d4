package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(registerRoutes),
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type checker struct {
	name  string
	check func(ctx context.Context) error
}

type health struct {
	checks  []checker
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{timeout: 2 * time.Second}

	if p.DB != nil {
		h.checks = append(h.checks, checker{name: "database:" + p.DB.Name(), check: func(ctx context.Context) error {
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		h.checks = append(h.checks, checker{name: "redis", check: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	if p.Vault != nil {
		h.checks = append(h.checks, checker{name: "vault", check: func(ctx context.Context) error {
			_, err := p.Vault.System.ReadHealthStatus(ctx)
			return err
		}})
	}
	return h
}

func registerRoutes(r *gin.Engine, h HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

// Readiness pings every configured dependency and answers 503 if any fails.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	out := &Health{Status: statusHealthy, Message: "OK", Deps: make([]Dependency, 0, len(h.checks))}
	code := http.StatusOK

	for _, chk := range h.checks {
		dep := Dependency{Name: chk.name, Status: statusHealthy, Message: "OK"}
		if err := chk.check(ctx); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			out.Status = statusUnhealthy
			out.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
		out.Deps = append(out.Deps, dep)
	}

	c.JSON(code, out)
}
