package reward

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func (h *Handler) Claim(c *gin.Context) {
	a, err := h.service.Claim(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Distribute runs the weekly payout immediately. Accounts already paid this
// cycle are skipped, so a repeated call pays nothing twice.
func (h *Handler) Distribute(c *gin.Context) {
	result, err := h.service.DistributeWeekly(c.Request.Context())
	if err != nil && result == nil {
		_ = c.Error(err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}
