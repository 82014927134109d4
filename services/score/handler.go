package score

import (
	"net/http"
	"strconv"

	"cloudbot/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	aggregator *Aggregator
}

func NewHandler(a *Aggregator) *Handler {
	return &Handler{aggregator: a}
}

func (h *Handler) GetUserStats(c *gin.Context) {
	stats := h.aggregator.GetUserStats(c.Request.Context(), c.Param("id"))
	if stats == nil {
		_ = c.Error(errutil.NotFound("stats not available", nil))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetRank(c *gin.Context) {
	rank := h.aggregator.GetRank(c.Request.Context(), c.Param("id"))
	if rank == nil {
		_ = c.Error(errutil.NotFound("rank not available", nil))
		return
	}
	c.JSON(http.StatusOK, rank)
}

func (h *Handler) GetLeaderboard(c *gin.Context) {
	period := Period(c.Param("period"))
	if !period.Valid() {
		_ = c.Error(errutil.BadRequest("period must be weekly or monthly", nil))
		return
	}

	limit := DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = c.Error(errutil.BadRequest("limit must be a number", err))
			return
		}
		limit = n
	}

	entries := h.aggregator.GetLeaderboard(c.Request.Context(), period, limit)
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}
