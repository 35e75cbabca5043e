package plan

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/shared/response"
)

// Handler exposes the public plan catalog.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new plan handler.
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the plan routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/plans", h.ListPlans)
}

// ListPlans returns all purchasable plans.
// GET /api/v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("plan catalog lookup failed", zap.Error(err))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
