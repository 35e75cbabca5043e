package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/plan"
	"github.com/nevisai/server/internal/shared/middleware"
	"github.com/nevisai/server/internal/shared/response"
)

// Handler exposes the checkout endpoint.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the payment routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.POST("/checkout", h.CreateCheckout)
	}
}

// CreateCheckout starts a checkout session for a plan.
// POST /api/v1/payments/checkout
func (h *Handler) CreateCheckout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "")
		return
	}

	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "plan_id is required")
		return
	}

	result, err := h.service.CreateCheckout(c.Request.Context(), userID, req.PlanID)
	if err != nil {
		if response.HandleError(c, err, []response.ErrorMapping{
			{Err: plan.ErrPlanNotFound, Status: http.StatusNotFound},
			{Err: plan.ErrPlanInactive, Status: http.StatusConflict},
		}) {
			return
		}
		h.logger.Error("checkout creation failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("plan_id", req.PlanID))
		response.InternalError(c, "")
		return
	}

	c.JSON(http.StatusOK, result)
}
