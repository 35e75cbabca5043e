package generation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/credits"
	apperrors "github.com/nevisai/server/internal/shared/errors"
	"github.com/nevisai/server/internal/shared/middleware"
	"github.com/nevisai/server/internal/shared/response"
)

// Handler exposes the generation endpoint.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new generation handler.
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the generation routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/generations", h.Generate)
}

// Generate produces one piece of content and charges the account for it.
// POST /api/v1/generations
func (h *Handler) Generate(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "")
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "prompt and model_version are required")
		return
	}

	result, err := h.service.Generate(c.Request.Context(), userID, &req)
	if err != nil {
		if response.HandleError(c, err, []response.ErrorMapping{
			{Err: ErrEmptyPrompt, Status: http.StatusBadRequest},
			{Err: ErrUnknownModelVersion, Status: http.StatusBadRequest},
			{Err: apperrors.ErrInsufficientCredits, Status: http.StatusPaymentRequired, Code: "INSUFFICIENT_CREDITS"},
			{Err: ErrProviderUnavailable, Status: http.StatusServiceUnavailable},
			{Err: credits.ErrLockTimeout, Status: http.StatusServiceUnavailable},
		}) {
			return
		}
		h.logger.Error("generation failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.InternalError(c, "")
		return
	}

	c.JSON(http.StatusOK, result)
}
