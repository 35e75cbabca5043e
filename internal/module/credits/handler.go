package credits

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/shared/middleware"
	"github.com/nevisai/server/internal/shared/response"
)

// Handler exposes read-only ledger endpoints. All mutations happen through
// the payment webhook and the generation pipeline, never through this API.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new credits handler.
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the credits routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	credits := rg.Group("/credits")
	{
		credits.GET("/balance", h.GetBalance)
		credits.GET("/transactions", h.ListTransactions)
		credits.GET("/usage", h.ListUsage)
	}
}

// GetBalance returns the user's current balance.
// GET /api/v1/credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "")
		return
	}

	status, err := h.service.CheckAccess(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListTransactions returns the user's payment history.
// GET /api/v1/credits/transactions?limit=50
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "")
		return
	}

	txns, err := h.service.ListTransactions(c.Request.Context(), userID, queryLimit(c))
	if err != nil {
		h.logger.Error("transaction history lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// ListUsage returns the user's debit history.
// GET /api/v1/credits/usage?limit=50
func (h *Handler) ListUsage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Unauthorized(c, "")
		return
	}

	entries, err := h.service.ListUsage(c.Request.Context(), userID, queryLimit(c))
	if err != nil {
		h.logger.Error("usage history lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": entries})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}
