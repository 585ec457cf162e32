package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/logger"
	"github.com/kds/backend/internal/interfaces/http/dto"
	"github.com/kds/backend/internal/interfaces/http/middleware"
	"github.com/kds/backend/internal/interfaces/realtime"
	"go.uber.org/zap"
)

// OrderSyncer builds the display order list
type OrderSyncer interface {
	SyncOrders(ctx context.Context) ([]kitchen.EnrichedOrder, error)
}

// CompletionLister returns the completion state in wire form
type CompletionLister interface {
	Get() map[string][]string
}

// Toggler applies a completion toggle and broadcasts it to realtime clients
type Toggler interface {
	Toggle(ctx context.Context, ev realtime.ToggleEvent, origin string) error
}

// KitchenHandler serves the polling and completion endpoints of the display
type KitchenHandler struct {
	BaseHandler
	orders      OrderSyncer
	completions CompletionLister
	toggler     Toggler
}

// NewKitchenHandler creates a new KitchenHandler
func NewKitchenHandler(orders OrderSyncer, completions CompletionLister, toggler Toggler) *KitchenHandler {
	return &KitchenHandler{
		orders:      orders,
		completions: completions,
		toggler:     toggler,
	}
}

// ListOrders handles GET /api/orders. Upstream failures degrade to fewer
// orders inside SyncOrders; only a cancelled request fails here.
func (h *KitchenHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.SyncOrders(c.Request.Context())
	if err != nil {
		logger.L(c.Request.Context()).Info("Order sync aborted", zap.Error(err))
		h.ServiceUnavailable(c, dto.ErrCodeUnavailable, "Order synchronization was interrupted")
		return
	}
	c.JSON(http.StatusOK, dto.OrdersResponse{Elements: orders})
}

// GetCompletedOrders handles GET /api/completed_orders
func (h *KitchenHandler) GetCompletedOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.completions.Get())
}

// SetCompletedOrder handles POST /api/completed_orders. The change is
// broadcast to every realtime client.
func (h *KitchenHandler) SetCompletedOrder(c *gin.Context) {
	var req dto.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	ev := realtime.ToggleEvent{
		OrderID:   req.OrderID,
		ItemID:    req.ItemID,
		Completed: req.Completed,
	}
	if err := h.toggler.Toggle(c.Request.Context(), ev, ""); err != nil {
		logger.L(c.Request.Context()).Warn("Completion toggle rejected",
			zap.String("order_id", req.OrderID),
			zap.String("item_id", req.ItemID),
			zap.Error(err),
		)
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{Status: dto.StatusSuccess})
}
