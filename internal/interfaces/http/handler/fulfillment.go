package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/interfaces/http/dto"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

// OrderFulfiller runs one fulfillment invocation for an order
type OrderFulfiller interface {
	FulfillByID(ctx context.Context, orderID string) (app.Result, error)
}

// ActiveJobs reports orders that are already driven by the scheduler
type ActiveJobs interface {
	IsActive(orderID string) bool
}

// FulfillmentHandler runs fulfillment on demand
type FulfillmentHandler struct {
	BaseHandler
	fulfiller OrderFulfiller
	active    ActiveJobs
}

// NewFulfillmentHandler creates a new FulfillmentHandler. active may be nil.
func NewFulfillmentHandler(fulfiller OrderFulfiller, active ActiveJobs) *FulfillmentHandler {
	return &FulfillmentHandler{fulfiller: fulfiller, active: active}
}

// Fulfill handles POST /orders/:id/fulfill. The invocation runs in the
// request and its outcome is returned; an order whose job is active in the
// scheduler is rejected with 409.
//
//	@Summary		Fulfill an order
//	@Description	Run one fulfillment invocation for the order and return its outcome
//	@Tags			orders
//	@Produce		json
//	@Param			id	path		string	true	"Platform order id"
//	@Success		200	{object}	dto.Response{data=dto.ResultResponse}
//	@Failure		400	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		404	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		409	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		502	{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		503	{object}	dto.Response{error=dto.ErrorInfo}
//	@Router			/orders/{id}/fulfill [post]
func (h *FulfillmentHandler) Fulfill(c *gin.Context) {
	orderID := c.Param("id")
	if !middleware.ValidOrderID(orderID) {
		h.BadRequest(c, "Invalid order id")
		return
	}
	if h.active != nil && h.active.IsActive(orderID) {
		h.Fail(c, dto.ErrCodeConflict, "Order is already being fulfilled")
		return
	}

	ctx, log := logger.WithOrderID(c.Request.Context(), logger.RequestLogger(c), orderID)
	result, err := h.fulfiller.FulfillByID(ctx, orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	log.Info("Order fulfilled on demand",
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
	)
	h.Success(c, dto.NewResultResponse(result))
}
