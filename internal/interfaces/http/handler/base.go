package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/scheduler"
	"github.com/vipm/backend/internal/interfaces/http/dto"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

// knownErrors maps sentinel errors to the response they produce, checked
// in order
var knownErrors = []struct {
	target  error
	code    string
	message string
}{
	{fulfillment.ErrOrderNotFound, dto.ErrCodeNotFound, "Order not found"},
	{fulfillment.ErrTransferNotFound, dto.ErrCodeNotFound, "Transfer not found"},
	{app.ErrUnsupportedOrderType, dto.ErrCodeUnsupportedOrder, "Order type is not supported"},
	{fulfillment.ErrInvalidOrderType, dto.ErrCodeUnsupportedOrder, "Order type is not supported"},
	{scheduler.ErrJobQueueFull, dto.ErrCodeQueueFull, "Fulfillment queue is full, retry later"},
	{scheduler.ErrSchedulerNotRunning, dto.ErrCodeUnavailable, "Fulfillment scheduler is not running"},
	{context.DeadlineExceeded, dto.ErrCodeUnavailable, "Upstream temporarily unavailable, retry later"},
}

// BaseHandler writes the response envelope for the handlers embedding it
type BaseHandler struct{}

func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Fail writes an error envelope with the status that belongs to code
func (h *BaseHandler) Fail(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Fail(c, dto.ErrCodeBadRequest, message)
}

// HandleError records err on the gin context and answers with the matching
// error code. Errors nothing maps are logged and answered with a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	for _, known := range knownErrors {
		if errors.Is(err, known.target) {
			h.Fail(c, known.code, known.message)
			return
		}
	}
	if fulfillment.IsTransient(err) {
		h.Fail(c, dto.ErrCodeUnavailable, "Upstream temporarily unavailable, retry later")
		return
	}
	if apiErr, ok := fulfillment.AsVendorError(err); ok {
		h.Fail(c, dto.ErrCodeVendor, apiErr.Error())
		return
	}
	logger.RequestLogger(c).Error("Unhandled request error", zap.Error(err))
	h.Fail(c, dto.ErrCodeInternal, "An unexpected error occurred")
}
