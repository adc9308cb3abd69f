package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/infrastructure/cache"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/scheduler"
	"github.com/vipm/backend/internal/interfaces/http/dto"
	"github.com/vipm/backend/internal/interfaces/http/middleware"
)

const deliveryKeyPrefix = "webhook:"

// DefaultDeliveryTTL is how long a delivery id is remembered when no TTL
// is configured
const DefaultDeliveryTTL = 24 * time.Hour

// JobSubmitter queues fulfillment jobs
type JobSubmitter interface {
	SubmitOrder(orderID string) (*scheduler.FulfillmentJob, bool, error)
}

// WebhookHandler accepts order notifications from the platform
type WebhookHandler struct {
	BaseHandler
	jobs       JobSubmitter
	deliveries cache.IdempotencyStore
	ttl        time.Duration
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(jobs JobSubmitter, deliveries cache.IdempotencyStore, ttl time.Duration) *WebhookHandler {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &WebhookHandler{
		jobs:       jobs,
		deliveries: deliveries,
		ttl:        ttl,
	}
}

// ReceiveOrder handles POST /webhooks/orders. A delivery seen before is
// acknowledged without queueing. A delivery id is recorded only after its
// job was queued.
//
//	@Summary		Receive an order notification
//	@Description	Queue a fulfillment job for the notified order. Repeated deliveries are acknowledged without a new job.
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.OrderWebhookRequest	true	"Order notification"
//	@Success		200		{object}	dto.Response{data=dto.JobResponse}	"Duplicate delivery"
//	@Success		202		{object}	dto.Response{data=dto.JobResponse}
//	@Failure		400		{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		401		{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		413		{object}	dto.Response{error=dto.ErrorInfo}
//	@Failure		503		{object}	dto.Response{error=dto.ErrorInfo}
//	@Security		WebhookJWT
//	@Router			/webhooks/orders [post]
func (h *WebhookHandler) ReceiveOrder(c *gin.Context) {
	var req dto.OrderWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	ctx, log := logger.WithOrderID(c.Request.Context(), logger.RequestLogger(c), req.OrderID)
	log = log.With(zap.String("delivery_id", req.DeliveryID), zap.String("event", req.Event))
	key := deliveryKeyPrefix + req.DeliveryID

	seen, err := h.deliveries.IsProcessed(ctx, key)
	if err != nil {
		log.Warn("Delivery lookup failed, processing anyway", zap.Error(err))
	}
	if seen {
		log.Info("Duplicate webhook delivery ignored")
		h.Success(c, dto.JobResponse{OrderID: req.OrderID, Duplicate: true})
		return
	}

	job, queued, err := h.jobs.SubmitOrder(req.OrderID)
	if err != nil {
		log.Warn("Failed to queue fulfillment job", zap.Error(err))
		h.HandleError(c, err)
		return
	}

	if _, err := h.deliveries.MarkProcessed(ctx, key, h.ttl); err != nil {
		log.Warn("Failed to record webhook delivery", zap.Error(err))
	}

	log.Info("Webhook delivery accepted",
		zap.String("job_id", job.ID.String()),
		zap.Bool("queued", queued),
	)
	h.Accepted(c, dto.JobResponse{
		JobID:   job.ID.String(),
		OrderID: req.OrderID,
		Queued:  queued,
	})
}
