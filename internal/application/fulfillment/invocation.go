package fulfillment

import (
	"context"
	"fmt"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// invocation carries one order through one run and guarantees that the
// order is switched to query, failed or completed at most once.
type invocation struct {
	order    *fulfillment.PlatformOrder
	platform fulfillment.Platform
	logger   *zap.Logger
	switched bool
}

func newInvocation(order *fulfillment.PlatformOrder, platform fulfillment.Platform, logger *zap.Logger) *invocation {
	return &invocation{
		order:    order,
		platform: platform,
		logger: logger.With(
			zap.String("order_id", order.ID),
			zap.String("order_type", order.Type.String()),
		),
	}
}

func (inv *invocation) result(outcome Outcome, reason string) Result {
	return Result{
		OrderID:       inv.order.ID,
		OrderType:     inv.order.Type,
		Outcome:       outcome,
		Reason:        reason,
		VendorOrderID: inv.order.VendorOrderID,
	}
}

func (inv *invocation) claim() error {
	if inv.switched {
		return fmt.Errorf("%w: order %s", ErrOrderAlreadySwitched, inv.order.ID)
	}
	inv.switched = true
	return nil
}

// query flags param (when set) and switches the order to query.
func (inv *invocation) query(ctx context.Context, param, message string) (Result, error) {
	if err := inv.claim(); err != nil {
		return Result{}, err
	}
	if param != "" {
		if err := inv.platform.SetOrderingParamError(ctx, inv.order, param, message); err != nil {
			return Result{}, err
		}
	}
	if err := inv.platform.SwitchToQuery(ctx, inv.order); err != nil {
		return Result{}, err
	}
	inv.logger.Info("Order switched to query",
		zap.String("param", param),
		zap.String("reason", message))
	return inv.result(OutcomeQueried, message), nil
}

func (inv *invocation) fail(ctx context.Context, reason string) (Result, error) {
	if err := inv.claim(); err != nil {
		return Result{}, err
	}
	if err := inv.platform.SwitchToFailed(ctx, inv.order, reason); err != nil {
		return Result{}, err
	}
	inv.logger.Warn("Order failed", zap.String("reason", reason))
	return inv.result(OutcomeFailed, reason), nil
}

func (inv *invocation) complete(ctx context.Context, template string) (Result, error) {
	if err := inv.claim(); err != nil {
		return Result{}, err
	}
	if err := inv.platform.SwitchToCompleted(ctx, inv.order, template); err != nil {
		return Result{}, err
	}
	inv.logger.Info("Order completed", zap.String("template", template))
	return inv.result(OutcomeCompleted, ""), nil
}

func (inv *invocation) pending(reason string) Result {
	inv.logger.Info("Vendor order pending", zap.String("vendor_order_id", inv.order.VendorOrderID))
	return inv.result(OutcomePending, reason)
}

// failOnVendorError fails the order with the verbatim vendor message when
// err is a vendor API error; any other error is returned for a retry.
func (inv *invocation) failOnVendorError(ctx context.Context, err error) (Result, error) {
	if apiErr, ok := fulfillment.AsVendorError(err); ok && !fulfillment.IsTransient(err) {
		return inv.fail(ctx, apiErr.Error())
	}
	return Result{}, err
}

// maxAttemptsReason is reported when a pending vendor order was polled too often.
func maxAttemptsReason(attempts int) string {
	return fmt.Sprintf("Max processing attempts reached (%d).", attempts)
}
