package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// OrderFlow fulfills purchase, change and termination orders. Quantity
// increases are placed as vendor NEW orders after a priced preview;
// decreases are placed as RETURN orders against processed new orders found
// by the Correlator.
type OrderFlow struct {
	vendor          fulfillment.VendorGateway
	platform        fulfillment.Platform
	correlator      *Correlator
	attempts        fulfillment.PollAttemptRepository
	maxPollAttempts int
	logger          *zap.Logger
}

// OrderFlowOption configures an OrderFlow
type OrderFlowOption func(*OrderFlow)

// WithOrderMaxPollAttempts sets the pending poll limit; 0 disables it
func WithOrderMaxPollAttempts(n int) OrderFlowOption {
	return func(f *OrderFlow) {
		f.maxPollAttempts = n
	}
}

// WithOrderFlowLogger sets the logger
func WithOrderFlowLogger(logger *zap.Logger) OrderFlowOption {
	return func(f *OrderFlow) {
		f.logger = logger
	}
}

// NewOrderFlow creates a new OrderFlow
func NewOrderFlow(
	vendor fulfillment.VendorGateway,
	platform fulfillment.Platform,
	correlator *Correlator,
	attempts fulfillment.PollAttemptRepository,
	opts ...OrderFlowOption,
) *OrderFlow {
	f := &OrderFlow{
		vendor:          vendor,
		platform:        platform,
		correlator:      correlator,
		attempts:        attempts,
		maxPollAttempts: DefaultMaxPollAttempts,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// completionTemplate returns the template used to complete an order type
func completionTemplate(t fulfillment.OrderType) string {
	switch t {
	case fulfillment.OrderTypeChange:
		return fulfillment.TemplateChange
	case fulfillment.OrderTypeTermination:
		return fulfillment.TemplateTermination
	default:
		return fulfillment.TemplatePurchase
	}
}

// Run advances a purchase, change or termination order by one invocation.
func (f *OrderFlow) Run(ctx context.Context, order *fulfillment.PlatformOrder) (Result, error) {
	switch order.Type {
	case fulfillment.OrderTypePurchase, fulfillment.OrderTypeChange, fulfillment.OrderTypeTermination:
	default:
		return Result{}, fmt.Errorf("%w: %s", fulfillment.ErrInvalidOrderType, order.Type)
	}
	return f.run(ctx, newInvocation(order, f.platform, f.logger))
}

func (f *OrderFlow) run(ctx context.Context, inv *invocation) (Result, error) {
	order := inv.order
	customerID := order.Fulfillment.CustomerID
	if customerID == "" {
		return inv.query(ctx, fulfillment.ParamCustomerID, "Vendor customer id is required")
	}

	if order.HasVendorOrderID() {
		return f.checkOrder(ctx, inv)
	}

	matches := fulfillment.MatchLines(order)
	returns := fulfillment.FilterMatches(matches, fulfillment.MatchReturn)
	news := fulfillment.FilterMatches(matches, fulfillment.MatchNew)

	if len(returns) > 0 {
		pending, err := f.placeReturns(ctx, inv, returns)
		if err != nil {
			if errors.Is(err, fulfillment.ErrUnreconciledDelta) || errors.Is(err, fulfillment.ErrInvalidVendorOrder) {
				return inv.fail(ctx, err.Error())
			}
			return inv.failOnVendorError(ctx, err)
		}
		if pending {
			return pendingOrFail(ctx, inv, f.attempts, f.maxPollAttempts)
		}
	}

	if len(news) == 0 {
		res, err := inv.complete(ctx, completionTemplate(order.Type))
		if err == nil {
			clearAttempts(ctx, inv, f.attempts)
		}
		return res, err
	}

	if err := f.placeNewOrder(ctx, inv, news); err != nil {
		if errors.Is(err, fulfillment.ErrMissingCurrency) || errors.Is(err, fulfillment.ErrInvalidVendorOrder) ||
			errors.Is(err, fulfillment.ErrInvalidLineID) {
			return inv.fail(ctx, err.Error())
		}
		return inv.failOnVendorError(ctx, err)
	}
	return f.checkOrder(ctx, inv)
}

// placeReturns submits one return per reduced line. It reports pending
// while any return placed by this order is still being processed.
func (f *OrderFlow) placeReturns(ctx context.Context, inv *invocation, returns []fulfillment.LineMatch) (bool, error) {
	order := inv.order
	anyPending := false
	for _, m := range returns {
		family := fulfillment.SKUFamily(m.OfferID)
		correlations, err := f.correlator.Correlate(ctx, order.AuthorizationID, order.Fulfillment.CustomerID, family)
		if err != nil {
			return false, err
		}

		own, candidate := selectReturn(correlations, order.ID, m.Quantity)
		switch {
		case own != nil:
			if own.Return.IsPending() {
				anyPending = true
			}
			continue
		case candidate == nil:
			return false, fmt.Errorf("%w: %s (%d)", fulfillment.ErrUnreconciledDelta, family, m.Quantity)
		}

		req, err := fulfillment.NewReturnOrder(order.ID, order.Currency, candidate.New, candidate.Line, m.Quantity)
		if err != nil {
			return false, err
		}
		ret, err := f.vendor.CreateReturnOrder(ctx, order.AuthorizationID, order.Fulfillment.CustomerID, req)
		if err != nil {
			return false, err
		}
		inv.logger.Info("Return order placed",
			zap.String("sku_family", family),
			zap.String("returned_order_id", candidate.New.OrderID),
			zap.String("vendor_order_id", ret.OrderID),
			zap.Int("quantity", m.Quantity))
		if !ret.IsProcessed() {
			anyPending = true
		}
	}
	return anyPending, nil
}

// selectReturn finds the return this order already placed, or the newest
// unreturned new order holding at least quantity.
func selectReturn(correlations []Correlation, orderID string, quantity int) (own, candidate *Correlation) {
	prefix := orderID + "_"
	for i := len(correlations) - 1; i >= 0; i-- {
		c := &correlations[i]
		if c.Return != nil {
			if strings.HasPrefix(c.Return.ExternalReferenceID, prefix) {
				return c, nil
			}
			continue
		}
		if candidate == nil && c.Line.Quantity >= quantity {
			candidate = c
		}
	}
	return nil, candidate
}

// placeNewOrder previews the increased lines, copies vendor prices to the
// platform, places the NEW order and records its id.
func (f *OrderFlow) placeNewOrder(ctx context.Context, inv *invocation, news []fulfillment.LineMatch) error {
	order := inv.order
	previewReq, err := fulfillment.NewPreviewOrder(order.ID, order.Currency, news)
	if err != nil {
		return err
	}
	preview, err := f.vendor.PreviewOrder(ctx, order.AuthorizationID, order.Fulfillment.CustomerID, previewReq)
	if err != nil {
		return err
	}

	prices := make(map[string]decimal.Decimal, len(preview.Lines))
	for _, line := range preview.Lines {
		for _, m := range news {
			if n, err := m.Line.LineNumber(); err == nil && n == line.ExtLineItemNumber {
				prices[m.Line.ID] = line.UnitPrice
			}
		}
	}
	if len(prices) > 0 {
		if err := f.platform.UpdateLinePrices(ctx, order, prices); err != nil {
			return fmt.Errorf("update line prices: %w", err)
		}
	}

	req, err := fulfillment.NewPurchaseOrder(order.ID, order.Currency, preview)
	if err != nil {
		return err
	}
	created, err := f.vendor.CreateNewOrder(ctx, order.AuthorizationID, order.Fulfillment.CustomerID, req)
	if err != nil {
		return err
	}
	if err := f.platform.SetVendorOrderID(ctx, order, created.OrderID); err != nil {
		return fmt.Errorf("record vendor order id %s: %w", created.OrderID, err)
	}
	inv.logger.Info("New order placed", zap.String("vendor_order_id", created.OrderID))
	return nil
}

// checkOrder polls the recorded vendor order and completes the platform
// order once it is processed.
func (f *OrderFlow) checkOrder(ctx context.Context, inv *invocation) (Result, error) {
	order := inv.order
	vendorOrder, err := f.vendor.GetOrder(ctx, order.AuthorizationID, order.Fulfillment.CustomerID, order.VendorOrderID)
	if err != nil {
		return inv.failOnVendorError(ctx, err)
	}

	switch {
	case vendorOrder.IsPending():
		return pendingOrFail(ctx, inv, f.attempts, f.maxPollAttempts)
	case vendorOrder.IsProcessed():
	default:
		if reason, ok := fulfillment.UnrecoverableStatusReason(vendorOrder.Status); ok {
			return inv.fail(ctx, reason)
		}
		return inv.fail(ctx, fulfillment.UnexpectedStatusReason(vendorOrder.Status))
	}

	if order.Type == fulfillment.OrderTypePurchase {
		for _, line := range vendorOrder.Lines {
			orderLine, ok := order.LineBySKUFamily(fulfillment.SKUFamily(line.OfferID))
			if !ok {
				continue
			}
			if err := f.platform.CreateSubscription(ctx, order, fulfillment.PlatformSubscription{
				Name:                 fmt.Sprintf("Subscription for %s", orderLine.ItemName),
				VendorSubscriptionID: line.SubscriptionID,
				LineID:               orderLine.ID,
				OfferID:              line.OfferID,
				Quantity:             line.Quantity,
				StartDate:            vendorOrder.CreationDate,
				AutoRenew:            true,
			}); err != nil {
				return Result{}, err
			}
		}
	}

	res, err := inv.complete(ctx, completionTemplate(order.Type))
	if err != nil {
		return res, err
	}
	clearAttempts(ctx, inv, f.attempts)
	return res, nil
}
