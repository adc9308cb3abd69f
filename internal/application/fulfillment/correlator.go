package fulfillment

import (
	"context"
	"slices"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// DefaultSearchPageSize is the page size used when paging vendor orders
const DefaultSearchPageSize = 100

// Correlation pairs a processed new order with the return placed against it.
type Correlation struct {
	New  *fulfillment.VendorOrder
	Line fulfillment.LineItem
	// Return is nil when the order was never returned
	Return *fulfillment.VendorOrder
}

// Correlator finds the processed new orders of a SKU family and pairs each
// with its return order, if any.
type Correlator struct {
	vendor   fulfillment.VendorGateway
	pageSize int
	logger   *zap.Logger
}

// CorrelatorOption configures a Correlator
type CorrelatorOption func(*Correlator)

// WithSearchPageSize sets the page size of order searches
func WithSearchPageSize(size int) CorrelatorOption {
	return func(c *Correlator) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithCorrelatorLogger sets the logger
func WithCorrelatorLogger(logger *zap.Logger) CorrelatorOption {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// NewCorrelator creates a new Correlator
func NewCorrelator(vendor fulfillment.VendorGateway, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		vendor:   vendor,
		pageSize: DefaultSearchPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correlate returns the processed new orders of the customer holding a line
// of skuFamily, oldest first, each paired with its return order. Orders of
// inactive customers and orders in any other status are excluded. An empty
// result is valid.
func (c *Correlator) Correlate(ctx context.Context, authorizationID, customerID, skuFamily string) ([]Correlation, error) {
	orders, err := c.processedNewOrders(ctx, authorizationID, customerID)
	if err != nil {
		return nil, err
	}

	var correlations []Correlation
	for i := range orders {
		order := &orders[i]
		if order.Status == fulfillment.StatusInactiveCustomer || !order.IsProcessed() {
			continue
		}
		line, ok := lineOfFamily(order.Lines, skuFamily)
		if !ok {
			continue
		}

		ret, err := c.findReturn(ctx, authorizationID, customerID, order.OrderID, line.OfferID)
		if err != nil {
			return nil, err
		}
		correlations = append(correlations, Correlation{New: order, Line: line, Return: ret})
	}

	c.logger.Debug("Orders correlated",
		zap.String("customer_id", customerID),
		zap.String("sku_family", skuFamily),
		zap.Int("candidates", len(orders)),
		zap.Int("correlations", len(correlations)))
	return correlations, nil
}

// processedNewOrders pages through NEW orders until totalCount is reached
// or the vendor returns an empty page.
func (c *Correlator) processedNewOrders(ctx context.Context, authorizationID, customerID string) ([]fulfillment.VendorOrder, error) {
	var orders []fulfillment.VendorOrder
	offset := 0
	for {
		page, err := c.vendor.SearchOrders(ctx, authorizationID, fulfillment.OrderSearch{
			CustomerID: customerID,
			OrderType:  fulfillment.VendorOrderNew,
			Statuses:   []string{fulfillment.StatusProcessed},
			Limit:      c.pageSize,
			Offset:     offset,
		})
		if err != nil {
			return nil, err
		}
		orders = append(orders, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.TotalCount {
			break
		}
	}

	slices.SortStableFunc(orders, func(a, b fulfillment.VendorOrder) int {
		return a.CreationDate.Compare(b.CreationDate)
	})
	return orders, nil
}

func (c *Correlator) findReturn(ctx context.Context, authorizationID, customerID, orderID, offerID string) (*fulfillment.VendorOrder, error) {
	page, err := c.vendor.SearchOrders(ctx, authorizationID, fulfillment.OrderSearch{
		CustomerID:       customerID,
		OrderType:        fulfillment.VendorOrderReturn,
		ReferenceOrderID: orderID,
		OfferID:          offerID,
		Statuses:         []string{fulfillment.StatusProcessed, fulfillment.StatusPending},
		Limit:            1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	ret := page.Items[0]
	return &ret, nil
}

func lineOfFamily(lines []fulfillment.LineItem, family string) (fulfillment.LineItem, bool) {
	for _, line := range lines {
		if fulfillment.SKUFamily(line.OfferID) == family {
			return line, true
		}
	}
	return fulfillment.LineItem{}, false
}
