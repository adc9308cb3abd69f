package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// VendorGateway
// ---------------------------------------------------------------------------

// VendorGateway is the port to the vendor provisioning API.
// Mutating calls carry a correlation id derived from the platform order.
type VendorGateway interface {
	// PreviewTransfer lists what a membership owns before transferring it
	PreviewTransfer(ctx context.Context, authorizationID, membershipID string) ([]LineItem, error)
	// CreateTransfer submits a membership transfer to the seller's reseller
	CreateTransfer(ctx context.Context, authorizationID, sellerID, orderID, membershipID string) (*VendorTransfer, error)
	// GetTransfer fetches the current state of a submitted transfer
	GetTransfer(ctx context.Context, authorizationID, membershipID, transferID string) (*VendorTransfer, error)

	GetCustomer(ctx context.Context, authorizationID, customerID string) (*VendorCustomer, error)
	GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]VendorSubscription, error)
	UpdateSubscriptionAutoRenewal(ctx context.Context, authorizationID, customerID, subscriptionID string, enabled bool) (*VendorSubscription, error)

	// SearchOrders returns one page of a customer's vendor orders
	SearchOrders(ctx context.Context, authorizationID string, search OrderSearch) (*OrderPage, error)
	PreviewOrder(ctx context.Context, authorizationID, customerID string, req *OrderRequest) (*VendorOrder, error)
	CreateNewOrder(ctx context.Context, authorizationID, customerID string, req *OrderRequest) (*VendorOrder, error)
	CreateReturnOrder(ctx context.Context, authorizationID, customerID string, req *OrderRequest) (*VendorOrder, error)
	GetOrder(ctx context.Context, authorizationID, customerID, orderID string) (*VendorOrder, error)
}

// ---------------------------------------------------------------------------
// Platform
// ---------------------------------------------------------------------------

// Platform is the port to the commerce platform. Every mutation is applied
// to the platform and mirrored on the passed order.
type Platform interface {
	GetOrder(ctx context.Context, orderID string) (*PlatformOrder, error)
	// SetVendorOrderID records the vendor order id as the order's correlation key
	SetVendorOrderID(ctx context.Context, order *PlatformOrder, vendorOrderID string) error
	SetFulfillmentParams(ctx context.Context, order *PlatformOrder, params FulfillmentParams) error
	// SetOrderingParamError flags an ordering parameter for the buyer to fix
	SetOrderingParamError(ctx context.Context, order *PlatformOrder, param, message string) error
	SwitchToQuery(ctx context.Context, order *PlatformOrder) error
	SwitchToFailed(ctx context.Context, order *PlatformOrder, reason string) error
	SwitchToCompleted(ctx context.Context, order *PlatformOrder, template string) error
	CreateSubscription(ctx context.Context, order *PlatformOrder, sub PlatformSubscription) error
	// UpdateLinePrices sets unit prices keyed by platform line id
	UpdateLinePrices(ctx context.Context, order *PlatformOrder, prices map[string]decimal.Decimal) error
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

// TransferReader provides read access to transfers
type TransferReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	// FindByMembership returns the latest transfer of a membership within a product and authorization
	FindByMembership(ctx context.Context, productID, authorizationID, membershipID string) (*Transfer, error)
	// FindByCustomer returns the latest transfer that produced the given vendor customer
	FindByCustomer(ctx context.Context, productID, authorizationID, customerID string) (*Transfer, error)
	FindByStatus(ctx context.Context, productID string, status TransferStatus) ([]*Transfer, error)
	ListByMembership(ctx context.Context, membershipID string) ([]*Transfer, error)
}

// TransferWriter provides write access to transfers
type TransferWriter interface {
	Save(ctx context.Context, transfer *Transfer) error
}

// TransferRepository combines read and write access to transfers
type TransferRepository interface {
	TransferReader
	TransferWriter
}

// PollAttempt counts how often a pending vendor order was polled.
type PollAttempt struct {
	OrderID      string
	Attempts     int
	LastPolledAt time.Time
}

// PollAttemptRepository keeps the pending poll ledger. The platform order
// is left untouched while a vendor order is pending.
type PollAttemptRepository interface {
	// Increment records one more poll and returns the new total
	Increment(ctx context.Context, orderID string) (int, error)
	Get(ctx context.Context, orderID string) (*PollAttempt, error)
	Clear(ctx context.Context, orderID string) error
}
