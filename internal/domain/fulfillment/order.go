package fulfillment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OrderType represents the kind of platform order being fulfilled
// ---------------------------------------------------------------------------

// OrderType represents the kind of platform order being fulfilled
type OrderType string

const (
	// OrderTypePurchase is a first purchase of one or more subscriptions
	OrderTypePurchase OrderType = "purchase"
	// OrderTypeChange changes quantities of existing subscriptions
	OrderTypeChange OrderType = "change"
	// OrderTypeTermination terminates existing subscriptions
	OrderTypeTermination OrderType = "termination"
	// OrderTypeTransfer migrates a vendor membership to the platform
	OrderTypeTransfer OrderType = "transfer"
)

// IsValid returns true if the order type is valid
func (t OrderType) IsValid() bool {
	switch t {
	case OrderTypePurchase, OrderTypeChange, OrderTypeTermination, OrderTypeTransfer:
		return true
	default:
		return false
	}
}

// String returns the string representation of OrderType
func (t OrderType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// OrderStatus represents the platform-side status of an order
// ---------------------------------------------------------------------------

// OrderStatus represents the platform-side status of an order
type OrderStatus string

const (
	// OrderStatusProcessing is the only status in which an order is fulfilled
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusQuery means the order waits for buyer input
	OrderStatusQuery OrderStatus = "query"
	// OrderStatusCompleted is terminal success
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed is terminal failure
	OrderStatusFailed OrderStatus = "failed"
)

// IsTerminal returns true for completed and failed orders
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// ---------------------------------------------------------------------------
// Parameter names and templates
// ---------------------------------------------------------------------------

const (
	// ParamMembershipID is the ordering parameter holding the vendor membership id
	ParamMembershipID = "membershipId"
	// ParamCustomerID is the fulfillment parameter holding the vendor customer id
	ParamCustomerID = "customerId"
	// ParamNextSync is the fulfillment parameter holding the next sync date
	ParamNextSync = "nextSync"
)

// Template names used when completing an order.
const (
	TemplatePurchase    = "purchase"
	TemplateChange      = "change"
	TemplateTermination = "termination"
	TemplateTransfer    = "transfer"
	TemplateBulkMigrate = "bulk_migrate"
)

// NextSyncLayout is the date layout of the next sync fulfillment parameter.
const NextSyncLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// PlatformOrder
// ---------------------------------------------------------------------------

// OrderLine is one line of a platform order.
type OrderLine struct {
	// ID is the platform line id, e.g. ALI-1234-1234-1234-0001
	ID string
	// VendorSKU is the vendor external id of the item (the SKU family)
	VendorSKU string
	// ItemName is the display name of the item
	ItemName string
	// Quantity is the requested quantity
	Quantity int
	// OldQuantity is the quantity before this order (0 for purchases)
	OldQuantity int
	// UnitPrice is the vendor unit price once known
	UnitPrice decimal.Decimal
}

// LineNumber returns the vendor line number derived from the line id.
func (l OrderLine) LineNumber() (int, error) {
	return LineNumber(l.ID)
}

// LineNumber parses the trailing dash-separated segment of a platform line id
// as the vendor line number: ALI-1234-1234-1234-0001 gives 1.
func LineNumber(lineID string) (int, error) {
	idx := strings.LastIndex(lineID, "-")
	if idx < 0 || idx == len(lineID)-1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLineID, lineID)
	}
	n, err := strconv.Atoi(lineID[idx+1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLineID, lineID)
	}
	return n, nil
}

// OrderingParams are the buyer-supplied parameters of an order.
type OrderingParams struct {
	MembershipID string
}

// FulfillmentParams are the parameters written back during fulfillment.
type FulfillmentParams struct {
	CustomerID   string
	NextSyncDate string
}

// PlatformOrder is the customer-facing order being fulfilled.
// It is mutated only through the Platform port.
type PlatformOrder struct {
	ID              string
	Type            OrderType
	Status          OrderStatus
	ProductID       string
	AuthorizationID string
	SellerID        string
	AgreementID     string
	Currency        string
	Lines           []OrderLine
	Ordering        OrderingParams
	Fulfillment     FulfillmentParams
	// VendorOrderID is the vendor order or transfer id recorded for this order
	VendorOrderID string
	CreatedAt     time.Time
}

// HasVendorOrderID returns true if a vendor order id is already on file
func (o *PlatformOrder) HasVendorOrderID() bool {
	return o.VendorOrderID != ""
}

// IsActionable returns true if the order may be fulfilled in this invocation
func (o *PlatformOrder) IsActionable() bool {
	return o.Status == OrderStatusProcessing || o.Status == ""
}

// RecordVendorOrderID sets the vendor order id once. Recording a different id
// over an existing one fails with ErrVendorOrderIDAlreadySet.
func (o *PlatformOrder) RecordVendorOrderID(id string) error {
	if o.VendorOrderID != "" && o.VendorOrderID != id {
		return fmt.Errorf("%w: %s", ErrVendorOrderIDAlreadySet, o.VendorOrderID)
	}
	o.VendorOrderID = id
	return nil
}

// LineBySKUFamily returns the order line whose vendor SKU belongs to family.
func (o *PlatformOrder) LineBySKUFamily(family string) (OrderLine, bool) {
	for _, line := range o.Lines {
		if SKUFamily(line.VendorSKU) == family {
			return line, true
		}
	}
	return OrderLine{}, false
}
