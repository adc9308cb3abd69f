package fulfillment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Vendor status and error codes
// ---------------------------------------------------------------------------

// Vendor order, transfer and subscription status codes.
const (
	StatusProcessed          = "1000"
	StatusPending            = "1002"
	StatusInactiveOrFailed   = "1004"
	StatusCancelled          = "1008"
	StatusInactiveDistrib    = "1020"
	StatusInactiveReseller   = "1022"
	StatusInactiveCustomer   = "1024"
	StatusInvalidCustomerID  = "1026"
	StatusTransferInProgress = "5121"
)

// Vendor transfer error codes.
const (
	CodeInvalidMembership         = "5115"
	CodeInvalidMembershipOrTranID = "5116"
	CodeIneligibleForTransfer     = "5117"
	// CodeAlreadyTransferred on a preview still lets the transfer be created
	CodeAlreadyTransferred = "5118"
)

// unrecoverableStatuses maps terminal vendor order statuses to the reason
// reported on the failed platform order.
var unrecoverableStatuses = map[string]string{
	StatusInactiveOrFailed:  "Inactive account, failed order or inactive subscription.",
	StatusCancelled:         "Order has been cancelled.",
	StatusInactiveDistrib:   "Distributor is inactive.",
	StatusInactiveReseller:  "Reseller is inactive.",
	StatusInactiveCustomer:  "Customer is inactive.",
	StatusInvalidCustomerID: "The provided customer identifier is invalid.",
}

// UnrecoverableStatusReason returns the failure reason for a terminal vendor
// order status, or false if the status is not terminal.
func UnrecoverableStatusReason(status string) (string, bool) {
	reason, ok := unrecoverableStatuses[status]
	return reason, ok
}

// UnexpectedStatusReason is the reason reported for any non-processed status
// that has no dedicated handling.
func UnexpectedStatusReason(status string) string {
	return fmt.Sprintf("Unexpected status (%s) received from vendor.", status)
}

// skuFamilyLength is the length of the offer id prefix identifying a SKU family.
const skuFamilyLength = 10

// SKUFamily truncates a vendor offer id to its SKU family.
func SKUFamily(offerID string) string {
	if len(offerID) <= skuFamilyLength {
		return offerID
	}
	return offerID[:skuFamilyLength]
}

// ---------------------------------------------------------------------------
// Vendor order records
// ---------------------------------------------------------------------------

// VendorOrderType is the vendor-side order type
type VendorOrderType string

const (
	VendorOrderNew     VendorOrderType = "NEW"
	VendorOrderPreview VendorOrderType = "PREVIEW"
	VendorOrderReturn  VendorOrderType = "RETURN"
)

// LineItem is the line shape shared by all vendor order records.
type LineItem struct {
	ExtLineItemNumber int
	OfferID           string
	Quantity          int
	SubscriptionID    string
	Status            string
	UnitPrice         decimal.Decimal
}

// OrderRequest is an outbound vendor order: preview, new or return.
// Build it through NewPreviewOrder, NewPurchaseOrder or NewReturnOrder.
type OrderRequest struct {
	Type                VendorOrderType
	ExternalReferenceID string
	ReferenceOrderID    string
	Currency            string
	Lines               []LineItem
}

// Validate checks the record against the rules of its type.
func (r *OrderRequest) Validate() error {
	if r.ExternalReferenceID == "" {
		return fmt.Errorf("%w: external reference id is required", ErrInvalidVendorOrder)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInvalidVendorOrder)
	}
	for _, line := range r.Lines {
		if line.OfferID == "" || line.Quantity <= 0 || line.ExtLineItemNumber <= 0 {
			return fmt.Errorf("%w: line %d is incomplete", ErrInvalidVendorOrder, line.ExtLineItemNumber)
		}
	}
	switch r.Type {
	case VendorOrderPreview, VendorOrderNew:
		if r.Currency == "" {
			return ErrMissingCurrency
		}
	case VendorOrderReturn:
		if r.ReferenceOrderID == "" {
			return fmt.Errorf("%w: return requires a reference order id", ErrInvalidVendorOrder)
		}
		if len(r.Lines) != 1 {
			return fmt.Errorf("%w: return carries exactly one line", ErrInvalidVendorOrder)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidVendorOrder, r.Type)
	}
	return nil
}

// NewPreviewOrder builds a preview order for the new-kind matches of a
// platform order. Currency is an explicit input and must not be empty.
func NewPreviewOrder(orderID, currency string, matches []LineMatch) (*OrderRequest, error) {
	if currency == "" {
		return nil, ErrMissingCurrency
	}
	req := &OrderRequest{
		Type:                VendorOrderPreview,
		ExternalReferenceID: orderID,
		Currency:            currency,
	}
	for _, m := range matches {
		if m.Kind != MatchNew {
			continue
		}
		number, err := m.Line.LineNumber()
		if err != nil {
			return nil, err
		}
		req.Lines = append(req.Lines, LineItem{
			ExtLineItemNumber: number,
			OfferID:           m.OfferID,
			Quantity:          m.Quantity,
		})
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// NewPurchaseOrder turns a vendor preview into the NEW order to place.
func NewPurchaseOrder(orderID, currency string, preview *VendorOrder) (*OrderRequest, error) {
	if preview == nil {
		return nil, fmt.Errorf("%w: preview is required", ErrInvalidVendorOrder)
	}
	req := &OrderRequest{
		Type:                VendorOrderNew,
		ExternalReferenceID: orderID,
		Currency:            currency,
	}
	for _, line := range preview.Lines {
		req.Lines = append(req.Lines, LineItem{
			ExtLineItemNumber: line.ExtLineItemNumber,
			OfferID:           line.OfferID,
			Quantity:          line.Quantity,
		})
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// NewReturnOrder builds a RETURN order against a processed new order.
// The external reference combines the platform order, the returned order's
// reference and the line number so each returned line is submitted once.
func NewReturnOrder(orderID, currency string, returning *VendorOrder, line LineItem, quantity int) (*OrderRequest, error) {
	if returning == nil {
		return nil, fmt.Errorf("%w: returning order is required", ErrInvalidVendorOrder)
	}
	req := &OrderRequest{
		Type:                VendorOrderReturn,
		ExternalReferenceID: fmt.Sprintf("%s_%s_%d", orderID, returning.ExternalReferenceID, line.ExtLineItemNumber),
		ReferenceOrderID:    returning.OrderID,
		Currency:            currency,
		Lines: []LineItem{{
			ExtLineItemNumber: line.ExtLineItemNumber,
			OfferID:           line.OfferID,
			Quantity:          quantity,
		}},
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// VendorOrder is an order as returned by the vendor.
type VendorOrder struct {
	OrderID             string
	ExternalReferenceID string
	ReferenceOrderID    string
	Type                VendorOrderType
	Currency            string
	Status              string
	CreationDate        time.Time
	Lines               []LineItem
}

// IsProcessed returns true if the vendor processed the order
func (o *VendorOrder) IsProcessed() bool {
	return o.Status == StatusProcessed
}

// IsPending returns true if the vendor is still processing the order
func (o *VendorOrder) IsPending() bool {
	return o.Status == StatusPending
}

// VendorTransfer is a membership transfer as returned by the vendor.
type VendorTransfer struct {
	TransferID   string
	MembershipID string
	CustomerID   string
	Status       string
	CreationDate time.Time
	Lines        []LineItem
}

// ---------------------------------------------------------------------------
// Order search
// ---------------------------------------------------------------------------

// OrderSearch filters a customer's vendor orders. Zero values are omitted.
type OrderSearch struct {
	CustomerID       string
	OrderType        VendorOrderType
	Statuses         []string
	ReferenceOrderID string
	OfferID          string
	Limit            int
	Offset           int
}

// OrderPage is one page of a vendor order search.
type OrderPage struct {
	TotalCount int
	Items      []VendorOrder
}
