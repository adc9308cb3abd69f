package dto

import (
	"time"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

// OrderWebhookRequest is the platform's order notification
type OrderWebhookRequest struct {
	DeliveryID string `json:"delivery_id" binding:"required,max=128"`
	Event      string `json:"event" binding:"required,oneof=order.created order.updated order.resubmitted"`
	OrderID    string `json:"order_id" binding:"required,orderid"`
}

// JobResponse describes the fulfillment job accepted for a delivery
type JobResponse struct {
	JobID     string `json:"job_id,omitempty"`
	OrderID   string `json:"order_id"`
	Queued    bool   `json:"queued"`
	Duplicate bool   `json:"duplicate"`
}

// ---------------------------------------------------------------------------
// Fulfillment
// ---------------------------------------------------------------------------

// ResultResponse is the outcome of one synchronous fulfillment run
type ResultResponse struct {
	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type,omitempty"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	VendorOrderID string `json:"vendor_order_id,omitempty"`
}

// NewResultResponse converts an invocation result
func NewResultResponse(r app.Result) ResultResponse {
	return ResultResponse{
		OrderID:       r.OrderID,
		OrderType:     string(r.OrderType),
		Outcome:       string(r.Outcome),
		Reason:        r.Reason,
		VendorOrderID: r.VendorOrderID,
	}
}

// ---------------------------------------------------------------------------
// Transfers
// ---------------------------------------------------------------------------

// TransferQuery selects transfers of one membership. Product and
// authorization narrow the lookup to the latest transfer when both are set.
type TransferQuery struct {
	MembershipID    string `form:"membership_id" binding:"required,max=64"`
	ProductID       string `form:"product_id" binding:"omitempty,max=64"`
	AuthorizationID string `form:"authorization_id" binding:"omitempty,max=64"`
}

// Latest reports whether the query names a single transfer
func (q TransferQuery) Latest() bool {
	return q.ProductID != "" && q.AuthorizationID != ""
}

// TransferResponse is the API view of a legacy membership transfer
type TransferResponse struct {
	ID               string     `json:"id"`
	ProductID        string     `json:"product_id"`
	AuthorizationID  string     `json:"authorization_id"`
	SellerID         string     `json:"seller_id"`
	MembershipID     string     `json:"membership_id"`
	CustomerID       string     `json:"customer_id,omitempty"`
	TransferID       string     `json:"transfer_id,omitempty"`
	PlatformOrderID  string     `json:"platform_order_id,omitempty"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	VendorErrorCode  string     `json:"vendor_error_code,omitempty"`
	ErrorDescription string     `json:"error_description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	SynchronizedAt   *time.Time `json:"synchronized_at,omitempty"`
}

// NewTransferResponse converts a domain transfer
func NewTransferResponse(t *fulfillment.Transfer) TransferResponse {
	return TransferResponse{
		ID:               t.ID.String(),
		ProductID:        t.ProductID,
		AuthorizationID:  t.AuthorizationID,
		SellerID:         t.SellerID,
		MembershipID:     t.MembershipID,
		CustomerID:       t.CustomerID,
		TransferID:       t.TransferID,
		PlatformOrderID:  t.PlatformOrderID,
		Status:           t.Status.String(),
		RetryCount:       t.RetryCount,
		VendorErrorCode:  t.VendorErrorCode,
		ErrorDescription: t.ErrorDescription,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
		SynchronizedAt:   t.SynchronizedAt,
	}
}

// NewTransferResponses converts a list of domain transfers
func NewTransferResponses(transfers []*fulfillment.Transfer) []TransferResponse {
	out := make([]TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, NewTransferResponse(t))
	}
	return out
}
