package vendorapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

type orderPayload struct {
	ExternalReferenceID string            `json:"externalReferenceId"`
	ReferenceOrderID    string            `json:"referenceOrderId,omitempty"`
	OrderType           string            `json:"orderType"`
	CurrencyCode        string            `json:"currencyCode,omitempty"`
	LineItems           []lineItemPayload `json:"lineItems"`
}

type lineItemPayload struct {
	ExtLineItemNumber int    `json:"extLineItemNumber"`
	OfferID           string `json:"offerId"`
	Quantity          int    `json:"quantity"`
}

type transferPayload struct {
	ResellerID string `json:"resellerId"`
}

type autoRenewalPayload struct {
	AutoRenewal struct {
		Enabled bool `json:"enabled"`
	} `json:"autoRenewal"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

type errorResponse struct {
	Code              string   `json:"code"`
	Message           string   `json:"message"`
	AdditionalDetails []string `json:"additionalDetails"`
}

type lineItemResponse struct {
	ExtLineItemNumber int    `json:"extLineItemNumber"`
	OfferID           string `json:"offerId"`
	Quantity          int    `json:"quantity"`
	SubscriptionID    string `json:"subscriptionId"`
	Status            string `json:"status"`
	Pricing           *struct {
		PartnerPrice           decimal.Decimal     `json:"partnerPrice"`
		DiscountedPartnerPrice decimal.NullDecimal `json:"discountedPartnerPrice"`
	} `json:"pricing"`
}

func (l lineItemResponse) toDomain() fulfillment.LineItem {
	item := fulfillment.LineItem{
		ExtLineItemNumber: l.ExtLineItemNumber,
		OfferID:           l.OfferID,
		Quantity:          l.Quantity,
		SubscriptionID:    l.SubscriptionID,
		Status:            l.Status,
	}
	if l.Pricing != nil {
		item.UnitPrice = l.Pricing.PartnerPrice
		if l.Pricing.DiscountedPartnerPrice.Valid {
			item.UnitPrice = l.Pricing.DiscountedPartnerPrice.Decimal
		}
	}
	return item
}

func lineItemsToDomain(lines []lineItemResponse) []fulfillment.LineItem {
	out := make([]fulfillment.LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.toDomain())
	}
	return out
}

type orderResponse struct {
	OrderID             string             `json:"orderId"`
	ExternalReferenceID string             `json:"externalReferenceId"`
	ReferenceOrderID    string             `json:"referenceOrderId"`
	OrderType           string             `json:"orderType"`
	CurrencyCode        string             `json:"currencyCode"`
	Status              string             `json:"status"`
	CreationDate        vendorTime         `json:"creationDate"`
	LineItems           []lineItemResponse `json:"lineItems"`
}

func (o orderResponse) toDomain() fulfillment.VendorOrder {
	return fulfillment.VendorOrder{
		OrderID:             o.OrderID,
		ExternalReferenceID: o.ExternalReferenceID,
		ReferenceOrderID:    o.ReferenceOrderID,
		Type:                fulfillment.VendorOrderType(o.OrderType),
		Currency:            o.CurrencyCode,
		Status:              o.Status,
		CreationDate:        o.CreationDate.Time,
		Lines:               lineItemsToDomain(o.LineItems),
	}
}

type orderPageResponse struct {
	TotalCount int             `json:"totalCount"`
	Items      []orderResponse `json:"items"`
}

type transferResponse struct {
	TransferID   string             `json:"transferId"`
	MembershipID string             `json:"membershipId"`
	CustomerID   string             `json:"customerId"`
	Status       string             `json:"status"`
	CreationDate vendorTime         `json:"creationDate"`
	LineItems    []lineItemResponse `json:"lineItems"`
}

func (t transferResponse) toDomain() *fulfillment.VendorTransfer {
	return &fulfillment.VendorTransfer{
		TransferID:   t.TransferID,
		MembershipID: t.MembershipID,
		CustomerID:   t.CustomerID,
		Status:       t.Status,
		CreationDate: t.CreationDate.Time,
		Lines:        lineItemsToDomain(t.LineItems),
	}
}

type transferPreviewResponse struct {
	TotalCount int                `json:"totalCount"`
	Items      []lineItemResponse `json:"items"`
}

type customerResponse struct {
	CustomerID     string `json:"customerId"`
	Status         string `json:"status"`
	CompanyProfile struct {
		CompanyName string `json:"companyName"`
	} `json:"companyProfile"`
	CotermDate vendorTime `json:"cotermDate"`
	Benefits   []struct {
		Type       string `json:"type"`
		Commitment *struct {
			Status string `json:"status"`
		} `json:"commitment"`
	} `json:"benefits"`
}

const benefitThreeYearCommit = "THREE_YEAR_COMMIT"

func (c customerResponse) toDomain() *fulfillment.VendorCustomer {
	customer := &fulfillment.VendorCustomer{
		CustomerID:  c.CustomerID,
		CompanyName: c.CompanyProfile.CompanyName,
		Status:      c.Status,
		CotermDate:  c.CotermDate.Time,
	}
	for _, b := range c.Benefits {
		if b.Type == benefitThreeYearCommit && b.Commitment != nil {
			customer.CommitmentStatus = b.Commitment.Status
		}
	}
	return customer
}

type subscriptionResponse struct {
	SubscriptionID  string `json:"subscriptionId"`
	OfferID         string `json:"offerId"`
	CurrentQuantity int    `json:"currentQuantity"`
	AutoRenewal     struct {
		Enabled         bool `json:"enabled"`
		RenewalQuantity int  `json:"renewalQuantity"`
	} `json:"autoRenewal"`
	RenewalDate vendorTime `json:"renewalDate"`
	Status      string     `json:"status"`
}

func (s subscriptionResponse) toDomain() fulfillment.VendorSubscription {
	return fulfillment.VendorSubscription{
		SubscriptionID:     s.SubscriptionID,
		OfferID:            s.OfferID,
		CurrentQuantity:    s.CurrentQuantity,
		RenewalQuantity:    s.AutoRenewal.RenewalQuantity,
		AutoRenewalEnabled: s.AutoRenewal.Enabled,
		RenewalDate:        s.RenewalDate.Time,
		Status:             s.Status,
	}
}

type subscriptionListResponse struct {
	TotalCount int                    `json:"totalCount"`
	Items      []subscriptionResponse `json:"items"`
}

// vendorTime accepts both the RFC 3339 timestamps and the bare dates the
// vendor uses for anniversary fields.
type vendorTime struct {
	time.Time
}

var vendorTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (t *vendorTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range vendorTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("vendorapi: unrecognized date %q", s)
}
