package platform

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ref is a {"id": ...} reference to another platform object
type ref struct {
	ID string `json:"id"`
}

type parameter struct {
	ExternalID string      `json:"externalId"`
	Value      string      `json:"value"`
	Error      *paramError `json:"error,omitempty"`
}

type paramError struct {
	Message string `json:"message"`
}

type parameters struct {
	Ordering    []parameter `json:"ordering,omitempty"`
	Fulfillment []parameter `json:"fulfillment,omitempty"`
}

func findParam(params []parameter, externalID string) string {
	for _, p := range params {
		if p.ExternalID == externalID {
			return p.Value
		}
	}
	return ""
}

type externalIDs struct {
	Vendor string `json:"vendor,omitempty"`
}

type orderLine struct {
	ID   string `json:"id"`
	Item *struct {
		Name        string      `json:"name"`
		ExternalIDs externalIDs `json:"externalIds"`
	} `json:"item,omitempty"`
	Quantity    int        `json:"quantity,omitempty"`
	OldQuantity int        `json:"oldQuantity,omitempty"`
	Price       *linePrice `json:"price,omitempty"`
}

type linePrice struct {
	UnitPP decimal.Decimal `json:"unitPP"`
}

type orderResponse struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	Product       ref         `json:"product"`
	Authorization ref         `json:"authorization"`
	Seller        ref         `json:"seller"`
	Agreement     ref         `json:"agreement"`
	ExternalIDs   externalIDs `json:"externalIds"`
	Parameters    parameters  `json:"parameters"`
	Lines         []orderLine `json:"lines"`
	Price         struct {
		Currency string `json:"currency"`
	} `json:"price"`
	Audit struct {
		Created struct {
			At time.Time `json:"at"`
		} `json:"created"`
	} `json:"audit"`
}

var orderTypes = map[string]fulfillment.OrderType{
	"purchase":    fulfillment.OrderTypePurchase,
	"change":      fulfillment.OrderTypeChange,
	"termination": fulfillment.OrderTypeTermination,
}

var orderStatuses = map[string]fulfillment.OrderStatus{
	"processing": fulfillment.OrderStatusProcessing,
	"querying":   fulfillment.OrderStatusQuery,
	"completed":  fulfillment.OrderStatusCompleted,
	"failed":     fulfillment.OrderStatusFailed,
}

// toDomain maps the platform order. A purchase carrying a membership id is
// a transfer of an existing vendor membership.
func (o orderResponse) toDomain() *fulfillment.PlatformOrder {
	order := &fulfillment.PlatformOrder{
		ID:              o.ID,
		Type:            orderTypes[strings.ToLower(o.Type)],
		Status:          orderStatuses[strings.ToLower(o.Status)],
		ProductID:       o.Product.ID,
		AuthorizationID: o.Authorization.ID,
		SellerID:        o.Seller.ID,
		AgreementID:     o.Agreement.ID,
		Currency:        o.Price.Currency,
		VendorOrderID:   o.ExternalIDs.Vendor,
		CreatedAt:       o.Audit.Created.At,
		Ordering: fulfillment.OrderingParams{
			MembershipID: findParam(o.Parameters.Ordering, fulfillment.ParamMembershipID),
		},
		Fulfillment: fulfillment.FulfillmentParams{
			CustomerID:   findParam(o.Parameters.Fulfillment, fulfillment.ParamCustomerID),
			NextSyncDate: findParam(o.Parameters.Fulfillment, fulfillment.ParamNextSync),
		},
	}
	if order.Type == "" && o.Type != "" {
		order.Type = fulfillment.OrderType(strings.ToLower(o.Type))
	}
	if order.Type == fulfillment.OrderTypePurchase && order.Ordering.MembershipID != "" {
		order.Type = fulfillment.OrderTypeTransfer
	}
	for _, l := range o.Lines {
		line := fulfillment.OrderLine{ID: l.ID, Quantity: l.Quantity, OldQuantity: l.OldQuantity}
		if l.Item != nil {
			line.ItemName = l.Item.Name
			line.VendorSKU = l.Item.ExternalIDs.Vendor
		}
		if l.Price != nil {
			line.UnitPrice = l.Price.UnitPP
		}
		order.Lines = append(order.Lines, line)
	}
	return order
}

type subscriptionPayload struct {
	Name        string      `json:"name"`
	ExternalIDs externalIDs `json:"externalIds"`
	Parameters  parameters  `json:"parameters"`
	Lines       []ref       `json:"lines"`
	StartDate   string      `json:"startDate"`
	CommitDate  string      `json:"commitmentDate,omitempty"`
	AutoRenew   bool        `json:"autoRenew"`
}

type subscriptionResponse struct {
	ID          string      `json:"id"`
	ExternalIDs externalIDs `json:"externalIds"`
}

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type subscriptionPage struct {
	Data []subscriptionResponse `json:"data"`
	Meta struct {
		Pagination pagination `json:"pagination"`
	} `json:"$meta"`
}

type template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type templatePage struct {
	Data []template `json:"data"`
}

type errorResponse struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
