package fulfillment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSKUFamily(t *testing.T) {
	assert.Equal(t, "65304578CA", SKUFamily("65304578CA01A12"))
	assert.Equal(t, "65304578CA", SKUFamily("65304578CA"))
	assert.Equal(t, "short", SKUFamily("short"))
}

func TestLineNumber(t *testing.T) {
	tests := []struct {
		lineID  string
		want    int
		wantErr bool
	}{
		{"ALI-1234-1234-1234-0001", 1, false},
		{"ALI-1234-1234-1234-0012", 12, false},
		{"ALI", 0, true},
		{"ALI-1234-", 0, true},
		{"ALI-1234-abcd", 0, true},
		{"ALI-1234-0000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.lineID, func(t *testing.T) {
			got, err := LineNumber(tt.lineID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLineID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPreviewOrder(t *testing.T) {
	matches := []LineMatch{
		{Line: OrderLine{ID: "ALI-1-0001"}, OfferID: "65304578CA", Kind: MatchNew, Quantity: 3},
		{Line: OrderLine{ID: "ALI-1-0002"}, OfferID: "77777777CA", Kind: MatchReturn, Quantity: 1},
	}

	t.Run("only new matches become preview lines", func(t *testing.T) {
		req, err := NewPreviewOrder("ORD-1", "USD", matches)
		require.NoError(t, err)
		assert.Equal(t, VendorOrderPreview, req.Type)
		assert.Equal(t, "ORD-1", req.ExternalReferenceID)
		assert.Equal(t, "USD", req.Currency)
		require.Len(t, req.Lines, 1)
		assert.Equal(t, LineItem{ExtLineItemNumber: 1, OfferID: "65304578CA", Quantity: 3}, req.Lines[0])
	})

	t.Run("currency is required", func(t *testing.T) {
		_, err := NewPreviewOrder("ORD-1", "", matches)
		assert.ErrorIs(t, err, ErrMissingCurrency)
	})

	t.Run("no new lines is invalid", func(t *testing.T) {
		_, err := NewPreviewOrder("ORD-1", "USD", matches[1:])
		assert.ErrorIs(t, err, ErrInvalidVendorOrder)
	})
}

func TestNewReturnOrder(t *testing.T) {
	returning := &VendorOrder{OrderID: "P0100", ExternalReferenceID: "ORD-0"}
	line := LineItem{ExtLineItemNumber: 2, OfferID: "65304578CA01A12", Quantity: 10}

	req, err := NewReturnOrder("ORD-1", "USD", returning, line, 4)
	require.NoError(t, err)
	assert.Equal(t, VendorOrderReturn, req.Type)
	assert.Equal(t, "ORD-1_ORD-0_2", req.ExternalReferenceID)
	assert.Equal(t, "P0100", req.ReferenceOrderID)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, 4, req.Lines[0].Quantity)

	_, err = NewReturnOrder("ORD-1", "USD", nil, line, 4)
	assert.True(t, errors.Is(err, ErrInvalidVendorOrder))
}

func TestUnrecoverableStatusReason(t *testing.T) {
	for status, want := range map[string]string{
		StatusInactiveOrFailed:  "Inactive account, failed order or inactive subscription.",
		StatusCancelled:         "Order has been cancelled.",
		StatusInactiveDistrib:   "Distributor is inactive.",
		StatusInactiveReseller:  "Reseller is inactive.",
		StatusInactiveCustomer:  "Customer is inactive.",
		StatusInvalidCustomerID: "The provided customer identifier is invalid.",
	} {
		reason, ok := UnrecoverableStatusReason(status)
		assert.True(t, ok, status)
		assert.Equal(t, want, reason, status)
	}

	_, ok := UnrecoverableStatusReason(StatusPending)
	assert.False(t, ok)

	assert.Equal(t, "Unexpected status (9999) received from vendor.", UnexpectedStatusReason("9999"))
}

func TestVendorAPIError(t *testing.T) {
	err := error(&VendorAPIError{Code: "5117", Message: "Ineligible", Details: []string{"a", "b"}, HTTPStatus: 400})
	assert.Equal(t, "5117 - Ineligible: a, b", err.Error())
	assert.True(t, IsVendorCode(err, CodeInvalidMembership, CodeIneligibleForTransfer))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTransient(err))

	notFound := &VendorAPIError{Code: "404", Message: "Not Found", HTTPStatus: 404}
	assert.Equal(t, "404 - Not Found", notFound.Error())
	assert.True(t, IsNotFound(notFound))

	assert.True(t, IsTransient(ErrVendorUnavailable))
	assert.True(t, IsTransient(&VendorAPIError{Code: "500", HTTPStatus: 503}))
}
