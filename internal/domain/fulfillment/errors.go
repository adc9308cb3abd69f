package fulfillment

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Fulfillment Errors
// ---------------------------------------------------------------------------

var (
	// Order errors
	ErrOrderNotFound           = errors.New("fulfillment: platform order not found")
	ErrInvalidOrderType        = errors.New("fulfillment: invalid order type")
	ErrInvalidLineID           = errors.New("fulfillment: invalid order line id")
	ErrMissingMembershipID     = errors.New("fulfillment: membership id is required")
	ErrMissingCustomerID       = errors.New("fulfillment: customer id is required")
	ErrVendorOrderIDAlreadySet = errors.New("fulfillment: vendor order id already recorded")

	// Vendor order record errors
	ErrMissingCurrency     = errors.New("fulfillment: currency is required")
	ErrInvalidVendorOrder  = errors.New("fulfillment: invalid vendor order")
	ErrUnreconciledDelta   = errors.New("fulfillment: quantity delta has no matching vendor order")
	ErrNoReturnableOrder   = errors.New("fulfillment: no processed order to return")
	ErrUnknownVendorStatus = errors.New("fulfillment: unexpected vendor status")

	// Transfer errors
	ErrTransferNotFound          = errors.New("fulfillment: transfer not found")
	ErrInvalidTransferTransition = errors.New("fulfillment: invalid transfer status transition")
	ErrTransferAlreadyExists     = errors.New("fulfillment: transfer already exists for membership")

	// Gateway errors
	ErrVendorUnavailable     = errors.New("fulfillment: vendor temporarily unavailable")
	ErrVendorInvalidResponse = errors.New("fulfillment: invalid vendor response")
	ErrVendorAuthFailed      = errors.New("fulfillment: vendor authentication failed")
	ErrUnknownAuthorization  = errors.New("fulfillment: unknown authorization")
	ErrUnknownSeller         = errors.New("fulfillment: unknown seller")
	ErrPlatformUnavailable   = errors.New("fulfillment: platform temporarily unavailable")
	ErrPlatformRequestFailed = errors.New("fulfillment: platform request failed")
)

// ---------------------------------------------------------------------------
// VendorAPIError
// ---------------------------------------------------------------------------

// VendorAPIError is an error payload returned by the vendor API.
// Its message is surfaced verbatim on failed orders.
type VendorAPIError struct {
	// Code is the vendor error or status code (e.g. "5117")
	Code string
	// Message is the human-readable vendor message
	Message string
	// Details holds additional vendor-provided details, if any
	Details []string
	// HTTPStatus is the HTTP status code of the response carrying the error
	HTTPStatus int
}

// Error formats the error as "<code> - <message>[: <details>]".
func (e *VendorAPIError) Error() string {
	msg := fmt.Sprintf("%s - %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, ", ")
	}
	return msg
}

// AsVendorError extracts a *VendorAPIError from err.
func AsVendorError(err error) (*VendorAPIError, bool) {
	var apiErr *VendorAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsVendorCode reports whether err is a vendor error carrying one of codes.
func IsVendorCode(err error, codes ...string) bool {
	apiErr, ok := AsVendorError(err)
	if !ok {
		return false
	}
	return slices.Contains(codes, apiErr.Code)
}

// IsNotFound reports whether err is a vendor error returned with HTTP 404.
func IsNotFound(err error) bool {
	apiErr, ok := AsVendorError(err)
	return ok && apiErr.HTTPStatus == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying on a later invocation
// rather than failing the order.
func IsTransient(err error) bool {
	if errors.Is(err, ErrVendorUnavailable) || errors.Is(err, ErrPlatformUnavailable) {
		return true
	}
	apiErr, ok := AsVendorError(err)
	if !ok {
		return false
	}
	return apiErr.HTTPStatus >= http.StatusInternalServerError ||
		apiErr.HTTPStatus == http.StatusTooManyRequests
}
