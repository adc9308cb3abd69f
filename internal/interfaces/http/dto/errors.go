package dto

import "net/http"

// Error codes carried in ErrorInfo.Code. Clients branch on these rather
// than on the HTTP status, which several codes share.
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"

	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"

	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"

	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeConflict means the order is already being fulfilled
	ErrCodeConflict = "ERR_CONFLICT"

	// ErrCodeUnsupportedOrder is an order type with no fulfillment flow
	ErrCodeUnsupportedOrder = "ERR_UNSUPPORTED_ORDER"
	ErrCodeQueueFull        = "ERR_QUEUE_FULL"
	// ErrCodeVendor is a vendor rejection that retrying will not fix
	ErrCodeVendor = "ERR_VENDOR"
)

var statusByCode = map[string]int{
	ErrCodeUnavailable: http.StatusServiceUnavailable,
	ErrCodeQueueFull:   http.StatusServiceUnavailable,

	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeRequestTooLarge:  http.StatusRequestEntityTooLarge,
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeConflict:         http.StatusConflict,
	ErrCodeUnsupportedOrder: http.StatusUnprocessableEntity,
	ErrCodeVendor:           http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status for an error code; unknown codes
// and ErrCodeInternal are 500
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
