package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/vipm/backend/internal/interfaces/http/dto"
)

// OrderIDTag validates platform order ids
const OrderIDTag = "orderid"

var (
	orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	setupOnce      sync.Once
)

// ValidOrderID reports whether id is a well-formed platform order id
func ValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// SetupValidator registers the orderid tag on gin's validator and makes
// its errors name fields the way the JSON (or form) tag does. Safe to call
// more than once.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(wireName)
		_ = v.RegisterValidation(OrderIDTag, func(fl validator.FieldLevel) bool {
			return ValidOrderID(fl.Field().String())
		})
	})
}

func wireName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return ""
}

// HandleValidationError answers a failed bind: 413 when BodyLimit cut the
// body off, 400 with per-field details otherwise.
func HandleValidationError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		abortTooLarge(c, tooLarge.Limit)
		return
	}
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

// FormatValidationErrors builds the error response for a bind error
func FormatValidationErrors(err error, requestID string) dto.Response {
	if malformedJSON(err) {
		return dto.NewErrorResponseWithRequestID(dto.ErrCodeInvalidJSON, "Request body is not valid JSON", requestID)
	}

	var fieldErrs validator.ValidationErrors
	errors.As(err, &fieldErrs)
	details := make([]dto.ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: describe(fe)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

func malformedJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func describe(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return fmt.Sprintf("Must be at most %s%s", fe.Param(), unit)
	case "min":
		return fmt.Sprintf("Must be at least %s%s", fe.Param(), unit)
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "uuid":
		return "Invalid UUID format"
	case OrderIDTag:
		return "Invalid order id"
	default:
		return "Invalid value"
	}
}
