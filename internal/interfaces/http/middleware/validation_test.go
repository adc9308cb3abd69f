package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipm/backend/internal/interfaces/http/dto"
)

type validationInput struct {
	OrderID string `json:"order_id" binding:"required,orderid"`
	Event   string `json:"event" binding:"required,oneof=created updated"`
	Note    string `json:"note" binding:"omitempty,max=5"`
}

func newValidationRouter() *gin.Engine {
	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		var input validationInput
		if err := c.ShouldBindJSON(&input); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": input.OrderID})
	})
	return router
}

func TestSetupValidator(t *testing.T) {
	SetupValidator()
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)
	assert.NoError(t, v.Var("PR-1234-5678", OrderIDTag))
	assert.Error(t, v.Var("../etc/passwd", OrderIDTag))
	assert.Error(t, v.Var(strings.Repeat("a", 65), OrderIDTag))
}

func TestHandleValidationError(t *testing.T) {
	router := newValidationRouter()

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantCode    string
		wantDetails map[string]string
	}{
		{
			name:       "valid input",
			body:       `{"order_id":"PR-1","event":"created"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing fields",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantDetails: map[string]string{
				"order_id": "This field is required",
				"event":    "This field is required",
			},
		},
		{
			name:       "bad values",
			body:       `{"order_id":"PR 1","event":"deleted","note":"too long"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeValidation,
			wantDetails: map[string]string{
				"order_id": "Invalid order id",
				"event":    "Must be one of: created updated",
				"note":     "Must be at most 5 characters",
			},
		},
		{
			name:       "malformed json",
			body:       `{"order_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
		{
			name:       "wrong json type",
			body:       `{"order_id":42,"event":"created"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   dto.ErrCodeInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode == "" {
				return
			}

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)

			if tt.wantDetails != nil {
				got := make(map[string]string, len(resp.Error.Details))
				for _, d := range resp.Error.Details {
					got[d.Field] = d.Message
				}
				assert.Equal(t, tt.wantDetails, got)
			}
		})
	}
}
