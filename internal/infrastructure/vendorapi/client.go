// Package vendorapi is the HTTP adapter to the vendor partner API. It
// implements fulfillment.VendorGateway on top of a static authorization
// directory and a client-credentials token provider.
package vendorapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/logger"
)

// maxResponseSize is the maximum allowed response size from the vendor API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// RequestObserver is notified of every vendor API call
type RequestObserver interface {
	ObserveVendorRequest(ctx context.Context, operation string, status int, elapsed time.Duration)
}

// Client implements fulfillment.VendorGateway over HTTP
type Client struct {
	baseURL    string
	directory  *Directory
	tokens     *TokenProvider
	httpClient *http.Client
	logger     *zap.Logger
	observer   RequestObserver
}

var _ fulfillment.VendorGateway = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithRequestObserver registers an observer of vendor calls
func WithRequestObserver(o RequestObserver) ClientOption {
	return func(cl *Client) {
		cl.observer = o
	}
}

// NewClient creates a vendor API client
func NewClient(baseURL string, directory *Directory, tokens *TokenProvider, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		directory: directory,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Transfers
// ---------------------------------------------------------------------------

var membershipParams = url.Values{
	"ignore-order-return": {"true"},
	"expire-open-pas":     {"true"},
}

// PreviewTransfer implements fulfillment.VendorGateway
func (c *Client) PreviewTransfer(ctx context.Context, authorizationID, membershipID string) ([]fulfillment.LineItem, error) {
	var resp transferPreviewResponse
	err := c.call(ctx, callSpec{
		operation:       "preview_transfer",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/memberships/" + url.PathEscape(membershipID) + "/offers",
		query:           membershipParams,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return lineItemsToDomain(resp.Items), nil
}

// CreateTransfer implements fulfillment.VendorGateway
func (c *Client) CreateTransfer(ctx context.Context, authorizationID, sellerID, orderID, membershipID string) (*fulfillment.VendorTransfer, error) {
	reseller, err := c.directory.Reseller(authorizationID, sellerID)
	if err != nil {
		return nil, err
	}
	var resp transferResponse
	err = c.call(ctx, callSpec{
		operation:       "create_transfer",
		authorizationID: authorizationID,
		method:          http.MethodPost,
		path:            "/v3/memberships/" + url.PathEscape(membershipID) + "/transfers",
		query:           membershipParams,
		body:            transferPayload{ResellerID: reseller.ID},
		correlationID:   orderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// GetTransfer implements fulfillment.VendorGateway
func (c *Client) GetTransfer(ctx context.Context, authorizationID, membershipID, transferID string) (*fulfillment.VendorTransfer, error) {
	var resp transferResponse
	err := c.call(ctx, callSpec{
		operation:       "get_transfer",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/memberships/" + url.PathEscape(membershipID) + "/transfers/" + url.PathEscape(transferID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// ---------------------------------------------------------------------------
// Customers and subscriptions
// ---------------------------------------------------------------------------

// GetCustomer implements fulfillment.VendorGateway
func (c *Client) GetCustomer(ctx context.Context, authorizationID, customerID string) (*fulfillment.VendorCustomer, error) {
	var resp customerResponse
	err := c.call(ctx, callSpec{
		operation:       "get_customer",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/customers/" + url.PathEscape(customerID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// GetSubscriptions implements fulfillment.VendorGateway
func (c *Client) GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]fulfillment.VendorSubscription, error) {
	var resp subscriptionListResponse
	err := c.call(ctx, callSpec{
		operation:       "get_subscriptions",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/customers/" + url.PathEscape(customerID) + "/subscriptions",
	}, &resp)
	if err != nil {
		return nil, err
	}
	subs := make([]fulfillment.VendorSubscription, 0, len(resp.Items))
	for _, item := range resp.Items {
		subs = append(subs, item.toDomain())
	}
	return subs, nil
}

// UpdateSubscriptionAutoRenewal implements fulfillment.VendorGateway. The
// PATCH response omits renewal fields, so the subscription is read back.
func (c *Client) UpdateSubscriptionAutoRenewal(ctx context.Context, authorizationID, customerID, subscriptionID string, enabled bool) (*fulfillment.VendorSubscription, error) {
	path := "/v3/customers/" + url.PathEscape(customerID) + "/subscriptions/" + url.PathEscape(subscriptionID)
	var payload autoRenewalPayload
	payload.AutoRenewal.Enabled = enabled

	err := c.call(ctx, callSpec{
		operation:       "update_subscription",
		authorizationID: authorizationID,
		method:          http.MethodPatch,
		path:            path,
		body:            payload,
	}, nil)
	if err != nil {
		return nil, err
	}

	var resp subscriptionResponse
	err = c.call(ctx, callSpec{
		operation:       "get_subscription",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            path,
	}, &resp)
	if err != nil {
		return nil, err
	}
	sub := resp.toDomain()
	return &sub, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// SearchOrders implements fulfillment.VendorGateway
func (c *Client) SearchOrders(ctx context.Context, authorizationID string, search fulfillment.OrderSearch) (*fulfillment.OrderPage, error) {
	if search.CustomerID == "" {
		return nil, fulfillment.ErrMissingCustomerID
	}
	query := url.Values{}
	if search.Limit > 0 {
		query.Set("limit", strconv.Itoa(search.Limit))
	}
	if search.Offset > 0 {
		query.Set("offset", strconv.Itoa(search.Offset))
	}
	if search.OrderType != "" {
		query.Set("order-type", string(search.OrderType))
	}
	for _, status := range search.Statuses {
		query.Add("status", status)
	}
	if search.ReferenceOrderID != "" {
		query.Set("reference-order-id", search.ReferenceOrderID)
	}
	if search.OfferID != "" {
		query.Set("offer-id", search.OfferID)
	}

	var resp orderPageResponse
	err := c.call(ctx, callSpec{
		operation:       "search_orders",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/customers/" + url.PathEscape(search.CustomerID) + "/orders",
		query:           query,
	}, &resp)
	if err != nil {
		return nil, err
	}
	page := &fulfillment.OrderPage{TotalCount: resp.TotalCount, Items: make([]fulfillment.VendorOrder, 0, len(resp.Items))}
	for _, item := range resp.Items {
		page.Items = append(page.Items, item.toDomain())
	}
	return page, nil
}

// PreviewOrder implements fulfillment.VendorGateway. SKU families with a
// configured default offer are expanded to that offer id.
func (c *Client) PreviewOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	payload := c.orderPayload(req)
	for i := range payload.LineItems {
		payload.LineItems[i].OfferID = c.directory.OfferID(payload.LineItems[i].OfferID)
	}
	return c.submitOrder(ctx, "preview_order", authorizationID, customerID, payload, "")
}

// CreateNewOrder implements fulfillment.VendorGateway. The correlation id is
// the SHA-256 of the payload so a resubmitted identical order is deduplicated.
func (c *Client) CreateNewOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	payload := c.orderPayload(req)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: failed to encode order: %w", err)
	}
	sum := sha256.Sum256(raw)
	return c.submitOrder(ctx, "create_order", authorizationID, customerID, payload, hex.EncodeToString(sum[:]))
}

// CreateReturnOrder implements fulfillment.VendorGateway
func (c *Client) CreateReturnOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	payload := c.orderPayload(req)
	return c.submitOrder(ctx, "return_order", authorizationID, customerID, payload, req.ExternalReferenceID)
}

// GetOrder implements fulfillment.VendorGateway
func (c *Client) GetOrder(ctx context.Context, authorizationID, customerID, orderID string) (*fulfillment.VendorOrder, error) {
	var resp orderResponse
	err := c.call(ctx, callSpec{
		operation:       "get_order",
		authorizationID: authorizationID,
		method:          http.MethodGet,
		path:            "/v3/customers/" + url.PathEscape(customerID) + "/orders/" + url.PathEscape(orderID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	order := resp.toDomain()
	return &order, nil
}

func (c *Client) orderPayload(req *fulfillment.OrderRequest) orderPayload {
	payload := orderPayload{
		ExternalReferenceID: req.ExternalReferenceID,
		ReferenceOrderID:    req.ReferenceOrderID,
		OrderType:           string(req.Type),
		CurrencyCode:        req.Currency,
		LineItems:           make([]lineItemPayload, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		payload.LineItems = append(payload.LineItems, lineItemPayload{
			ExtLineItemNumber: line.ExtLineItemNumber,
			OfferID:           line.OfferID,
			Quantity:          line.Quantity,
		})
	}
	return payload
}

func (c *Client) submitOrder(ctx context.Context, operation, authorizationID, customerID string, payload orderPayload, correlationID string) (*fulfillment.VendorOrder, error) {
	if customerID == "" {
		return nil, fulfillment.ErrMissingCustomerID
	}
	var resp orderResponse
	err := c.call(ctx, callSpec{
		operation:       operation,
		authorizationID: authorizationID,
		method:          http.MethodPost,
		path:            "/v3/customers/" + url.PathEscape(customerID) + "/orders",
		body:            payload,
		correlationID:   correlationID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	order := resp.toDomain()
	return &order, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

type callSpec struct {
	operation       string
	authorizationID string
	method          string
	path            string
	query           url.Values
	body            any
	correlationID   string
}

// call performs one API request. A 401 drops the cached token and the
// request is retried once with a fresh one.
func (c *Client) call(ctx context.Context, spec callSpec, out any) error {
	auth, err := c.directory.Authorization(spec.authorizationID)
	if err != nil {
		return err
	}

	var body []byte
	if spec.body != nil {
		if body, err = json.Marshal(spec.body); err != nil {
			return fmt.Errorf("vendorapi: failed to encode %s request: %w", spec.operation, err)
		}
	}

	status, raw, err := c.doRequest(ctx, auth, spec, body)
	if err == nil && status == http.StatusUnauthorized {
		c.tokens.Invalidate(ctx, auth)
		status, raw, err = c.doRequest(ctx, auth, spec, body)
	}
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		apiErr := decodeError(status, raw)
		logger.Enrich(ctx, c.logger).Warn("vendor request failed",
			zap.String("operation", spec.operation),
			zap.String("authorization_id", auth.ID),
			zap.Int("status", status),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", fulfillment.ErrVendorInvalidResponse, spec.operation, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, auth *Authorization, spec callSpec, body []byte) (int, []byte, error) {
	token, err := c.tokens.Token(ctx, auth)
	if err != nil {
		return 0, nil, err
	}

	target := c.baseURL + spec.path
	if len(spec.query) > 0 {
		target += "?" + spec.query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("vendorapi: failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", auth.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if spec.correlationID != "" {
		req.Header.Set("x-correlation-id", spec.correlationID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(ctx, spec.operation, 0, start)
		return 0, nil, fmt.Errorf("%w: %v", fulfillment.ErrVendorUnavailable, err)
	}
	defer resp.Body.Close()
	c.observe(ctx, spec.operation, resp.StatusCode, start)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", fulfillment.ErrVendorUnavailable, err)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) observe(ctx context.Context, operation string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveVendorRequest(ctx, operation, status, time.Since(start))
	}
}

// decodeError turns an error response into a VendorAPIError. Bodies that are
// not vendor error payloads keep the HTTP status as their code.
func decodeError(status int, raw []byte) *fulfillment.VendorAPIError {
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		msg := payload.Message
		if err != nil || msg == "" {
			msg = http.StatusText(status)
		}
		return &fulfillment.VendorAPIError{Code: strconv.Itoa(status), Message: msg, HTTPStatus: status}
	}
	return &fulfillment.VendorAPIError{
		Code:       payload.Code,
		Message:    payload.Message,
		Details:    payload.AdditionalDetails,
		HTTPStatus: status,
	}
}
