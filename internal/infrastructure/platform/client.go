// Package platform is the HTTP adapter to the commerce platform's order and
// subscription API. It implements fulfillment.Platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/logger"
)

// maxResponseSize is the maximum allowed response size from the platform (10MB)
const maxResponseSize = 10 * 1024 * 1024

// TemplateQuerying is the template shown to the buyer while an order waits
// for input.
const TemplateQuerying = "querying"

const subscriptionPageSize = 100

// Client implements fulfillment.Platform over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger

	// templates caches template ids keyed by product id and template name
	templates map[string]string
	mu        sync.RWMutex
}

var _ fulfillment.Platform = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a platform client
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:    zap.NewNop(),
		templates: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrder implements fulfillment.Platform
func (c *Client) GetOrder(ctx context.Context, orderID string) (*fulfillment.PlatformOrder, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/commerce/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", fulfillment.ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	return resp.toDomain(), nil
}

// SetVendorOrderID implements fulfillment.Platform
func (c *Client) SetVendorOrderID(ctx context.Context, order *fulfillment.PlatformOrder, vendorOrderID string) error {
	if order.VendorOrderID == vendorOrderID {
		return nil
	}
	if order.HasVendorOrderID() {
		return fmt.Errorf("%w: %s", fulfillment.ErrVendorOrderIDAlreadySet, order.VendorOrderID)
	}
	body := map[string]any{"externalIds": externalIDs{Vendor: vendorOrderID}}
	if err := c.updateOrder(ctx, order.ID, body); err != nil {
		return err
	}
	return order.RecordVendorOrderID(vendorOrderID)
}

// SetFulfillmentParams implements fulfillment.Platform
func (c *Client) SetFulfillmentParams(ctx context.Context, order *fulfillment.PlatformOrder, params fulfillment.FulfillmentParams) error {
	body := map[string]any{"parameters": parameters{Fulfillment: []parameter{
		{ExternalID: fulfillment.ParamCustomerID, Value: params.CustomerID},
		{ExternalID: fulfillment.ParamNextSync, Value: params.NextSyncDate},
	}}}
	if err := c.updateOrder(ctx, order.ID, body); err != nil {
		return err
	}
	order.Fulfillment = params
	return nil
}

// SetOrderingParamError implements fulfillment.Platform
func (c *Client) SetOrderingParamError(ctx context.Context, order *fulfillment.PlatformOrder, param, message string) error {
	value := ""
	if param == fulfillment.ParamMembershipID {
		value = order.Ordering.MembershipID
	}
	body := map[string]any{"parameters": parameters{Ordering: []parameter{
		{ExternalID: param, Value: value, Error: &paramError{Message: message}},
	}}}
	return c.updateOrder(ctx, order.ID, body)
}

// SwitchToQuery implements fulfillment.Platform
func (c *Client) SwitchToQuery(ctx context.Context, order *fulfillment.PlatformOrder) error {
	templateID, err := c.templateID(ctx, order.ProductID, TemplateQuerying)
	if err != nil {
		return err
	}
	body := map[string]any{"template": ref{ID: templateID}}
	if err := c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(order.ID)+"/query", body, nil); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusQuery
	return nil
}

// SwitchToFailed implements fulfillment.Platform
func (c *Client) SwitchToFailed(ctx context.Context, order *fulfillment.PlatformOrder, reason string) error {
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(order.ID)+"/fail", body, nil); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusFailed
	return nil
}

// SwitchToCompleted implements fulfillment.Platform
func (c *Client) SwitchToCompleted(ctx context.Context, order *fulfillment.PlatformOrder, templateName string) error {
	templateID, err := c.templateID(ctx, order.ProductID, templateName)
	if err != nil {
		return err
	}
	body := map[string]any{"template": ref{ID: templateID}}
	if err := c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(order.ID)+"/complete", body, nil); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusCompleted
	return nil
}

// CreateSubscription implements fulfillment.Platform. A subscription already
// created for the same vendor subscription is left as is.
func (c *Client) CreateSubscription(ctx context.Context, order *fulfillment.PlatformOrder, sub fulfillment.PlatformSubscription) error {
	exists, err := c.hasSubscription(ctx, order.ID, sub.VendorSubscriptionID)
	if err != nil {
		return err
	}
	if exists {
		logger.Enrich(ctx, c.logger).Info("platform subscription already exists",
			zap.String("order_id", order.ID),
			zap.String("vendor_subscription_id", sub.VendorSubscriptionID),
		)
		return nil
	}

	payload := subscriptionPayload{
		Name:        sub.Name,
		ExternalIDs: externalIDs{Vendor: sub.VendorSubscriptionID},
		Parameters: parameters{Fulfillment: []parameter{
			{ExternalID: "adobeSKU", Value: sub.OfferID},
			{ExternalID: "currentQuantity", Value: strconv.Itoa(sub.Quantity)},
		}},
		Lines:     []ref{{ID: sub.LineID}},
		StartDate: sub.StartDate.UTC().Format(time.RFC3339),
		AutoRenew: sub.AutoRenew,
	}
	if !sub.CommitmentDate.IsZero() {
		payload.CommitDate = sub.CommitmentDate.Format(fulfillment.NextSyncLayout)
	}
	return c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(order.ID)+"/subscriptions", payload, nil)
}

// UpdateLinePrices implements fulfillment.Platform
func (c *Client) UpdateLinePrices(ctx context.Context, order *fulfillment.PlatformOrder, prices map[string]decimal.Decimal) error {
	if len(prices) == 0 {
		return nil
	}
	var lines []orderLine
	for _, line := range order.Lines {
		price, ok := prices[line.ID]
		if !ok {
			continue
		}
		lines = append(lines, orderLine{ID: line.ID, Price: &linePrice{UnitPP: price}})
	}
	if err := c.updateOrder(ctx, order.ID, map[string]any{"lines": lines}); err != nil {
		return err
	}
	for i := range order.Lines {
		if price, ok := prices[order.Lines[i].ID]; ok {
			order.Lines[i].UnitPrice = price
		}
	}
	return nil
}

func (c *Client) updateOrder(ctx context.Context, orderID string, body any) error {
	return c.do(ctx, http.MethodPut, "/commerce/orders/"+url.PathEscape(orderID), body, nil)
}

func (c *Client) hasSubscription(ctx context.Context, orderID, vendorSubscriptionID string) (bool, error) {
	for offset := 0; ; offset += subscriptionPageSize {
		path := fmt.Sprintf("/commerce/orders/%s/subscriptions?limit=%d&offset=%d",
			url.PathEscape(orderID), subscriptionPageSize, offset)
		var page subscriptionPage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return false, err
		}
		for _, s := range page.Data {
			if s.ExternalIDs.Vendor == vendorSubscriptionID {
				return true, nil
			}
		}
		if len(page.Data) == 0 || offset+len(page.Data) >= page.Meta.Pagination.Total {
			return false, nil
		}
	}
}

// templateID resolves a template name of a product, caching the result
func (c *Client) templateID(ctx context.Context, productID, name string) (string, error) {
	key := productID + "/" + name
	c.mu.RLock()
	id, ok := c.templates[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	query := url.Values{}
	query.Set("name", name)
	query.Set("limit", "1")
	var page templatePage
	if err := c.do(ctx, http.MethodGet, "/catalog/products/"+url.PathEscape(productID)+"/templates?"+query.Encode(), nil, &page); err != nil {
		return "", err
	}
	if len(page.Data) == 0 {
		return "", fmt.Errorf("%w: template %q not found for product %s", fulfillment.ErrPlatformRequestFailed, name, productID)
	}

	c.mu.Lock()
	c.templates[key] = page.Data[0].ID
	c.mu.Unlock()
	return page.Data[0].ID, nil
}

// requestError is a non-2xx platform response
type requestError struct {
	Status int
	Title  string
	Detail string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

func (e *requestError) Unwrap() error {
	if e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests {
		return fulfillment.ErrPlatformUnavailable
	}
	return fulfillment.ErrPlatformRequestFailed
}

func isStatus(err error, status int) bool {
	var reqErr *requestError
	return errors.As(err, &reqErr) && reqErr.Status == status
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", fulfillment.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", fulfillment.ErrPlatformUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		reqErr := &requestError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		var payload errorResponse
		if json.Unmarshal(raw, &payload) == nil && payload.Title != "" {
			reqErr.Title = payload.Title
			reqErr.Detail = payload.Detail
		}
		logger.Enrich(ctx, c.logger).Warn("platform request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return reqErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", fulfillment.ErrPlatformRequestFailed, err)
	}
	return nil
}
