package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakePlatform struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []recordedCall
	routes map[string]func(w http.ResponseWriter, r *http.Request)
	server *httptest.Server
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	f := &fakePlatform{t: t, routes: map[string]func(http.ResponseWriter, *http.Request){}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer platform-token", r.Header.Get("Authorization"))
		call := recordedCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &call.Body))
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		h, ok := f.routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":404,"title":"Not Found","detail":"no such resource"}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlatform) respond(method, path string, status int, body string) {
	f.routes[method+" "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakePlatform) callsTo(method, path string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(f *fakePlatform) *Client {
	return NewClient(f.server.URL, "platform-token", 5*time.Second, WithHTTPClient(f.server.Client()))
}

const orderJSON = `{
	"id": "ORD-1111-1111-1111",
	"type": "Purchase",
	"status": "Processing",
	"product": {"id": "PRD-1111-1111"},
	"authorization": {"id": "AUT-1000-0000"},
	"seller": {"id": "SEL-1111-1111"},
	"agreement": {"id": "AGR-1111-1111-1111"},
	"price": {"currency": "USD"},
	"parameters": {
		"ordering": [{"externalId": "membershipId", "value": ""}],
		"fulfillment": [{"externalId": "customerId", "value": "CUST-1"}]
	},
	"lines": [{
		"id": "ALI-1111-1111-1111-0001",
		"item": {"name": "Acrobat Pro", "externalIds": {"vendor": "65304578CA"}},
		"quantity": 10,
		"oldQuantity": 0,
		"price": {"unitPP": "12.50"}
	}],
	"audit": {"created": {"at": "2026-03-01T10:00:00Z"}}
}`

func TestClient_GetOrder(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/commerce/orders/ORD-1111-1111-1111", http.StatusOK, orderJSON)
	c := newTestClient(f)

	order, err := c.GetOrder(context.Background(), "ORD-1111-1111-1111")
	require.NoError(t, err)

	assert.Equal(t, fulfillment.OrderTypePurchase, order.Type)
	assert.Equal(t, fulfillment.OrderStatusProcessing, order.Status)
	assert.Equal(t, "PRD-1111-1111", order.ProductID)
	assert.Equal(t, "AUT-1000-0000", order.AuthorizationID)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, "CUST-1", order.Fulfillment.CustomerID)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "65304578CA", order.Lines[0].VendorSKU)
	assert.True(t, decimal.RequireFromString("12.5").Equal(order.Lines[0].UnitPrice))
	assert.True(t, order.IsActionable())
}

func TestClient_GetOrder_PurchaseWithMembershipIsTransfer(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/commerce/orders/ORD-2", http.StatusOK, `{
		"id": "ORD-2",
		"type": "Purchase",
		"status": "Processing",
		"parameters": {"ordering": [{"externalId": "membershipId", "value": "M-1"}]}
	}`)
	c := newTestClient(f)

	order, err := c.GetOrder(context.Background(), "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.OrderTypeTransfer, order.Type)
	assert.Equal(t, "M-1", order.Ordering.MembershipID)
}

func TestClient_GetOrder_Errors(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/commerce/orders/ORD-500", http.StatusServiceUnavailable, `{"status":503,"title":"Unavailable"}`)
	f.respond(http.MethodGet, "/commerce/orders/ORD-403", http.StatusForbidden, `{"status":403,"title":"Forbidden","detail":"no access"}`)
	c := newTestClient(f)

	_, err := c.GetOrder(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, fulfillment.ErrOrderNotFound)

	_, err = c.GetOrder(context.Background(), "ORD-500")
	assert.ErrorIs(t, err, fulfillment.ErrPlatformUnavailable)
	assert.True(t, fulfillment.IsTransient(err))

	_, err = c.GetOrder(context.Background(), "ORD-403")
	assert.ErrorIs(t, err, fulfillment.ErrPlatformRequestFailed)
	assert.EqualError(t, err, "403 Forbidden: no access")
}

func TestClient_SetVendorOrderID(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodPut, "/commerce/orders/ORD-1", http.StatusOK, `{}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1"}

	require.NoError(t, c.SetVendorOrderID(context.Background(), order, "VO-1"))
	assert.Equal(t, "VO-1", order.VendorOrderID)

	require.NoError(t, c.SetVendorOrderID(context.Background(), order, "VO-1"))
	err := c.SetVendorOrderID(context.Background(), order, "VO-2")
	assert.ErrorIs(t, err, fulfillment.ErrVendorOrderIDAlreadySet)

	puts := f.callsTo(http.MethodPut, "/commerce/orders/ORD-1")
	require.Len(t, puts, 1)
	assert.Equal(t, map[string]any{"externalIds": map[string]any{"vendor": "VO-1"}}, puts[0].Body)
}

func TestClient_SetFulfillmentParams(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodPut, "/commerce/orders/ORD-1", http.StatusOK, `{}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1"}

	params := fulfillment.FulfillmentParams{CustomerID: "CUST-1", NextSyncDate: "2027-01-16"}
	require.NoError(t, c.SetFulfillmentParams(context.Background(), order, params))
	assert.Equal(t, params, order.Fulfillment)

	puts := f.callsTo(http.MethodPut, "/commerce/orders/ORD-1")
	require.Len(t, puts, 1)
	fulfillmentParams := puts[0].Body["parameters"].(map[string]any)["fulfillment"].([]any)
	assert.Len(t, fulfillmentParams, 2)
}

func TestClient_SetOrderingParamError(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodPut, "/commerce/orders/ORD-1", http.StatusOK, `{}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1", Ordering: fulfillment.OrderingParams{MembershipID: "M-1"}}

	require.NoError(t, c.SetOrderingParamError(context.Background(), order, fulfillment.ParamMembershipID, "Membership not found"))

	puts := f.callsTo(http.MethodPut, "/commerce/orders/ORD-1")
	require.Len(t, puts, 1)
	param := puts[0].Body["parameters"].(map[string]any)["ordering"].([]any)[0].(map[string]any)
	assert.Equal(t, "M-1", param["value"])
	assert.Equal(t, map[string]any{"message": "Membership not found"}, param["error"])
}

func TestClient_StatusSwitches(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/catalog/products/PRD-1/templates", http.StatusOK, `{"data":[{"id":"TPL-1","name":"x"}]}`)
	f.respond(http.MethodPost, "/commerce/orders/ORD-1/query", http.StatusOK, `{}`)
	f.respond(http.MethodPost, "/commerce/orders/ORD-1/fail", http.StatusOK, `{}`)
	f.respond(http.MethodPost, "/commerce/orders/ORD-1/complete", http.StatusOK, `{}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1", ProductID: "PRD-1"}

	require.NoError(t, c.SwitchToQuery(context.Background(), order))
	assert.Equal(t, fulfillment.OrderStatusQuery, order.Status)

	require.NoError(t, c.SwitchToFailed(context.Background(), order, "Max processing attempts reached (10)."))
	assert.Equal(t, fulfillment.OrderStatusFailed, order.Status)
	fail := f.callsTo(http.MethodPost, "/commerce/orders/ORD-1/fail")
	require.Len(t, fail, 1)
	assert.Equal(t, "Max processing attempts reached (10).", fail[0].Body["reason"])

	require.NoError(t, c.SwitchToCompleted(context.Background(), order, fulfillment.TemplatePurchase))
	require.NoError(t, c.SwitchToCompleted(context.Background(), order, fulfillment.TemplatePurchase))
	assert.Equal(t, fulfillment.OrderStatusCompleted, order.Status)

	complete := f.callsTo(http.MethodPost, "/commerce/orders/ORD-1/complete")
	require.Len(t, complete, 2)
	assert.Equal(t, map[string]any{"id": "TPL-1"}, complete[0].Body["template"])

	// querying and purchase each looked up once
	lookups := f.callsTo(http.MethodGet, "/catalog/products/PRD-1/templates")
	require.Len(t, lookups, 2)
	assert.Contains(t, lookups[0].Query, "name=querying")
	assert.Contains(t, lookups[1].Query, "name=purchase")
}

func TestClient_SwitchToCompleted_MissingTemplate(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/catalog/products/PRD-1/templates", http.StatusOK, `{"data":[]}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1", ProductID: "PRD-1"}

	err := c.SwitchToCompleted(context.Background(), order, fulfillment.TemplateTransfer)
	assert.ErrorIs(t, err, fulfillment.ErrPlatformRequestFailed)
	assert.Empty(t, order.Status)
}

func TestClient_CreateSubscription(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodGet, "/commerce/orders/ORD-1/subscriptions", http.StatusOK,
		`{"data":[{"id":"SUB-P-1","externalIds":{"vendor":"SUB-1"}}],"$meta":{"pagination":{"offset":0,"limit":100,"total":1}}}`)
	f.respond(http.MethodPost, "/commerce/orders/ORD-1/subscriptions", http.StatusCreated, `{"id":"SUB-P-2"}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1"}

	existing := fulfillment.PlatformSubscription{VendorSubscriptionID: "SUB-1", LineID: "ALI-1-0001"}
	require.NoError(t, c.CreateSubscription(context.Background(), order, existing))
	assert.Empty(t, f.callsTo(http.MethodPost, "/commerce/orders/ORD-1/subscriptions"))

	fresh := fulfillment.PlatformSubscription{
		Name:                 "Subscription for Acrobat Pro",
		VendorSubscriptionID: "SUB-2",
		LineID:               "ALI-1-0002",
		OfferID:              "65304578CA01A12",
		Quantity:             10,
		StartDate:            time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CommitmentDate:       time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC),
		AutoRenew:            true,
	}
	require.NoError(t, c.CreateSubscription(context.Background(), order, fresh))

	posts := f.callsTo(http.MethodPost, "/commerce/orders/ORD-1/subscriptions")
	require.Len(t, posts, 1)
	body := posts[0].Body
	assert.Equal(t, "Subscription for Acrobat Pro", body["name"])
	assert.Equal(t, map[string]any{"vendor": "SUB-2"}, body["externalIds"])
	assert.Equal(t, "2026-03-01T10:00:00Z", body["startDate"])
	assert.Equal(t, "2027-01-15", body["commitmentDate"])
	assert.Equal(t, true, body["autoRenew"])
	assert.Equal(t, []any{map[string]any{"id": "ALI-1-0002"}}, body["lines"])
}

func TestClient_UpdateLinePrices(t *testing.T) {
	f := newFakePlatform(t)
	f.respond(http.MethodPut, "/commerce/orders/ORD-1", http.StatusOK, `{}`)
	c := newTestClient(f)
	order := &fulfillment.PlatformOrder{ID: "ORD-1", Lines: []fulfillment.OrderLine{
		{ID: "ALI-1-0001"}, {ID: "ALI-1-0002"},
	}}

	require.NoError(t, c.UpdateLinePrices(context.Background(), order, nil))
	assert.Empty(t, f.callsTo(http.MethodPut, "/commerce/orders/ORD-1"))

	prices := map[string]decimal.Decimal{"ALI-1-0002": decimal.RequireFromString("11.25")}
	require.NoError(t, c.UpdateLinePrices(context.Background(), order, prices))
	assert.True(t, order.Lines[0].UnitPrice.IsZero())
	assert.True(t, decimal.RequireFromString("11.25").Equal(order.Lines[1].UnitPrice))

	puts := f.callsTo(http.MethodPut, "/commerce/orders/ORD-1")
	require.Len(t, puts, 1)
	assert.Equal(t, []any{map[string]any{"id": "ALI-1-0002", "price": map[string]any{"unitPP": "11.25"}}}, puts[0].Body["lines"])
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "platform-token", time.Second)

	_, err := c.GetOrder(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, fulfillment.ErrPlatformUnavailable)
}
