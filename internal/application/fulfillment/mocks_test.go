package fulfillment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// MockVendorGateway
// ---------------------------------------------------------------------------

type MockVendorGateway struct {
	mock.Mock
}

func (m *MockVendorGateway) PreviewTransfer(ctx context.Context, authorizationID, membershipID string) ([]fulfillment.LineItem, error) {
	args := m.Called(ctx, authorizationID, membershipID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fulfillment.LineItem), args.Error(1)
}

func (m *MockVendorGateway) CreateTransfer(ctx context.Context, authorizationID, sellerID, orderID, membershipID string) (*fulfillment.VendorTransfer, error) {
	args := m.Called(ctx, authorizationID, sellerID, orderID, membershipID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorTransfer), args.Error(1)
}

func (m *MockVendorGateway) GetTransfer(ctx context.Context, authorizationID, membershipID, transferID string) (*fulfillment.VendorTransfer, error) {
	args := m.Called(ctx, authorizationID, membershipID, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorTransfer), args.Error(1)
}

func (m *MockVendorGateway) GetCustomer(ctx context.Context, authorizationID, customerID string) (*fulfillment.VendorCustomer, error) {
	args := m.Called(ctx, authorizationID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorCustomer), args.Error(1)
}

func (m *MockVendorGateway) GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]fulfillment.VendorSubscription, error) {
	args := m.Called(ctx, authorizationID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fulfillment.VendorSubscription), args.Error(1)
}

func (m *MockVendorGateway) UpdateSubscriptionAutoRenewal(ctx context.Context, authorizationID, customerID, subscriptionID string, enabled bool) (*fulfillment.VendorSubscription, error) {
	args := m.Called(ctx, authorizationID, customerID, subscriptionID, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorSubscription), args.Error(1)
}

func (m *MockVendorGateway) SearchOrders(ctx context.Context, authorizationID string, search fulfillment.OrderSearch) (*fulfillment.OrderPage, error) {
	args := m.Called(ctx, authorizationID, search)
	if fn, ok := args.Get(0).(func(context.Context, string, fulfillment.OrderSearch) *fulfillment.OrderPage); ok {
		return fn(ctx, authorizationID, search), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.OrderPage), args.Error(1)
}

func (m *MockVendorGateway) PreviewOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	args := m.Called(ctx, authorizationID, customerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorOrder), args.Error(1)
}

func (m *MockVendorGateway) CreateNewOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	args := m.Called(ctx, authorizationID, customerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorOrder), args.Error(1)
}

func (m *MockVendorGateway) CreateReturnOrder(ctx context.Context, authorizationID, customerID string, req *fulfillment.OrderRequest) (*fulfillment.VendorOrder, error) {
	args := m.Called(ctx, authorizationID, customerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorOrder), args.Error(1)
}

func (m *MockVendorGateway) GetOrder(ctx context.Context, authorizationID, customerID, orderID string) (*fulfillment.VendorOrder, error) {
	args := m.Called(ctx, authorizationID, customerID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.VendorOrder), args.Error(1)
}

// ---------------------------------------------------------------------------
// MockPlatform
// ---------------------------------------------------------------------------

// MockPlatform mirrors successful mutations on the passed order the way the
// real adapter does.
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) GetOrder(ctx context.Context, orderID string) (*fulfillment.PlatformOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.PlatformOrder), args.Error(1)
}

func (m *MockPlatform) SetVendorOrderID(ctx context.Context, order *fulfillment.PlatformOrder, vendorOrderID string) error {
	args := m.Called(ctx, order, vendorOrderID)
	if err := args.Error(0); err != nil {
		return err
	}
	return order.RecordVendorOrderID(vendorOrderID)
}

func (m *MockPlatform) SetFulfillmentParams(ctx context.Context, order *fulfillment.PlatformOrder, params fulfillment.FulfillmentParams) error {
	args := m.Called(ctx, order, params)
	if err := args.Error(0); err != nil {
		return err
	}
	order.Fulfillment = params
	return nil
}

func (m *MockPlatform) SetOrderingParamError(ctx context.Context, order *fulfillment.PlatformOrder, param, message string) error {
	args := m.Called(ctx, order, param, message)
	return args.Error(0)
}

func (m *MockPlatform) SwitchToQuery(ctx context.Context, order *fulfillment.PlatformOrder) error {
	args := m.Called(ctx, order)
	if err := args.Error(0); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusQuery
	return nil
}

func (m *MockPlatform) SwitchToFailed(ctx context.Context, order *fulfillment.PlatformOrder, reason string) error {
	args := m.Called(ctx, order, reason)
	if err := args.Error(0); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusFailed
	return nil
}

func (m *MockPlatform) SwitchToCompleted(ctx context.Context, order *fulfillment.PlatformOrder, template string) error {
	args := m.Called(ctx, order, template)
	if err := args.Error(0); err != nil {
		return err
	}
	order.Status = fulfillment.OrderStatusCompleted
	return nil
}

func (m *MockPlatform) CreateSubscription(ctx context.Context, order *fulfillment.PlatformOrder, sub fulfillment.PlatformSubscription) error {
	args := m.Called(ctx, order, sub)
	return args.Error(0)
}

func (m *MockPlatform) UpdateLinePrices(ctx context.Context, order *fulfillment.PlatformOrder, prices map[string]decimal.Decimal) error {
	args := m.Called(ctx, order, prices)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// MockTransferRepository
// ---------------------------------------------------------------------------

type MockTransferRepository struct {
	mock.Mock
}

func (m *MockTransferRepository) FindByID(ctx context.Context, id uuid.UUID) (*fulfillment.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Transfer), args.Error(1)
}

func (m *MockTransferRepository) FindByMembership(ctx context.Context, productID, authorizationID, membershipID string) (*fulfillment.Transfer, error) {
	args := m.Called(ctx, productID, authorizationID, membershipID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Transfer), args.Error(1)
}

func (m *MockTransferRepository) FindByCustomer(ctx context.Context, productID, authorizationID, customerID string) (*fulfillment.Transfer, error) {
	args := m.Called(ctx, productID, authorizationID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Transfer), args.Error(1)
}

func (m *MockTransferRepository) FindByStatus(ctx context.Context, productID string, status fulfillment.TransferStatus) ([]*fulfillment.Transfer, error) {
	args := m.Called(ctx, productID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*fulfillment.Transfer), args.Error(1)
}

func (m *MockTransferRepository) ListByMembership(ctx context.Context, membershipID string) ([]*fulfillment.Transfer, error) {
	args := m.Called(ctx, membershipID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*fulfillment.Transfer), args.Error(1)
}

func (m *MockTransferRepository) Save(ctx context.Context, transfer *fulfillment.Transfer) error {
	args := m.Called(ctx, transfer)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// MockPollAttemptRepository
// ---------------------------------------------------------------------------

type MockPollAttemptRepository struct {
	mock.Mock
}

func (m *MockPollAttemptRepository) Increment(ctx context.Context, orderID string) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}

func (m *MockPollAttemptRepository) Get(ctx context.Context, orderID string) (*fulfillment.PollAttempt, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.PollAttempt), args.Error(1)
}

func (m *MockPollAttemptRepository) Clear(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func transferOrder() *fulfillment.PlatformOrder {
	return &fulfillment.PlatformOrder{
		ID:              "ORD-1111-1111",
		Type:            fulfillment.OrderTypeTransfer,
		Status:          fulfillment.OrderStatusProcessing,
		ProductID:       "PRD-1",
		AuthorizationID: "AUT-1",
		SellerID:        "SEL-1",
		Currency:        "USD",
		Ordering:        fulfillment.OrderingParams{MembershipID: "MEM-1"},
		Lines: []fulfillment.OrderLine{
			{ID: "ALI-1111-1111-0001", VendorSKU: "65304578CA", ItemName: "Acrobat Pro", Quantity: 10},
		},
	}
}

func processedSubscription(id string) fulfillment.VendorSubscription {
	return fulfillment.VendorSubscription{
		SubscriptionID:  id,
		OfferID:         "65304578CA01A12",
		CurrentQuantity: 10,
		Status:          fulfillment.StatusProcessed,
	}
}

var anyCtx = mock.Anything

func zapNop() *zap.Logger {
	return zap.NewNop()
}
