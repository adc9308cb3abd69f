package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vipm/backend/internal/domain/fulfillment"
)

type recordingArchiver struct {
	mu       sync.Mutex
	archived []fulfillment.TransferStatus
}

func (a *recordingArchiver) ArchiveTransfer(_ context.Context, transfer *fulfillment.Transfer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, transfer.Status)
	return nil
}

func runningTransfer(membershipID string, retries int) *fulfillment.Transfer {
	return &fulfillment.Transfer{
		ID:              uuid.New(),
		ProductID:       "PRD-1",
		AuthorizationID: "AUT-1",
		SellerID:        "SEL-1",
		MembershipID:    membershipID,
		TransferID:      "TR-" + membershipID,
		Status:          fulfillment.TransferStatusRunning,
		RetryCount:      retries,
	}
}

func newTestReconciler(vendor *MockVendorGateway, platform *MockPlatform, transfers *MockTransferRepository, archiver TransferArchiver) *MigrationReconciler {
	return NewMigrationReconciler(vendor, platform, transfers, NewFinalizer(vendor, platform, nil),
		WithMaxRetries(15),
		WithConcurrency(2),
		WithReconcilerArchiver(archiver),
		WithReconcilerClock(func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }))
}

func TestMigrationReconciler_CheckRunning(t *testing.T) {
	vendor := new(MockVendorGateway)
	platform := new(MockPlatform)
	transfers := new(MockTransferRepository)
	archiver := &recordingArchiver{}
	r := newTestReconciler(vendor, platform, transfers, archiver)

	pending := runningTransfer("MEM-PENDING", 3)
	exhausted := runningTransfer("MEM-EXHAUSTED", 14)
	apiError := runningTransfer("MEM-APIERR", 0)
	unexpected := runningTransfer("MEM-UNEXPECTED", 0)
	processed := runningTransfer("MEM-PROCESSED", 0)

	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusProcessed).
		Return([]*fulfillment.Transfer{}, nil)
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusRunning).
		Return([]*fulfillment.Transfer{pending, exhausted, apiError, unexpected, processed}, nil)
	transfers.On("Save", anyCtx, mock.Anything).Return(nil)

	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-PENDING", "TR-MEM-PENDING").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusPending}, nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-EXHAUSTED", "TR-MEM-EXHAUSTED").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusPending}, nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-APIERR", "TR-MEM-APIERR").
		Return(nil, &fulfillment.VendorAPIError{Code: "500", Message: "boom", HTTPStatus: 500})
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-UNEXPECTED", "TR-MEM-UNEXPECTED").
		Return(&fulfillment.VendorTransfer{Status: "1004"}, nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-PROCESSED", "TR-MEM-PROCESSED").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusProcessed, CustomerID: "CUST-9"}, nil)

	report, err := r.CheckRunning(context.Background(), "PRD-1")
	require.NoError(t, err)

	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 2, report.StillRunning)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Errors)

	assert.Equal(t, fulfillment.TransferStatusRunning, pending.Status)
	assert.Equal(t, 4, pending.RetryCount)

	assert.Equal(t, fulfillment.TransferStatusFailed, exhausted.Status)
	assert.Equal(t, "Max retries (15) exceeded.", exhausted.ErrorDescription)

	assert.Equal(t, fulfillment.TransferStatusRunning, apiError.Status)
	assert.Equal(t, 1, apiError.RetryCount)

	assert.Equal(t, fulfillment.TransferStatusFailed, unexpected.Status)
	assert.Equal(t, "Unexpected status (1004) received from vendor.", unexpected.ErrorDescription)

	assert.Equal(t, fulfillment.TransferStatusProcessed, processed.Status)
	assert.Equal(t, "CUST-9", processed.CustomerID)
	require.NotNil(t, processed.CompletedAt)

	assert.Len(t, archiver.archived, 2)
	platform.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestMigrationReconciler_CheckRunning_SynchronizesParkedOrder(t *testing.T) {
	vendor := new(MockVendorGateway)
	platform := new(MockPlatform)
	transfers := new(MockTransferRepository)
	archiver := &recordingArchiver{}
	r := newTestReconciler(vendor, platform, transfers, archiver)

	transfer := runningTransfer("MEM-1", 0)
	transfer.PlatformOrderID = "ORD-1111-1111"
	order := transferOrder()
	order.Status = fulfillment.OrderStatusQuery

	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusProcessed).
		Return([]*fulfillment.Transfer{}, nil)
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusRunning).
		Return([]*fulfillment.Transfer{transfer}, nil)
	transfers.On("Save", anyCtx, transfer).Return(nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-1", "TR-MEM-1").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusProcessed, CustomerID: "CUST-1"}, nil)
	platform.On("GetOrder", anyCtx, "ORD-1111-1111").Return(order, nil)
	platform.On("SetVendorOrderID", anyCtx, order, "TR-MEM-1").Return(nil)
	platform.On("SetFulfillmentParams", anyCtx, order, mock.Anything).Return(nil)
	vendor.On("GetCustomer", anyCtx, "AUT-1", "CUST-1").Return(&fulfillment.VendorCustomer{CustomerID: "CUST-1"}, nil)
	vendor.On("GetSubscriptions", anyCtx, "AUT-1", "CUST-1").Return([]fulfillment.VendorSubscription{}, nil)
	platform.On("SwitchToCompleted", anyCtx, order, fulfillment.TemplateBulkMigrate).Return(nil)

	report, err := r.CheckRunning(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Synchronized)
	assert.Equal(t, fulfillment.TransferStatusSynchronized, transfer.Status)
	assert.Equal(t, []fulfillment.TransferStatus{fulfillment.TransferStatusSynchronized}, archiver.archived)
}

func TestMigrationReconciler_CheckRunning_VendorRejectionFailsParkedOrder(t *testing.T) {
	vendor := new(MockVendorGateway)
	platform := new(MockPlatform)
	transfers := new(MockTransferRepository)
	archiver := &recordingArchiver{}
	r := newTestReconciler(vendor, platform, transfers, archiver)

	transfer := runningTransfer("MEM-1", 0)
	transfer.PlatformOrderID = "ORD-1111-1111"
	order := transferOrder()
	order.Status = fulfillment.OrderStatusQuery
	notFound := &fulfillment.VendorAPIError{Code: "1117", Message: "Customer not found", HTTPStatus: 404}

	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusProcessed).
		Return([]*fulfillment.Transfer{}, nil)
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusRunning).
		Return([]*fulfillment.Transfer{transfer}, nil)
	transfers.On("Save", anyCtx, transfer).Return(nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-1", "TR-MEM-1").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusProcessed, CustomerID: "CUST-1"}, nil)
	platform.On("GetOrder", anyCtx, "ORD-1111-1111").Return(order, nil)
	platform.On("SetVendorOrderID", anyCtx, order, "TR-MEM-1").Return(nil)
	platform.On("SetFulfillmentParams", anyCtx, order, mock.Anything).Return(nil)
	vendor.On("GetCustomer", anyCtx, "AUT-1", "CUST-1").Return(nil, notFound)
	platform.On("SwitchToFailed", anyCtx, order, "1117 - Customer not found").Return(nil)

	report, err := r.CheckRunning(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Synchronized)
	assert.Equal(t, 0, report.Errors)

	assert.Equal(t, fulfillment.TransferStatusFailed, transfer.Status)
	assert.Equal(t, "1117", transfer.VendorErrorCode)
	assert.Equal(t, "1117 - Customer not found", transfer.ErrorDescription)
	platform.AssertCalled(t, "SwitchToFailed", anyCtx, order, "1117 - Customer not found")
	platform.AssertNotCalled(t, "SwitchToCompleted", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []fulfillment.TransferStatus{fulfillment.TransferStatusFailed}, archiver.archived)
}

func TestMigrationReconciler_CheckRunning_ResynchronizesProcessedTransfer(t *testing.T) {
	vendor := new(MockVendorGateway)
	platform := new(MockPlatform)
	transfers := new(MockTransferRepository)
	r := newTestReconciler(vendor, platform, transfers, nil)

	transfer := runningTransfer("MEM-1", 0)
	transfer.PlatformOrderID = "ORD-1111-1111"
	unbound := runningTransfer("MEM-2", 0)
	unbound.Status = fulfillment.TransferStatusProcessed
	order := transferOrder()
	order.Status = fulfillment.OrderStatusQuery

	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusProcessed).
		Return([]*fulfillment.Transfer{unbound}, nil).Once()
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusProcessed).
		Return([]*fulfillment.Transfer{unbound, transfer}, nil)
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusRunning).
		Return([]*fulfillment.Transfer{transfer}, nil).Once()
	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusRunning).
		Return([]*fulfillment.Transfer{}, nil)
	transfers.On("Save", anyCtx, transfer).Return(nil)
	vendor.On("GetTransfer", anyCtx, "AUT-1", "MEM-1", "TR-MEM-1").
		Return(&fulfillment.VendorTransfer{Status: fulfillment.StatusProcessed, CustomerID: "CUST-1"}, nil)
	platform.On("GetOrder", anyCtx, "ORD-1111-1111").Return(order, nil)
	platform.On("SetVendorOrderID", anyCtx, order, "TR-MEM-1").Return(nil)
	platform.On("SetFulfillmentParams", anyCtx, order, mock.Anything).Return(nil)
	vendor.On("GetCustomer", anyCtx, "AUT-1", "CUST-1").Return(nil, fulfillment.ErrVendorUnavailable).Once()
	vendor.On("GetCustomer", anyCtx, "AUT-1", "CUST-1").Return(&fulfillment.VendorCustomer{CustomerID: "CUST-1"}, nil)
	vendor.On("GetSubscriptions", anyCtx, "AUT-1", "CUST-1").Return([]fulfillment.VendorSubscription{}, nil)
	platform.On("SwitchToCompleted", anyCtx, order, fulfillment.TemplateBulkMigrate).Return(nil)

	first, err := r.CheckRunning(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, first.Errors)
	assert.Equal(t, fulfillment.TransferStatusProcessed, transfer.Status)
	platform.AssertNotCalled(t, "SwitchToFailed", mock.Anything, mock.Anything, mock.Anything)

	second, err := r.CheckRunning(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Checked)
	assert.Equal(t, 1, second.Synchronized)
	assert.Equal(t, 0, second.Errors)
	assert.Equal(t, fulfillment.TransferStatusSynchronized, transfer.Status)
	assert.Equal(t, fulfillment.TransferStatusProcessed, unbound.Status)
	vendor.AssertNumberOfCalls(t, "GetTransfer", 1)
}

func TestMigrationReconciler_StartPending(t *testing.T) {
	vendor := new(MockVendorGateway)
	platform := new(MockPlatform)
	transfers := new(MockTransferRepository)
	r := newTestReconciler(vendor, platform, transfers, nil)

	ok, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-OK")
	ineligible, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-INELIGIBLE")
	flaky, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-FLAKY")
	moved, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-MOVED")
	returnable, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-RETURNABLE")
	inProgress, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-INPROGRESS")
	stuck, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-STUCK")
	stuck.RetryCount = 14
	rejected, _ := fulfillment.NewTransfer("PRD-1", "AUT-1", "SEL-1", "MEM-REJECTED")

	transfers.On("FindByStatus", anyCtx, "PRD-1", fulfillment.TransferStatusPending).
		Return([]*fulfillment.Transfer{ok, ineligible, flaky, moved, returnable, inProgress, stuck, rejected}, nil)
	transfers.On("Save", anyCtx, mock.Anything).Return(nil)

	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-OK").Return([]fulfillment.LineItem{}, nil)
	vendor.On("CreateTransfer", anyCtx, "AUT-1", "SEL-1", ok.ID.String(), "MEM-OK").
		Return(&fulfillment.VendorTransfer{TransferID: "TR-OK", Status: fulfillment.StatusPending}, nil)
	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-INELIGIBLE").
		Return(nil, &fulfillment.VendorAPIError{Code: fulfillment.CodeIneligibleForTransfer, Message: "Ineligible", HTTPStatus: 400})
	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-FLAKY").Return(nil, fulfillment.ErrVendorUnavailable)

	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-MOVED").
		Return(nil, &fulfillment.VendorAPIError{Code: fulfillment.CodeAlreadyTransferred, Message: "Already transferred", HTTPStatus: 400})
	vendor.On("CreateTransfer", anyCtx, "AUT-1", "SEL-1", moved.ID.String(), "MEM-MOVED").
		Return(&fulfillment.VendorTransfer{TransferID: "TR-MOVED", Status: fulfillment.StatusPending}, nil)

	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-RETURNABLE").
		Return(nil, &fulfillment.VendorAPIError{
			Code:       fulfillment.CodeIneligibleForTransfer,
			Message:    "Ineligible",
			Details:    []string{"Reason = RETURNABLE_PURCHASE"},
			HTTPStatus: 400,
		})
	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-INPROGRESS").
		Return(nil, &fulfillment.VendorAPIError{Code: fulfillment.StatusTransferInProgress, Message: "In progress", HTTPStatus: 400})
	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-STUCK").
		Return(nil, &fulfillment.VendorAPIError{Code: fulfillment.StatusTransferInProgress, Message: "In progress", HTTPStatus: 400})

	vendor.On("PreviewTransfer", anyCtx, "AUT-1", "MEM-REJECTED").Return([]fulfillment.LineItem{}, nil)
	vendor.On("CreateTransfer", anyCtx, "AUT-1", "SEL-1", rejected.ID.String(), "MEM-REJECTED").
		Return(nil, &fulfillment.VendorAPIError{Code: "2114", Message: "Invalid membership", HTTPStatus: 400})

	report, err := r.StartPending(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, 8, report.Checked)
	assert.Equal(t, 2, report.Started)
	assert.Equal(t, 2, report.Rescheduled)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.Errors)

	assert.Equal(t, fulfillment.TransferStatusRunning, ok.Status)
	assert.Equal(t, "TR-OK", ok.TransferID)
	assert.Equal(t, fulfillment.TransferStatusFailed, ineligible.Status)
	assert.Equal(t, fulfillment.CodeIneligibleForTransfer, ineligible.VendorErrorCode)
	assert.Equal(t, fulfillment.TransferStatusPending, flaky.Status)
	assert.Equal(t, 0, flaky.RetryCount)

	assert.Equal(t, fulfillment.TransferStatusRunning, moved.Status)
	assert.Equal(t, "TR-MOVED", moved.TransferID)

	assert.Equal(t, fulfillment.TransferStatusPending, returnable.Status)
	assert.Equal(t, 1, returnable.RetryCount)
	assert.Contains(t, returnable.ErrorDescription, "RETURNABLE_PURCHASE")

	assert.Equal(t, fulfillment.TransferStatusPending, inProgress.Status)
	assert.Equal(t, 1, inProgress.RetryCount)

	assert.Equal(t, fulfillment.TransferStatusFailed, stuck.Status)
	assert.Equal(t, "Max retries (15) exceeded.", stuck.ErrorDescription)

	assert.Equal(t, fulfillment.TransferStatusFailed, rejected.Status)
	assert.Equal(t, "2114", rejected.VendorErrorCode)
}

func TestMigrationReconciler_Register(t *testing.T) {
	t.Run("creates a pending transfer", func(t *testing.T) {
		transfers := new(MockTransferRepository)
		r := newTestReconciler(new(MockVendorGateway), new(MockPlatform), transfers, nil)

		transfers.On("FindByMembership", anyCtx, "PRD-1", "AUT-1", "MEM-1").Return(nil, fulfillment.ErrTransferNotFound)
		transfers.On("Save", anyCtx, mock.AnythingOfType("*fulfillment.Transfer")).Return(nil)

		transfer, err := r.Register(context.Background(), "PRD-1", "AUT-1", "SEL-1", "MEM-1")
		require.NoError(t, err)
		assert.Equal(t, fulfillment.TransferStatusPending, transfer.Status)
	})

	t.Run("rejects an active duplicate", func(t *testing.T) {
		transfers := new(MockTransferRepository)
		r := newTestReconciler(new(MockVendorGateway), new(MockPlatform), transfers, nil)

		transfers.On("FindByMembership", anyCtx, "PRD-1", "AUT-1", "MEM-1").
			Return(runningTransfer("MEM-1", 0), nil)

		_, err := r.Register(context.Background(), "PRD-1", "AUT-1", "SEL-1", "MEM-1")
		assert.ErrorIs(t, err, fulfillment.ErrTransferAlreadyExists)
	})
}
