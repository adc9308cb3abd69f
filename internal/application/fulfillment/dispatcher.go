package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// Reasons reported by the dispatcher's migrated-membership branch.
const (
	migrationInProgressMessage = "Migration in progress, retry later"
	alreadyMigratedReason      = "Membership has already been migrated."
	migrationFailedReason      = "Membership migration failed."
)

// Dispatcher is the entry point for fulfilling one platform order. It checks
// whether the order targets a membership already handled by the legacy
// migration and otherwise routes the order to its flow.
type Dispatcher struct {
	platform     fulfillment.Platform
	transfers    fulfillment.TransferRepository
	transferFlow *TransferFlow
	orderFlow    *OrderFlow
	finalizer    *Finalizer
	observers    []OutcomeObserver
	archiver     TransferArchiver
	logger       *zap.Logger
	now          func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithObserver registers an observer notified of every result
func WithObserver(observer OutcomeObserver) DispatcherOption {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observers = append(d.observers, observer)
		}
	}
}

// WithDispatcherArchiver sets the archiver for synchronized transfers
func WithDispatcherArchiver(archiver TransferArchiver) DispatcherOption {
	return func(d *Dispatcher) {
		d.archiver = archiver
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(
	platform fulfillment.Platform,
	transfers fulfillment.TransferRepository,
	transferFlow *TransferFlow,
	orderFlow *OrderFlow,
	finalizer *Finalizer,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		platform:     platform,
		transfers:    transfers,
		transferFlow: transferFlow,
		orderFlow:    orderFlow,
		finalizer:    finalizer,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FulfillByID loads the order from the platform and fulfills it.
func (d *Dispatcher) FulfillByID(ctx context.Context, orderID string) (Result, error) {
	order, err := d.platform.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	return d.Fulfill(ctx, order)
}

// Fulfill advances one platform order by one invocation.
func (d *Dispatcher) Fulfill(ctx context.Context, order *fulfillment.PlatformOrder) (Result, error) {
	res, err := d.dispatch(ctx, order)
	if err != nil {
		d.logger.Error("Fulfillment invocation failed",
			zap.String("order_id", order.ID),
			zap.String("order_type", order.Type.String()),
			zap.Error(err))
		return res, err
	}
	for _, observer := range d.observers {
		observer.ObserveOutcome(ctx, res)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, order *fulfillment.PlatformOrder) (Result, error) {
	if !order.IsActionable() {
		d.logger.Debug("Order not actionable",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return Result{OrderID: order.ID, OrderType: order.Type, Outcome: OutcomeSkipped}, nil
	}

	switch order.Type {
	case fulfillment.OrderTypeTransfer:
		transfer, err := d.findMigratedTransfer(ctx, order)
		if err != nil {
			return Result{}, err
		}
		if transfer != nil {
			return d.fulfillMigrated(ctx, newInvocation(order, d.platform, d.logger), transfer)
		}
		return d.transferFlow.Run(ctx, order)
	case fulfillment.OrderTypePurchase, fulfillment.OrderTypeChange, fulfillment.OrderTypeTermination:
		return d.orderFlow.Run(ctx, order)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedOrderType, order.Type)
	}
}

// findMigratedTransfer looks the order's membership up, falling back to
// the customer id when the order already carries one.
func (d *Dispatcher) findMigratedTransfer(ctx context.Context, order *fulfillment.PlatformOrder) (*fulfillment.Transfer, error) {
	if membershipID := order.Ordering.MembershipID; membershipID != "" {
		transfer, err := d.transfers.FindByMembership(ctx, order.ProductID, order.AuthorizationID, membershipID)
		if err == nil {
			return transfer, nil
		}
		if !errors.Is(err, fulfillment.ErrTransferNotFound) {
			return nil, err
		}
	}
	if customerID := order.Fulfillment.CustomerID; customerID != "" {
		transfer, err := d.transfers.FindByCustomer(ctx, order.ProductID, order.AuthorizationID, customerID)
		if err == nil {
			return transfer, nil
		}
		if !errors.Is(err, fulfillment.ErrTransferNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// fulfillMigrated completes an order whose membership was migrated by the
// legacy reconciler, or parks it while the migration is still running.
func (d *Dispatcher) fulfillMigrated(ctx context.Context, inv *invocation, transfer *fulfillment.Transfer) (Result, error) {
	order := inv.order
	inv.logger.Info("Order targets a migrated membership",
		zap.String("membership_id", transfer.MembershipID),
		zap.String("transfer_status", transfer.Status.String()))

	switch transfer.Status {
	case fulfillment.TransferStatusPending, fulfillment.TransferStatusRunning:
		if transfer.PlatformOrderID == "" {
			transfer.PlatformOrderID = order.ID
			if err := d.transfers.Save(ctx, transfer); err != nil {
				return Result{}, err
			}
		}
		return inv.query(ctx, fulfillment.ParamMembershipID, migrationInProgressMessage)
	case fulfillment.TransferStatusFailed:
		reason := transfer.ErrorDescription
		if reason == "" {
			reason = migrationFailedReason
		}
		return inv.fail(ctx, reason)
	case fulfillment.TransferStatusSynchronized:
		if transfer.IsBoundToOtherOrder(order.ID) {
			return inv.fail(ctx, alreadyMigratedReason)
		}
	}

	if !order.HasVendorOrderID() && transfer.TransferID != "" {
		if err := d.platform.SetVendorOrderID(ctx, order, transfer.TransferID); err != nil {
			return Result{}, err
		}
	}
	if _, err := d.finalizer.Finalize(ctx, order, transfer.AuthorizationID, transfer.CustomerID); err != nil {
		return inv.failOnVendorError(ctx, err)
	}
	res, err := inv.complete(ctx, fulfillment.TemplateBulkMigrate)
	if err != nil {
		return res, err
	}

	if transfer.Status != fulfillment.TransferStatusSynchronized {
		if err := transfer.MarkSynchronized(order.ID, d.now()); err != nil {
			return res, err
		}
		if err := d.transfers.Save(ctx, transfer); err != nil {
			return res, err
		}
		d.archive(ctx, transfer)
	}
	return res, nil
}

func (d *Dispatcher) archive(ctx context.Context, transfer *fulfillment.Transfer) {
	if d.archiver == nil {
		return
	}
	if err := d.archiver.ArchiveTransfer(ctx, transfer); err != nil {
		d.logger.Warn("Failed to archive transfer",
			zap.String("transfer_id", transfer.ID.String()),
			zap.Error(err))
	}
}
