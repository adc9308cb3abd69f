package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMigrationMaxRetries is how many checks a running transfer gets
	DefaultMigrationMaxRetries = 15
	// DefaultReconcileConcurrency bounds concurrent vendor calls per pass
	DefaultReconcileConcurrency = 4
)

// recoverablePreviewErrors are vendor preview rejections that clear up on
// their own; the transfer is previewed again on a later pass.
var recoverablePreviewErrors = []string{
	"RETURNABLE_PURCHASE",
	"IN_WINDOW_NO_RENEWAL",
	"IN_WINDOW_PARTIAL_RENEWAL",
	"EXTENDED_TERM_3YC",
}

// ReconcileReport counts what one reconciliation pass did.
type ReconcileReport struct {
	Checked      int `json:"checked"`
	Started      int `json:"started"`
	Rescheduled  int `json:"rescheduled"`
	StillRunning int `json:"still_running"`
	Processed    int `json:"processed"`
	Synchronized int `json:"synchronized"`
	Failed       int `json:"failed"`
	Errors       int `json:"errors"`
}

type reportCounter struct {
	mu     sync.Mutex
	report ReconcileReport
}

func (c *reportCounter) add(fn func(r *ReconcileReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.report)
}

// MigrationReconciler advances legacy membership transfers that run
// outside of platform orders.
type MigrationReconciler struct {
	vendor      fulfillment.VendorGateway
	platform    fulfillment.Platform
	transfers   fulfillment.TransferRepository
	finalizer   *Finalizer
	archiver    TransferArchiver
	maxRetries  int
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// ReconcilerOption configures a MigrationReconciler
type ReconcilerOption func(*MigrationReconciler)

// WithMaxRetries sets how many checks a running transfer gets
func WithMaxRetries(n int) ReconcilerOption {
	return func(r *MigrationReconciler) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithConcurrency bounds concurrent transfers per pass
func WithConcurrency(n int) ReconcilerOption {
	return func(r *MigrationReconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithReconcilerArchiver sets the archiver for terminal transfers
func WithReconcilerArchiver(archiver TransferArchiver) ReconcilerOption {
	return func(r *MigrationReconciler) {
		r.archiver = archiver
	}
}

// WithReconcilerLogger sets the logger
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *MigrationReconciler) {
		r.logger = logger
	}
}

// WithReconcilerClock overrides the time source
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *MigrationReconciler) {
		r.now = now
	}
}

// NewMigrationReconciler creates a new MigrationReconciler
func NewMigrationReconciler(
	vendor fulfillment.VendorGateway,
	platform fulfillment.Platform,
	transfers fulfillment.TransferRepository,
	finalizer *Finalizer,
	opts ...ReconcilerOption,
) *MigrationReconciler {
	r := &MigrationReconciler{
		vendor:      vendor,
		platform:    platform,
		transfers:   transfers,
		finalizer:   finalizer,
		maxRetries:  DefaultMigrationMaxRetries,
		concurrency: DefaultReconcileConcurrency,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a membership to migrate. A membership with a
// non-failed transfer on file is rejected.
func (r *MigrationReconciler) Register(ctx context.Context, productID, authorizationID, sellerID, membershipID string) (*fulfillment.Transfer, error) {
	existing, err := r.transfers.FindByMembership(ctx, productID, authorizationID, membershipID)
	switch {
	case err == nil && existing.Status != fulfillment.TransferStatusFailed:
		return nil, fulfillment.ErrTransferAlreadyExists
	case err != nil && !errors.Is(err, fulfillment.ErrTransferNotFound):
		return nil, err
	}

	transfer, err := fulfillment.NewTransfer(productID, authorizationID, sellerID, membershipID)
	if err != nil {
		return nil, err
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return nil, err
	}
	r.logger.Info("Membership registered for migration",
		zap.String("product_id", productID),
		zap.String("membership_id", membershipID),
		zap.String("transfer_id", transfer.ID.String()))
	return transfer, nil
}

// StartPending previews and submits every pending transfer of a product.
// Transient and recoverable preview errors keep the transfer pending, up
// to the retry limit; other vendor errors fail it.
func (r *MigrationReconciler) StartPending(ctx context.Context, productID string) (*ReconcileReport, error) {
	pending, err := r.transfers.FindByStatus(ctx, productID, fulfillment.TransferStatusPending)
	if err != nil {
		return nil, err
	}
	return r.forEach(ctx, pending, r.startOne)
}

// CheckRunning polls every running transfer of a product. Processed
// transfers whose parked platform order was not completed yet are
// synchronized again.
func (r *MigrationReconciler) CheckRunning(ctx context.Context, productID string) (*ReconcileReport, error) {
	processed, err := r.transfers.FindByStatus(ctx, productID, fulfillment.TransferStatusProcessed)
	if err != nil {
		return nil, err
	}
	running, err := r.transfers.FindByStatus(ctx, productID, fulfillment.TransferStatusRunning)
	if err != nil {
		return nil, err
	}

	unsynced := processed[:0:0]
	for _, t := range processed {
		if t.PlatformOrderID != "" {
			unsynced = append(unsynced, t)
		}
	}
	synced, err := r.forEach(ctx, unsynced, r.synchronize)
	if err != nil {
		return synced, err
	}
	checked, err := r.forEach(ctx, running, r.checkOne)
	if checked != nil {
		checked.Merge(*synced)
	}
	return checked, err
}

// Merge adds the counts of o to the report
func (rep *ReconcileReport) Merge(o ReconcileReport) {
	rep.Checked += o.Checked
	rep.Started += o.Started
	rep.Rescheduled += o.Rescheduled
	rep.StillRunning += o.StillRunning
	rep.Processed += o.Processed
	rep.Synchronized += o.Synchronized
	rep.Failed += o.Failed
	rep.Errors += o.Errors
}

func (r *MigrationReconciler) forEach(
	ctx context.Context,
	transfers []*fulfillment.Transfer,
	fn func(context.Context, *fulfillment.Transfer, *reportCounter) error,
) (*ReconcileReport, error) {
	counter := &reportCounter{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, transfer := range transfers {
		g.Go(func() error {
			counter.add(func(rep *ReconcileReport) { rep.Checked++ })
			if err := fn(gctx, transfer, counter); err != nil {
				counter.add(func(rep *ReconcileReport) { rep.Errors++ })
				r.logger.Error("Transfer reconciliation failed",
					zap.String("transfer_id", transfer.ID.String()),
					zap.String("membership_id", transfer.MembershipID),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return &counter.report, err
	}
	return &counter.report, nil
}

func (r *MigrationReconciler) startOne(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter) error {
	log := r.logger.With(zap.String("membership_id", transfer.MembershipID))

	if _, err := r.vendor.PreviewTransfer(ctx, transfer.AuthorizationID, transfer.MembershipID); err != nil {
		apiErr, ok := fulfillment.AsVendorError(err)
		if !ok || apiErr.Code != fulfillment.CodeAlreadyTransferred {
			return r.previewFailed(ctx, transfer, counter, err)
		}
		log.Info("Membership already transferred, creating transfer")
	}

	created, err := r.vendor.CreateTransfer(ctx, transfer.AuthorizationID, transfer.SellerID, transfer.ID.String(), transfer.MembershipID)
	if err != nil {
		apiErr, ok := fulfillment.AsVendorError(err)
		if !ok || fulfillment.IsTransient(err) {
			return err
		}
		return r.fail(ctx, transfer, counter, apiErr.Code, apiErr.Error())
	}
	if err := transfer.MarkRunning(created.TransferID); err != nil {
		return err
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.Started++ })
	log.Info("Transfer started", zap.String("vendor_transfer_id", created.TransferID))
	return nil
}

// previewFailed leaves the transfer for the next pass on a transient error,
// reschedules it on a transfer in progress or a recoverable rejection, and
// fails it on any other vendor error.
func (r *MigrationReconciler) previewFailed(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter, err error) error {
	apiErr, ok := fulfillment.AsVendorError(err)
	if !ok || fulfillment.IsTransient(err) {
		return err
	}
	if apiErr.Code != fulfillment.StatusTransferInProgress && !isRecoverablePreviewError(apiErr) {
		return r.fail(ctx, transfer, counter, apiErr.Code, apiErr.Error())
	}

	if transfer.IncrementRetry() >= r.maxRetries {
		return r.fail(ctx, transfer, counter, apiErr.Code, fulfillment.MaxRetriesReason(r.maxRetries))
	}
	transfer.VendorErrorCode = apiErr.Code
	transfer.ErrorDescription = apiErr.Error()
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.Rescheduled++ })
	r.logger.Info("Transfer preview rescheduled",
		zap.String("membership_id", transfer.MembershipID),
		zap.String("vendor_error_code", apiErr.Code),
		zap.Int("retry_count", transfer.RetryCount))
	return nil
}

func isRecoverablePreviewError(apiErr *fulfillment.VendorAPIError) bool {
	msg := apiErr.Error()
	for _, marker := range recoverablePreviewErrors {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (r *MigrationReconciler) checkOne(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter) error {
	vt, err := r.vendor.GetTransfer(ctx, transfer.AuthorizationID, transfer.MembershipID, transfer.TransferID)
	if err != nil {
		if _, ok := fulfillment.AsVendorError(err); !ok && !fulfillment.IsTransient(err) {
			return err
		}
		r.logger.Warn("Transfer check returned an error",
			zap.String("membership_id", transfer.MembershipID),
			zap.Error(err))
		return r.retry(ctx, transfer, counter)
	}

	switch vt.Status {
	case fulfillment.StatusPending:
		return r.retry(ctx, transfer, counter)
	case fulfillment.StatusProcessed:
	default:
		return r.fail(ctx, transfer, counter, vt.Status, fulfillment.UnexpectedStatusReason(vt.Status))
	}

	if err := transfer.MarkProcessed(vt.CustomerID, r.now()); err != nil {
		return err
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.Processed++ })

	if transfer.PlatformOrderID == "" {
		return nil
	}
	return r.synchronize(ctx, transfer, counter)
}

// synchronize completes the platform order that was parked while the
// transfer was running. A vendor rejection fails both the order, with the
// vendor message, and the transfer. Any other error leaves the transfer
// processed so the next pass tries again.
func (r *MigrationReconciler) synchronize(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter) error {
	order, err := r.platform.GetOrder(ctx, transfer.PlatformOrderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case fulfillment.OrderStatusCompleted:
		return r.markSynchronized(ctx, transfer, order, counter)
	case fulfillment.OrderStatusFailed:
		return r.fail(ctx, transfer, counter, "", fmt.Sprintf("Platform order %s has failed.", order.ID))
	}

	if err := r.completeOrder(ctx, transfer, order); err != nil {
		apiErr, ok := fulfillment.AsVendorError(err)
		if !ok || fulfillment.IsTransient(err) {
			return err
		}
		if err := r.platform.SwitchToFailed(ctx, order, apiErr.Error()); err != nil {
			return fmt.Errorf("fail order %s: %w", order.ID, err)
		}
		return r.fail(ctx, transfer, counter, apiErr.Code, apiErr.Error())
	}
	return r.markSynchronized(ctx, transfer, order, counter)
}

func (r *MigrationReconciler) completeOrder(ctx context.Context, transfer *fulfillment.Transfer, order *fulfillment.PlatformOrder) error {
	if !order.HasVendorOrderID() && transfer.TransferID != "" {
		if err := r.platform.SetVendorOrderID(ctx, order, transfer.TransferID); err != nil {
			return err
		}
	}
	if _, err := r.finalizer.Finalize(ctx, order, transfer.AuthorizationID, transfer.CustomerID); err != nil {
		return err
	}
	return r.platform.SwitchToCompleted(ctx, order, fulfillment.TemplateBulkMigrate)
}

func (r *MigrationReconciler) markSynchronized(ctx context.Context, transfer *fulfillment.Transfer, order *fulfillment.PlatformOrder, counter *reportCounter) error {
	if err := transfer.MarkSynchronized(order.ID, r.now()); err != nil {
		return err
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.Synchronized++ })
	r.archive(ctx, transfer)
	return nil
}

func (r *MigrationReconciler) retry(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter) error {
	if transfer.IncrementRetry() >= r.maxRetries {
		return r.fail(ctx, transfer, counter, "", fulfillment.MaxRetriesReason(r.maxRetries))
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.StillRunning++ })
	return nil
}

func (r *MigrationReconciler) fail(ctx context.Context, transfer *fulfillment.Transfer, counter *reportCounter, code, description string) error {
	if err := transfer.MarkFailed(code, description); err != nil {
		return err
	}
	if err := r.transfers.Save(ctx, transfer); err != nil {
		return err
	}
	counter.add(func(rep *ReconcileReport) { rep.Failed++ })
	r.logger.Warn("Transfer failed",
		zap.String("membership_id", transfer.MembershipID),
		zap.String("vendor_error_code", code),
		zap.String("reason", description))
	r.archive(ctx, transfer)
	return nil
}

func (r *MigrationReconciler) archive(ctx context.Context, transfer *fulfillment.Transfer) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchiveTransfer(ctx, transfer); err != nil {
		r.logger.Warn("Failed to archive transfer",
			zap.String("transfer_id", transfer.ID.String()),
			zap.Error(err))
	}
}
