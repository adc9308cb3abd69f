package fulfillment

import (
	"context"
	"fmt"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// DefaultMaxPollAttempts is the number of pending polls after which an
// order is failed
const DefaultMaxPollAttempts = 10

// membershipNotFoundMessage is shown on the membership parameter when the
// vendor does not know the membership.
const membershipNotFoundMessage = "Membership not found or not eligible for transfer"

// TransferFlow drives a transfer order through preview, submission, polling
// and finalization. Every invocation resumes from the state reconstructed
// from the persisted vendor order id.
type TransferFlow struct {
	vendor          fulfillment.VendorGateway
	platform        fulfillment.Platform
	attempts        fulfillment.PollAttemptRepository
	finalizer       *Finalizer
	maxPollAttempts int
	logger          *zap.Logger
}

// TransferFlowOption configures a TransferFlow
type TransferFlowOption func(*TransferFlow)

// WithTransferMaxPollAttempts sets the pending poll limit; 0 disables it
func WithTransferMaxPollAttempts(n int) TransferFlowOption {
	return func(f *TransferFlow) {
		f.maxPollAttempts = n
	}
}

// WithTransferFlowLogger sets the logger
func WithTransferFlowLogger(logger *zap.Logger) TransferFlowOption {
	return func(f *TransferFlow) {
		f.logger = logger
	}
}

// NewTransferFlow creates a new TransferFlow
func NewTransferFlow(
	vendor fulfillment.VendorGateway,
	platform fulfillment.Platform,
	attempts fulfillment.PollAttemptRepository,
	finalizer *Finalizer,
	opts ...TransferFlowOption,
) *TransferFlow {
	f := &TransferFlow{
		vendor:          vendor,
		platform:        platform,
		attempts:        attempts,
		finalizer:       finalizer,
		maxPollAttempts: DefaultMaxPollAttempts,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run advances a transfer order by one invocation.
func (f *TransferFlow) Run(ctx context.Context, order *fulfillment.PlatformOrder) (Result, error) {
	if order.Type != fulfillment.OrderTypeTransfer {
		return Result{}, fmt.Errorf("%w: %s", fulfillment.ErrInvalidOrderType, order.Type)
	}
	return f.run(ctx, newInvocation(order, f.platform, f.logger))
}

func (f *TransferFlow) run(ctx context.Context, inv *invocation) (Result, error) {
	order := inv.order
	state := fulfillment.ReconstructTransferState(order)
	inv.logger.Debug("Transfer state reconstructed", zap.String("state", string(state)))

	switch state {
	case fulfillment.TransferStateFinalized:
		return inv.result(OutcomeSkipped, ""), nil
	case fulfillment.TransferStateInitiated:
		res, done, err := f.submit(ctx, inv)
		if done || err != nil {
			return res, err
		}
	}
	return f.poll(ctx, inv)
}

// submit previews the membership, checks its lines against the order and
// submits the transfer. It reports done when the invocation must stop.
func (f *TransferFlow) submit(ctx context.Context, inv *invocation) (Result, bool, error) {
	order := inv.order
	membershipID := order.Ordering.MembershipID
	if membershipID == "" {
		res, err := inv.query(ctx, fulfillment.ParamMembershipID, "Membership id is required")
		return res, true, err
	}

	owned, err := f.vendor.PreviewTransfer(ctx, order.AuthorizationID, membershipID)
	if err != nil {
		if fulfillment.IsVendorCode(err, fulfillment.CodeInvalidMembership, fulfillment.CodeInvalidMembershipOrTranID) ||
			fulfillment.IsNotFound(err) {
			message := membershipNotFoundMessage
			if apiErr, ok := fulfillment.AsVendorError(err); ok {
				message = apiErr.Error()
			}
			res, qerr := inv.query(ctx, fulfillment.ParamMembershipID, message)
			return res, true, qerr
		}
		res, ferr := inv.failOnVendorError(ctx, err)
		return res, true, ferr
	}

	if reason, ok := fulfillment.CheckTransferLines(owned, order.Lines); !ok {
		res, err := inv.fail(ctx, reason)
		return res, true, err
	}

	created, err := f.vendor.CreateTransfer(ctx, order.AuthorizationID, order.SellerID, order.ID, membershipID)
	if err != nil {
		res, ferr := inv.failOnVendorError(ctx, err)
		return res, true, ferr
	}

	if err := f.platform.SetVendorOrderID(ctx, order, created.TransferID); err != nil {
		return Result{}, true, fmt.Errorf("record transfer id %s: %w", created.TransferID, err)
	}
	inv.logger.Info("Transfer submitted",
		zap.String("membership_id", membershipID),
		zap.String("transfer_id", created.TransferID))
	return Result{}, false, nil
}

func (f *TransferFlow) poll(ctx context.Context, inv *invocation) (Result, error) {
	order := inv.order
	transfer, err := f.vendor.GetTransfer(ctx, order.AuthorizationID, order.Ordering.MembershipID, order.VendorOrderID)
	if err != nil {
		return inv.failOnVendorError(ctx, err)
	}

	switch transfer.Status {
	case fulfillment.StatusPending:
		return pendingOrFail(ctx, inv, f.attempts, f.maxPollAttempts)
	case fulfillment.StatusProcessed:
	default:
		return inv.fail(ctx, fulfillment.UnexpectedStatusReason(transfer.Status))
	}

	if _, err := f.finalizer.Finalize(ctx, order, order.AuthorizationID, transfer.CustomerID); err != nil {
		return inv.failOnVendorError(ctx, err)
	}
	res, err := inv.complete(ctx, fulfillment.TemplateTransfer)
	if err != nil {
		return res, err
	}
	clearAttempts(ctx, inv, f.attempts)
	return res, nil
}

// pendingOrFail counts one pending poll and fails the order once the limit
// is reached. The platform order itself is not touched while pending.
func pendingOrFail(ctx context.Context, inv *invocation, attempts fulfillment.PollAttemptRepository, maxAttempts int) (Result, error) {
	if attempts == nil {
		return inv.pending(""), nil
	}
	n, err := attempts.Increment(ctx, inv.order.ID)
	if err != nil {
		return Result{}, fmt.Errorf("record poll attempt: %w", err)
	}
	if maxAttempts > 0 && n >= maxAttempts {
		return inv.fail(ctx, maxAttemptsReason(n))
	}
	return inv.pending(fmt.Sprintf("poll %d", n)), nil
}

func clearAttempts(ctx context.Context, inv *invocation, attempts fulfillment.PollAttemptRepository) {
	if attempts == nil {
		return
	}
	if err := attempts.Clear(ctx, inv.order.ID); err != nil {
		inv.logger.Warn("Failed to clear poll attempts", zap.Error(err))
	}
}
