package fulfillment

import (
	"context"
	"errors"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrOrderAlreadySwitched is returned when a second status switch is
	// attempted within one invocation
	ErrOrderAlreadySwitched = errors.New("fulfillment: order status already switched in this invocation")
	// ErrUnsupportedOrderType is returned for order types with no flow
	ErrUnsupportedOrderType = errors.New("fulfillment: unsupported order type")
)

// ---------------------------------------------------------------------------
// Outcome
// ---------------------------------------------------------------------------

// Outcome is how one invocation left the order
type Outcome string

const (
	// OutcomeCompleted means the order was completed on the platform
	OutcomeCompleted Outcome = "completed"
	// OutcomePending means the vendor is still working; invoke again later
	OutcomePending Outcome = "pending"
	// OutcomeQueried means the order was switched to query for buyer input
	OutcomeQueried Outcome = "queried"
	// OutcomeFailed means the order was switched to failed
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the order was not in an actionable status
	OutcomeSkipped Outcome = "skipped"
)

// IsFinal returns true if the order will not be invoked again
func (o Outcome) IsFinal() bool {
	return o != OutcomePending
}

// Result describes one invocation of the dispatcher.
type Result struct {
	OrderID       string
	OrderType     fulfillment.OrderType
	Outcome       Outcome
	Reason        string
	VendorOrderID string
}

// OutcomeObserver is notified of every dispatcher result.
type OutcomeObserver interface {
	ObserveOutcome(ctx context.Context, result Result)
}

// TransferArchiver stores a copy of transfers reaching a terminal status.
type TransferArchiver interface {
	ArchiveTransfer(ctx context.Context, transfer *fulfillment.Transfer) error
}

// Observers fans a result out to several observers
type Observers []OutcomeObserver

// ObserveOutcome notifies every observer in order
func (o Observers) ObserveOutcome(ctx context.Context, result Result) {
	for _, observer := range o {
		observer.ObserveOutcome(ctx, result)
	}
}

// Archivers stores a transfer with several archivers. Every archiver is
// tried; the failures are joined.
type Archivers []TransferArchiver

// ArchiveTransfer archives with every archiver in order
func (a Archivers) ArchiveTransfer(ctx context.Context, transfer *fulfillment.Transfer) error {
	var errs []error
	for _, archiver := range a {
		if err := archiver.ArchiveTransfer(ctx, transfer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
