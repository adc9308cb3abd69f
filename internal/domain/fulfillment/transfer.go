package fulfillment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// TransferStatus
// ---------------------------------------------------------------------------

// TransferStatus is the lifecycle status of a membership transfer
type TransferStatus string

const (
	// TransferStatusPending means the transfer is recorded but not yet submitted
	TransferStatusPending TransferStatus = "pending"
	// TransferStatusRunning means the vendor transfer was submitted
	TransferStatusRunning TransferStatus = "running"
	// TransferStatusProcessed means the vendor completed the transfer
	TransferStatusProcessed TransferStatus = "processed"
	// TransferStatusSynchronized means the platform order was completed from it
	TransferStatusSynchronized TransferStatus = "synchronized"
	// TransferStatusFailed is terminal failure
	TransferStatusFailed TransferStatus = "failed"
)

// AllTransferStatuses lists every status, for validation and reporting.
var AllTransferStatuses = []TransferStatus{
	TransferStatusPending,
	TransferStatusRunning,
	TransferStatusProcessed,
	TransferStatusSynchronized,
	TransferStatusFailed,
}

// IsValid returns true if the status is valid
func (s TransferStatus) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal returns true for synchronized and failed transfers
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusSynchronized || s == TransferStatusFailed
}

// String returns the string representation of TransferStatus
func (s TransferStatus) String() string {
	return string(s)
}

func (s TransferStatus) rank() int {
	switch s {
	case TransferStatusPending:
		return 0
	case TransferStatusRunning:
		return 1
	case TransferStatusProcessed:
		return 2
	case TransferStatusSynchronized, TransferStatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status
// moving forward. Staying in the same status is allowed.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == TransferStatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// ---------------------------------------------------------------------------
// Transfer
// ---------------------------------------------------------------------------

// Transfer is the durable record of one membership migration. Transfers are
// never deleted.
type Transfer struct {
	ID               uuid.UUID
	ProductID        string
	AuthorizationID  string
	SellerID         string
	MembershipID     string
	CustomerID       string
	TransferID       string
	PlatformOrderID  string
	Status           TransferStatus
	RetryCount       int
	VendorErrorCode  string
	ErrorDescription string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	SynchronizedAt   *time.Time
}

// NewTransfer creates a pending transfer for a membership.
func NewTransfer(productID, authorizationID, sellerID, membershipID string) (*Transfer, error) {
	if membershipID == "" {
		return nil, ErrMissingMembershipID
	}
	now := time.Now()
	return &Transfer{
		ID:              uuid.New(),
		ProductID:       productID,
		AuthorizationID: authorizationID,
		SellerID:        sellerID,
		MembershipID:    membershipID,
		Status:          TransferStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TransitionTo moves the transfer to next, rejecting backward moves.
func (t *Transfer) TransitionTo(next TransferStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransferTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	return nil
}

// MarkRunning records the vendor transfer id of a submitted transfer and
// clears what earlier preview attempts left behind.
func (t *Transfer) MarkRunning(transferID string) error {
	if err := t.TransitionTo(TransferStatusRunning); err != nil {
		return err
	}
	t.TransferID = transferID
	t.RetryCount = 0
	t.VendorErrorCode = ""
	t.ErrorDescription = ""
	return nil
}

// IncrementRetry counts one more unsuccessful check and returns the total.
func (t *Transfer) IncrementRetry() int {
	t.RetryCount++
	t.UpdatedAt = time.Now()
	return t.RetryCount
}

// MarkProcessed records the customer created by the vendor transfer.
func (t *Transfer) MarkProcessed(customerID string, at time.Time) error {
	if err := t.TransitionTo(TransferStatusProcessed); err != nil {
		return err
	}
	t.CustomerID = customerID
	t.CompletedAt = &at
	return nil
}

// MarkSynchronized binds the transfer to the platform order completed from it.
func (t *Transfer) MarkSynchronized(platformOrderID string, at time.Time) error {
	if err := t.TransitionTo(TransferStatusSynchronized); err != nil {
		return err
	}
	t.PlatformOrderID = platformOrderID
	t.SynchronizedAt = &at
	return nil
}

// MarkFailed records a terminal failure.
func (t *Transfer) MarkFailed(code, description string) error {
	if err := t.TransitionTo(TransferStatusFailed); err != nil {
		return err
	}
	t.VendorErrorCode = code
	t.ErrorDescription = description
	return nil
}

// IsBoundToOtherOrder returns true if the transfer already completed a
// different platform order.
func (t *Transfer) IsBoundToOtherOrder(orderID string) bool {
	return t.PlatformOrderID != "" && t.PlatformOrderID != orderID
}

// MaxRetriesReason is the description stored on transfers that exhausted
// their checks.
func MaxRetriesReason(maxRetries int) string {
	return fmt.Sprintf("Max retries (%d) exceeded.", maxRetries)
}
