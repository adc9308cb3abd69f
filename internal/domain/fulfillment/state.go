package fulfillment

// TransferState is the position of a transfer order in the fulfillment
// state machine.
type TransferState string

const (
	TransferStateInitiated        TransferState = "INITIATED"
	TransferStatePreviewedValid   TransferState = "PREVIEWED_VALID"
	TransferStatePreviewedInvalid TransferState = "PREVIEWED_INVALID"
	TransferStateSubmitted        TransferState = "SUBMITTED"
	TransferStatePolling          TransferState = "POLLING"
	TransferStateFulfilled        TransferState = "FULFILLED"
	TransferStateFinalized        TransferState = "FINALIZED"
)

// ReconstructTransferState derives the entry state of an invocation from
// the persisted correlation fields alone. An order with a vendor order id on
// file was already submitted and resumes at polling.
func ReconstructTransferState(order *PlatformOrder) TransferState {
	switch {
	case order.Status == OrderStatusCompleted:
		return TransferStateFinalized
	case order.HasVendorOrderID():
		return TransferStateSubmitted
	default:
		return TransferStateInitiated
	}
}
