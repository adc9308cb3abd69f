package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
)

// ErrMeterNil is returned when no meter is given
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// FulfillmentMetrics counts fulfillment outcomes, vendor calls and
// archived transfers.
type FulfillmentMetrics struct {
	logger *zap.Logger

	outcomes       metric.Int64Counter
	vendorRequests metric.Int64Counter
	vendorLatency  metric.Float64Histogram
	transfers      metric.Int64Counter
}

var (
	_ app.OutcomeObserver  = (*FulfillmentMetrics)(nil)
	_ app.TransferArchiver = (*FulfillmentMetrics)(nil)
)

// NewFulfillmentMetrics registers the fulfillment instruments on meter.
func NewFulfillmentMetrics(meter metric.Meter, logger *zap.Logger) (*FulfillmentMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	in := NewInstruments(meter)
	fm := &FulfillmentMetrics{
		logger:         logger,
		outcomes:       in.Counter("vipm_fulfillment_outcome_total", "Fulfillment attempts by outcome", "{orders}"),
		vendorRequests: in.Counter("vipm_vendor_request_total", "Vendor API requests", "{requests}"),
		vendorLatency:  in.Latency("vipm_vendor_request_duration_seconds", "Vendor API request latency", VendorDurationBuckets),
		transfers:      in.Counter("vipm_transfer_status_total", "Transfers archived by final status", "{transfers}"),
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	return fm, nil
}

// ObserveOutcome counts one fulfillment attempt.
func (fm *FulfillmentMetrics) ObserveOutcome(ctx context.Context, result app.Result) {
	fm.outcomes.Add(ctx, 1, metric.WithAttributes(
		AttrOrderType.String(string(result.OrderType)),
		AttrOutcome.String(string(result.Outcome)),
	))
}

// ObserveVendorRequest counts one vendor call and records its latency.
// A status of zero means the request never got a response.
func (fm *FulfillmentMetrics) ObserveVendorRequest(ctx context.Context, operation string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrOperation.String(operation), AttrStatusCode.Int(status))
	fm.vendorRequests.Add(ctx, 1, attrs)
	fm.vendorLatency.Record(ctx, elapsed.Seconds(), attrs)

	if status == 0 || status >= 500 {
		fm.logger.Debug("Vendor request failed",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// ArchiveTransfer counts a transfer reaching a final status.
func (fm *FulfillmentMetrics) ArchiveTransfer(ctx context.Context, transfer *fulfillment.Transfer) error {
	status := AttrTransferStatus.String(string(transfer.Status))
	if transfer.VendorErrorCode == "" {
		fm.transfers.Add(ctx, 1, metric.WithAttributes(status))
		return nil
	}
	fm.transfers.Add(ctx, 1, metric.WithAttributes(status, AttrErrorCode.String(transfer.VendorErrorCode)))
	return nil
}
