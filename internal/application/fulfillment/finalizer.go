package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// FinalizeReport summarizes one subscription materialization.
type FinalizeReport struct {
	CustomerID string
	Created    []string
	Skipped    []string
	NextSync   time.Time
}

// Finalizer materializes the vendor subscriptions of a customer as platform
// subscriptions. It is shared by the transfer flow, the dispatcher's migrated
// branch and the migration reconciler.
type Finalizer struct {
	vendor   fulfillment.VendorGateway
	platform fulfillment.Platform
	logger   *zap.Logger
}

// NewFinalizer creates a new Finalizer
func NewFinalizer(vendor fulfillment.VendorGateway, platform fulfillment.Platform, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		vendor:   vendor,
		platform: platform,
		logger:   logger.Named("finalizer"),
	}
}

// Finalize records the customer id on the order, creates one platform
// subscription per processed vendor subscription and sets the next sync
// date to the day after the last commitment date. Subscriptions in any other
// status are skipped. Auto-renewal is enabled at the vendor unless the
// customer holds a committed three-year commitment.
func (f *Finalizer) Finalize(ctx context.Context, order *fulfillment.PlatformOrder, authorizationID, customerID string) (*FinalizeReport, error) {
	if customerID == "" {
		return nil, fulfillment.ErrMissingCustomerID
	}
	log := f.logger.With(zap.String("order_id", order.ID), zap.String("customer_id", customerID))

	if err := f.platform.SetFulfillmentParams(ctx, order, fulfillment.FulfillmentParams{
		CustomerID:   customerID,
		NextSyncDate: order.Fulfillment.NextSyncDate,
	}); err != nil {
		return nil, fmt.Errorf("set customer id: %w", err)
	}

	customer, err := f.vendor.GetCustomer(ctx, authorizationID, customerID)
	if err != nil {
		return nil, err
	}
	subscriptions, err := f.vendor.GetSubscriptions(ctx, authorizationID, customerID)
	if err != nil {
		return nil, err
	}

	report := &FinalizeReport{CustomerID: customerID}
	var lastCommitment time.Time
	for _, sub := range subscriptions {
		if !sub.IsProcessed() {
			log.Warn("Skipping subscription not in processed status",
				zap.String("subscription_id", sub.SubscriptionID),
				zap.String("status", sub.Status))
			report.Skipped = append(report.Skipped, sub.SubscriptionID)
			continue
		}

		line, ok := order.LineBySKUFamily(fulfillment.SKUFamily(sub.OfferID))
		if !ok {
			log.Warn("Skipping subscription with no matching order line",
				zap.String("subscription_id", sub.SubscriptionID),
				zap.String("offer_id", sub.OfferID))
			report.Skipped = append(report.Skipped, sub.SubscriptionID)
			continue
		}

		autoRenew := sub.AutoRenewalEnabled
		if !customer.HasThreeYearCommitment() && !sub.AutoRenewalEnabled {
			updated, err := f.vendor.UpdateSubscriptionAutoRenewal(ctx, authorizationID, customerID, sub.SubscriptionID, true)
			if err != nil {
				return nil, err
			}
			autoRenew = updated.AutoRenewalEnabled
		}

		commitment := customer.CotermDate
		if commitment.IsZero() {
			commitment = sub.RenewalDate
		}

		if err := f.platform.CreateSubscription(ctx, order, fulfillment.PlatformSubscription{
			Name:                 fmt.Sprintf("Subscription for %s", line.ItemName),
			VendorSubscriptionID: sub.SubscriptionID,
			LineID:               line.ID,
			OfferID:              sub.OfferID,
			Quantity:             sub.CurrentQuantity,
			StartDate:            time.Now().UTC(),
			CommitmentDate:       commitment,
			AutoRenew:            autoRenew,
		}); err != nil {
			return nil, err
		}
		report.Created = append(report.Created, sub.SubscriptionID)
		lastCommitment = commitment
	}

	if !lastCommitment.IsZero() {
		report.NextSync = lastCommitment.AddDate(0, 0, 1)
		if err := f.platform.SetFulfillmentParams(ctx, order, fulfillment.FulfillmentParams{
			CustomerID:   customerID,
			NextSyncDate: report.NextSync.Format(fulfillment.NextSyncLayout),
		}); err != nil {
			return nil, fmt.Errorf("set next sync date: %w", err)
		}
	}

	log.Info("Subscriptions materialized",
		zap.Int("created", len(report.Created)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}
