package fulfillment

import "time"

// ThreeYearCommitmentCommitted is the commitment status of a customer
// holding an active three-year commitment.
const ThreeYearCommitmentCommitted = "COMMITTED"

// VendorCustomer is a customer account at the vendor.
type VendorCustomer struct {
	CustomerID  string
	CompanyName string
	Status      string
	// CotermDate is the customer-wide anniversary date, zero if unknown
	CotermDate time.Time
	// CommitmentStatus is the three-year commitment status, empty if none
	CommitmentStatus string
}

// HasThreeYearCommitment returns true if the customer's renewal terms are
// fixed by a committed three-year commitment.
func (c *VendorCustomer) HasThreeYearCommitment() bool {
	return c.CommitmentStatus == ThreeYearCommitmentCommitted
}

// VendorSubscription is a subscription owned by a vendor customer.
type VendorSubscription struct {
	SubscriptionID     string
	OfferID            string
	CurrentQuantity    int
	RenewalQuantity    int
	AutoRenewalEnabled bool
	RenewalDate        time.Time
	Status             string
}

// IsProcessed returns true if the subscription is active at the vendor
func (s *VendorSubscription) IsProcessed() bool {
	return s.Status == StatusProcessed
}

// PlatformSubscription is the subscription created on the platform for a
// materialized vendor subscription.
type PlatformSubscription struct {
	Name                 string
	VendorSubscriptionID string
	LineID               string
	OfferID              string
	Quantity             int
	StartDate            time.Time
	CommitmentDate       time.Time
	AutoRenew            bool
}
