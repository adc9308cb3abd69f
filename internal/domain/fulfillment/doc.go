// Package fulfillment contains the Fulfillment bounded context.
// This context reconciles subscription and order state between the commerce
// platform (system of record for customer-facing orders) and the vendor
// provisioning API (system of record for license fulfillment).
//
// Key concepts:
//   - PlatformOrder: The customer-facing order being fulfilled (purchase, change, termination, transfer)
//   - OrderRequest / VendorOrder: Typed vendor order records (preview, new, return)
//   - Transfer: Durable record of a membership migration moving through pending, running, processed, synchronized
//   - LineMatch: Quantity delta of one order line expressed as a vendor new or return order
//
// Design Pattern: Ports & Adapters
//   - VendorGateway, Platform and TransferRepository are ports defined here
//   - HTTP and gorm adapters live in the infrastructure layer
package fulfillment
