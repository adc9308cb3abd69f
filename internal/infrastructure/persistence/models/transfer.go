package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

// TransferModel is the persistence model for a membership transfer
type TransferModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProductID        string     `gorm:"type:varchar(64);not null;index:idx_transfers_product_status"`
	AuthorizationID  string     `gorm:"type:varchar(64);not null"`
	SellerID         string     `gorm:"type:varchar(64)"`
	MembershipID     string     `gorm:"type:varchar(128);not null;index"`
	CustomerID       string     `gorm:"type:varchar(128);index"`
	TransferID       string     `gorm:"type:varchar(128)"`
	PlatformOrderID  string     `gorm:"type:varchar(64)"`
	Status           string     `gorm:"type:varchar(20);not null;index:idx_transfers_product_status"`
	RetryCount       int        `gorm:"not null"`
	VendorErrorCode  string     `gorm:"type:varchar(32)"`
	ErrorDescription string     `gorm:"type:text"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
	CompletedAt      *time.Time
	SynchronizedAt   *time.Time
}

// TableName returns the table name for GORM
func (TransferModel) TableName() string {
	return "transfers"
}

// ToDomain converts the persistence model to a domain Transfer
func (m *TransferModel) ToDomain() *fulfillment.Transfer {
	return &fulfillment.Transfer{
		ID:               m.ID,
		ProductID:        m.ProductID,
		AuthorizationID:  m.AuthorizationID,
		SellerID:         m.SellerID,
		MembershipID:     m.MembershipID,
		CustomerID:       m.CustomerID,
		TransferID:       m.TransferID,
		PlatformOrderID:  m.PlatformOrderID,
		Status:           fulfillment.TransferStatus(m.Status),
		RetryCount:       m.RetryCount,
		VendorErrorCode:  m.VendorErrorCode,
		ErrorDescription: m.ErrorDescription,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		CompletedAt:      m.CompletedAt,
		SynchronizedAt:   m.SynchronizedAt,
	}
}

// FromDomain populates the persistence model from a domain Transfer
func (m *TransferModel) FromDomain(t *fulfillment.Transfer) {
	m.ID = t.ID
	m.CreatedAt = t.CreatedAt
	m.UpdatedAt = t.UpdatedAt
	m.ProductID = t.ProductID
	m.AuthorizationID = t.AuthorizationID
	m.SellerID = t.SellerID
	m.MembershipID = t.MembershipID
	m.CustomerID = t.CustomerID
	m.TransferID = t.TransferID
	m.PlatformOrderID = t.PlatformOrderID
	m.Status = string(t.Status)
	m.RetryCount = t.RetryCount
	m.VendorErrorCode = t.VendorErrorCode
	m.ErrorDescription = t.ErrorDescription
	m.CompletedAt = t.CompletedAt
	m.SynchronizedAt = t.SynchronizedAt
}

// TransferModelFromDomain creates a persistence model from a domain Transfer
func TransferModelFromDomain(t *fulfillment.Transfer) *TransferModel {
	m := &TransferModel{}
	m.FromDomain(t)
	return m
}
