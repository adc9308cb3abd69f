package models

import (
	"time"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

// PollAttemptModel counts the polls of one platform order whose vendor
// order is pending
type PollAttemptModel struct {
	OrderID      string    `gorm:"type:varchar(64);primaryKey"`
	Attempts     int       `gorm:"not null"`
	LastPolledAt time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PollAttemptModel) TableName() string {
	return "poll_attempts"
}

// ToDomain converts the persistence model to a domain PollAttempt
func (m *PollAttemptModel) ToDomain() *fulfillment.PollAttempt {
	return &fulfillment.PollAttempt{
		OrderID:      m.OrderID,
		Attempts:     m.Attempts,
		LastPolledAt: m.LastPolledAt,
	}
}
