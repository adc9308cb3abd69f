package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/persistence/models"
)

// GormPollAttemptRepository implements fulfillment.PollAttemptRepository
// using GORM
type GormPollAttemptRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ fulfillment.PollAttemptRepository = (*GormPollAttemptRepository)(nil)

// NewGormPollAttemptRepository creates a new GormPollAttemptRepository
func NewGormPollAttemptRepository(db *gorm.DB) *GormPollAttemptRepository {
	return &GormPollAttemptRepository{db: db, now: time.Now}
}

// Increment records one more poll and returns the new total. The counter is
// bumped in a single upsert so concurrent workers never lose an attempt.
func (r *GormPollAttemptRepository) Increment(ctx context.Context, orderID string) (int, error) {
	now := r.now().UTC()
	row := models.PollAttemptModel{
		OrderID:      orderID,
		Attempts:     1,
		LastPolledAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":       gorm.Expr("poll_attempts.attempts + 1"),
			"last_polled_at": now,
			"updated_at":     now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, err
	}

	attempt, err := r.Get(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return attempt.Attempts, nil
}

// Get returns the ledger entry of an order. An order never polled has zero
// attempts.
func (r *GormPollAttemptRepository) Get(ctx context.Context, orderID string) (*fulfillment.PollAttempt, error) {
	var row models.PollAttemptModel
	if err := r.db.WithContext(ctx).First(&row, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &fulfillment.PollAttempt{OrderID: orderID}, nil
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// Clear drops the ledger entry of an order
func (r *GormPollAttemptRepository) Clear(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.PollAttemptModel{}).Error
}
