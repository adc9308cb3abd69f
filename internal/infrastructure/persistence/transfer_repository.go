package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/persistence/models"
)

// GormTransferRepository implements fulfillment.TransferRepository using GORM
type GormTransferRepository struct {
	db *gorm.DB
}

var _ fulfillment.TransferRepository = (*GormTransferRepository)(nil)

// NewGormTransferRepository creates a new GormTransferRepository
func NewGormTransferRepository(db *gorm.DB) *GormTransferRepository {
	return &GormTransferRepository{db: db}
}

// FindByID finds a transfer by its ID
func (r *GormTransferRepository) FindByID(ctx context.Context, id uuid.UUID) (*fulfillment.Transfer, error) {
	var model models.TransferModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateTransferError(err)
	}
	return model.ToDomain(), nil
}

// FindByMembership returns the latest transfer of a membership
func (r *GormTransferRepository) FindByMembership(ctx context.Context, productID, authorizationID, membershipID string) (*fulfillment.Transfer, error) {
	return r.findLatest(ctx, "product_id = ? AND authorization_id = ? AND membership_id = ?", productID, authorizationID, membershipID)
}

// FindByCustomer returns the latest transfer that produced a vendor customer
func (r *GormTransferRepository) FindByCustomer(ctx context.Context, productID, authorizationID, customerID string) (*fulfillment.Transfer, error) {
	return r.findLatest(ctx, "product_id = ? AND authorization_id = ? AND customer_id = ?", productID, authorizationID, customerID)
}

func (r *GormTransferRepository) findLatest(ctx context.Context, query string, args ...any) (*fulfillment.Transfer, error) {
	var model models.TransferModel
	if err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		return nil, translateTransferError(err)
	}
	return model.ToDomain(), nil
}

// FindByStatus returns the transfers of a product in the given status,
// oldest first
func (r *GormTransferRepository) FindByStatus(ctx context.Context, productID string, status fulfillment.TransferStatus) ([]*fulfillment.Transfer, error) {
	var rows []models.TransferModel
	if err := r.db.WithContext(ctx).
		Where("product_id = ? AND status = ?", productID, string(status)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainTransfers(rows), nil
}

// ListByMembership returns every transfer of a membership, newest first
func (r *GormTransferRepository) ListByMembership(ctx context.Context, membershipID string) ([]*fulfillment.Transfer, error) {
	var rows []models.TransferModel
	if err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainTransfers(rows), nil
}

// Save creates or updates a transfer
func (r *GormTransferRepository) Save(ctx context.Context, transfer *fulfillment.Transfer) error {
	if !transfer.Status.IsValid() {
		return fulfillment.ErrInvalidTransferTransition
	}
	return r.db.WithContext(ctx).Save(models.TransferModelFromDomain(transfer)).Error
}

func toDomainTransfers(rows []models.TransferModel) []*fulfillment.Transfer {
	out := make([]*fulfillment.Transfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out
}

func translateTransferError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fulfillment.ErrTransferNotFound
	}
	return err
}
