package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOrderRepository implements integration.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByExternalID finds an order with its items by provider order id
func (r *GormOrderRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*integration.CanonicalOrder, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items", orderItemsByPosition).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalIDs loads the stored copies of a batch, keyed by external id.
// Ids without a stored order are absent from the map.
func (r *GormOrderRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*integration.CanonicalOrder, error) {
	result := make(map[string]*integration.CanonicalOrder, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}
	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items", orderItemsByPosition).
		Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		order := rows[i].ToDomain()
		result[order.ExternalID] = order
	}
	return result, nil
}

// Create inserts an order together with its line items
func (r *GormOrderRepository) Create(ctx context.Context, order *integration.CanonicalOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	var model models.OrderModel
	model.FromDomain(order)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return translateCreateError(tx.Create(&model).Error)
	})
}

// Update writes the named columns and, when replaceItems is set, deletes and
// recreates the line items in the same transaction.
func (r *GormOrderRepository) Update(ctx context.Context, order *integration.CanonicalOrder, fields []string, replaceItems bool) error {
	var model models.OrderModel
	model.FromDomain(order)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			if err := tx.Model(&models.OrderModel{ID: order.ID}).
				Select(withUpdatedAt(fields)).
				Updates(&model).Error; err != nil {
				return err
			}
		}
		if !replaceItems {
			return nil
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItemModel{}).Error; err != nil {
			return err
		}
		if len(model.Items) == 0 {
			return nil
		}
		return tx.Create(&model.Items).Error
	})
}

func orderItemsByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func translateCreateError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return integration.ErrDuplicateRecord
	}
	return err
}

var _ integration.OrderRepository = (*GormOrderRepository)(nil)

func withUpdatedAt(fields []string) []string {
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields...)
	return append(out, "updated_at")
}
