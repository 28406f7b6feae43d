package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormProductRepository implements integration.ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindBySKUs loads stored products keyed by SKU
func (r *GormProductRepository) FindBySKUs(ctx context.Context, tenantID uuid.UUID, skus []string) (map[string]*integration.CanonicalProduct, error) {
	result := make(map[string]*integration.CanonicalProduct, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	var rows []models.ProductModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sku IN ?", tenantID, skus).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		product := rows[i].ToDomain()
		result[product.SKU] = product
	}
	return result, nil
}

// Create inserts a product
func (r *GormProductRepository) Create(ctx context.Context, product *integration.CanonicalProduct) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	var model models.ProductModel
	model.FromDomain(product)
	return translateCreateError(r.db.WithContext(ctx).Create(&model).Error)
}

// Update writes the named columns of a product
func (r *GormProductRepository) Update(ctx context.Context, product *integration.CanonicalProduct, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	var model models.ProductModel
	model.FromDomain(product)
	return r.db.WithContext(ctx).
		Model(&models.ProductModel{ID: product.ID}).
		Select(withUpdatedAt(fields)).
		Updates(&model).Error
}

var _ integration.ProductRepository = (*GormProductRepository)(nil)
