package persistence

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormInventoryRepository implements integration.InventoryRepository using GORM
type GormInventoryRepository struct {
	db *gorm.DB
}

// NewGormInventoryRepository creates a new GormInventoryRepository
func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// FindByKeys loads stored snapshots keyed by integration.InventoryKey.
// Lookup is by SKU first and narrowed to the requested warehouses in memory.
func (r *GormInventoryRepository) FindByKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*integration.InventorySnapshot, error) {
	result := make(map[string]*integration.InventorySnapshot, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	wanted := make(map[string]struct{}, len(keys))
	skus := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
		sku := key
		if i := strings.LastIndex(key, "@"); i >= 0 {
			sku = key[:i]
		}
		if _, ok := seen[sku]; !ok {
			seen[sku] = struct{}{}
			skus = append(skus, sku)
		}
	}

	var rows []models.InventoryModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sku IN ?", tenantID, skus).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		snapshot := rows[i].ToDomain()
		if _, ok := wanted[snapshot.Key()]; ok {
			result[snapshot.Key()] = snapshot
		}
	}
	return result, nil
}

// Create inserts a snapshot
func (r *GormInventoryRepository) Create(ctx context.Context, snapshot *integration.InventorySnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	var model models.InventoryModel
	model.FromDomain(snapshot)
	return translateCreateError(r.db.WithContext(ctx).Create(&model).Error)
}

// Update writes the named columns of a snapshot
func (r *GormInventoryRepository) Update(ctx context.Context, snapshot *integration.InventorySnapshot, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	var model models.InventoryModel
	model.FromDomain(snapshot)
	return r.db.WithContext(ctx).
		Model(&models.InventoryModel{ID: snapshot.ID}).
		Select(withUpdatedAt(fields)).
		Updates(&model).Error
}

var _ integration.InventoryRepository = (*GormInventoryRepository)(nil)
