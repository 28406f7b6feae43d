package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormShipmentRepository implements integration.ShipmentRepository using GORM
type GormShipmentRepository struct {
	db *gorm.DB
}

// NewGormShipmentRepository creates a new GormShipmentRepository
func NewGormShipmentRepository(db *gorm.DB) *GormShipmentRepository {
	return &GormShipmentRepository{db: db}
}

// FindByExternalIDs loads stored shipments keyed by external id
func (r *GormShipmentRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*integration.CanonicalShipment, error) {
	result := make(map[string]*integration.CanonicalShipment, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}
	var rows []models.ShipmentModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		shipment := rows[i].ToDomain()
		result[shipment.ExternalID] = shipment
	}
	return result, nil
}

// Create inserts a shipment
func (r *GormShipmentRepository) Create(ctx context.Context, shipment *integration.CanonicalShipment) error {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	var model models.ShipmentModel
	model.FromDomain(shipment)
	return translateCreateError(r.db.WithContext(ctx).Create(&model).Error)
}

// Update writes the named columns of a shipment
func (r *GormShipmentRepository) Update(ctx context.Context, shipment *integration.CanonicalShipment, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	var model models.ShipmentModel
	model.FromDomain(shipment)
	return r.db.WithContext(ctx).
		Model(&models.ShipmentModel{ID: shipment.ID}).
		Select(withUpdatedAt(fields)).
		Updates(&model).Error
}

var _ integration.ShipmentRepository = (*GormShipmentRepository)(nil)
