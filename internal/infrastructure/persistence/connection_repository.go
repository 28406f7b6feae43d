package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormConnectionRepository implements integration.ConnectionProvider on the
// wms_connections table, which is owned by the surrounding application.
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// GetConnection returns the connection of a tenant
func (r *GormConnectionRepository) GetConnection(ctx context.Context, tenantID uuid.UUID) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByConnectionID resolves the provider-side connection identifier carried by webhooks
func (r *GormConnectionRepository) FindByConnectionID(ctx context.Context, provider integration.ProviderID, connectionID string) (*integration.Connection, error) {
	var model models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND connection_id = ?", string(provider), connectionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListActive returns every active connection
func (r *GormConnectionRepository) ListActive(ctx context.Context) ([]integration.Connection, error) {
	var rows []models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", string(integration.ConnectionActive)).
		Order("tenant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	conns := make([]integration.Connection, 0, len(rows))
	for i := range rows {
		conns = append(conns, *rows[i].ToDomain())
	}
	return conns, nil
}

// Save inserts or replaces a tenant's connection. Used by seeding and tests.
func (r *GormConnectionRepository) Save(ctx context.Context, conn *integration.Connection) error {
	var model models.ConnectionModel
	model.FromDomain(conn)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "connection_id", "state", "credentials", "webhook_secret", "resources", "updated_at"}),
	}).Create(&model).Error
}

var _ integration.ConnectionProvider = (*GormConnectionRepository)(nil)
