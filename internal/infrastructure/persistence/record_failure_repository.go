package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRecordFailureRepository implements integration.RecordFailureRepository using GORM.
// A failure row stays open until the same record reconciles successfully.
type GormRecordFailureRepository struct {
	db *gorm.DB
}

// NewGormRecordFailureRepository creates a new GormRecordFailureRepository
func NewGormRecordFailureRepository(db *gorm.DB) *GormRecordFailureRepository {
	return &GormRecordFailureRepository{db: db}
}

// Record upserts failures; a repeated failure bumps Attempts and reopens the row
func (r *GormRecordFailureRepository) Record(ctx context.Context, failures []integration.RecordFailure) error {
	if len(failures) == 0 {
		return nil
	}
	now := utcNow()
	rows := make([]models.RecordFailureModel, 0, len(failures))
	index := make(map[string]int, len(failures))
	for _, f := range failures {
		seen := f.LastSeenAt
		if seen.IsZero() {
			seen = now
		}
		key := f.TenantID.String() + "/" + string(f.Resource) + "/" + f.ExternalKey
		if i, ok := index[key]; ok {
			rows[i].Error = f.Error
			rows[i].LastSeenAt = seen
			continue
		}
		index[key] = len(rows)
		rows = append(rows, models.RecordFailureModel{
			ID:          uuid.New(),
			TenantID:    f.TenantID,
			Resource:    string(f.Resource),
			ExternalKey: f.ExternalKey,
			Error:       f.Error,
			Attempts:    1,
			FirstSeenAt: seen,
			LastSeenAt:  seen,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "resource"}, {Name: "external_key"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "error"}, Value: gorm.Expr("excluded.error")},
			{Column: clause.Column{Name: "last_seen_at"}, Value: gorm.Expr("excluded.last_seen_at")},
			{Column: clause.Column{Name: "attempts"}, Value: gorm.Expr(
				"CASE WHEN sync_record_failures.resolved_at IS NULL THEN sync_record_failures.attempts + 1 ELSE 1 END")},
			{Column: clause.Column{Name: "first_seen_at"}, Value: gorm.Expr(
				"CASE WHEN sync_record_failures.resolved_at IS NULL THEN sync_record_failures.first_seen_at ELSE excluded.first_seen_at END")},
			{Column: clause.Column{Name: "resolved_at"}, Value: nil},
		},
	}).Create(&rows).Error
}

// Resolve closes the open failures of records that have since reconciled
func (r *GormRecordFailureRepository) Resolve(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.RecordFailureModel{}).
		Where("tenant_id = ? AND resource = ? AND external_key IN ? AND resolved_at IS NULL", tenantID, string(resource), keys).
		Update("resolved_at", utcNow()).Error
}

// List returns open failures seen at or after since, most recent first
func (r *GormRecordFailureRepository) List(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]integration.RecordFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND resolved_at IS NULL", tenantID)
	if !since.IsZero() {
		query = query.Where("last_seen_at >= ?", since.UTC())
	}
	var rows []models.RecordFailureModel
	if err := query.Order("last_seen_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	failures := make([]integration.RecordFailure, 0, len(rows))
	for i := range rows {
		failures = append(failures, rows[i].ToDomain())
	}
	return failures, nil
}

// CountOpen returns the number of open failures per resource
func (r *GormRecordFailureRepository) CountOpen(ctx context.Context, tenantID uuid.UUID) (map[integration.ResourceType]int64, error) {
	var rows []struct {
		Resource string
		Count    int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.RecordFailureModel{}).
		Select("resource, COUNT(*) AS count").
		Where("tenant_id = ? AND resolved_at IS NULL", tenantID).
		Group("resource").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[integration.ResourceType]int64, len(rows))
	for _, row := range rows {
		counts[integration.ResourceType(row.Resource)] = row.Count
	}
	return counts, nil
}

var _ integration.RecordFailureRepository = (*GormRecordFailureRepository)(nil)
