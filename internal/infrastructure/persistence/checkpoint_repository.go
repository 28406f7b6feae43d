package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultRunLeaseTTL is how long a running checkpoint blocks other runs
// before it is considered abandoned by a crashed process.
const DefaultRunLeaseTTL = time.Hour

// DefaultErrorThreshold is the consecutive failure count that moves a
// checkpoint from retrying to error.
const DefaultErrorThreshold = 5

// CheckpointStoreConfig tunes the run lock
type CheckpointStoreConfig struct {
	LeaseTTL       time.Duration
	ErrorThreshold int
}

// GormCheckpointRepository implements integration.CheckpointStore using GORM.
// The run lock is the row's status column, taken with a single upsert so
// that it holds across processes sharing the database.
type GormCheckpointRepository struct {
	db             *gorm.DB
	leaseTTL       time.Duration
	errorThreshold int
	now            func() time.Time
}

// NewGormCheckpointRepository creates a new GormCheckpointRepository
func NewGormCheckpointRepository(db *gorm.DB, cfg CheckpointStoreConfig) *GormCheckpointRepository {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultRunLeaseTTL
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	return &GormCheckpointRepository{
		db:             db,
		leaseTTL:       cfg.LeaseTTL,
		errorThreshold: cfg.ErrorThreshold,
		now:            utcNow,
	}
}

// ErrorThreshold returns the consecutive failure count that marks a checkpoint as error
func (r *GormCheckpointRepository) ErrorThreshold() int {
	return r.errorThreshold
}

// GetCheckpoint returns the checkpoint of a (tenant, resource)
func (r *GormCheckpointRepository) GetCheckpoint(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*integration.Checkpoint, error) {
	var model models.SyncCheckpointModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND resource = ?", tenantID, string(resource)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCheckpointNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListCheckpoints returns every checkpoint of a tenant ordered by resource
func (r *GormCheckpointRepository) ListCheckpoints(ctx context.Context, tenantID uuid.UUID) ([]integration.Checkpoint, error) {
	var rows []models.SyncCheckpointModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("resource ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	checkpoints := make([]integration.Checkpoint, 0, len(rows))
	for i := range rows {
		checkpoints = append(checkpoints, *rows[i].ToDomain())
	}
	return checkpoints, nil
}

// BeginRun takes the run lock. A row is inserted on first use; otherwise the
// existing row is flipped to running only when it is not running already or
// its lease has expired. Zero affected rows means another run holds the lock.
func (r *GormCheckpointRepository) BeginRun(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType, kind integration.RunKind) (integration.RunToken, error) {
	now := r.now()
	token := integration.RunToken{
		RunID:     uuid.New(),
		TenantID:  tenantID,
		Resource:  resource,
		Kind:      kind,
		StartedAt: now,
	}

	model := models.SyncCheckpointModel{
		TenantID:       tenantID,
		Resource:       string(resource),
		Status:         string(integration.RunStatusRunning),
		PreviousStatus: string(integration.RunStatusIdle),
		RunID:          &token.RunID,
		RunKind:        string(kind),
		RunStartedAt:   &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "resource"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "previous_status"}, Value: gorm.Expr(
				"CASE WHEN sync_checkpoints.status = ? THEN sync_checkpoints.previous_status ELSE sync_checkpoints.status END",
				string(integration.RunStatusRunning),
			)},
			{Column: clause.Column{Name: "status"}, Value: string(integration.RunStatusRunning)},
			{Column: clause.Column{Name: "run_id"}, Value: token.RunID},
			{Column: clause.Column{Name: "run_kind"}, Value: string(kind)},
			{Column: clause.Column{Name: "run_started_at"}, Value: now},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr(
				"sync_checkpoints.status <> ? OR sync_checkpoints.run_started_at IS NULL OR sync_checkpoints.run_started_at < ?",
				string(integration.RunStatusRunning), now.Add(-r.leaseTTL),
			),
		}},
	}).Create(&model)
	if result.Error != nil {
		return integration.RunToken{}, fmt.Errorf("begin run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.RunToken{}, integration.ErrAlreadyRunning
	}
	return token, nil
}

// CommitRun records a successful run and moves LastSyncAt forward.
// Repeating the call with the same token and timestamp after it succeeded
// is a no-op. A lastSyncAt earlier than the stored value is refused: the row is marked
// error, the lock is released, and ErrCheckpointRegression is returned.
func (r *GormCheckpointRepository) CommitRun(ctx context.Context, token integration.RunToken, lastSyncAt time.Time, recordsProcessed int64) error {
	now := r.now()
	lastSyncAt = lastSyncAt.UTC().Truncate(time.Microsecond)

	result := r.db.WithContext(ctx).
		Model(&models.SyncCheckpointModel{}).
		Where("tenant_id = ? AND resource = ? AND run_id = ?", token.TenantID, string(token.Resource), token.RunID).
		Where("last_sync_at IS NULL OR last_sync_at <= ?", lastSyncAt).
		Updates(successUpdates(now, token.RunID, recordsProcessed, &lastSyncAt))
	if result.Error != nil {
		return fmt.Errorf("commit run: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	cp, err := r.GetCheckpoint(ctx, token.TenantID, token.Resource)
	if err != nil {
		return err
	}
	if committedBy(cp, token) && cp.LastSyncAt != nil && cp.LastSyncAt.Equal(lastSyncAt) {
		return nil
	}
	current, err := r.current(ctx, token)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("%s: refused to move last_sync_at from %s to %s",
		integration.ErrCheckpointRegression.Error(),
		current.LastSyncAt.Format(time.RFC3339Nano),
		lastSyncAt.Format(time.RFC3339Nano),
	)
	if err := r.db.WithContext(ctx).
		Model(&models.SyncCheckpointModel{}).
		Where("tenant_id = ? AND resource = ? AND run_id = ?", token.TenantID, string(token.Resource), token.RunID).
		Updates(releaseUpdates(now, map[string]any{
			"status":     string(integration.RunStatusError),
			"last_error": message,
		})).Error; err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return integration.ErrCheckpointRegression
}

// CompleteRun records a successful run that must not move LastSyncAt.
// Like CommitRun it may be repeated once it succeeded.
func (r *GormCheckpointRepository) CompleteRun(ctx context.Context, token integration.RunToken, recordsProcessed int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncCheckpointModel{}).
		Where("tenant_id = ? AND resource = ? AND run_id = ?", token.TenantID, string(token.Resource), token.RunID).
		Updates(successUpdates(r.now(), token.RunID, recordsProcessed, nil))
	if result.Error != nil {
		return fmt.Errorf("complete run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		cp, err := r.GetCheckpoint(ctx, token.TenantID, token.Resource)
		if err != nil {
			return err
		}
		if committedBy(cp, token) {
			return nil
		}
		_, err = r.current(ctx, token)
		return err
	}
	return nil
}

// FailRun counts a failed run and releases the lock. The status becomes
// retrying below the error threshold and error at or above it.
func (r *GormCheckpointRepository) FailRun(ctx context.Context, token integration.RunToken, runErr error) (*integration.Checkpoint, error) {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	result := r.db.WithContext(ctx).
		Model(&models.SyncCheckpointModel{}).
		Where("tenant_id = ? AND resource = ? AND run_id = ?", token.TenantID, string(token.Resource), token.RunID).
		Updates(releaseUpdates(r.now(), map[string]any{
			"status": gorm.Expr("CASE WHEN consecutive_errors + 1 >= ? THEN ? ELSE ? END",
				r.errorThreshold, string(integration.RunStatusError), string(integration.RunStatusRetrying)),
			"consecutive_errors": gorm.Expr("consecutive_errors + 1"),
			"last_error":         message,
		}))
	if result.Error != nil {
		return nil, fmt.Errorf("fail run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.current(ctx, token); err != nil {
			return nil, err
		}
	}
	return r.GetCheckpoint(ctx, token.TenantID, token.Resource)
}

// AbortRun releases the lock of a cancelled run and restores the status the
// row had before the run began.
func (r *GormCheckpointRepository) AbortRun(ctx context.Context, token integration.RunToken) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncCheckpointModel{}).
		Where("tenant_id = ? AND resource = ? AND run_id = ?", token.TenantID, string(token.Resource), token.RunID).
		Updates(map[string]any{
			"status":         gorm.Expr("previous_status"),
			"run_id":         nil,
			"run_kind":       "",
			"run_started_at": nil,
			"updated_at":     r.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("abort run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		_, err := r.current(ctx, token)
		return err
	}
	return nil
}

// current loads the row for token and reports ErrStaleRunToken when the
// lock is no longer held by the token's run.
func (r *GormCheckpointRepository) current(ctx context.Context, token integration.RunToken) (*integration.Checkpoint, error) {
	cp, err := r.GetCheckpoint(ctx, token.TenantID, token.Resource)
	if err != nil {
		return nil, err
	}
	if cp.RunID == nil || *cp.RunID != token.RunID {
		return nil, integration.ErrStaleRunToken
	}
	return cp, nil
}

// committedBy reports whether the last successful run of cp was token's run
func committedBy(cp *integration.Checkpoint, token integration.RunToken) bool {
	return cp.LastRunID != nil && *cp.LastRunID == token.RunID
}

func successUpdates(now time.Time, runID uuid.UUID, recordsProcessed int64, lastSyncAt *time.Time) map[string]any {
	updates := releaseUpdates(now, map[string]any{
		"status":                  string(integration.RunStatusSuccess),
		"last_run_id":             runID,
		"records_processed":       recordsProcessed,
		"total_records_processed": gorm.Expr("total_records_processed + ?", recordsProcessed),
		"consecutive_errors":      0,
		"last_error":              "",
	})
	if lastSyncAt != nil {
		updates["last_sync_at"] = *lastSyncAt
	}
	return updates
}

func releaseUpdates(now time.Time, updates map[string]any) map[string]any {
	updates["run_id"] = nil
	updates["run_kind"] = ""
	updates["run_started_at"] = nil
	updates["last_finished_at"] = now
	updates["updated_at"] = now
	return updates
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

var _ integration.CheckpointStore = (*GormCheckpointRepository)(nil)
