package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wmsync/backend/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the PostgreSQL pool shared by the sync repositories, the
// migrator and the readiness probe.
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// Open connects to PostgreSQL and verifies the connection within ctx.
// A nil gormLogger silences gorm.
func Open(ctx context.Context, cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
		// checkpoint and record timestamps are compared in SQL at microsecond precision
		NowFunc: utcNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	d := &Database{DB: db, sql: sqlDB}
	if err := d.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// SQL returns the pool behind the gorm handle. Closing it closes the Database.
func (d *Database) SQL() *sql.DB {
	return d.sql
}

// Ping reports whether the database answers within ctx
func (d *Database) Ping(ctx context.Context) error {
	if err := d.sql.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Close closes the pool
func (d *Database) Close() error {
	return d.sql.Close()
}
