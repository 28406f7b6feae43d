package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include bound values in span statements
	SlowQueryThresh time.Duration // default 200ms
	DBName          string
}

type queryStartKey struct{}

// InstrumentDB registers otelgorm on db plus callbacks that flag slow
// statements on the active span.
func InstrumentDB(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("database tracing disabled")
		return nil
	}
	if cfg.SlowQueryThresh == 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := slowQueryCallback(cfg.SlowQueryThresh)

	cb := db.Callback()
	hooks := []struct {
		name   string
		before func(string) error
		after  func(string) error
	}{
		{"create", func(n string) error { return cb.Create().Before("gorm:create").Register(n, before) },
			func(n string) error { return cb.Create().After("gorm:create").Register(n, after) }},
		{"query", func(n string) error { return cb.Query().Before("gorm:query").Register(n, before) },
			func(n string) error { return cb.Query().After("gorm:query").Register(n, after) }},
		{"update", func(n string) error { return cb.Update().Before("gorm:update").Register(n, before) },
			func(n string) error { return cb.Update().After("gorm:update").Register(n, after) }},
		{"delete", func(n string) error { return cb.Delete().Before("gorm:delete").Register(n, before) },
			func(n string) error { return cb.Delete().After("gorm:delete").Register(n, after) }},
		{"row", func(n string) error { return cb.Row().Before("gorm:row").Register(n, before) },
			func(n string) error { return cb.Row().After("gorm:row").Register(n, after) }},
		{"raw", func(n string) error { return cb.Raw().Before("gorm:raw").Register(n, before) },
			func(n string) error { return cb.Raw().After("gorm:raw").Register(n, after) }},
	}
	for _, h := range hooks {
		if err := h.before("wmsync_timing:before_" + h.name); err != nil {
			return err
		}
		if err := h.after("wmsync_timing:after_" + h.name); err != nil {
			return err
		}
	}

	logger.Info("database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func slowQueryCallback(threshold time.Duration) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		if tx.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
		}
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			RecordError(span, tx.Error)
		}
		start, ok := ctx.Value(queryStartKey{}).(time.Time)
		if !ok {
			return
		}
		if elapsed := time.Since(start); elapsed > threshold {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
