package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Log           LogConfig
	HTTP          HTTPConfig
	JWT           JWTConfig
	Sync          SyncConfig
	Webhook       WebhookConfig
	Providers     map[string]ProviderConfig
	StatusMapping StatusMappingConfig
	Telemetry     TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	MaxSizeMB  int    // rotation size for file output
	MaxBackups int
	MaxAgeDays int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// JWTConfig holds the settings used to verify service tokens on the sync API
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// SyncConfig tunes the orchestrator, the scheduler and the interval trigger
type SyncConfig struct {
	Enabled               bool
	Workers               int
	QueueSize             int
	HistorySize           int
	IncrementalInterval   time.Duration
	IntegrityInterval     time.Duration
	IntegrityLookback     time.Duration
	BackfillWindow        time.Duration
	InitialLookback       time.Duration
	ErrorThreshold        int
	RunLeaseTTL           time.Duration
	JobTimeout            time.Duration
	MaxRateLimitWaits     int
	MaxUnavailableRetries int
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	ShutdownTimeout       time.Duration
}

// WebhookConfig tunes webhook ingestion
type WebhookConfig struct {
	MaxBodyBytes       int64
	ReconcileBudget    time.Duration
	IdempotencyTTL     time.Duration
	IdempotencyBackend string // redis, memory
	AsyncWorkers       int
	AsyncQueueSize     int
}

// ProviderConfig holds per-provider HTTP client settings
type ProviderConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	PageSize         int           `mapstructure:"page_size"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

// StatusMappingConfig adjusts the built-in provider status tables
type StatusMappingConfig struct {
	// Overrides maps provider -> raw status -> canonical status
	Overrides map[string]map[string]string
	// Collapse maps canonical -> canonical after lookup
	Collapse map[string]string
	// Fulfilled lists the canonical statuses treated as terminal-fulfilled
	Fulfilled []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// Loader reads configuration from config.toml and WMSYNC_ environment
// variables, and can watch the file for changes.
// Priority (highest to lowest):
// 1. Environment variables with WMSYNC_ prefix (e.g., WMSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader creates a Loader searching the given directories, or the
// default locations when none are given.
func NewLoader(paths ...string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/etc/wmsync"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("WMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from the default locations
func Load() (*Config, error) {
	return NewLoader().Load()
}

// Load reads the config file, if any, and builds a validated Config
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.build()
}

// ConfigFileUsed returns the path of the config file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with a freshly built Config each time the config
// file changes. A file that fails to parse or validate is reported through
// err and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.build()
		l.mu.Unlock()
		onChange(cfg, err)
	})
	l.v.WatchConfig()
}

func (l *Loader) build() (*Config, error) {
	v := l.v
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			Audience: v.GetString("jwt.audience"),
		},
		Sync: SyncConfig{
			Enabled:               !v.IsSet("sync.enabled") || v.GetBool("sync.enabled"),
			Workers:               v.GetInt("sync.workers"),
			QueueSize:             v.GetInt("sync.queue_size"),
			HistorySize:           v.GetInt("sync.history_size"),
			IncrementalInterval:   v.GetDuration("sync.incremental_interval"),
			IntegrityInterval:     v.GetDuration("sync.integrity_interval"),
			IntegrityLookback:     v.GetDuration("sync.integrity_lookback"),
			BackfillWindow:        v.GetDuration("sync.backfill_window"),
			InitialLookback:       v.GetDuration("sync.initial_lookback"),
			ErrorThreshold:        v.GetInt("sync.error_threshold"),
			RunLeaseTTL:           v.GetDuration("sync.run_lease_ttl"),
			JobTimeout:            v.GetDuration("sync.job_timeout"),
			MaxRateLimitWaits:     v.GetInt("sync.max_rate_limit_waits"),
			MaxUnavailableRetries: v.GetInt("sync.max_unavailable_retries"),
			InitialBackoff:        v.GetDuration("sync.initial_backoff"),
			MaxBackoff:            v.GetDuration("sync.max_backoff"),
			ShutdownTimeout:       v.GetDuration("sync.shutdown_timeout"),
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:       v.GetInt64("webhook.max_body_bytes"),
			ReconcileBudget:    v.GetDuration("webhook.reconcile_budget"),
			IdempotencyTTL:     v.GetDuration("webhook.idempotency_ttl"),
			IdempotencyBackend: v.GetString("webhook.idempotency_backend"),
			AsyncWorkers:       v.GetInt("webhook.async_workers"),
			AsyncQueueSize:     v.GetInt("webhook.async_queue_size"),
		},
		StatusMapping: StatusMappingConfig{
			Collapse:  v.GetStringMapString("status_mapping.collapse"),
			Fulfilled: v.GetStringSlice("status_mapping.fulfilled"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	if err := v.UnmarshalKey("providers", &cfg.Providers); err != nil {
		return nil, fmt.Errorf("invalid providers section: %w", err)
	}
	if err := v.UnmarshalKey("status_mapping.overrides", &cfg.StatusMapping.Overrides); err != nil {
		return nil, fmt.Errorf("invalid status_mapping.overrides section: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "wmsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "wmsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "wmsync"
	}

	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 256
	}
	if cfg.Sync.HistorySize == 0 {
		cfg.Sync.HistorySize = 200
	}
	if cfg.Sync.IncrementalInterval == 0 {
		cfg.Sync.IncrementalInterval = 5 * time.Minute
	}
	if cfg.Sync.IntegrityInterval == 0 {
		cfg.Sync.IntegrityInterval = 6 * time.Hour
	}
	if cfg.Sync.IntegrityLookback == 0 {
		cfg.Sync.IntegrityLookback = 72 * time.Hour
	}
	if cfg.Sync.BackfillWindow == 0 {
		cfg.Sync.BackfillWindow = 90 * 24 * time.Hour
	}
	if cfg.Sync.InitialLookback == 0 {
		cfg.Sync.InitialLookback = 30 * 24 * time.Hour
	}
	if cfg.Sync.ErrorThreshold == 0 {
		cfg.Sync.ErrorThreshold = 5
	}
	if cfg.Sync.RunLeaseTTL == 0 {
		cfg.Sync.RunLeaseTTL = time.Hour
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 30 * time.Minute
	}
	if cfg.Sync.MaxRateLimitWaits == 0 {
		cfg.Sync.MaxRateLimitWaits = 20
	}
	if cfg.Sync.MaxUnavailableRetries == 0 {
		cfg.Sync.MaxUnavailableRetries = 5
	}
	if cfg.Sync.InitialBackoff == 0 {
		cfg.Sync.InitialBackoff = time.Second
	}
	if cfg.Sync.MaxBackoff == 0 {
		cfg.Sync.MaxBackoff = 2 * time.Minute
	}
	if cfg.Sync.ShutdownTimeout == 0 {
		cfg.Sync.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20
	}
	if cfg.Webhook.ReconcileBudget == 0 {
		cfg.Webhook.ReconcileBudget = 3 * time.Second
	}
	if cfg.Webhook.IdempotencyTTL == 0 {
		cfg.Webhook.IdempotencyTTL = 72 * time.Hour
	}
	if cfg.Webhook.IdempotencyBackend == "" {
		cfg.Webhook.IdempotencyBackend = "redis"
	}
	if cfg.Webhook.AsyncWorkers == 0 {
		cfg.Webhook.AsyncWorkers = 2
	}
	if cfg.Webhook.AsyncQueueSize == 0 {
		cfg.Webhook.AsyncQueueSize = 1024
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for _, id := range []string{"shiphero", "extensiv"} {
		if _, ok := cfg.Providers[id]; !ok {
			cfg.Providers[id] = ProviderConfig{}
		}
	}
	for id, p := range cfg.Providers {
		if p.BaseURL == "" {
			p.BaseURL = defaultProviderURLs[id]
		}
		if p.Timeout == 0 {
			p.Timeout = 30 * time.Second
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.PageSize == 0 {
			p.PageSize = 100
		}
		if p.MaxResponseBytes == 0 {
			p.MaxResponseBytes = 10 << 20
		}
		cfg.Providers[id] = p
	}

	if len(cfg.StatusMapping.Fulfilled) == 0 {
		cfg.StatusMapping.Fulfilled = []string{"shipped", "delivered"}
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "wmsync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

var defaultProviderURLs = map[string]string{
	"shiphero": "https://public-api.shiphero.com/graphql",
	"extensiv": "https://api.extensiv.com/v1",
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.ErrorThreshold < 1 {
		return fmt.Errorf("sync.error_threshold must be at least 1")
	}
	if c.Sync.InitialBackoff > c.Sync.MaxBackoff {
		return fmt.Errorf("sync.initial_backoff (%s) cannot exceed sync.max_backoff (%s)",
			c.Sync.InitialBackoff, c.Sync.MaxBackoff)
	}
	if c.Sync.RunLeaseTTL < c.Sync.JobTimeout {
		return fmt.Errorf("sync.run_lease_ttl (%s) must be at least sync.job_timeout (%s)",
			c.Sync.RunLeaseTTL, c.Sync.JobTimeout)
	}

	switch c.Webhook.IdempotencyBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("webhook.idempotency_backend must be redis or memory, got %q", c.Webhook.IdempotencyBackend)
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook.max_body_bytes must be positive")
	}

	for id, p := range c.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", id)
		}
		if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
			return fmt.Errorf("providers.%s.base_url is invalid: %w", id, err)
		}
		if p.PageSize < 1 {
			return fmt.Errorf("providers.%s.page_size must be positive", id)
		}
	}

	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Webhook.IdempotencyBackend == "memory" {
			return fmt.Errorf("webhook.idempotency_backend cannot be memory in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
