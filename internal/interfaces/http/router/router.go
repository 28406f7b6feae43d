package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/wmsync/backend/internal/infrastructure/auth"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/interfaces/http/handler"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects routes sharing a prefix and middleware
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "GET", path: path, handlers: handlers})
	return dg
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: "POST", path: path, handlers: handlers})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Config wires the handlers and cross-cutting middleware of the engine
type Config struct {
	Logger   *zap.Logger
	Verifier middleware.TokenVerifier
	Sync     *handler.SyncHandler
	Webhooks *handler.WebhookHandler
	Health   *handler.HealthHandler

	CORS           middleware.CORSConfig
	Tracing        middleware.TracingConfig
	Meter          metric.Meter
	TrustedProxies []string
}

// NewEngine builds the gin engine serving the sync API, the webhook
// receiver and the probes.
//
//	/health, /ready                                 no auth
//	/api/v1/webhooks/:provider                      signature auth, 1 MiB cap
//	/api/v1/sync/tenants/:tenant_id/...             service JWT bound to the tenant
func NewEngine(cfg Config) (*gin.Engine, error) {
	if cfg.Verifier == nil || cfg.Sync == nil || cfg.Webhooks == nil || cfg.Health == nil {
		return nil, fmt.Errorf("router: verifier and handlers are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("router: trusted proxies: %w", err)
	}

	httpMetrics, err := middleware.HTTPMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("router: http metrics: %w", err)
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.TracingWithConfig(cfg.Tracing),
		logger.GinMiddleware(log),
		httpMetrics,
		middleware.Secure(),
		middleware.CORSWithConfig(cfg.CORS),
		middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			Verifier:         cfg.Verifier,
			SkipPaths:        []string{"/health", "/ready"},
			SkipPathPrefixes: []string{"/api/v1/webhooks/"},
			Logger:           log,
		}),
	)

	engine.GET("/health", cfg.Health.Live)
	engine.GET("/ready", cfg.Health.Ready)

	webhooks := NewDomainGroup("webhooks", "/webhooks").
		POST("/:provider", middleware.BodyLimit(handler.MaxWebhookBodyBytes), cfg.Webhooks.Receive)

	sync := NewDomainGroup("sync", "/sync/tenants/:tenant_id").Use(middleware.TenantScope())
	sync.GET("/status", middleware.RequireScope(auth.ScopeSyncRead), cfg.Sync.GetStatus).
		GET("/failures", middleware.RequireScope(auth.ScopeSyncRead), cfg.Sync.ListFailures).
		POST("/resources/:resource/trigger", middleware.RequireScope(auth.ScopeSyncWrite), cfg.Sync.TriggerSync).
		POST("/resources/:resource/backfill", middleware.RequireScope(auth.ScopeSyncWrite), cfg.Sync.TriggerBackfill)
	sync.Group("orders", "/orders/:external_id").
		GET("", middleware.RequireScope(auth.ScopeSyncRead), cfg.Sync.GetOrder).
		POST("/shipping-address", middleware.RequireScope(auth.ScopeSyncWrite), middleware.BodyLimit(64<<10), cfg.Sync.UpdateShippingAddress)

	NewRouter(engine).Register(webhooks).Register(sync).Setup()
	return engine, nil
}
