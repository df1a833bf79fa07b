package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/condo-access/internal/api/http/handlers"
	"github.com/spec-kit/condo-access/internal/auth"
	"github.com/spec-kit/condo-access/internal/domain"
	"github.com/spec-kit/condo-access/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	AccessTokens   *handlers.AccessTokensHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
	// ValidateRatePerSecond caps validations per tenant; zero disables the cap.
	ValidateRatePerSecond int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	tokens := app.Group("/access-tokens", cfg.AuthMiddleware.Handle)
	tokens.Post("", auth.RequireRole(domain.RoleAdmin, domain.RoleResident), cfg.AccessTokens.Issue)
	tokens.Post("/validate", auth.RequireRole(domain.RoleAdmin, domain.RoleReception),
		TenantRateLimit(cfg.ValidateRatePerSecond), cfg.AccessTokens.Validate)
	tokens.Get("", auth.RequireRole(domain.RoleAdmin, domain.RoleReception), cfg.AccessTokens.List)
	tokens.Get("/:id", auth.RequireAnyRole(), cfg.AccessTokens.Get)
	tokens.Get("/:id/risk", auth.RequireRole(domain.RoleAdmin, domain.RoleReception), cfg.AccessTokens.Risk)
}

// NewApp builds a fiber app with the service's middlewares and routes.
func NewApp(appName string, mw MiddlewareConfig, routes RouteConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      appName,
		ErrorHandler: ErrorHandler(mw.Logger),
	})
	RegisterMiddlewares(app, mw.Logger, routes.Metrics, mw.Timeout)
	RegisterRoutes(app, routes)
	return app
}
