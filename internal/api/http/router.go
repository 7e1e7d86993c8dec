package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/delivery-auth/internal/api/http/handlers"
	"github.com/spec-kit/delivery-auth/internal/auth"
	"github.com/spec-kit/delivery-auth/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Gate    *auth.Gate
	Limiter *RateLimiter
	Metrics *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Limiter.Handle, cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/force-logout", cfg.Limiter.Handle, cfg.Auth.ForceLogout)

	// Only routes that need a principal run the gate; /refresh carries a refresh token
	// in Authorization.
	authGroup.Post("/logout", cfg.Gate.Handle, auth.RequireAuthenticated(), cfg.Auth.Logout)
	authGroup.Get("/me", cfg.Gate.Handle, auth.RequireAuthenticated(), cfg.Auth.Me)
}
