package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/field-ticket-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration. Metrics may be nil.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StateMachines  *handlers.StateMachineHandler
	Metrics        http.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", metricsHandler(cfg.Metrics))
	}

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Put("/:id/states/:state", cfg.Tickets.UpdateState)
	tickets.Post("/:id/technicians", cfg.Tickets.AssignTechnician)
	tickets.Delete("/:id/technicians", cfg.Tickets.UnassignTechnician)
	tickets.Delete("/:id/technicians/:technicianId", cfg.Tickets.UnassignTechnician)
	tickets.Post("/:id/dispatchers", cfg.Tickets.AssignDispatcher)
	tickets.Delete("/:id/dispatchers", cfg.Tickets.UnassignDispatcher)
	tickets.Get("/:id/history", cfg.Tickets.History)

	admin := protected.Group("/state-machines", auth.RequireAdmin())
	admin.Delete("/:commerceId/cache", cfg.StateMachines.Invalidate)
}
