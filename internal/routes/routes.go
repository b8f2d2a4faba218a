package routes

import (
	"github.com/BradenHooton/autobot/internal/auth"
	"github.com/BradenHooton/autobot/internal/handlers"
	"github.com/BradenHooton/autobot/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	statusHandler *handlers.StatusHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultStatusRateLimit()))
		r.Get("/health", statusHandler.Health)
		r.Get("/status", statusHandler.Status)
	})

	// Operator routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultAdminRateLimit()))
		r.Use(auth.OperatorMiddleware(tokenManager))
		r.Post("/stop", adminHandler.Stop)
		r.Get("/authcode", adminHandler.AuthCode)
		r.Post("/weblogin", adminHandler.WebLogin)
	})
}
