// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/nkoval/studio-booking/internal/config"
	"github.com/nkoval/studio-booking/internal/handler"
	"github.com/nkoval/studio-booking/internal/middleware"
	"github.com/nkoval/studio-booking/internal/model"
)

// RegisterInstructor registers INSTRUCTOR-scoped endpoints under /v1.
// All routes require a valid JWT with the INSTRUCTOR role.
func RegisterInstructor(e *echo.Echo, h *handler.InstructorHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleInstructor),
	)

	// ---- Schedule ----
	g.POST("/slots/generate", h.GenerateSlots)
	g.GET("/slots", h.ListSlots)
	g.POST("/slots/:id/release", h.ReleaseSlot)

	// ---- Sessions ----
	g.POST("/sessions", h.CreateSession)
	g.POST("/sessions/:id/cancel", h.CancelSession)
	g.GET("/sessions/:id/roster", h.Roster)

	// ---- Packages ----
	g.POST("/packages", h.CreatePackage)
	g.GET("/packages", h.ListPackages)
	g.DELETE("/packages/:id", h.DeactivatePackage)
}

// RegisterPublic registers guest-or-account endpoints.  A bearer token
// is optional: when present the account is attached to the operation.
// The write endpoints sit behind the Redis token bucket.
func RegisterPublic(e *echo.Echo, h *handler.PublicHandler, jwtSecret string,
	rl config.RateLimitConfig, rdb *redis.Client) {
	limited := middleware.NewTokenBucket(rl, rdb)
	g := e.Group("/v1", middleware.OptionalJWT(jwtSecret))

	g.GET("/sessions", h.ListOpenSessions)
	g.POST("/bookings", h.Reserve, limited)
	g.POST("/bookings/:id/cancel", h.CancelBooking, limited)
	g.GET("/bookings", h.MyBookings)
	g.POST("/purchases", h.Purchase, limited)
	g.GET("/instructors/:id/balance", h.Balance)
	g.POST("/subscribers", h.Subscribe, limited)
	g.DELETE("/subscribers", h.Unsubscribe)
}

// RegisterAuth registers the account endpoints.
func RegisterAuth(e *echo.Echo, h *handler.AuthHandler) {
	g := e.Group("/v1/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
}

// RegisterWebhooks registers the payment processor callback.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payment", h.HandlePaymentEvent)
}
