package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/otpay/internal/auth"
	"github.com/congo-pay/otpay/internal/identity"
)

// RegisterAuthRoutes wires registration and login endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, signup *identity.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", signup.Register)
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
}
