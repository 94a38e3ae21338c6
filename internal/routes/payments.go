package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/otpay/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. idempotency may be nil and
// only guards code submission: transfer requests answer with the plaintext
// code, which must never be stored.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotency fiber.Handler) {
	r.Get("/me", h.Me)
	r.Get("/accounts", h.Recipients)
	r.Get("/transactions", h.History)
	r.Get("/events", h.Events)

	transfers := r.Group("/transfers")
	transfers.Post("/", h.RequestTransfer)
	transfers.Get("/otp-status", h.OTPStatus)
	if idempotency != nil {
		transfers.Post("/:challengeId/verify", idempotency, h.Verify)
	} else {
		transfers.Post("/:challengeId/verify", h.Verify)
	}
}
