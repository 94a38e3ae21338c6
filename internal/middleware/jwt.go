package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/otpay/internal/auth"
)

const accountIDLocal = "account_id"

// TokenParser validates access tokens.
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// account id for handlers.
func JWTAuth(tokens TokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.ParseToken(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(accountIDLocal, claims.Subject)
		return c.Next()
	}
}

// AccountID returns the authenticated account id, or "" on public routes.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(accountIDLocal).(string)
	return id
}
