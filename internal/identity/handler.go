package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/otpay/internal/ledger"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type registerResponse struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Balance   string `json:"balance"`
}

// Register onboards an account holder with a zero balance.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	account, err := h.service.Provision(c.UserContext(), ProvisionInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	switch {
	case errors.Is(err, ledger.ErrAccountExists):
		return fiber.NewError(http.StatusConflict, "an account with this email already exists")
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ErrWeakPassword):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, "registration failed")
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{
		AccountID: account.ID,
		Name:      account.Name,
		Address:   account.Address,
		Balance:   account.Balance.StringFixed(ledger.AmountScale),
	})
}
