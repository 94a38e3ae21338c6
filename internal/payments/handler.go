package payments

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/congo-pay/otpay/internal/challenge"
	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/middleware"
	"github.com/congo-pay/otpay/internal/notification"
	"github.com/congo-pay/otpay/internal/throttle"
	"github.com/congo-pay/otpay/internal/transfer"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type transferRequest struct {
	ReceiverAddress string `json:"receiver_address"`
	Amount          string `json:"amount"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

// RequestTransfer issues a code for a transfer to the given address.
func (h *Handler) RequestTransfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.service.RequestTransfer(c.UserContext(), RequestInput{
		PayerID:         middleware.AccountID(c),
		ReceiverAddress: req.ReceiverAddress,
		Amount:          amount,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"challenge_id":       res.ChallengeID,
		"code":               res.Code,
		"amount":             res.Amount.StringFixed(ledger.AmountScale),
		"expires_at":         res.ExpiresAt,
		"expires_in_minutes": res.ExpiresInMinutes,
		"receiver": fiber.Map{
			"name":    res.Receiver.Name,
			"address": res.Receiver.Address,
		},
	})
}

// Verify submits a code for a pending challenge.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.SubmitCode(c.UserContext(), SubmitInput{
		ChallengeID: c.Params("challengeId"),
		Code:        req.Code,
		CallerID:    middleware.AccountID(c),
		Origin:      c.IP(),
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"receiver_name":  res.ReceiverName,
		"amount":         res.Amount.StringFixed(ledger.AmountScale),
		"new_balance":    res.NewBalance.StringFixed(ledger.AmountScale),
		"completed_at":   res.CompletedAt,
	})
}

// OTPStatus reports lockout state for the caller.
func (h *Handler) OTPStatus(c *fiber.Ctx) error {
	status, err := h.service.OTPStatus(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	body := fiber.Map{
		"locked":          status.Locked,
		"lockout_minutes": status.LockoutMinutes,
		"attempts_left":   status.AttemptsLeft,
		"active":          status.HasActiveChallenge,
		"policy": fiber.Map{
			"max_attempts":    status.MaxAttempts,
			"window_minutes":  status.WindowMinutes,
			"lockout_minutes": status.LockoutDurationMinutes,
		},
	}
	if status.HasActiveChallenge {
		body["active_expires_at"] = status.ActiveExpiresAt
	}
	return c.JSON(body)
}

// History lists recent transactions for the caller.
func (h *Handler) History(c *fiber.Ctx) error {
	entries, err := h.service.ListRecentTransactions(c.UserContext(), middleware.AccountID(c), c.QueryInt("limit", ledger.DefaultHistoryLimit))
	if err != nil {
		return h.fail(c, err)
	}
	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"transaction_id":       e.TransactionID,
			"amount":               e.Amount.StringFixed(ledger.AmountScale),
			"timestamp":            e.Timestamp,
			"counterparty_name":    e.CounterpartyName,
			"counterparty_address": e.CounterpartyAddress,
			"direction":            e.Direction,
		})
	}
	return c.JSON(fiber.Map{"transactions": items})
}

// Me returns the caller's profile and balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	account, err := h.service.Profile(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id": account.ID,
		"name":       account.Name,
		"address":    account.Address,
		"phone":      account.Phone,
		"balance":    account.Balance.StringFixed(ledger.AmountScale),
		"created_at": account.CreatedAt,
	})
}

// Recipients lists the accounts the caller can pay.
func (h *Handler) Recipients(c *fiber.Ctx) error {
	accounts, err := h.service.Recipients(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.fail(c, err)
	}
	items := make([]fiber.Map, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, fiber.Map{"account_id": a.ID, "name": a.Name, "address": a.Address})
	}
	return c.JSON(fiber.Map{"accounts": items})
}

// Events streams account notifications as server-sent events until the
// client goes away or a newer stream replaces this one.
func (h *Handler) Events(c *fiber.Ctx) error {
	id := middleware.AccountID(c)
	sub := h.service.Subscribe(id)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.service.Unsubscribe(sub)

		if err := writeEvent(w, notification.NewEvent(notification.KindConnected, map[string]any{"account_id": id})); err != nil {
			return
		}
		for {
			select {
			case <-sub.Done():
				return
			case ev := <-sub.Events():
				if err := writeEvent(w, ev); err != nil {
					h.logger.Debug("event stream closed", slog.String("account_id", id), slog.Any("err", err))
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev notification.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	return w.Flush()
}

// fail maps engine errors to distinct HTTP responses. Execution failures stay
// generic.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var (
		locked   *throttle.LockedError
		mismatch *challenge.MismatchError
	)
	switch {
	case errors.As(err, &locked):
		return c.Status(http.StatusLocked).JSON(fiber.Map{
			"error":           locked.Error(),
			"lockout_minutes": locked.Minutes(),
		})
	case errors.As(err, &mismatch):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":         mismatch.Error(),
			"attempts_left": mismatch.AttemptsLeft,
		})
	case errors.Is(err, challenge.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "transfer request not found")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, "you cannot send money to yourself")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, ledger.ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, challenge.ErrForbidden):
		return fiber.NewError(http.StatusForbidden, "this transfer request belongs to another account")
	case errors.Is(err, challenge.ErrAlreadyUsed):
		return fiber.NewError(http.StatusConflict, "this code has already been used")
	case errors.Is(err, challenge.ErrExpired):
		return fiber.NewError(http.StatusGone, "this code has expired, request a new one")
	case errors.Is(err, transfer.ErrExecutionFailed):
		return fiber.NewError(http.StatusServiceUnavailable, "payment could not be completed, please try again")
	default:
		h.logger.Error("payment request failed", slog.Any("err", err))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
