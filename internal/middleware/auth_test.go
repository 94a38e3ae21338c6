package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/congo-pay/otpay/internal/auth"
	"github.com/congo-pay/otpay/internal/ledger"
)

func TestJWTAuthSetsAccountID(t *testing.T) {
	tokens := auth.NewService(nil, "test-secret", "otpay", time.Hour)
	token, _, err := tokens.Issue(ledger.Account{ID: "acc-1", Name: "Andres"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	app := fiber.New()
	app.Get("/me", JWTAuth(tokens), func(c *fiber.Ctx) error {
		return c.SendString(AccountID(c))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK || string(body) != "acc-1" {
		t.Fatalf("expected 200 acc-1, got %d %s", resp.StatusCode, body)
	}
}

func TestJWTAuthRejectsMissingOrBadToken(t *testing.T) {
	tokens := auth.NewService(nil, "test-secret", "otpay", time.Hour)
	app := fiber.New()
	app.Get("/me", JWTAuth(tokens), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, header := range []string{"", "Bearer not-a-token", "Basic abc"} {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.StatusCode)
		}
	}
}

func TestTracingRecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	app := fiber.New()
	app.Use(RequestID())
	app.Use(Tracing(tp))
	app.Get("/transactions", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/transactions", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /transactions" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
}
