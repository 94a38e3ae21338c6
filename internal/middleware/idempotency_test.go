package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/otpay/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int64, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	calls := &atomic.Int64{}

	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-Test-Account"); id != "" {
			c.Locals(accountIDLocal, id)
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"n": n})
	})
	app.Post("/rejected", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusLocked).JSON(fiber.Map{"error": "locked"})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, key, account string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if account != "" {
		req.Header.Set("X-Test-Account", account)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	post(t, app, "/resource", "", "")
	post(t, app, "/resource", "", "")
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, first := post(t, app, "/resource", "abc123", "acc-1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, second := post(t, app, "/resource", "abc123", "acc-1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if second != first {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single handler call, got %d", calls.Load())
	}
}

func TestIdempotencyDoesNotCacheErrors(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, "/rejected", "retry-me", "acc-1"); status != fiber.StatusLocked {
			t.Fatalf("expected %d got %d", fiber.StatusLocked, status)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("error responses must not be replayed, handler ran %d times", calls.Load())
	}
}

func TestIdempotencyKeysAreScopedPerAccount(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	_, a := post(t, app, "/resource", "shared", "acc-1")
	_, b := post(t, app, "/resource", "shared", "acc-2")
	if a == b {
		t.Fatalf("different accounts received the same replay %s", a)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls.Load())
	}
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	key := strings.Repeat("k", maxIdempotencyKeyLen+1)
	if status, _ := post(t, app, "/resource", key, "acc-1"); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}
