package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "otpay:idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	maxIdempotencyKeyLen = 128
	replayStoreTimeout   = 2 * time.Second
)

var errReplayInProgress = errors.New("duplicate request currently processing")

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// replayStore keeps one reservation or finished response per key in Redis.
type replayStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// claim returns the stored response for key, or reserves key for the caller
// when nothing is stored yet.
func (s replayStore) claim(ctx context.Context, key string) (*storedResponse, error) {
	cached, err := s.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == inProgressMarker {
			return nil, errReplayInProgress
		}
		var stored storedResponse
		if err := json.Unmarshal([]byte(cached), &stored); err != nil {
			return nil, fmt.Errorf("decode stored response: %w", err)
		}
		return &stored, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("lookup: %w", err)
	}

	reserved, err := s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if !reserved {
		return nil, errReplayInProgress
	}
	return nil, nil
}

func (s replayStore) save(key string, resp storedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), replayStoreTimeout)
	defer cancel()
	return s.cache.Set(ctx, key, payload, s.ttl).Err()
}

func (s replayStore) forget(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayStoreTimeout)
	defer cancel()
	s.cache.Del(ctx, key)
}

// Idempotency replays the stored response when an unsafe request repeats its
// Idempotency-Key header. Keys are scoped to the authenticated account and
// requests without the header pass through. Only non-error responses are kept.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := replayStore{cache: cache, ttl: ttl}
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key is too long")
		}
		cacheKey := idempotencyPrefix + AccountID(c) + ":" + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(c.UserContext(), replayStoreTimeout)
		stored, err := store.claim(ctx, cacheKey)
		cancel()
		switch {
		case errors.Is(err, errReplayInProgress):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			logger.Error("idempotency store failure", slog.String("key", key), slog.Any("err", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		case stored != nil:
			for header, value := range stored.Headers {
				if !strings.EqualFold(header, fiber.HeaderContentLength) {
					c.Set(header, value)
				}
			}
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if err := c.Next(); err != nil {
			store.forget(cacheKey)
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusBadRequest {
			store.forget(cacheKey)
			return nil
		}

		resp := storedResponse{
			Status:  c.Response().StatusCode(),
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			resp.Headers[string(k)] = string(v)
		})
		if err := store.save(cacheKey, resp); err != nil {
			logger.Error("persist idempotent response", slog.String("key", key), slog.Any("err", err))
			store.forget(cacheKey)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}
