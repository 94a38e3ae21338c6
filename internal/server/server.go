package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/otpay/internal/auth"
	"github.com/congo-pay/otpay/internal/challenge"
	"github.com/congo-pay/otpay/internal/config"
	"github.com/congo-pay/otpay/internal/identity"
	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/notification"
	"github.com/congo-pay/otpay/internal/payments"
	"github.com/congo-pay/otpay/internal/routes"
	"github.com/congo-pay/otpay/internal/telemetry"
	"github.com/congo-pay/otpay/internal/throttle"
	"github.com/congo-pay/otpay/internal/transfer"
)

const devJWTSecret = "otpay-development-secret"

// Server wraps the Fiber application, shared dependencies and the background
// workers of the payment engine.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	logger  *slog.Logger
	hub     *notification.Hub
	sweeper *challenge.Sweeper
	relay   *notification.Relay

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New assembles the engine and delegates route wiring to routes.Setup. Without
// a database or cache the in-memory backends are used.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger, tel *telemetry.Providers) (*Server, error) {
	var (
		accounts   ledger.Store
		challenges challenge.Repository
		attempts   throttle.Log
		locker     challenge.Locker
	)
	if db != nil {
		accounts = ledger.NewPostgresStore(db, cfg.StoreTimeout)
		challenges = challenge.NewPostgresRepository(db)
		attempts = throttle.NewPostgresLog(db)
		locker = challenge.NewPostgresLocker(db)
	} else {
		logger.Warn("no database configured, using in-memory ledger")
		accounts = ledger.NewInMemory()
		challenges = challenge.NewMemoryRepository()
		attempts = throttle.NewMemoryLog()
		locker = challenge.NewMemoryLocker()
	}

	metrics, err := telemetry.NewMetrics(tel.MeterProvider.Meter("github.com/congo-pay/otpay"))
	if err != nil {
		return nil, err
	}

	th := throttle.New(attempts, throttle.Policy{
		MaxAttempts: cfg.OTPMaxAttempts,
		Window:      cfg.OTPAttemptWindow,
		Lockout:     cfg.OTPLockout,
	}, nil)
	executor := transfer.NewExecutor(accounts, logger)
	manager := challenge.NewManager(challenges, accounts, th, executor, logger, challenge.Options{
		CodeLength: cfg.OTPCodeLength,
		TTL:        cfg.OTPTTL,
		Locker:     locker,
	})

	hub := notification.NewHub(notification.DefaultBuffer, logger)
	var (
		notifier notification.Notifier
		relay    *notification.Relay
	)
	if cache != nil {
		// events cross instances through Redis and reach streams via the relay
		notifier = notification.NewLoggingNotifier(notification.NewRedisBroker(cache), logger)
		relay = notification.NewRelay(cache, hub, logger)
	} else {
		notifier = notification.NewLoggingNotifier(hub, logger)
	}

	paymentSvc := payments.NewService(payments.Deps{
		Accounts:   accounts,
		Challenges: manager,
		Throttle:   th,
		Hub:        hub,
		Notifier:   notifier,
		Metrics:    metrics,
		Logger:     logger,
	})

	secret := cfg.JWTSecret
	if secret == "" {
		logger.Warn("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	authSvc := auth.NewService(accounts, secret, cfg.AppName, cfg.AccessTokenTTL)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		ErrorHandler: routes.ErrorHandler,
	})

	if err := routes.Setup(app, routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Tracer:   tel.TracerProvider,
		Auth:     authSvc,
		Identity: identity.NewService(accounts, cfg.BcryptCost),
		Payments: paymentSvc,
	}); err != nil {
		return nil, err
	}

	return &Server{
		app:     app,
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
		sweeper: challenge.NewSweeper(challenges, cfg.SweepInterval, logger, nil),
		relay:   relay,
	}, nil
}

// Start launches the expired-challenge sweeper, the stream heartbeat and, with
// Redis, the event relay. They stop on Shutdown.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group = new(errgroup.Group)

	s.group.Go(func() error {
		s.sweeper.Run(ctx)
		return nil
	})
	s.group.Go(func() error {
		s.hub.RunHeartbeat(ctx, s.cfg.HeartbeatInterval)
		return nil
	})
	if s.relay != nil {
		s.group.Go(func() error {
			err := s.relay.Run(ctx, nil)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("event relay stopped", slog.Any("err", err))
				return err
			}
			return nil
		})
	}
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the workers, ends open event streams and gracefully stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var workerErr error
	if s.cancel != nil {
		s.cancel()
		workerErr = s.group.Wait()
	}
	s.hub.Close()
	return errors.Join(workerErr, s.app.ShutdownWithContext(ctx))
}
