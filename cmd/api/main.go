package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/otpay/internal/config"
	"github.com/congo-pay/otpay/internal/infra"
	"github.com/congo-pay/otpay/internal/logging"
	"github.com/congo-pay/otpay/internal/server"
	"github.com/congo-pay/otpay/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, "otpay-api")
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tel, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.AppName, logger)
	if err != nil {
		logger.Error("init telemetry", slog.Any("err", err))
		os.Exit(1)
	}
	tel.SetGlobal()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, "otpay-api")
		if err != nil {
			logger.Error("connect postgres", slog.Any("err", err))
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, "otpay-api")
		if err != nil {
			logger.Error("connect redis", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("err", err))
			}
		}()
	}

	srv, err := server.New(cfg, db, cache, logger, tel)
	if err != nil {
		logger.Error("build server", slog.Any("err", err))
		os.Exit(1)
	}
	srv.Start(ctx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", slog.Any("err", err))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("err", err))
		exitCode = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", slog.Any("err", err))
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("server exited cleanly")
}
