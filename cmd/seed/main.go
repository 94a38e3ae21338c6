// seed provisions the two demo account holders. Accounts that already exist
// are left untouched, so it is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/otpay/internal/config"
	"github.com/congo-pay/otpay/internal/identity"
	"github.com/congo-pay/otpay/internal/infra"
	"github.com/congo-pay/otpay/internal/ledger"
	"github.com/congo-pay/otpay/internal/logging"
)

const demoPassword = "password123"

var demoAccounts = []identity.ProvisionInput{
	{Name: "Andres Lacra", Email: "andres.lacra@example.com", Phone: "+51 900 000 001"},
	{Name: "Maria Cruz", Email: "maria.cruz@example.com", Phone: "+51 900 000 002"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, "otpay-seed")
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, "otpay-seed")
	if err != nil {
		logger.Error("connect postgres", slog.Any("err", err))
		os.Exit(1)
	}
	defer pool.Close()

	people := identity.NewService(ledger.NewPostgresStore(pool, cfg.StoreTimeout), cfg.BcryptCost)
	for _, in := range demoAccounts {
		in.Password = demoPassword
		in.OpeningBalance = decimal.NewFromInt(10_000)

		account, err := people.Provision(ctx, in)
		switch {
		case errors.Is(err, ledger.ErrAccountExists):
			logger.Info("account already seeded", slog.String("address", in.Email))
		case err != nil:
			logger.Error("seed account", slog.String("address", in.Email), slog.Any("err", err))
			os.Exit(1)
		default:
			logger.Info("account seeded", slog.String("account_id", account.ID), slog.String("address", account.Address))
		}
	}
}
