package challenge

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval spaces runs of the expired challenge sweep.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper deletes unverified challenges past their expiry. It only touches
// rows that Verify would reject anyway.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper builds a sweeper. A nil clock uses the wall clock.
func NewSweeper(repo Repository, interval time.Duration, logger *slog.Logger, clock func() time.Time) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{repo: repo, interval: interval, logger: logger, now: clock}
}

// Sweep runs one pass and returns the number of deleted challenges.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("challenge sweep failed", slog.Any("err", err))
				}
				continue
			}
			if n > 0 {
				s.logger.Info("expired challenges swept", slog.Int64("deleted", n))
			}
		}
	}
}
