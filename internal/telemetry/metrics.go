package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Verification outcomes recorded on the verifications counter.
const (
	OutcomeSuccess  = "success"
	OutcomeMismatch = "mismatch"
	OutcomeExpired  = "expired"
	OutcomeLocked   = "locked"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics are the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	challengesIssued metric.Int64Counter
	verifications    metric.Int64Counter
	transfers        metric.Int64Counter
	transferAmount   metric.Float64Histogram
	lockouts         metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.challengesIssued, err = meter.Int64Counter("otpay.challenges.issued",
		metric.WithDescription("OTP challenges issued")); err != nil {
		return nil, err
	}
	if m.verifications, err = meter.Int64Counter("otpay.challenges.verifications",
		metric.WithDescription("Code submissions by outcome")); err != nil {
		return nil, err
	}
	if m.transfers, err = meter.Int64Counter("otpay.transfers.completed",
		metric.WithDescription("Committed transfers")); err != nil {
		return nil, err
	}
	if m.transferAmount, err = meter.Float64Histogram("otpay.transfers.amount",
		metric.WithDescription("Committed transfer amounts")); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("otpay.throttle.lockouts",
		metric.WithDescription("Lockouts triggered by failed codes")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) ChallengeIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.challengesIssued.Add(ctx, 1)
}

func (m *Metrics) Verification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) TransferCompleted(ctx context.Context, amount float64) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1)
	m.transferAmount.Record(ctx, amount)
}

func (m *Metrics) Lockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockouts.Add(ctx, 1)
}
