package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "  ", "otpay-test", nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if providers.TracerProvider == nil || providers.MeterProvider == nil {
		t.Fatal("providers should not be nil")
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown should be a no-op, got %v", err)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "otpay-test", nil); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetrics_RecordsCounters(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("otpay-test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.ChallengeIssued(ctx)
	m.ChallengeIssued(ctx)
	m.Verification(ctx, OutcomeMismatch)
	m.Verification(ctx, OutcomeSuccess)
	m.TransferCompleted(ctx, 500)
	m.Lockout(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := sumOf(t, rm, "otpay.challenges.issued"); got != 2 {
		t.Fatalf("expected 2 issued challenges, got %d", got)
	}
	if got := sumOf(t, rm, "otpay.challenges.verifications"); got != 2 {
		t.Fatalf("expected 2 verifications, got %d", got)
	}
	if got := sumOf(t, rm, "otpay.transfers.completed"); got != 1 {
		t.Fatalf("expected 1 transfer, got %d", got)
	}
	if got := sumOf(t, rm, "otpay.throttle.lockouts"); got != 1 {
		t.Fatalf("expected 1 lockout, got %d", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ChallengeIssued(context.Background())
	m.Lockout(context.Background())
}
