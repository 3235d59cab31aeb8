package token

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	meterName = "github.com/twisp/oidctoken/token"

	statusSuccess = "success"
	statusError   = "error"
)

// refreshMetrics counts fetch attempts and their latency.
type refreshMetrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newRefreshMetrics(mp metric.MeterProvider) (*refreshMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	attempts, err := meter.Int64Counter(
		"oidctoken_refresh_total",
		metric.WithDescription("Total number of token fetch attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"oidctoken_refresh_duration_seconds",
		metric.WithDescription("Duration of token fetch attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &refreshMetrics{
		attempts: attempts,
		duration: duration,
	}, nil
}

func (m *refreshMetrics) record(ctx context.Context, status string, d time.Duration) {
	// Attempts cut short by Stop are still counted.
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
