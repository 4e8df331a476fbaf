package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/codeqa/internal/query"

// Metrics holds query instruments.
type Metrics struct {
	latency metric.Float64Histogram
	retries metric.Int64Counter
	outcome metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}

	var err error
	m.latency, err = meter.Float64Histogram(
		"codeqa.query.duration_seconds",
		metric.WithDescription("End-to-end query latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	m.retries, err = meter.Int64Counter(
		"codeqa.query.retries_total",
		metric.WithDescription("Queries regenerated with a wider candidate set"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		logger.Warn("failed to create retries counter", zap.Error(err))
	}

	m.outcome, err = meter.Int64Counter(
		"codeqa.query.total",
		metric.WithDescription("Queries by outcome and answer mode"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Warn("failed to create queries counter", zap.Error(err))
	}
	return m
}

// RecordQuery records one finished query.
func (m *Metrics) RecordQuery(ctx context.Context, outcome, mode string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	)
	if m.latency != nil {
		m.latency.Record(ctx, d.Seconds(), attrs)
	}
	if m.outcome != nil {
		m.outcome.Add(ctx, 1, attrs)
	}
}

// RecordRetry records a regeneration.
func (m *Metrics) RecordRetry(ctx context.Context) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1)
}
