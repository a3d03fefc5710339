// Package metrics records poll loop and dispatch metrics through
// OpenTelemetry. A no-op recorder is used when metrics are disabled or the
// meter cannot be created.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jdelaire/vkbot"

// Recorder records bot metrics.
type Recorder interface {
	// RecordPoll records one long-poll round trip and its outcome
	// ("ok", "history_gap", "key_expired", "fully_lost", "error").
	RecordPoll(ctx context.Context, outcome string, duration time.Duration)

	// RecordRecovery records a session correction of the given kind.
	RecordRecovery(ctx context.Context, kind string)

	// RecordHandler records a finished handler invocation.
	RecordHandler(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordDropped records an event no route accepted.
	RecordDropped(ctx context.Context, eventType string)
}

type otelMetrics struct {
	polls          metric.Int64Counter
	pollLatency    metric.Float64Histogram
	recoveries     metric.Int64Counter
	handlerRuns    metric.Int64Counter
	handlerLatency metric.Float64Histogram
	handlerErrors  metric.Int64Counter
	dropped        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(meterName)

	polls, err := meter.Int64Counter("vkbot.poll.requests",
		metric.WithDescription("Number of long-poll requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	pollLatency, err := meter.Float64Histogram("vkbot.poll.latency_ms",
		metric.WithDescription("Long-poll round trip latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	recoveries, err := meter.Int64Counter("vkbot.session.recoveries",
		metric.WithDescription("Number of long-poll session corrections by kind"),
	)
	if err != nil {
		return nil, err
	}

	handlerRuns, err := meter.Int64Counter("vkbot.handler.executions",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("vkbot.handler.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("vkbot.handler.errors",
		metric.WithDescription("Number of handler invocations that failed or panicked"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("vkbot.events.dropped",
		metric.WithDescription("Number of events no route accepted"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		polls:          polls,
		pollLatency:    pollLatency,
		recoveries:     recoveries,
		handlerRuns:    handlerRuns,
		handlerLatency: handlerLatency,
		handlerErrors:  handlerErrors,
		dropped:        dropped,
	}, nil
}

// NewRecorder returns a Recorder backed by the global OTel meter provider.
// Install the provider (see Setup) before calling it.
// If the instruments cannot be created a no-op recorder is returned.
func NewRecorder() Recorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return Noop{}
	}
	return m
}

func (m *otelMetrics) RecordPoll(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.polls.Add(ctx, 1, attrs)
	m.pollLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordRecovery(ctx context.Context, kind string) {
	m.recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *otelMetrics) RecordHandler(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.handlerRuns.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordDropped(ctx context.Context, eventType string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
