package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/costlens/costlens"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	LoginsTotal          metric.Int64Counter
	RefreshesTotal       metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter

	// Stream metrics
	ActiveStreams       metric.Int64UpDownCounter
	EventsReceivedTotal metric.Int64Counter
	EventsDroppedTotal  metric.Int64Counter
	PingsAnsweredTotal  metric.Int64Counter
	ParseFailuresTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session metrics
	m.LoginsTotal, _ = meter.Int64Counter(
		"costlens.session.logins.total",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)

	m.RefreshesTotal, _ = meter.Int64Counter(
		"costlens.session.refreshes.total",
		metric.WithDescription("Total number of successful token refreshes"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"costlens.session.refresh.failures.total",
		metric.WithDescription("Total number of token refresh failures forcing logout"),
		metric.WithUnit("{failure}"),
	)

	// Stream metrics
	m.ActiveStreams, _ = meter.Int64UpDownCounter(
		"costlens.streams.active",
		metric.WithDescription("Number of open event stream connections"),
		metric.WithUnit("{stream}"),
	)

	m.EventsReceivedTotal, _ = meter.Int64Counter(
		"costlens.streams.events.received.total",
		metric.WithDescription("Total number of events received over the stream"),
		metric.WithUnit("{event}"),
	)

	m.EventsDroppedTotal, _ = meter.Int64Counter(
		"costlens.streams.events.dropped.total",
		metric.WithDescription("Total number of events evicted from the bounded event list"),
		metric.WithUnit("{event}"),
	)

	m.PingsAnsweredTotal, _ = meter.Int64Counter(
		"costlens.streams.pings.answered.total",
		metric.WithDescription("Total number of heartbeat frames answered"),
		metric.WithUnit("{ping}"),
	)

	m.ParseFailuresTotal, _ = meter.Int64Counter(
		"costlens.streams.parse.failures.total",
		metric.WithDescription("Total number of frames that failed JSON parsing"),
		metric.WithUnit("{frame}"),
	)

	return m
}
