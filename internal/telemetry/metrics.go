package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/protomake/pulse"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Notification fabric metrics
	EventsPublishedTotal metric.Int64Counter
	EventsDroppedTotal   metric.Int64Counter
	ActiveListeners      metric.Int64UpDownCounter

	// Webhook ingress metrics
	WebhookAcceptedTotal   metric.Int64Counter
	WebhookRejectedTotal   metric.Int64Counter
	VisibilityRetriesTotal metric.Int64Counter

	// Job metrics
	JobsCreatedTotal   metric.Int64Counter
	JobsCompletedTotal metric.Int64Counter
	JobsFailedTotal    metric.Int64Counter
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

	m.EventsPublishedTotal, _ = meter.Int64Counter(
		"pulse.events.published.total",
		metric.WithDescription("Total number of events delivered to listeners"),
		metric.WithUnit("{event}"),
	)

	m.EventsDroppedTotal, _ = meter.Int64Counter(
		"pulse.events.dropped.total",
		metric.WithDescription("Total number of events dropped for lack of listeners or failed visibility checks"),
		metric.WithUnit("{event}"),
	)

	m.ActiveListeners, _ = meter.Int64UpDownCounter(
		"pulse.listeners.active",
		metric.WithDescription("Number of listeners currently attached to the registry"),
		metric.WithUnit("{listener}"),
	)

	m.WebhookAcceptedTotal, _ = meter.Int64Counter(
		"pulse.webhook.accepted.total",
		metric.WithDescription("Total number of authenticated completion callbacks"),
		metric.WithUnit("{callback}"),
	)

	m.WebhookRejectedTotal, _ = meter.Int64Counter(
		"pulse.webhook.rejected.total",
		metric.WithDescription("Total number of completion callbacks rejected for bad credentials"),
		metric.WithUnit("{callback}"),
	)

	m.VisibilityRetriesTotal, _ = meter.Int64Counter(
		"pulse.webhook.visibility_retries.total",
		metric.WithDescription("Total number of visibility check retries before publish or drop"),
		metric.WithUnit("{retry}"),
	)

	m.JobsCreatedTotal, _ = meter.Int64Counter(
		"pulse.jobs.created.total",
		metric.WithDescription("Total number of jobs created"),
		metric.WithUnit("{job}"),
	)

	m.JobsCompletedTotal, _ = meter.Int64Counter(
		"pulse.jobs.completed.total",
		metric.WithDescription("Total number of jobs completed"),
		metric.WithUnit("{job}"),
	)

	m.JobsFailedTotal, _ = meter.Int64Counter(
		"pulse.jobs.failed.total",
		metric.WithDescription("Total number of jobs failed"),
		metric.WithUnit("{job}"),
	)

	return m
}
