package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	MessagesSent    *prometheus.CounterVec
	QuotaRejections prometheus.Counter
	AIRequests      *prometheus.CounterVec
	AILatency       *prometheus.HistogramVec
	JobsProcessed   *prometheus.CounterVec
	AwaitTimeouts   prometheus.Counter
	WebhookEvents   *prometheus.CounterVec
	Errors          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total chat messages accepted, by completion outcome.",
			}, []string{"outcome"}),
			QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Total messages rejected by the daily quota.",
			}),
			AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_requests_total",
				Help:      "Total AI provider requests by outcome.",
			}, []string{"provider", "status"}),
			AILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_request_duration_seconds",
				Help:      "Latency distribution for AI provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "status"}),
			JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_jobs_processed_total",
				Help:      "Total queue jobs consumed by workers, by result.",
			}, []string{"result"}),
			AwaitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_await_timeouts_total",
				Help:      "Total synchronous waits that expired before a worker result arrived.",
			}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stripe_webhook_events_total",
				Help:      "Total Stripe webhook events received by type.",
			}, []string{"type"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.MessagesSent,
			metricsInstance.QuotaRejections,
			metricsInstance.AIRequests,
			metricsInstance.AILatency,
			metricsInstance.JobsProcessed,
			metricsInstance.AwaitTimeouts,
			metricsInstance.WebhookEvents,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
