package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_dispatch_enqueue_total", Help: "Dispatch trigger enqueue results"},
		[]string{"result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_dispatch_total", Help: "Dispatch outcomes by resulting job status"},
		[]string{"result"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_provider_calls_total", Help: "Provider call outcomes"},
		[]string{"op", "result"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "fax_provider_call_latency_seconds", Help: "Provider call latency"},
		[]string{"op"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_webhook_events_total", Help: "Webhook ingest outcomes"},
		[]string{"outcome"},
	)
	UnrecognizedStatuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_provider_status_unrecognized_total", Help: "Provider statuses outside every lexicon bucket"},
		[]string{"source"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_rate_limited_total", Help: "Requests denied by the rate limiter"},
		[]string{"scope"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fax_notifications_total", Help: "Notification send results"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, Dispatches, ProviderCalls, ProviderLatency,
		WebhookEvents, UnrecognizedStatuses, RateLimited, Notifications)
}
