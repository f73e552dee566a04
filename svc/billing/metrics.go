package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

// Metrics records engine and intake metrics in a dedicated registry.
// It implements billing.Observer.
type Metrics struct {
	registry      *prometheus.Registry
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	cache         *prometheus.CounterVec
	publishErrors prometheus.Counter
	notifyDropped prometheus.Counter
	requests      *prometheus.CounterVec
}

var _ billing.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Name:      "events_total",
				Help:      "Billing events handled by kind, channel and outcome",
			},
			[]string{"kind", "channel", "outcome"},
		),
		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billing",
				Name:      "event_duration_seconds",
				Help:      "Time spent reconciling one billing event, lock wait included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "channel"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Name:      "state_cache_lookups_total",
				Help:      "Subscription state cache lookups by result",
			},
			[]string{"result"},
		),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "publish_errors_total",
			Help:      "States that failed to reach a downstream publisher",
		}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "notify_dropped_total",
			Help:      "Downstream notifications dropped because the queue was full",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Intake HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.eventDuration, m.cache, m.publishErrors, m.notifyDropped, m.requests,
	)
	return m
}

func (m *Metrics) ObserveEvent(kind billing.EventKind, channel billing.Channel, outcome string, elapsed time.Duration) {
	m.events.WithLabelValues(string(kind), label(string(channel)), outcome).Inc()
	m.eventDuration.WithLabelValues(string(kind), label(string(channel))).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.cache.WithLabelValues("hit").Inc()
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObservePublishError() { m.publishErrors.Inc() }

// ObserveNotifyDropped counts a notification lost to a full queue.
func (m *Metrics) ObserveNotifyDropped() { m.notifyDropped.Inc() }

// WatchFeed exposes the state feed drop counter of the service. Call it once.
func (m *Metrics) WatchFeed(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "feed_dropped_total",
			Help:      "States skipped for state feed subscribers that fell behind",
		},
		func() float64 { return float64(dropped()) },
	))
}

// ObserveRequest counts one intake request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// label keeps vendor-controlled values from exploding label cardinality.
func label(s string) string {
	const maxLen = 64
	if s == "" {
		return "unknown"
	}
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
