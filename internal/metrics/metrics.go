// Package metrics exposes Prometheus counters for authentication activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/primehr-session/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "primehr"

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Collector implements session.Recorder and the server's request metrics.
type Collector struct {
	authOps         *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	profileFailures prometheus.Counter
	instances       prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpLatency     prometheus.Histogram
	rateLimited     prometheus.Counter
}

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Auth operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session-change notifications applied, by event type.",
		}, []string{"event"}),
		profileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetch_failures_total",
			Help:      "Profile lookups that returned no profile.",
		}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_instances",
			Help:      "Browser instances with a live session manager.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the auth rate limiter.",
		}),
	}

	reg.MustRegister(
		c.authOps,
		c.sessionEvents,
		c.profileFailures,
		c.instances,
		c.httpRequests,
		c.httpLatency,
		c.rateLimited,
	)

	return c
}

func (c *Collector) AuthOperation(op string, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	c.authOps.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) SessionEvent(eventType provider.EventType) {
	c.sessionEvents.WithLabelValues(string(eventType)).Inc()
}

func (c *Collector) ProfileFetchFailed() {
	c.profileFailures.Inc()
}

func (c *Collector) InstanceOpened() {
	c.instances.Inc()
}

func (c *Collector) InstanceClosed() {
	c.instances.Dec()
}

// RecordHTTP records one served request.
func (c *Collector) RecordHTTP(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

func (c *Collector) RateLimited() {
	c.rateLimited.Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
