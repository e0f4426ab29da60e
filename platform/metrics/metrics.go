// Package metrics registers the Prometheus collectors for outreach activity.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CallsDispatched *prometheus.CounterVec
	CallEvents      *prometheus.CounterVec
	CreditsSpent    prometheus.Counter
	CreditsAdded    prometheus.Counter
	EmailsSent      *prometheus.CounterVec
	RepliesMatched  *prometheus.CounterVec
	PollerDuration  *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CallsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_calls_dispatched_total",
				Help: "Call dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		CallEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_call_events_total",
				Help: "Voice provider webhook events by canonical status",
			},
			[]string{"status"},
		),
		CreditsSpent: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_credits_spent_total",
			Help: "Credits consumed by completed calls",
		}),
		CreditsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_credits_added_total",
			Help: "Credits added by top-ups and grants",
		}),
		EmailsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_emails_total",
				Help: "Email send attempts by path and result",
			},
			[]string{"path", "result"},
		),
		RepliesMatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_replies_matched_total",
				Help: "Inbound replies matched to a lead by source",
			},
			[]string{"source"},
		),
		PollerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_poller_tick_seconds",
				Help:    "Duration of background poller ticks",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"job"},
		),
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) CallDispatched(outcome string) {
	if m == nil {
		return
	}
	m.CallsDispatched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CallEvent(status string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) CreditsSpend(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CreditsSpent.Add(float64(n))
}

func (m *Metrics) CreditsAdd(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CreditsAdded.Add(float64(n))
}

func (m *Metrics) EmailResult(path, result string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(path, result).Inc()
}

func (m *Metrics) ReplyMatched(source string) {
	if m == nil {
		return
	}
	m.RepliesMatched.WithLabelValues(source).Inc()
}

func (m *Metrics) PollerTick(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.PollerDuration.WithLabelValues(job).Observe(d.Seconds())
}
