package infrastructure

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors shared by the runtimes, the
// cache and the HTTP server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	runtimesLive    prometheus.Gauge
	runtimeStarts   *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	ledgerRecords   *prometheus.CounterVec
	cacheDegraded   prometheus.Gauge
	webhookRequests *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		runtimesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerbot_runtimes_live",
			Help: "Number of tenant runtimes currently running.",
		}),
		runtimeStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbot_runtime_starts_total",
				Help: "Tenant runtime start attempts by result.",
			},
			[]string{"result"},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbot_license_gate_decisions_total",
				Help: "License gate decisions by verdict.",
			},
			[]string{"verdict"},
		),
		ledgerRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbot_ledger_records_total",
				Help: "Ledger records written by type.",
			},
			[]string{"type"},
		),
		cacheDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerbot_config_cache_degraded",
			Help: "1 while the configuration cache is bypassed.",
		}),
		webhookRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbot_webhook_requests_total",
				Help: "Inbound webhook requests by HTTP status.",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbot_http_requests_total",
				Help: "Total count of HTTP requests received.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgerbot_http_request_duration_seconds",
				Help:    "Histogram of request durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	reg.MustRegister(
		m.runtimesLive, m.runtimeStarts, m.gateDecisions, m.ledgerRecords,
		m.cacheDegraded, m.webhookRequests, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler exposes /metrics for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request counts and durations keyed by route template.
func (m *Metrics) Instrument() gin.HandlerFunc {
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
		labels := []string{c.Request.Method, path, strconv.Itoa(c.Writer.Status())}
		m.httpRequests.WithLabelValues(labels...).Inc()
		m.httpDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RuntimeStarted(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.runtimeStarts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetLiveRuntimes(n int) {
	if m == nil {
		return
	}
	m.runtimesLive.Set(float64(n))
}

func (m *Metrics) GateDecision(verdict string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordWritten(kind string) {
	if m == nil {
		return
	}
	m.ledgerRecords.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetCacheDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.cacheDegraded.Set(1)
	} else {
		m.cacheDegraded.Set(0)
	}
}

func (m *Metrics) WebhookRequest(status int) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}
