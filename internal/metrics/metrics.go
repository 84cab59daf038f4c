package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the portal collectors. A nil *Metrics is valid and records
// nothing, which keeps components usable in tests without a registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	LoginAttemptsTotal *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
	AuditEventsTotal   *prometheus.CounterVec
	AuditSinkErrors    *prometheus.CounterVec
	AuditPrunedTotal   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessportal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessportal_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accessportal_http_in_flight_requests",
			Help: "In-flight HTTP requests",
		}),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessportal_login_attempts_total",
				Help: "Login attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessportal_login_rate_limited_total",
			Help: "Login requests rejected by the rate limiter",
		}),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessportal_audit_events_total",
				Help: "Audit events recorded by type",
			},
			[]string{"event"},
		),
		AuditSinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessportal_audit_sink_errors_total",
				Help: "Audit sink write failures",
			},
			[]string{"sink"},
		),
		AuditPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessportal_audit_pruned_rows_total",
			Help: "Audit rows removed by retention pruning",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPInFlight,
		m.LoginAttemptsTotal,
		m.RateLimitedTotal,
		m.AuditEventsTotal,
		m.AuditSinkErrors,
		m.AuditPrunedTotal,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LoginAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) AuditEvent(event string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) AuditSinkError(sink string) {
	if m == nil {
		return
	}
	m.AuditSinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) AuditPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditPrunedTotal.Add(float64(n))
}

// Instrument records request count, latency and in-flight gauge. The route
// label is the chi pattern so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPInFlight.Inc()
		defer m.HTTPInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
