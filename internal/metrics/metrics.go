// Package metrics exposes auth counters on a private Prometheus registry.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adminsphere"

type Metrics struct {
	registry *prometheus.Registry

	logins           *prometheus.CounterVec
	sessionsReplaced prometheus.Counter
	degradedLogins   prometheus.Counter
	cacheAvailable   prometheus.Gauge
	auditDropped     prometheus.Counter
	auditFailed      prometheus.Counter
	forceLogouts     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	passwordResets   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by provider and result.",
		}, []string{"provider", "result"}),
		sessionsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_replaced_total",
			Help:      "Logins that evicted an existing session.",
		}),
		degradedLogins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_logins_total",
			Help:      "Logins issued without session enforcement because the cache was unavailable.",
		}),
		cacheAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_available",
			Help:      "1 when the session cache is reachable.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit entries dropped because the queue was full.",
		}),
		auditFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries the sink failed to store.",
		}),
		forceLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "force_logouts_total",
			Help:      "Forced logout notices by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"bucket"}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset requests and completions.",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.sessionsReplaced,
		m.degradedLogins,
		m.cacheAvailable,
		m.auditDropped,
		m.auditFailed,
		m.forceLogouts,
		m.rateLimited,
		m.passwordResets,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Login(provider, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.sessionsReplaced.Inc()
}

func (m *Metrics) DegradedLogin() {
	if m == nil {
		return
	}
	m.degradedLogins.Inc()
}

func (m *Metrics) CacheAvailable(up bool) {
	if m == nil {
		return
	}
	if up {
		m.cacheAvailable.Set(1)
	} else {
		m.cacheAvailable.Set(0)
	}
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailed.Inc()
}

// ForceLogout counts a notice as "delivered", "no_connection" or "dropped".
func (m *Metrics) ForceLogout(outcome string) {
	if m == nil {
		return
	}
	m.forceLogouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited(bucket string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(bucket).Inc()
}

// PasswordReset counts "requested" and "completed" stages.
func (m *Metrics) PasswordReset(stage string) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(stage).Inc()
}
