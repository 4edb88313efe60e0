package goTenant

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sign-in outcomes recorded by Metrics.
const (
	OutcomeSuccess           = "success"
	OutcomeInvalid           = "invalid_credentials"
	OutcomeLocked            = "locked"
	OutcomeBlocked           = "blocked"
	OutcomeInactive          = "inactive"
	OutcomeTwoFactorRequired = "two_factor_required"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	signIns              *prometheus.CounterVec
	riskLevels           *prometheus.CounterVec
	twoFactorFailures    *prometheus.CounterVec
	tokens               *prometheus.CounterVec
	planChanges          *prometheus.CounterVec
	usageReports         *prometheus.CounterVec
	usageDropped         prometheus.Counter
	notificationsDropped prometheus.Counter
	jobDuration          *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with a private
// registry, and with extra when non-nil. It returns nil when disabled.
func NewMetrics(cfg MetricsConfig, extra prometheus.Registerer) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ns := cfg.Namespace
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "signin_total", Help: "Sign-in attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		riskLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "signin_risk_level_total", Help: "Assessed sign-in risk levels.",
		}, []string{"level"}),
		twoFactorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "two_factor_failures_total", Help: "Rejected second-factor codes by code type.",
		}, []string{"kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "session_tokens_total", Help: "Session tokens issued and revoked.",
		}, []string{"event"}),
		planChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "plan_changes_total", Help: "Plan operations by action and result.",
		}, []string{"action", "result"}),
		usageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "usage_reports_total", Help: "Usage records sent to the gateway by result.",
		}, []string{"result"}),
		usageDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "usage_increment_dropped_total", Help: "Usage increments for accounts with no open record.",
		}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "notifications_dropped_total", Help: "Notification requests dropped on a full buffer.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "job_duration_seconds", Help: "Scheduled job run time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job", "result"}),
	}
	collectors := []prometheus.Collector{
		m.signIns, m.riskLevels, m.twoFactorFailures, m.tokens, m.planChanges,
		m.usageReports, m.usageDropped, m.notificationsDropped, m.jobDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
		if extra != nil {
			if err := extra.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Handler serves the engine's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the private registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) signIn(method, outcome string) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) risk(level int) {
	if m == nil {
		return
	}
	m.riskLevels.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) twoFactorFailure(kind string) {
	if m == nil {
		return
	}
	m.twoFactorFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) tokenEvent(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) planChange(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.planChanges.WithLabelValues(action, result).Inc()
}

func (m *Metrics) usageReport(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.usageReports.WithLabelValues(result).Inc()
}

func (m *Metrics) usageIncrementDropped() {
	if m == nil {
		return
	}
	m.usageDropped.Inc()
}

func (m *Metrics) notificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

// ObserveJob records one scheduled job run. It matches worker.Observer.
func (m *Metrics) ObserveJob(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobDuration.WithLabelValues(job, result).Observe(elapsed.Seconds())
}
