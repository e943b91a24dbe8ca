// Package metrics holds the Prometheus collectors of the ledger core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "savtogether"

// Poller schedule labels
const (
	ScheduleInvitationWatch = "invitation_watch"
	ScheduleContribution    = "contribution"
)

type Metrics struct {
	registry *prometheus.Registry

	contributions     prometheus.Counter
	contributedCents  prometheus.Counter
	invitations       *prometheus.CounterVec
	pollerTicks       *prometheus.CounterVec
	pollerErrors      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	eventsConsumed    *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	rateLimited       prometheus.Counter
	suspicious        prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contributions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributions_total",
			Help:      "Contribution events applied to goals.",
		}),
		contributedCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributed_cents_total",
			Help:      "Sum of all contribution amounts in cents.",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Invitation status transitions.",
		}, []string{"status"}),
		pollerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_ticks_total",
			Help:      "Ticks handled by the synchronization poller.",
		}, []string{"schedule"}),
		pollerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_errors_total",
			Help:      "Poller ticks that failed.",
		}, []string{"schedule"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Duration of facade operations including simulated latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Ledger events handled by the activity worker.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		suspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_suspicious_requests_total",
			Help:      "Requests matching a known probing pattern.",
		}),
	}
	m.registry.MustRegister(
		m.contributions,
		m.contributedCents,
		m.invitations,
		m.pollerTicks,
		m.pollerErrors,
		m.operationDuration,
		m.eventsConsumed,
		m.httpRequests,
		m.rateLimited,
		m.suspicious,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Contribution(totalCents int64) {
	if m == nil {
		return
	}
	m.contributions.Inc()
	m.contributedCents.Add(float64(totalCents))
}

func (m *Metrics) Invitation(status string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(status).Inc()
}

func (m *Metrics) PollerTick(schedule string, err error) {
	if m == nil {
		return
	}
	m.pollerTicks.WithLabelValues(schedule).Inc()
	if err != nil {
		m.pollerErrors.WithLabelValues(schedule).Inc()
	}
}

// ObserveOperation records how long op took.
func (m *Metrics) ObserveOperation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) EventConsumed(eventType string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) SuspiciousRequest() {
	if m == nil {
		return
	}
	m.suspicious.Inc()
}
