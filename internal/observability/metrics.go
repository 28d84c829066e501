package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token operation outcomes.
const (
	TokenOutcomeOK               = "ok"
	TokenOutcomeExpired          = "expired"
	TokenOutcomeInvalidSignature = "invalid_signature"
	TokenOutcomeMalformed        = "malformed"
	TokenOutcomeSubjectMismatch  = "subject_mismatch"
	TokenOutcomeError            = "error"
)

// Metrics wraps the prometheus collectors exported by the service.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	logins   *prometheus.CounterVec
}

// NewMetrics registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "userservice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "userservice_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2.0, 12),
		}, []string{"route", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "userservice_http_errors_total",
			Help: "HTTP requests that ended in an error response, by error code",
		}, []string{"route", "method", "code"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "userservice_token_operations_total",
			Help: "Token issuance and verification outcomes",
		}, []string{"operation", "outcome"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "userservice_login_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordToken counts a token operation ("issue", "verify") by outcome.
func (m *Metrics) RecordToken(operation, outcome string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(operation, outcome).Inc()
}

// RecordLogin counts a login attempt by result.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}
