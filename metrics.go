package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeRegister    = "register"
	outcomeLogin       = "login"
	outcomeMismatch    = "mismatch"
	outcomeClientError = "client_error"
	outcomeFailure     = "failure"
	outcomeChanged     = "changed"
)

// Metrics are the gateway's Prometheus collectors.  A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	exchanges        *prometheus.CounterVec
	tokenRejections  prometheus.Counter
	tokenAcceptances prometheus.Counter
	passwordChanges  *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "gateway",
			Name:      "exchanges_total",
			Help:      "Completed and failed exchange calls by outcome.",
		}, []string{"outcome"}),
		tokenRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "gateway",
			Name:      "token_rejections_total",
			Help:      "Requests to protected routes rejected by the bearer check.",
		}),
		tokenAcceptances: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "gateway",
			Name:      "token_acceptances_total",
			Help:      "Requests to protected routes that passed the bearer check.",
		}),
		passwordChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "gateway",
			Name:      "password_changes_total",
			Help:      "Password change requests by outcome.",
		}, []string{"outcome"}),
	}
}

func exchangeOutcome(resp *ExchangeResponse) string {
	switch {
	case resp.Action == ActionRegister:
		return outcomeRegister
	case resp.Action == ActionLogin:
		return outcomeLogin
	default:
		return outcomeMismatch
	}
}

func (m *Metrics) observeExchange(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeTokenRejection() {
	if m == nil {
		return
	}
	m.tokenRejections.Inc()
}

func (m *Metrics) observeTokenAcceptance() {
	if m == nil {
		return
	}
	m.tokenAcceptances.Inc()
}

func (m *Metrics) observePasswordChange(outcome string) {
	if m == nil {
		return
	}
	m.passwordChanges.WithLabelValues(outcome).Inc()
}
