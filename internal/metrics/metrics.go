package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the session-core counters. A nil *Recorder is valid and
// records nothing, so components can be built without metrics in tests.
type Recorder struct {
	refreshTotal  *prometheus.CounterVec
	expiredTotal  *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	signInTotal   *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		expiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_expired_total",
			Help: "Sessions ended without an explicit sign-out, by reason.",
		}, []string{"reason"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_store_failures_total",
			Help: "Credential store backend failures by backend and operation.",
		}, []string{"backend", "op"}),
		signInTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_sign_in_total",
			Help: "Sign-in attempts by outcome.",
		}, []string{"outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Outbound API requests by method and status class.",
		}, []string{"method", "status"}),
	}

	if reg != nil {
		reg.MustRegister(r.refreshTotal, r.expiredTotal, r.storeFailures, r.signInTotal, r.requestsTotal)
	}

	return r
}

func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SessionExpired(reason string) {
	if r == nil {
		return
	}
	r.expiredTotal.WithLabelValues(reason).Inc()
}

func (r *Recorder) StoreFailure(backend string, op string) {
	if r == nil {
		return
	}
	r.storeFailures.WithLabelValues(backend, op).Inc()
}

func (r *Recorder) SignIn(outcome string) {
	if r == nil {
		return
	}
	r.signInTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Request(method string, status string) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(method, status).Inc()
}

// Counters exposes the vectors for assertions in tests of other packages.
func (r *Recorder) Counters() (refresh, expired, storeFailures, signIn, requests *prometheus.CounterVec) {
	return r.refreshTotal, r.expiredTotal, r.storeFailures, r.signInTotal, r.requestsTotal
}
