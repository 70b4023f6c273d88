// Package metrics declares the Prometheus collectors of the marketplace core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iayos_job_transitions_total",
		Help: "Committed job state machine transitions",
	}, []string{"event"})

	TransitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iayos_job_transition_failures_total",
		Help: "Rejected or rolled back job transitions by error kind",
	}, []string{"event", "kind"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iayos_ledger_entries_total",
		Help: "Ledger entries written, by kind and status",
	}, []string{"kind", "status"})

	EarningsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iayos_pending_earnings_released_total",
		Help: "Pending earnings moved to spendable balance",
	})

	AttendanceClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iayos_attendance_sweeper_total",
		Help: "Attendance records touched by the sweeper",
	}, []string{"outcome"})

	GatewayCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iayos_gateway_call_duration_seconds",
		Help:    "Payment gateway call latency",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"op", "outcome"})

	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iayos_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iayos_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records count and latency for a handler under a fixed route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}
