// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	auditRunsTotal             *prometheus.CounterVec
	auditStageDurationSeconds  *prometheus.HistogramVec
	auditStageFailuresTotal    *prometheus.CounterVec
	auditFallbackReportsTotal  prometheus.Counter
	backoffRetriesTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		auditRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_runs_total",
				Help: "Total analysis runs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)
		auditStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_stage_duration_seconds",
				Help:    "Stage execution latency, labeled by stage and outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"stage", "outcome"},
		)
		auditStageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_stage_failures_total",
				Help: "Stage-local failures, labeled by stage.",
			},
			[]string{"stage"},
		)
		auditFallbackReportsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_fallback_reports_total",
				Help: "Insight reports synthesized by the rule-based fallback.",
			},
		)
		backoffRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoff_retries_total",
				Help: "Rate-limit retries, labeled by operation.",
			},
			[]string{"operation"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveRun records a terminal run outcome.
func ObserveRun(status string) {
	if auditRunsTotal == nil {
		return
	}
	auditRunsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records one stage execution.
func ObserveStage(stage string, duration time.Duration, err error) {
	if auditStageDurationSeconds == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		auditStageFailuresTotal.WithLabelValues(stage).Inc()
	}
	auditStageDurationSeconds.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// ObserveFallback records one rule-based insight synthesis.
func ObserveFallback() {
	if auditFallbackReportsTotal == nil {
		return
	}
	auditFallbackReportsTotal.Inc()
}

// ObserveBackoffRetry records one rate-limit retry for the operation.
func ObserveBackoffRetry(operation string) {
	if backoffRetriesTotal == nil {
		return
	}
	backoffRetriesTotal.WithLabelValues(operation).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP traffic by method and route pattern.
func Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpRequestsTotal == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
			httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
