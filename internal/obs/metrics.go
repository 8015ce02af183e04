package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Authentication attempts by outcome kind.",
		},
		[]string{"outcome"},
	)

	accountLockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_account_lockouts_total",
		Help: "Accounts transitioned into the locked state.",
	})

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by outcome kind.",
		},
		[]string{"outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bcd_build_info",
			Help: "Running binary; always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, accountLockouts, authzDecisions, auditWriteFailures,
			buildInfo,
		)
	})
}

// SetBuildInfo registers the metrics if needed and publishes the binary
// version on bcd_build_info.
func SetBuildInfo(version, commit string) {
	Init()
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts an authentication attempt. outcome is "success" or an error kind.
func ObserveLogin(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// ObserveLockout counts a principal entering the locked state.
func ObserveLockout() {
	accountLockouts.Inc()
}

// ObserveDecision counts an authorization decision. outcome is "allow" or an error kind.
func ObserveDecision(outcome string) {
	authzDecisions.WithLabelValues(outcome).Inc()
}

// ObserveAuditFailure counts an audit entry that was dropped by the store.
func ObserveAuditFailure() {
	auditWriteFailures.Inc()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose next segment is an identifier.
var idCollections = map[string]bool{
	"tenants":    true,
	"principals": true,
	"patients":   true,
}

// CanonicalPath replaces identifier segments with :id to keep label cardinality bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
			i++
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
