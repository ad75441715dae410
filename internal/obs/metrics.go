package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics.
var (
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
)

// Authentication and authorization domain metrics.
var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_success_total",
		Help: "Successful logins.",
	})

	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_failure_total",
		Help: "Failed logins (invalid credentials or inactive identity).",
	})

	AccessTokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_access_tokens_issued_total",
		Help: "Access tokens minted.",
	})

	RefreshRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Refresh tokens successfully redeemed and rotated.",
	})

	RefreshRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rejected_total",
			Help: "Refresh redemptions rejected.",
		},
		[]string{"reason"},
	)

	AuthzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by policy and outcome.",
		},
		[]string{"policy", "decision"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		LoginSuccessTotal, LoginFailureTotal, AccessTokensIssuedTotal,
		RefreshRotationsTotal, RefreshRejectedTotal, AuthzDecisionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses identifier segments so that metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "identities" {
		parts[3] = ":id"
		path = strings.Join(parts[:4], "/")
		if len(parts) > 4 {
			path += "/" + strings.Join(parts[4:], "/")
		}
	}
	return path
}

// Instrument wraps a handler with request counting, latency and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
