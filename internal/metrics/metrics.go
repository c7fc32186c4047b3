// Package metrics exposes Prometheus collectors for the fetch pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal    *prometheus.CounterVec
	fetchLatencySeconds   *prometheus.HistogramVec
	fetchBytesTotal       *prometheus.CounterVec
	captchaDetectedTotal  prometheus.Counter
	robotsBlockedTotal    prometheus.Counter
	browserEscalations    prometheus.Counter
	escalationsSuppressed prometheus.Counter
	inFlightFetches       *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hybridfetch_attempts_total",
				Help: "Total fetch attempts, labeled by method and terminal status.",
			},
			[]string{"method", "status"},
		)

		fetchLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hybridfetch_latency_seconds",
				Help:    "Histogram of fetch latencies, labeled by method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"method"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hybridfetch_bytes_total",
				Help: "Total content bytes fetched, labeled by method.",
			},
			[]string{"method"},
		)

		captchaDetectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hybridfetch_captcha_detected_total",
				Help: "Total responses classified as CAPTCHA or anti-bot walls.",
			},
		)

		robotsBlockedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hybridfetch_robots_blocked_total",
				Help: "Total URLs skipped because robots.txt disallows them.",
			},
		)

		browserEscalations = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hybridfetch_browser_escalations_total",
				Help: "Total URLs escalated from the HTTP path to the browser path.",
			},
		)

		escalationsSuppressed = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hybridfetch_browser_escalations_suppressed_total",
				Help: "Escalations skipped because the domain circuit breaker is open.",
			},
		)

		inFlightFetches = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hybridfetch_in_flight",
				Help: "Fetches currently holding a scheduler slot, labeled by method.",
			},
			[]string{"method"},
		)
	})
}

// ObserveFetch records one terminal fetch attempt.
func ObserveFetch(method, status string, duration time.Duration, bytesFetched int) {
	Init()
	fetchAttemptsTotal.WithLabelValues(method, status).Inc()
	fetchLatencySeconds.WithLabelValues(method).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(method).Add(float64(bytesFetched))
	}
}

// ObserveCaptcha increments the CAPTCHA detection counter.
func ObserveCaptcha() {
	Init()
	captchaDetectedTotal.Inc()
}

// ObserveRobotsBlocked increments the robots-block counter.
func ObserveRobotsBlocked() {
	Init()
	robotsBlockedTotal.Inc()
}

// ObserveEscalation records a browser escalation decision. suppressed marks
// escalations the circuit breaker refused.
func ObserveEscalation(suppressed bool) {
	Init()
	if suppressed {
		escalationsSuppressed.Inc()
		return
	}
	browserEscalations.Inc()
}

// IncInFlight increments the in-flight gauge for the method.
func IncInFlight(method string) {
	Init()
	inFlightFetches.WithLabelValues(method).Inc()
}

// DecInFlight decrements the in-flight gauge for the method.
func DecInFlight(method string) {
	Init()
	inFlightFetches.WithLabelValues(method).Dec()
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics endpoint on addr in a background goroutine and
// returns the server so the caller can shut it down.
func Serve(addr string) *http.Server {
	Init()
	r := chi.NewRouter()
	r.Handle("/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
