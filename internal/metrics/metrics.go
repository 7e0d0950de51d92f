package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP requests and the
// milestone watch loop. A nil *Collector is valid and records nothing,
// so callers never have to branch on whether metrics are wired.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	checkDuration  *prometheus.HistogramVec
	checksTotal    *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	followersGauge *prometheus.GaugeVec
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botdash",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	checkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botdash",
		Subsystem: "watcher",
		Name:      "check_duration_seconds",
		Help:      "Latency distribution for follower check pipeline runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	checksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "watcher",
		Name:      "checks_total",
		Help:      "Total follower check pipeline runs by outcome.",
	}, []string{"outcome"})

	dispatchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "watcher",
		Name:      "dispatches_total",
		Help:      "Total milestone announcement dispatches by outcome.",
	}, []string{"outcome"})

	followersGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "botdash",
		Subsystem: "watcher",
		Name:      "followers",
		Help:      "Last observed follower count per account.",
	}, []string{"account_id"})

	for _, c := range []prometheus.Collector{
		requestDuration, requestTotal,
		checkDuration, checksTotal, dispatchTotal, followersGauge,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	collector := &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		checkDuration:   checkDuration,
		checksTotal:     checksTotal,
		dispatchTotal:   dispatchTotal,
		followersGauge:  followersGauge,
	}

	return collector, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	if c == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveCheck records one pipeline run with the given outcome label.
func (c *Collector) ObserveCheck(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.checksTotal.WithLabelValues(outcome).Inc()
	c.checkDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDispatch records one announcement dispatch outcome.
func (c *Collector) ObserveDispatch(outcome string) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(outcome).Inc()
}

// SetFollowers records the latest observed follower count for an account.
func (c *Collector) SetFollowers(accountID string, count int64) {
	if c == nil {
		return
	}
	c.followersGauge.WithLabelValues(accountID).Set(float64(count))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
