// Package telemetry exposes request metrics of the executor to prometheus.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bartossh/Ledgerlink/executor"
)

const (
	namespace   = "ledgerlink"
	defaultPort = 2112
)

// Measurements collects executor events for prometheus.
// Measurements implements executor.Observer.
type Measurements struct {
	registry  *prometheus.Registry
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	backoffs  *prometheus.CounterVec
	backoff   prometheus.Histogram
	failures  *prometheus.CounterVec
	polls     *prometheus.CounterVec
	lastEvent prometheus.Gauge
}

// New creates measurements registered in their own registry.
func New() *Measurements {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Measurements{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "The total number of request attempts by method and answered status.",
		}, []string{"method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_latency_microseconds",
			Help:      "Round trip time of a single attempt.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 14),
		}, []string{"method"}),
		backoffs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_backoffs_total",
			Help:      "The total number of times a node was put on backoff.",
		}, []string{"node"}),
		backoff: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_backoff_microseconds",
			Help:      "Backoff applied to a node after a failed attempt.",
			Buckets:   prometheus.ExponentialBuckets(250_000, 2, 8),
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "The total number of requests that ended with a fatal status or a timeout.",
		}, []string{"method", "kind"}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "The total number of outcome polls by answered status.",
		}, []string{"method", "status"}),
		lastEvent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Time of the last observed executor event.",
		}),
	}
}

// Observe records the event.
func (m *Measurements) Observe(e executor.Event) {
	m.lastEvent.SetToCurrentTime()
	switch e.Kind {
	case executor.EventAttempt:
		m.attempts.WithLabelValues(e.Method, attemptStatus(e)).Inc()
		m.latency.WithLabelValues(e.Method).Observe(float64(e.Duration.Microseconds()))
	case executor.EventBackoff:
		m.backoffs.WithLabelValues(e.Node.String()).Inc()
		m.backoff.Observe(float64(e.Duration.Microseconds()))
	case executor.EventFatal, executor.EventTimeout:
		m.failures.WithLabelValues(e.Method, e.Kind.String()).Inc()
	case executor.EventPoll:
		m.polls.WithLabelValues(e.Method, e.Status.String()).Inc()
	}
}

func attemptStatus(e executor.Event) string {
	if e.Err != nil {
		return "transport_error"
	}
	return e.Status.String()
}

// Handler serves the measurements in the prometheus exposition format.
func (m *Measurements) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the measurements are registered in.
func (m *Measurements) Registry() *prometheus.Registry { return m.registry }

// Run starts the server with prometheus telemetry endpoint.
// Returns Measurements structure if successfully started or cancels context otherwise.
// Default port of 2112 is used if port value is set to 0.
func Run(ctx context.Context, cancel context.CancelFunc, port int) (*Measurements, error) {
	if port > 65535 || port < 0 {
		return nil, fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}
	m := New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	return m, nil
}
