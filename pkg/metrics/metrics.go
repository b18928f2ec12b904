// Package metrics exposes Prometheus metrics for the QuickBooks source:
// API request counts and latency, emitted records, completed slices and
// OAuth2 token activity.
//
// # Basic Usage
//
//	collector := metrics.NewCollector()
//	httpClient.SetObserver(collector)
//	collector.RecordsEmitted("balance_sheet", len(records))
//
//	// Optionally expose /metrics while the connector runs
//	go collector.Serve(ctx, ":9102", logger)
package metrics

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "qbo_source"

// Collector owns a registry with every metric the connector records.
// Each invocation creates its own collector.
type Collector struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	recordsEmitted  *prometheus.CounterVec
	slicesCompleted *prometheus.CounterVec
	streamDuration  *prometheus.HistogramVec
	tokenEvents     *prometheus.CounterVec
	archiveWrites   *prometheus.CounterVec

	startTime time.Time
}

// NewCollector creates a collector with Go runtime metrics registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests sent to Intuit by endpoint and status",
		}, []string{"endpoint", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of requests sent to Intuit",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		recordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "RECORD messages written per stream",
		}, []string{"stream"}),
		slicesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_completed_total",
			Help:      "Report slices fully emitted per stream",
		}, []string{"stream"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time spent reading a stream",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stream"}),
		tokenEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth2_events_total",
			Help:      "Token refreshes and refresh token rotations",
		}, []string{"event"}),
		archiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Raw report archive writes by backend and outcome",
		}, []string{"backend", "status"}),
		startTime: time.Now(),
	}

	reg.MustRegister(c.httpRequests, c.httpLatency, c.recordsEmitted, c.slicesCompleted,
		c.streamDuration, c.tokenEvents, c.archiveWrites)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records an HTTP exchange. The endpoint label is the last
// path segment, e.g. BalanceSheet or bearer.
func (c *Collector) ObserveRequest(req *http.Request, status int, duration time.Duration, err error) {
	endpoint := path.Base(req.URL.Path)
	label := strconv.Itoa(status)
	if err != nil {
		label = "error"
	}
	c.httpRequests.WithLabelValues(endpoint, label).Inc()
	c.httpLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordsEmitted adds n emitted records for stream
func (c *Collector) RecordsEmitted(stream string, n int) {
	c.recordsEmitted.WithLabelValues(stream).Add(float64(n))
}

// SliceCompleted counts a fully emitted slice
func (c *Collector) SliceCompleted(stream string) {
	c.slicesCompleted.WithLabelValues(stream).Inc()
}

// StreamFinished records how long a stream took
func (c *Collector) StreamFinished(stream string, d time.Duration) {
	c.streamDuration.WithLabelValues(stream).Observe(d.Seconds())
}

// TokenEvent counts an OAuth2 event such as "refresh" or "rotation"
func (c *Collector) TokenEvent(event string) {
	c.tokenEvents.WithLabelValues(event).Inc()
}

// ArchiveWrite counts a raw report archive write
func (c *Collector) ArchiveWrite(backend string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.archiveWrites.WithLabelValues(backend, status).Inc()
}

// Uptime returns the time since the collector was created
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Handler returns the /metrics handler for this collector
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Debug("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
