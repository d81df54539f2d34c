package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the process collectors. All methods are safe on a nil
// receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	syncRefreshes    *prometheus.CounterVec
	lightsOn         prometheus.Gauge
	calendarEvents   prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadash",
			Name:      "upstream_requests_total",
			Help:      "Home Assistant calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hadash",
			Name:      "upstream_request_duration_seconds",
			Help:      "Home Assistant call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		syncRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadash",
			Name:      "sync_refreshes_total",
			Help:      "Light collection refreshes by outcome.",
		}, []string{"outcome"}),
		lightsOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hadash",
			Name:      "lights_on",
			Help:      "Lights reported on after the last successful refresh.",
		}),
		calendarEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hadash",
			Name:      "calendar_events",
			Help:      "Upcoming events returned by the last calendar load.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadash",
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hadash",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamRequests,
		m.upstreamDuration,
		m.syncRefreshes,
		m.lightsOn,
		m.calendarEvents,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// ObserveUpstream records one Home Assistant call.
func (m *Metrics) ObserveUpstream(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(operation, outcome(err)).Inc()
	m.upstreamDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.syncRefreshes.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) SetLightsOn(n int) {
	if m == nil {
		return
	}
	m.lightsOn.Set(float64(n))
}

func (m *Metrics) SetCalendarEvents(n int) {
	if m == nil {
		return
	}
	m.calendarEvents.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes latency under a fixed route
// label.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
