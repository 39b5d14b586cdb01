package metrics

import (
	"net/http"
	"strconv"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

var histogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Recorder owns a private registry with the analysis, detector and HTTP
// collectors.
type Recorder struct {
	registry *prometheus.Registry

	analyses         prometheus.Counter
	packets          prometheus.Counter
	analysisDuration prometheus.Histogram
	findings         *prometheus.CounterVec
	detectorDuration *prometheus.HistogramVec
	detectorFailures *prometheus.CounterVec
	requestTotal     *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	published        prometheus.Counter
}

// New creates a Recorder. The Go runtime collector is included.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.analyses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "analysis", Name: "runs_total",
		Help: "Number of completed analyses",
	})
	r.packets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "analysis", Name: "packets_total",
		Help: "Packets processed across all analyses",
	})
	r.analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "analysis", Name: "duration_seconds",
		Help: "Wall time of one analysis", Buckets: histogramBuckets,
	})
	r.findings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "detector", Name: "findings_total",
		Help: "Findings emitted by detector and severity",
	}, []string{"detector", "severity"})
	r.detectorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "detector", Name: "duration_seconds",
		Help: "Wall time of one detector invocation", Buckets: histogramBuckets,
	}, []string{"detector"})
	r.detectorFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "detector", Name: "failures_total",
		Help: "Detector invocations that panicked",
	}, []string{"detector"})
	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "http_requests_total",
		Help: "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})
	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "api", Name: "http_request_duration_seconds",
		Help: "Latency distribution of HTTP handlers", Buckets: histogramBuckets,
	}, []string{"method", "route", "status"})
	r.published = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "stream", Name: "findings_published_total",
		Help: "Findings published to the message bus",
	})

	r.registry.MustRegister(
		r.analyses, r.packets, r.analysisDuration,
		r.findings, r.detectorDuration, r.detectorFailures,
		r.requestTotal, r.requestLatency, r.published,
		collectors.NewGoCollector(),
	)
	return r
}

// ObserveAnalysis records one completed analysis.
func (r *Recorder) ObserveAnalysis(packets int, elapsed time.Duration, findings []model.Finding) {
	r.analyses.Inc()
	r.packets.Add(float64(packets))
	r.analysisDuration.Observe(elapsed.Seconds())
	for _, f := range findings {
		r.findings.WithLabelValues(f.Detector, f.Severity.String()).Inc()
	}
}

// ObserveDetector records one detector invocation.
func (r *Recorder) ObserveDetector(name string, elapsed time.Duration, _ int, failed bool) {
	r.detectorDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if failed {
		r.detectorFailures.WithLabelValues(name).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(elapsed.Seconds())
}

// ObservePublished counts findings sent to the message bus.
func (r *Recorder) ObservePublished(n int) {
	r.published.Add(float64(n))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
