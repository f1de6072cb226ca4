// Package metrics holds the Prometheus instruments of the recorder.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame drop reasons.
const (
	DropIdle       = "idle"
	DropQueueFull  = "queue_full"
	DropNoSession  = "no_session"
	DropNotReady   = "sink_not_ready"
	DropWriteError = "write_error"
)

// Metrics holds all recorder metrics, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived    prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	ClipsFinalized    prometheus.Counter
	ClipsDiscarded    prometheus.Counter
	ClipsEvicted      prometheus.Counter
	AnalyzerErrors    *prometheus.CounterVec
	Enrichments       *prometheus.CounterVec
	Searches          *prometheus.CounterVec
	EmbedLatency      prometheus.Histogram
	EmbedErrors       prometheus.Counter
	EnrichmentLatency prometheus.Histogram
}

// New registers all metrics on a fresh registry together with the Go and
// process collectors. storeSize is sampled on every scrape and may be nil.
func New(storeSize func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "cliprecall_frames_received_total",
			Help: "Frames offered to the ingestion pipeline",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cliprecall_frames_dropped_total",
			Help: "Frames dropped before reaching a clip, by reason",
		}, []string{"reason"}),
		ClipsFinalized: f.NewCounter(prometheus.CounterOpts{
			Name: "cliprecall_clips_finalized_total",
			Help: "Clips inserted into the index",
		}),
		ClipsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "cliprecall_clips_discarded_total",
			Help: "Clips whose media could not be finished",
		}),
		ClipsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "cliprecall_clips_evicted_total",
			Help: "Clips removed by retention",
		}),
		AnalyzerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cliprecall_analyzer_errors_total",
			Help: "Frame analyzer failures, by operation",
		}, []string{"op"}),
		Enrichments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cliprecall_enrichments_total",
			Help: "Enrichment attempts, by outcome",
		}, []string{"outcome"}),
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cliprecall_searches_total",
			Help: "Searches answered, by method",
		}, []string{"method"}),
		EmbedLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cliprecall_embed_duration_seconds",
			Help:    "Embedding backend call latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		EmbedErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cliprecall_embed_errors_total",
			Help: "Embedding backend call failures",
		}),
		EnrichmentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cliprecall_enrichment_duration_seconds",
			Help:    "Vision enrichment call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
	}

	if storeSize != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cliprecall_store_clips",
			Help: "Clips currently in the index",
		}, func() float64 { return float64(storeSize()) })
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ClipFinalized() {
	if m != nil {
		m.ClipsFinalized.Inc()
	}
}

func (m *Metrics) ClipDiscarded() {
	if m != nil {
		m.ClipsDiscarded.Inc()
	}
}

func (m *Metrics) ClipsPruned(n int) {
	if m != nil && n > 0 {
		m.ClipsEvicted.Add(float64(n))
	}
}

func (m *Metrics) AnalyzerError(op string) {
	if m != nil {
		m.AnalyzerErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Enrichment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.EnrichmentLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) Search(method string) {
	if m != nil {
		m.Searches.WithLabelValues(method).Inc()
	}
}

// ObserveEmbed records one embedding backend call.
func (m *Metrics) ObserveEmbed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbedLatency.Observe(d.Seconds())
	if err != nil {
		m.EmbedErrors.Inc()
	}
}
