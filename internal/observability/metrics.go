package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "watershed_rem"

// Metrics holds the Prometheus counters, histograms, and gauges for the REM pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	SitesProcessed  *prometheus.CounterVec // labels: outcome={success,error}
	SiteDuration    prometheus.Histogram

	// Download cache metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={hit,miss,error}
	FetchBytes    prometheus.Counter
	FetchDuration prometheus.Histogram

	// Decoded raster cache.
	RasterCache *prometheus.CounterVec // labels: result={hit,miss}

	// REM generator metrics.
	REMInvocations *prometheus.CounterVec // labels: outcome={computed,cached,error}
	REMDuration    prometheus.Histogram

	SummariesPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.SitesProcessed,
		m.SiteDuration,
		m.FetchRequests,
		m.FetchBytes,
		m.FetchDuration,
		m.RasterCache,
		m.REMInvocations,
		m.REMDuration,
		m.SummariesPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		SitesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_processed_total",
			Help:      "Sites carried through the pipeline by outcome.",
		}, []string{"outcome"}),
		SiteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "site_duration_seconds",
			Help:      "Wall time to process one site end to end.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Cache-aware fetches by outcome.",
		}, []string{"outcome"}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes downloaded into the cache.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of downloads that reached the network.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		}),
		RasterCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raster_cache_total",
			Help:      "Decoded raster cache lookups by result.",
		}, []string{"result"}),
		REMInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rem_invocations_total",
			Help:      "REM generator requests by outcome.",
		}, []string{"outcome"}),
		REMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rem_duration_seconds",
			Help:      "Duration of REM generator runs that were not served from cache.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_published_total",
			Help:      "Flood summaries written to Kafka.",
		}),
	}
}
