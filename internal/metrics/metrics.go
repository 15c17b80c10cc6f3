package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoadOutcome captures the result of one cache-backed load.
type LoadOutcome string

const (
	// LoadHit indicates the load was served from the cache.
	LoadHit LoadOutcome = "hit"
	// LoadMiss indicates the asset was decoded and inserted.
	LoadMiss LoadOutcome = "miss"
	// LoadError indicates the load failed.
	LoadError LoadOutcome = "error"
)

// FetchOutcome captures the result of one remote retrieval.
type FetchOutcome string

const (
	// FetchFetched indicates bytes were downloaded and persisted.
	FetchFetched FetchOutcome = "fetched"
	// FetchCached indicates a resident local copy short-circuited the fetch.
	FetchCached FetchOutcome = "cached"
	// FetchError indicates the retrieval failed after retries.
	FetchError FetchOutcome = "error"
)

// Recorder publishes Prometheus metrics for loader activity. All methods are
// nil-safe so wiring metrics stays optional.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	loads       *prometheus.CounterVec
	loadLatency *prometheus.HistogramVec

	evictions     *prometheus.CounterVec
	invalidations prometheus.Counter

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetflow",
		Subsystem: "loader",
		Name:      "loads_total",
		Help:      "Asset load requests by type and outcome.",
	}, []string{"type", "outcome"})

	loadLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assetflow",
		Subsystem: "loader",
		Name:      "load_duration_seconds",
		Help:      "Latency distribution for completed loads.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"type", "outcome"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetflow",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries evicted to satisfy a per-type size budget.",
	}, []string{"type"})

	invalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetflow",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Entries removed because an asset's content version changed.",
	})

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetflow",
		Subsystem: "remote",
		Name:      "fetches_total",
		Help:      "Remote asset retrievals by outcome.",
	}, []string{"outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assetflow",
		Subsystem: "remote",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for remote retrievals.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	reg.MustRegister(loads, loadLatency, evictions, invalidations, fetches, fetchLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:      reg,
		handler:       handler,
		loads:         loads,
		loadLatency:   loadLatency,
		evictions:     evictions,
		invalidations: invalidations,
		fetches:       fetches,
		fetchLatency:  fetchLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLoad records the outcome and latency of one load request.
func (r *Recorder) ObserveLoad(assetType string, outcome LoadOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	typeLabel := normalizeLabel(assetType)
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(LoadError)
	}
	r.loads.WithLabelValues(typeLabel, outcomeLabel).Inc()
	r.loadLatency.WithLabelValues(typeLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveEviction records one size-budget eviction.
func (r *Recorder) ObserveEviction(assetType string) {
	if r == nil {
		return
	}
	r.evictions.WithLabelValues(normalizeLabel(assetType)).Inc()
}

// ObserveInvalidation records entries dropped by a version change.
func (r *Recorder) ObserveInvalidation(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.invalidations.Add(float64(count))
}

// ObserveFetch records the outcome and latency of one remote retrieval.
func (r *Recorder) ObserveFetch(outcome FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(FetchError)
	}
	r.fetches.WithLabelValues(outcomeLabel).Inc()
	r.fetchLatency.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
