package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// Settlement outcomes recorded by IncrSettlement.
const (
	SettlementCreated   = "created"
	SettlementDuplicate = "duplicate"
	SettlementRejected  = "rejected"
)

// Metrics holds all Prometheus metrics of the reimbursement engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	settlements     *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	importRows      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ressarcimentos_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressarcimentos_settlements_total",
				Help: "Settlement requests by outcome.",
			},
			[]string{"result"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressarcimentos_store_errors_total",
				Help: "Record store failures by backend.",
			},
			[]string{"backend"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressarcimentos_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressarcimentos_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		importRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ressarcimentos_import_rows_total",
				Help: "Spreadsheet rows processed by import kind and result.",
			},
			[]string{"kind", "result"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrSettlement counts a settlement request outcome.
func (m *Metrics) IncrSettlement(result string) {
	m.settlements.WithLabelValues(result).Inc()
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(backend string) {
	m.storeErrors.WithLabelValues(backend).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// AddImportRows counts imported rows.
func (m *Metrics) AddImportRows(kind, result string, n int) {
	if n <= 0 {
		return
	}
	m.importRows.WithLabelValues(kind, result).Add(float64(n))
}

// Snapshot returns the engine counters for GET /v1/metrics/engine.
// The store backend label is summed over every backend seen so far.
func (m *Metrics) Snapshot(cache string) *domain.EngineMetrics {
	hits := getCounterValue(m.cacheHits, cache)
	misses := getCounterValue(m.cacheMisses, cache)

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.EngineMetrics{
		SettlementsCreated:  int64(getCounterValue(m.settlements, SettlementCreated)),
		DuplicatesAbsorbed:  int64(getCounterValue(m.settlements, SettlementDuplicate)),
		SettlementsRejected: int64(getCounterValue(m.settlements, SettlementRejected)),
		StoreErrors:         int64(sumCounterVec(m.storeErrors)),
		CacheHitRate:        hitRate,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every child of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if m.Counter != nil {
			total += m.Counter.GetValue()
		}
	}
	return total
}
