// Package prometheus implements the metric interfaces consumed by the
// page store.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/replicore/wscache/pkg/metrics"
	"github.com/replicore/wscache/pkg/pagestore"
)

// pageStoreMetrics is the Prometheus implementation of pagestore.Metrics.
type pageStoreMetrics struct {
	pagesCreated    prometheus.Counter
	pagesEvicted    prometheus.Counter
	allocations     prometheus.Counter
	allocatedBytes  prometheus.Counter
	pagesHeld       prometheus.Gauge
	totalSize       prometheus.Gauge
	allocationSizes prometheus.Histogram
}

// NewPageStoreMetrics creates a Prometheus-backed pagestore.Metrics.
//
// Returns nil when metrics are not enabled (InitRegistry not called);
// the page store skips reporting entirely in that case.
func NewPageStoreMetrics() pagestore.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &pageStoreMetrics{
		pagesCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wscache_pages_created_total",
			Help: "Total number of page files created",
		}),
		pagesEvicted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wscache_pages_evicted_total",
			Help: "Total number of page files evicted and unlinked",
		}),
		allocations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wscache_allocations_total",
			Help: "Total number of buffer allocations served from pages",
		}),
		allocatedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wscache_allocated_bytes_total",
			Help: "Total bytes allocated from pages, headers included",
		}),
		pagesHeld: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wscache_pages",
			Help: "Number of page files currently held by the store",
		}),
		totalSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wscache_pages_bytes",
			Help: "Aggregate size of page files currently held by the store",
		}),
		allocationSizes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "wscache_allocation_bytes",
			Help: "Distribution of buffer allocation sizes",
			Buckets: []float64{
				256,      // small write-sets
				1024,     // 1KB
				4096,     // 4KB
				16384,    // 16KB
				65536,    // 64KB
				262144,   // 256KB
				1048576,  // 1MB
				4194304,  // 4MB - large transactions
				16777216, // 16MB
			},
		}),
	}
}

func (m *pageStoreMetrics) PageCreated(size int) {
	m.pagesCreated.Inc()
}

func (m *pageStoreMetrics) PageEvicted(size int) {
	m.pagesEvicted.Inc()
}

func (m *pageStoreMetrics) BufferAllocated(size int) {
	m.allocations.Inc()
	m.allocatedBytes.Add(float64(size))
	m.allocationSizes.Observe(float64(size))
}

func (m *pageStoreMetrics) Totals(pages, totalSize int) {
	m.pagesHeld.Set(float64(pages))
	m.totalSize.Set(float64(totalSize))
}
