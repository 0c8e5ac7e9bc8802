// Package metrics registers the certification core's prometheus
// collectors, following the teacher corpus's runtime/txpool/metrics.go
// pattern: package-level GaugeVec/CounterVec collectors, registered once
// via a sync.Once-guarded Init.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gcacheBytesInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galera_gcache_bytes_in_use",
			Help: "Bytes currently allocated out of a GCache tier.",
		},
		[]string{"tier"},
	)
	gcachePageCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galera_gcache_page_count",
			Help: "Number of page-store files currently resident.",
		},
	)
	gcacheShadowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galera_gcache_plaintext_shadow_bytes",
			Help: "Bytes currently held in the encrypted-mode plaintext shadow cache.",
		},
	)
	certIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galera_cert_index_size",
			Help: "Number of live entries in the certification index.",
		},
	)
	certVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galera_cert_verdicts_total",
			Help: "Certification verdicts by outcome.",
		},
		[]string{"verdict"},
	)
	monitorQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galera_monitor_queue_depth",
			Help: "Number of seqnos waiting to enter a monitor barrier.",
		},
		[]string{"monitor"},
	)
	serviceQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "galera_gcache_service_queue_length",
			Help: "Length of a GCache service-thread queue.",
		},
		[]string{"queue"},
	)

	collectors = []prometheus.Collector{
		gcacheBytesInUse,
		gcachePageCount,
		gcacheShadowSize,
		certIndexSize,
		certVerdicts,
		monitorQueueDepth,
		serviceQueueLength,
	}

	initOnce sync.Once
)

// Init registers every collector with the default prometheus registry.
// Safe to call more than once; only the first call has any effect.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

// SetGCacheBytesInUse reports the current allocation level of one GCache
// tier ("mem", "ring", or "page").
func SetGCacheBytesInUse(tier string, bytes int) {
	gcacheBytesInUse.WithLabelValues(tier).Set(float64(bytes))
}

// SetGCachePageCount reports the page store's resident page count.
func SetGCachePageCount(n int) { gcachePageCount.Set(float64(n)) }

// SetGCacheShadowSize reports the plaintext shadow cache's current size.
func SetGCacheShadowSize(bytes uint64) { gcacheShadowSize.Set(float64(bytes)) }

// SetCertIndexSize reports the certification index's live entry count.
func SetCertIndexSize(n int) { certIndexSize.Set(float64(n)) }

// ObserveCertVerdict increments the counter for a certification verdict
// ("ok" or "failed").
func ObserveCertVerdict(verdict string) {
	certVerdicts.WithLabelValues(verdict).Inc()
}

// SetMonitorQueueDepth reports a barrier's current waiter count
// ("local", "apply", or "commit").
func SetMonitorQueueDepth(monitor string, depth int) {
	monitorQueueDepth.WithLabelValues(monitor).Set(float64(depth))
}

// SetServiceQueueLength reports a GCache service-thread queue's current
// length ("last_applied", "release", or "delete").
func SetServiceQueueLength(queue string, length int) {
	serviceQueueLength.WithLabelValues(queue).Set(float64(length))
}
