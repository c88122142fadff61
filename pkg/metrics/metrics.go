package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ArenaBytesUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowcache_arena_bytes_used",
			Help: "Bytes used in the current snapshot's arena, by table",
		},
		[]string{"table"},
	)

	ArenaBytesCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowcache_arena_bytes_capacity",
			Help: "Backing capacity of the current snapshot's arena, by table",
		},
		[]string{"table"},
	)

	HashIndexEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowcache_hash_index_entries",
			Help: "Occupied buckets in the current snapshot's hash index",
		},
		[]string{"table", "index"},
	)

	HashIndexCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowcache_hash_index_capacity",
			Help: "Total bucket count of the current snapshot's hash index",
		},
		[]string{"table", "index"},
	)

	HashIndexLoadFactor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowcache_hash_index_load_factor",
			Help: "Entries / capacity for the current snapshot's hash index",
		},
		[]string{"table", "index"},
	)

	HashIndexProbeDiscardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowcache_hash_index_probe_discards_total",
			Help: "Lookups that exceeded the soft MAX_PROBE bound without resolving",
		},
		[]string{"table", "index"},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rowcache_connections_active",
			Help: "Open client connections on the serving event loop",
		},
	)

	ConnectionsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowcache_connections_accepted_total",
			Help: "Total connections accepted since start",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowcache_requests_total",
			Help: "Dispatched requests by action and result",
		},
		[]string{"action", "result"},
	)

	ReloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowcache_reload_duration_seconds",
			Help:    "Wall time of one table's reload, start to publish",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowcache_reloads_total",
			Help: "Completed reload bursts by table and status",
		},
		[]string{"table", "status"},
	)
)

func init() {
	prometheus.MustRegister(ArenaBytesUsed)
	prometheus.MustRegister(ArenaBytesCapacity)
	prometheus.MustRegister(HashIndexEntries)
	prometheus.MustRegister(HashIndexCapacity)
	prometheus.MustRegister(HashIndexLoadFactor)
	prometheus.MustRegister(HashIndexProbeDiscardsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsAcceptedTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(ReloadDuration)
	prometheus.MustRegister(ReloadsTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
