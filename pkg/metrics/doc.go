/*
Package metrics defines and registers the cache's Prometheus metrics
and exposes them over HTTP for scraping, alongside the binary
protocol's own on-demand stats action.

# Metrics catalog

rowcache_arena_bytes_used{table}, rowcache_arena_bytes_capacity{table}:
  - Type: Gauge
  - Current snapshot's arena usage and capacity, per table.

rowcache_hash_index_entries{table,index}, rowcache_hash_index_capacity{table,index}:
  - Type: Gauge
  - Bucket occupancy and total bucket count for each configured index.

rowcache_hash_index_load_factor{table,index}:
  - Type: Gauge
  - entries / capacity, sampled at the same cadence as the collector.

rowcache_hash_index_probe_discards_total{table,index}:
  - Type: Counter
  - Registered for lookups that ran past the soft MAX_PROBE bound; no
    code in this repository increments it. Per-index discard counts are
    reported by the wire protocol's stats action instead.

rowcache_connections_active:
  - Type: Gauge
  - Open client connections on the serving event loop.

rowcache_requests_total{action,result}:
  - Type: Counter
  - Dispatched requests by action (fetch/schema/stats/quit) and result
    (hit/miss/error).

rowcache_reload_duration_seconds{table}:
  - Type: Histogram
  - Wall time of one table's reload, start to publish.

rowcache_reloads_total{table,status}:
  - Type: Counter
  - Table reloads by table and status (ok/failed).

Metrics are registered against the default Prometheus registry at
package init. When metrics_addr is configured, the server serves
Handler() at /metrics on that address, independent of the cache's own
wire-protocol stats action.
*/
package metrics
