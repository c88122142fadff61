package metrics

import (
	"strconv"
	"time"

	"github.com/cachegrid/rowcache/pkg/table"
)

// Collector periodically samples every configured table's snapshot
// stats into the registered gauges. It runs on its own ticker,
// independent of the reload scheduler, so metrics reflect whatever
// snapshot is currently live even between reloads.
type Collector struct {
	registry *table.Registry
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector over the given table registry.
func NewCollector(registry *table.Registry) *Collector {
	return &Collector{
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling at the given interval, collecting immediately
// on start.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, t := range c.registry.All() {
		snap := t.Current()
		ArenaBytesUsed.WithLabelValues(t.Name).Set(float64(snap.Arena.Used()))
		ArenaBytesCapacity.WithLabelValues(t.Name).Set(float64(snap.Arena.Capacity()))

		for i, idx := range snap.Indexes {
			cfg := t.Indexes[i]
			label := indexLabel(cfg.Column, cfg.ID)
			// Used and Capacity are fixed once the snapshot is published;
			// Stats() would also read the serving thread's lookup counters.
			used, capacity := idx.Used(), idx.Capacity()
			HashIndexEntries.WithLabelValues(t.Name, label).Set(float64(used))
			HashIndexCapacity.WithLabelValues(t.Name, label).Set(float64(capacity))
			HashIndexLoadFactor.WithLabelValues(t.Name, label).Set(float64(used) / float64(capacity))
		}
	}
}

func indexLabel(column string, id byte) string {
	if column != "" {
		return column
	}
	return strconv.Itoa(int(id))
}
