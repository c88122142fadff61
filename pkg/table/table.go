// Package table owns the dual-slot snapshot swap: each configured
// table keeps two (arena, hash-indexes) pairs and an atomic slot
// selector so a background loader can rebuild the idle slot while
// readers keep serving from the current one.
package table

import (
	"sync/atomic"
	"time"

	"github.com/cachegrid/rowcache/pkg/arena"
	"github.com/cachegrid/rowcache/pkg/hashindex"
)

// IndexType is the wire type of an indexed column.
type IndexType int

const (
	IndexTypeInt IndexType = iota
	IndexTypeString
)

// IndexConfig describes one configured index (secondary key) on a table.
type IndexConfig struct {
	ID     byte
	Column string
	Type   IndexType
}

// Snapshot is one complete (arena, hash_indexes) pair representing one
// refresh cycle. Indexes share the single arena.
type Snapshot struct {
	Arena   *arena.Arena
	Indexes []*hashindex.Index
}

// Stats mirrors the table's last-known load statistics. It is
// non-authoritative: a reader observing a torn update sees, at worst,
// a stale stat value, never an inconsistent snapshot.
type Stats struct {
	LastLoadedEpoch int64
	Rows            int
	MinID           int64
	MaxID           int64
	HasIntStats     bool
}

// Table has stable identity for the lifetime of the process: its id,
// name, refresh period, and index configuration are set once at
// configuration time and never mutated afterward.
type Table struct {
	ID            byte
	Name          string
	RefreshPeriod time.Duration
	Indexes       []IndexConfig

	slots       [2]*Snapshot
	currentSlot atomic.Int32
	stats       atomic.Value // Stats
}

// New constructs a table with both slots holding empty, ready-to-fill
// snapshots sized for the given number of indexes.
func New(id byte, name string, refreshPeriod time.Duration, indexes []IndexConfig) *Table {
	t := &Table{
		ID:            id,
		Name:          name,
		RefreshPeriod: refreshPeriod,
		Indexes:       indexes,
	}
	t.slots[0] = emptySnapshot(len(indexes))
	t.slots[1] = emptySnapshot(len(indexes))
	t.stats.Store(Stats{})
	return t
}

func emptySnapshot(numIndexes int) *Snapshot {
	a := arena.Build(4096)
	idxs := make([]*hashindex.Index, numIndexes)
	for i := range idxs {
		idxs[i] = hashindex.Build(a, 8)
	}
	return &Snapshot{Arena: a, Indexes: idxs}
}

// Current returns the snapshot readers should query, loaded with
// acquire semantics.
func (t *Table) Current() *Snapshot {
	i := t.currentSlot.Load()
	return t.slots[i]
}

// Idle returns the slot the loader may freely rebuild: the one that is
// not current.
func (t *Table) Idle() int {
	return int(1 - t.currentSlot.Load())
}

// IdleSnapshot returns the idle slot's current contents, so the loader
// can reset and reuse its arena across reloads instead of allocating a
// fresh one every cycle.
func (t *Table) IdleSnapshot() *Snapshot {
	return t.slots[t.Idle()]
}

// SetIdleSnapshot replaces the idle slot's contents. Must only be
// called by the single loader thread, and only for the idle index
// (never the current one).
func (t *Table) SetIdleSnapshot(snap *Snapshot) {
	t.slots[t.Idle()] = snap
}

// Publish flips current_slot to the freshly rebuilt idle slot with
// release semantics, making it visible to readers that subsequently
// acquire-load current_slot.
func (t *Table) Publish() {
	t.currentSlot.Store(int32(t.Idle()))
}

// Stats returns the last-published load statistics.
func (t *Table) Stats() Stats {
	return t.stats.Load().(Stats)
}

// SetStats records new load statistics. Called by the loader; may run
// before or after Publish since stats are non-authoritative.
func (t *Table) SetStats(s Stats) {
	t.stats.Store(s)
}

// IndexByID returns the index configuration at position index_id in
// Indexes for a given on-the-wire index_id, or ok=false if out of range.
func (t *Table) IndexByID(indexID byte) (IndexConfig, bool) {
	if int(indexID) >= len(t.Indexes) {
		return IndexConfig{}, false
	}
	return t.Indexes[indexID], true
}
