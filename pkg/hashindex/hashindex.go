// Package hashindex implements an open-addressed, linear-probing hash
// table keyed on arbitrary byte strings, backed by arena-stored keys and
// framed values. Capacity is always a power of two. During a build,
// buckets hold arena offsets; Finalize converts them to pointer-like
// byte slices exactly once, after which the index is read-only.
package hashindex

import (
	"fmt"
	"math/bits"

	"github.com/cachegrid/rowcache/pkg/arena"
	"github.com/cespare/xxhash/v2"
)

// MaxProbe is the soft bound on probe-chain length used for
// statistics; a violation indicates pathological load factor, not a
// correctness failure.
const MaxProbe = 1024

// probeHistogramBuckets sizes the log2 probe-length histogram: bucket
// 0 holds zero-step lookups, bucket i>0 holds lookups whose probe
// count falls in [2^(i-1), 2^i - 1]. An immediate hit or miss examines
// one bucket and counts as one probe (bucket 1). The last bucket also
// absorbs every count of 1024 (MaxProbe) and above.
const probeHistogramBuckets = 11

// probeBucket maps a probe step count to its histogram bucket.
func probeBucket(steps int) int {
	if steps <= 0 {
		return 0
	}
	b := bits.Len(uint(steps))
	if b >= probeHistogramBuckets {
		b = probeHistogramBuckets - 1
	}
	return b
}

// seed is fixed per index; identical seeds across snapshots are
// acceptable because each index is private to its own snapshot.
const seed uint64 = 0x9E3779B97F4A7C15

// bucket is the hash index's slot. keyRef/frameRef hold arena offsets
// during a build and are reinterpreted as absolute byte slices after
// Finalize.
type bucket struct {
	fullHash uint64
	keyLen   uint32
	keyRef   arena.Offset
	frameLen uint32
	frameRef arena.Offset
}

// Index is a single hash table living in one table snapshot's arena.
type Index struct {
	buckets    []bucket
	mask       uint64
	used       int
	a          *arena.Arena
	finalized  bool
	keyData    [][]byte // populated only after Finalize, parallel to buckets
	frameData  [][]byte
	queries    int64
	probeHist  [probeHistogramBuckets]int64
	discards   int64
}

// recordProbe buckets a completed lookup's probe-chain length into the
// index's probe histogram (spec'd as "the index's probe histogram,
// capped at MAX_PROBE").
func (idx *Index) recordProbe(steps int) {
	idx.probeHist[probeBucket(steps)]++
}

// Hash computes the seeded mixer used for both bucket placement and
// the fast-reject comparison during probing.
func Hash(key []byte) uint64 {
	d := xxhash.New()
	var seedBytes [8]byte
	seedBytes[0] = byte(seed)
	_, _ = d.Write(seedBytes[:1])
	_, _ = d.Write(key)
	return d.Sum64()
}

// nextPow2 returns the smallest power of two >= n, with a floor of 8.
func nextPow2(n int) int {
	p := 8
	for p < n {
		p *= 2
	}
	return p
}

// Capacity returns 2 * next_power_of_two(rowCount), floored at 8, so
// steady-state load factor stays <= 0.5.
func Capacity(rowCount int) int {
	return 2 * nextPow2(rowCount)
}

// Build allocates a new index of the given capacity (rounded up to the
// next power of two) backed by a, which must be the arena shared by the
// table snapshot this index belongs to.
func Build(a *arena.Arena, capacity int) *Index {
	cap := nextPow2(capacity)
	if cap < 8 {
		cap = 8
	}
	return &Index{
		buckets: make([]bucket, cap),
		mask:    uint64(cap - 1),
		a:       a,
	}
}

// Capacity returns the bucket count.
func (idx *Index) Capacity() int { return len(idx.buckets) }

// Used returns the number of occupied buckets.
func (idx *Index) Used() int { return idx.used }

// Insert stores key (already written into the arena at keyOff with
// length len(key)) pointing at a frame at frameOff with length frameLen.
// Duplicate keys are permitted: the first-inserted bucket wins all
// subsequent lookups, matching the expectation that source rows are
// unique per indexed column.
func (idx *Index) Insert(key []byte, keyOff arena.Offset, frameOff arena.Offset, frameLen uint32) error {
	if idx.finalized {
		return fmt.Errorf("hashindex: insert after finalize")
	}
	if len(key) == 0 {
		return fmt.Errorf("hashindex: zero-length key")
	}
	h := Hash(key)
	i := h & idx.mask
	for probes := 0; probes < len(idx.buckets); probes++ {
		b := &idx.buckets[i]
		if b.keyLen == 0 {
			b.fullHash = h
			b.keyLen = uint32(len(key))
			b.keyRef = keyOff
			b.frameLen = frameLen
			b.frameRef = frameOff
			idx.used++
			return nil
		}
		i = (i + 1) & idx.mask
	}
	return fmt.Errorf("hashindex: no empty bucket found (table full)")
}

// Finalize walks all occupied buckets and converts arena offsets into
// resolved byte slices. It must run after the arena has settled for
// this snapshot and before the snapshot is published; it is a hard
// barrier between build and serve.
func (idx *Index) Finalize() {
	if idx.finalized {
		panic("hashindex: finalize called twice")
	}
	idx.keyData = make([][]byte, len(idx.buckets))
	idx.frameData = make([][]byte, len(idx.buckets))
	for i := range idx.buckets {
		b := &idx.buckets[i]
		if b.keyLen == 0 {
			continue
		}
		idx.keyData[i] = idx.a.Resolve(b.keyRef, int(b.keyLen))
		idx.frameData[i] = idx.a.Resolve(b.frameRef, int(b.frameLen))
	}
	idx.finalized = true
}

// Result is a successful lookup's handle into the arena.
type Result struct {
	// Frame is the full frame (len_be(4) || payload) for the hit.
	Frame []byte
}

// Lookup probes for key in a finalized, published index. ok is false
// on a miss. A lookup whose probe chain runs past MaxProbe steps
// counts once as a discard but keeps probing until it finds the key or
// an empty bucket: MaxProbe is a soft-bound statistic, not a cutoff (an
// index that respects the capacity invariant never needs more than
// MaxProbe steps to prove absence).
func (idx *Index) Lookup(key []byte) (Result, bool) {
	idx.queries++
	if len(key) == 0 {
		return Result{}, false
	}
	h := Hash(key)
	i := h & idx.mask
	steps := 0
	for steps < len(idx.buckets) {
		b := &idx.buckets[i]
		if b.keyLen == 0 {
			idx.recordProbe(steps + 1)
			return Result{}, false
		}
		if int(b.keyLen) == len(key) && b.fullHash == h && bytesEqual(idx.keyData[i], key) {
			idx.recordProbe(steps + 1)
			return Result{Frame: idx.frameData[i]}, true
		}
		steps++
		if steps == MaxProbe+1 {
			idx.discards++
		}
		i = (i + 1) & idx.mask
	}
	idx.recordProbe(steps)
	return Result{}, false
}

// Stats reports the counters accumulated by Lookup. It is safe to call
// from the serving thread only (no locking — see package eventloop's
// single-threaded serving model). ProbeHistogram is a log2-bucketed
// distribution of probe-chain lengths across all lookups: bucket 0 is
// zero-step lookups, bucket i>0 covers [2^(i-1), 2^i - 1] steps.
type Stats struct {
	Capacity       int
	Used           int
	Queries        int64
	ProbeHistogram [probeHistogramBuckets]int64
	Discards       int64
	LoadFactor     float64
}

func (idx *Index) Stats() Stats {
	lf := 0.0
	if len(idx.buckets) > 0 {
		lf = float64(idx.used) / float64(len(idx.buckets))
	}
	return Stats{
		Capacity:       len(idx.buckets),
		Used:           idx.used,
		Queries:        idx.queries,
		ProbeHistogram: idx.probeHist,
		Discards:       idx.discards,
		LoadFactor:     lf,
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
