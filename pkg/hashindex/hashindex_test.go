package hashindex

import (
	"fmt"
	"testing"

	"github.com/cachegrid/rowcache/pkg/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimple(t *testing.T, n int) (*arena.Arena, *Index, []string) {
	t.Helper()
	a := arena.Build(64)
	idx := Build(a, Capacity(n))
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		keys = append(keys, key)
		keyOff := a.Store([]byte(key))
		frameOff := a.StoreFramed([]byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, idx.Insert([]byte(key), keyOff, frameOff, uint32(4+len(fmt.Sprintf("value-%d", i)))))
	}
	idx.Finalize()
	return a, idx, keys
}

func TestInsertLookupHit(t *testing.T) {
	_, idx, keys := buildSimple(t, 10)
	for i, k := range keys {
		res, ok := idx.Lookup([]byte(k))
		require.True(t, ok)
		assert.Contains(t, string(res.Frame), fmt.Sprintf("value-%d", i))
	}
}

func TestLookupMiss(t *testing.T) {
	_, idx, _ := buildSimple(t, 10)
	_, ok := idx.Lookup([]byte("not-present"))
	assert.False(t, ok)
}

func TestHalfCapacityLoadFactor(t *testing.T) {
	n := 64
	_, idx, keys := buildSimple(t, n)
	assert.Equal(t, n, idx.Used())
	assert.Equal(t, idx.Capacity()/2, idx.Used())
	for _, k := range keys {
		_, ok := idx.Lookup([]byte(k))
		assert.True(t, ok)
	}
	_, ok := idx.Lookup([]byte("absent-key"))
	assert.False(t, ok)
}

func TestDuplicateKeyFirstWins(t *testing.T) {
	a := arena.Build(64)
	idx := Build(a, Capacity(2))

	k := []byte("dup")
	off1 := a.Store(k)
	frame1 := a.StoreFramed([]byte("first"))
	require.NoError(t, idx.Insert(k, off1, frame1, uint32(4+5)))

	off2 := a.Store(k)
	frame2 := a.StoreFramed([]byte("second"))
	require.NoError(t, idx.Insert(k, off2, frame2, uint32(4+6)))

	idx.Finalize()

	res, ok := idx.Lookup(k)
	require.True(t, ok)
	assert.Contains(t, string(res.Frame), "first")
}

func TestInsertAfterFinalizeFails(t *testing.T) {
	a := arena.Build(16)
	idx := Build(a, 8)
	idx.Finalize()
	err := idx.Insert([]byte("x"), 0, 0, 5)
	assert.Error(t, err)
}

func TestInsertZeroLengthKeyRejected(t *testing.T) {
	a := arena.Build(16)
	idx := Build(a, 8)
	err := idx.Insert(nil, 0, 0, 5)
	assert.Error(t, err)
}

func TestCapacityIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 3, 7, 100, 1000} {
		c := Capacity(n)
		assert.Equal(t, c&(c-1), 0, "capacity %d for rowCount %d is not a power of two", c, n)
	}
}

func TestStatsProbeHistogramBucketsLookups(t *testing.T) {
	_, idx, keys := buildSimple(t, 10)
	for _, k := range keys {
		_, ok := idx.Lookup([]byte(k))
		require.True(t, ok)
	}
	_, ok := idx.Lookup([]byte("absent-key"))
	assert.False(t, ok)

	st := idx.Stats()
	var total int64
	for _, c := range st.ProbeHistogram {
		total += c
	}
	assert.Equal(t, int64(len(keys)+1), total, "every lookup should land in exactly one bucket")
	assert.Equal(t, int64(len(keys)+1), st.Queries)
}

func TestProbeBucketIsLog2(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 2, 4: 3, 7: 3, 8: 4, 1024: probeHistogramBuckets - 1, 5000: probeHistogramBuckets - 1}
	for steps, want := range cases {
		assert.Equal(t, want, probeBucket(steps), "steps=%d", steps)
	}
}
