package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndResolve(t *testing.T) {
	a := Build(16)
	off := a.Store([]byte("hello"))
	assert.Equal(t, []byte("hello"), a.Resolve(off, 5))
}

func TestStoreFramedRoundTrip(t *testing.T) {
	a := Build(16)
	off := a.StoreFramed([]byte("alpha"))
	assert.Equal(t, []byte("alpha"), a.ResolveFrame(off))
	assert.Equal(t, 4+5, a.Used())
}

func TestGrowthPreservesBytes(t *testing.T) {
	a := Build(16)
	require.Equal(t, 16, a.Capacity())

	off1 := a.Store(make([]byte, 10))
	_ = off1
	off2 := a.Store(make([]byte, 32))

	assert.GreaterOrEqual(t, a.Capacity(), 42)
	assert.Equal(t, make([]byte, 32), a.Resolve(off2, 32))
}

func TestResetKeepsCapacity(t *testing.T) {
	a := Build(16)
	a.Store(make([]byte, 64))
	cap1 := a.Capacity()

	a.Reset()

	assert.Equal(t, 0, a.Used())
	assert.Equal(t, cap1, a.Capacity())
}

func TestResolveOutOfRangePanics(t *testing.T) {
	a := Build(16)
	a.Store([]byte("x"))
	assert.Panics(t, func() {
		a.Resolve(0, 100)
	})
}

func TestMultipleStoresStableOffsets(t *testing.T) {
	a := Build(4)
	offs := make([]Offset, 0, 20)
	for i := 0; i < 20; i++ {
		offs = append(offs, a.Store([]byte{byte(i)}))
	}
	for i, off := range offs {
		assert.Equal(t, []byte{byte(i)}, a.Resolve(off, 1))
	}
}
