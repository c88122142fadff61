package loader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cachegrid/rowcache/pkg/source"
	"github.com/cachegrid/rowcache/pkg/table"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestReloadFetchHit(t *testing.T) {
	dir := t.TempDir()
	src := source.NewBoltSource(filepath.Join(dir, "test.db"))
	require.NoError(t, src.Connect(context.Background()))
	defer src.Disconnect(context.Background())

	require.NoError(t, src.Seed("widgets", "1", map[string]*string{
		"id":   strp("42"),
		"name": strp("alpha"),
	}))

	tbl := table.New(1, "widgets", 5*time.Second, []table.IndexConfig{
		{ID: 0, Column: "id", Type: table.IndexTypeInt},
	})

	err := Reload(context.Background(), tbl, src, Options{
		Descriptor: source.TableDescriptor{Name: "widgets"},
	})
	require.NoError(t, err)

	snap := tbl.Current()
	key := []byte{42, 0, 0, 0}
	res, ok := snap.Indexes[0].Lookup(key)
	require.True(t, ok)
	require.Contains(t, string(res.Frame), `"alpha"`)
}

// TestReloadKeyEncodingMatchesWireScenario pins the int key encoding to
// the literal bytes from the protocol's end-to-end fetch scenarios: a
// client fetching id 42 sends key bytes `2A 00 00 00`, and a client
// fetching absent id 43 sends `2B 00 00 00`.
func TestReloadKeyEncodingMatchesWireScenario(t *testing.T) {
	dir := t.TempDir()
	src := source.NewBoltSource(filepath.Join(dir, "test.db"))
	require.NoError(t, src.Connect(context.Background()))
	defer src.Disconnect(context.Background())

	require.NoError(t, src.Seed("widgets", "1", map[string]*string{
		"id":   strp("42"),
		"name": strp("alpha"),
	}))

	tbl := table.New(1, "widgets", 5*time.Second, []table.IndexConfig{
		{ID: 0, Column: "id", Type: table.IndexTypeInt},
	})
	require.NoError(t, Reload(context.Background(), tbl, src, Options{
		Descriptor: source.TableDescriptor{Name: "widgets"},
	}))

	snap := tbl.Current()

	hitKey := []byte{0x2A, 0x00, 0x00, 0x00}
	res, ok := snap.Indexes[0].Lookup(hitKey)
	require.True(t, ok)
	require.Equal(t, `{"id":42,"name":"alpha"}`, string(res.Frame[4:]))

	missKey := []byte{0x2B, 0x00, 0x00, 0x00}
	_, ok = snap.Indexes[0].Lookup(missKey)
	require.False(t, ok)
}

// TestReloadReusesIdleArena asserts the loader resets and reuses the
// idle slot's existing arena across reloads instead of allocating a
// fresh one, so the amortized-doubling capacity survives reload cycles.
func TestReloadReusesIdleArena(t *testing.T) {
	dir := t.TempDir()
	src := source.NewBoltSource(filepath.Join(dir, "test.db"))
	require.NoError(t, src.Connect(context.Background()))
	defer src.Disconnect(context.Background())

	require.NoError(t, src.Seed("widgets", "1", map[string]*string{
		"id":   strp("42"),
		"name": strp("alpha"),
	}))

	tbl := table.New(1, "widgets", 5*time.Second, []table.IndexConfig{
		{ID: 0, Column: "id", Type: table.IndexTypeInt},
	})

	idleBefore := tbl.IdleSnapshot().Arena
	require.NoError(t, Reload(context.Background(), tbl, src, Options{
		Descriptor: source.TableDescriptor{Name: "widgets"},
	}))
	// the slot that was idle before this reload is now current; its
	// arena object must be the same one the reload reset and reused.
	require.Same(t, idleBefore, tbl.Current().Arena)

	idleBefore = tbl.IdleSnapshot().Arena
	require.NoError(t, Reload(context.Background(), tbl, src, Options{
		Descriptor: source.TableDescriptor{Name: "widgets"},
	}))
	require.Same(t, idleBefore, tbl.Current().Arena)
}

func TestReloadKeepsOldSnapshotOnAdapterError(t *testing.T) {
	tbl := table.New(1, "widgets", 5*time.Second, []table.IndexConfig{
		{ID: 0, Column: "id", Type: table.IndexTypeInt},
	})
	before := tbl.Current()

	failing := failingAdapter{}
	err := Reload(context.Background(), tbl, failing, Options{
		Descriptor: source.TableDescriptor{Name: "widgets"},
	})
	require.Error(t, err)
	require.Same(t, before, tbl.Current())
}

type failingAdapter struct{}

func (failingAdapter) Connect(ctx context.Context) error    { return nil }
func (failingAdapter) Disconnect(ctx context.Context) error { return nil }
func (failingAdapter) CountRows(ctx context.Context, desc source.TableDescriptor) (uint64, error) {
	return 0, assertErr
}
func (failingAdapter) IterateRows(ctx context.Context, desc source.TableDescriptor, emit source.RowEmitter) error {
	return assertErr
}

var assertErr = errOf("adapter unavailable")

type errOf string

func (e errOf) Error() string { return string(e) }
