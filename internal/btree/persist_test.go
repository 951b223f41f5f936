package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

func openTestStore(t *testing.T) *page.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.pages")
	s, err := page.Open(path, 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTree_FlushOpen_RoundTripsSmallTree(t *testing.T) {
	store := openTestStore(t)
	tr := New()
	for i := 0; i < 10; i++ {
		tr.Insert(types.IntKey(i), int64(i*10))
	}

	metaID, err := tr.Flush(store)
	require.NoError(t, err)

	reopened, err := Open(store, metaID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ptr, ok := reopened.Search(types.IntKey(i))
		require.True(t, ok)
		assert.Equal(t, int64(i*10), ptr)
	}
	assert.Equal(t, 10, reopened.Len())
}

func TestTree_FlushOpen_RoundTripsAcrossSplits(t *testing.T) {
	store := openTestStore(t)
	tr := New()
	for i := 0; i < 500; i++ {
		tr.Insert(types.IntKey(i), int64(i))
	}
	wantHeight := tr.Height()

	metaID, err := tr.Flush(store)
	require.NoError(t, err)

	reopened, err := Open(store, metaID)
	require.NoError(t, err)

	assert.Equal(t, wantHeight, reopened.Height())
	entries := reopened.RangeScan(nil, nil)
	require.Len(t, entries, 500)
	for i, e := range entries {
		assert.Equal(t, 0, e.Key.Compare(types.IntKey(i)))
		assert.Equal(t, int64(i), e.Ptr)
	}
}

func TestTree_Flush_ReusesPageIDsOnSecondFlush(t *testing.T) {
	store := openTestStore(t)
	tr := New()
	tr.Insert(types.IntKey(1), 100)

	metaID1, err := tr.Flush(store)
	require.NoError(t, err)

	tr.Insert(types.IntKey(2), 200)
	metaID2, err := tr.Flush(store)
	require.NoError(t, err)

	assert.Equal(t, metaID1, metaID2)

	reopened, err := Open(store, metaID2)
	require.NoError(t, err)
	_, ok := reopened.Search(types.IntKey(2))
	assert.True(t, ok)
}

func TestTree_RangeScan_IsInclusiveBothEnds(t *testing.T) {
	tr := New()
	for i := 0; i < 20; i++ {
		tr.Insert(types.IntKey(i), int64(i))
	}
	entries := tr.RangeScan(types.IntKey(5), types.IntKey(10))
	require.Len(t, entries, 6)
	assert.Equal(t, 0, entries[0].Key.Compare(types.IntKey(5)))
	assert.Equal(t, 0, entries[len(entries)-1].Key.Compare(types.IntKey(10)))
}

func TestTree_Upsert_ReportsInsertedVsOverwritten(t *testing.T) {
	tr := New()
	assert.True(t, tr.Upsert(types.IntKey(1), 10))
	assert.False(t, tr.Upsert(types.IntKey(1), 20))

	ptr, ok := tr.Search(types.IntKey(1))
	require.True(t, ok)
	assert.Equal(t, int64(20), ptr)
}

func TestTree_Height_GrowsAfterEnoughSplits(t *testing.T) {
	tr := New()
	assert.Equal(t, 1, tr.Height())
	for i := 0; i < 500; i++ {
		tr.Insert(types.IntKey(i), int64(i))
	}
	assert.Greater(t, tr.Height(), 1)
}

func TestTree_VarcharKeys_FlushOpenRoundTrip(t *testing.T) {
	store := openTestStore(t)
	tr := NewUnique()
	words := []string{"delta", "alpha", "charlie", "bravo"}
	for i, w := range words {
		tr.Insert(types.VarcharKey(w), int64(i))
	}

	metaID, err := tr.Flush(store)
	require.NoError(t, err)

	reopened, err := Open(store, metaID)
	require.NoError(t, err)
	for i, w := range words {
		ptr, ok := reopened.Search(types.VarcharKey(w))
		require.True(t, ok)
		assert.Equal(t, int64(i), ptr)
	}
}
