package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/txn"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

func TestCheckpoint_WritesCatalogAndTruncatesSegments(t *testing.T) {
	dataDir := t.TempDir()
	walDir := t.TempDir()

	store, err := page.Open(filepath.Join(dataDir, "data.pages"), 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := wal.DefaultOptions(walDir)
	opts.SegmentMaxSize = 512 // force frequent rotation so truncation has something to reclaim
	w, err := wal.NewWriter(opts, wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	e := New(store, w, time.Second)
	require.NoError(t, e.CreateTable(usersSchema()))

	for i := 0; i < 50; i++ {
		tx, err := e.Begin(txn.ReadCommitted)
		require.NoError(t, err)
		require.NoError(t, e.Insert(tx, "users", Row{"id": i, "name": "user"}))
		require.NoError(t, e.Commit(tx))
	}

	lsn, err := e.Checkpoint(dataDir)
	require.NoError(t, err)
	assert.NotZero(t, lsn)

	_, err = readCatalogFile(dataDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(walDir, "00000000.wal"))
	assert.True(t, os.IsNotExist(err), "oldest segment should have been truncated")
}

func TestCheckpoint_KeepsSegmentsForActiveTransaction(t *testing.T) {
	dataDir := t.TempDir()
	walDir := t.TempDir()

	store, err := page.Open(filepath.Join(dataDir, "data.pages"), 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := wal.DefaultOptions(walDir)
	opts.SegmentMaxSize = 512
	opts.MinSegmentsToKeep = 1
	w, err := wal.NewWriter(opts, wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	e := New(store, w, time.Second)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		tx2, err := e.Begin(txn.ReadCommitted)
		require.NoError(t, err)
		require.NoError(t, e.Insert(tx2, "users", Row{"id": i, "name": "user"}))
		require.NoError(t, e.Commit(tx2))
	}

	lsn, err := e.Checkpoint(dataDir)
	require.NoError(t, err)
	assert.NotZero(t, lsn)

	_, err = os.Stat(filepath.Join(walDir, "00000000.wal"))
	assert.NoError(t, err, "segment holding the active transaction's Begin record must be kept")
	require.NoError(t, e.Commit(tx))
}

func readCatalogFile(dir string) ([]byte, error) {
	return os.ReadFile(filepath.Join(dir, catalogFile))
}
