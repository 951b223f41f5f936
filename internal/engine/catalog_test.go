package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/txn"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

func TestSaveLoadCatalog_RestoresTableAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	storePath := filepath.Join(dataDir, "data.pages")

	store, err := page.Open(storePath, 64, page.SyncNormal)
	require.NoError(t, err)
	w, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)

	e := New(store, w, time.Second)
	require.NoError(t, e.CreateTable(usersSchema()))
	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))
	require.NoError(t, e.Commit(tx))

	require.NoError(t, e.SaveCatalog(dataDir))
	require.NoError(t, w.Close())
	require.NoError(t, store.Close())

	// Reopen everything from disk, simulating a restart.
	store2, err := page.Open(storePath, 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })
	w2, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w2.Close() })

	e2 := New(store2, w2, time.Second)
	require.NoError(t, e2.LoadCatalog(dataDir))

	tx2, err := e2.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e2.Get(tx2, "users", 1)
	require.NoError(t, err)
	require.NoError(t, e2.Commit(tx2))
	assert.Equal(t, "ada", row["name"])
}

func TestLoadCatalog_MissingFileIsNotAnError(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.LoadCatalog(t.TempDir()))
	assert.Empty(t, e.tables)
}

func TestSaveCatalog_PreservesAutoIncrementCounter(t *testing.T) {
	dataDir := t.TempDir()
	storePath := filepath.Join(dataDir, "data.pages")

	store, err := page.Open(storePath, 64, page.SyncNormal)
	require.NoError(t, err)
	w, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)

	e := New(store, w, time.Second)
	schema := Schema{
		Table:      "orders",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeSerial},
		},
	}
	require.NoError(t, e.CreateTable(schema))
	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "orders", Row{}))
	require.NoError(t, e.Insert(tx, "orders", Row{}))
	require.NoError(t, e.Commit(tx))

	require.NoError(t, e.SaveCatalog(dataDir))
	require.NoError(t, w.Close())
	require.NoError(t, store.Close())

	store2, err := page.Open(storePath, 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })
	w2, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w2.Close() })

	e2 := New(store2, w2, time.Second)
	require.NoError(t, e2.LoadCatalog(dataDir))

	tx2, err := e2.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e2.Insert(tx2, "orders", Row{}))
	require.NoError(t, e2.Commit(tx2))

	tx3, err := e2.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e2.Get(tx3, "orders", int64(3))
	require.NoError(t, err)
	require.NoError(t, e2.Commit(tx3))
	require.NotNil(t, row)
}
