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
	storeerrors "github.com/neuroquantum/storage-engine/pkg/errors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := page.Open(filepath.Join(t.TempDir(), "data.pages"), 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return New(store, w, time.Second)
}

func usersSchema() Schema {
	return Schema{
		Table:      "users",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "name", Type: TypeVarchar},
		},
	}
}

func TestCreateTable_RejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	err := e.CreateTable(usersSchema())
	var exists *storeerrors.TableExistsError
	assert.ErrorAs(t, err, &exists)
}

func TestInsertGet_RoundTrips(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))
	require.NoError(t, e.Commit(tx))

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e.Get(tx2, "users", 1)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	assert.Equal(t, "ada", row["name"])
}

func TestInsert_RejectsDuplicatePrimaryKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))

	err = e.Insert(tx, "users", Row{"id": 1, "name": "grace"})
	var dup *storeerrors.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
	require.NoError(t, e.Rollback(tx))
}

func TestDelete_RemovesRow(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))
	require.NoError(t, e.Delete(tx, "users", 1))
	require.NoError(t, e.Commit(tx))

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e.Get(tx2, "users", 1)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))
	assert.Nil(t, row)
}

func TestInsert_RejectsDanglingForeignKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	postsSchema := Schema{
		Table:      "posts",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "author_id", Type: TypeInt},
		},
		ForeignKeys: []ForeignKey{
			{Name: "fk_author", Column: "author_id", RefTable: "users", RefColumn: "id", OnDelete: Cascade},
		},
	}
	require.NoError(t, e.CreateTable(postsSchema))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))
	require.NoError(t, e.Insert(tx, "posts", Row{"id": 10, "author_id": 1}))
	require.NoError(t, e.Commit(tx))

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	err = e.Insert(tx2, "posts", Row{"id": 11, "author_id": 999})
	var fkErr *storeerrors.ForeignKeyViolationError
	assert.ErrorAs(t, err, &fkErr)
	require.NoError(t, e.Rollback(tx2))
}

func TestScan_ReturnsRowsInPrimaryKeyOrder(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 3, "name": "c"}))
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "a"}))
	require.NoError(t, e.Insert(tx, "users", Row{"id": 2, "name": "b"}))
	require.NoError(t, e.Commit(tx))

	cur, err := e.Scan("users", nil)
	require.NoError(t, err)
	defer cur.Close()

	var keys []interface{}
	for {
		key, _, ok := cur.Next()
		if !ok {
			break
		}
		keys = append(keys, key)
	}
	assert.Len(t, keys, 3)
}
