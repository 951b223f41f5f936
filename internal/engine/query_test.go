package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/txn"
)

func seedUsers(t *testing.T, e *Engine, names ...string) {
	t.Helper()
	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	for i, name := range names {
		require.NoError(t, e.Insert(tx, "users", Row{"id": i + 1, "name": name}))
	}
	require.NoError(t, e.Commit(tx))
}

func TestSelect_FiltersByPredicate(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))
	seedUsers(t, e, "ada", "bob", "carol")

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	rows, err := e.Select(tx, "users", func(r Row) bool { return r["name"] == "bob" })
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])
}

func TestSelect_NilPredicateReturnsAllRows(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))
	seedUsers(t, e, "ada", "bob")

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	rows, err := e.Select(tx, "users", nil)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))
	assert.Len(t, rows, 2)
}

func TestUpdate_AppliesMutatorToMatchingRows(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))
	seedUsers(t, e, "ada", "bob", "carol")

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	affected, err := e.Update(tx, "users", func(r Row) bool { return r["name"] == "bob" }, func(r Row) Row {
		r["name"] = "bobby"
		return r
	})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))
	assert.Equal(t, 1, affected)

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e.Get(tx2, "users", 2)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))
	assert.Equal(t, "bobby", row["name"])
}

func TestUpdate_RejectsPrimaryKeyChange(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))
	seedUsers(t, e, "ada")

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	_, err = e.Update(tx, "users", MatchAll, func(r Row) Row {
		r["id"] = 999
		return r
	})
	assert.Error(t, err)
}

func TestDeleteWhere_RemovesMatchingRows(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))
	seedUsers(t, e, "ada", "bob", "carol")

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	affected, err := e.DeleteWhere(tx, "users", func(r Row) bool { return r["name"] != "bob" })
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))
	assert.Equal(t, 2, affected)

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	rows, err := e.Select(tx2, "users", nil)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])
}
