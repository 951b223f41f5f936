package cluster

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/engine"
	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/txn"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

func newTestFSM(t *testing.T) (*FSM, *engine.Engine) {
	t.Helper()
	store, err := page.Open(filepath.Join(t.TempDir(), "data.pages"), 64, page.SyncNormal)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	w, err := wal.NewWriter(wal.DefaultOptions(t.TempDir()), wal.NewLSNTracker(0), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	eng := engine.New(store, w, time.Second)
	require.NoError(t, eng.CreateTable(engine.Schema{
		Table:      "users",
		PrimaryKey: "id",
		Columns: []engine.Column{
			{Name: "id", Type: engine.TypeInt},
			{Name: "name", Type: engine.TypeVarchar},
		},
	}))
	return NewFSM(eng), eng
}

func TestFSM_Apply_Insert(t *testing.T) {
	fsm, eng := newTestFSM(t)

	payload, err := json.Marshal(Command{
		Op:    OpInsert,
		Table: "users",
		Data:  mustJSON(t, engine.Row{"id": 1, "name": "ada"}),
	})
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Data: payload})
	require.NoError(t, asError(result))

	tx, err := eng.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := eng.Get(tx, "users", 1)
	require.NoError(t, err)
	require.NoError(t, eng.Commit(tx))
	assert.Equal(t, "ada", row["name"])
}

func TestFSM_Apply_Delete(t *testing.T) {
	fsm, eng := newTestFSM(t)

	insert, err := json.Marshal(Command{Op: OpInsert, Table: "users", Data: mustJSON(t, engine.Row{"id": 1, "name": "ada"})})
	require.NoError(t, err)
	require.NoError(t, asError(fsm.Apply(&raft.Log{Data: insert})))

	del, err := json.Marshal(Command{Op: OpDelete, Table: "users", Data: mustJSON(t, 1)})
	require.NoError(t, err)
	require.NoError(t, asError(fsm.Apply(&raft.Log{Data: del})))

	tx, err := eng.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := eng.Get(tx, "users", 1)
	require.NoError(t, err)
	require.NoError(t, eng.Commit(tx))
	assert.Nil(t, row)
}

func TestFSM_Apply_InvalidCommandReturnsError(t *testing.T) {
	fsm, _ := newTestFSM(t)
	result := fsm.Apply(&raft.Log{Data: []byte("not json")})
	assert.Error(t, asError(result))
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func asError(v interface{}) error {
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}
