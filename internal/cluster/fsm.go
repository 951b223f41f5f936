package cluster

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/neuroquantum/storage-engine/internal/engine"
	"github.com/neuroquantum/storage-engine/internal/txn"
)

// Command is the replicated log entry format, mirroring the
// Op-string-plus-raw-payload shape of cuemby-warren's pkg/manager/fsm.go
// WarrenFSM.Apply switch.
type Command struct {
	Op    string          `json:"op"`
	Table string          `json:"table,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// FSM replays committed commands against the local row engine, making
// every voting member's data converge on the same state Raft agreed on.
type FSM struct {
	mu  sync.Mutex
	eng *engine.Engine
}

// NewFSM wraps an engine as a raft.FSM.
func NewFSM(eng *engine.Engine) *FSM {
	return &FSM{eng: eng}
}

// Apply decodes and replays one committed log entry.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.eng.Begin(txn.ReadCommitted)
	if err != nil {
		return err
	}

	switch cmd.Op {
	case OpInsert:
		var row engine.Row
		if err := json.Unmarshal(cmd.Data, &row); err != nil {
			f.eng.Rollback(tx)
			return err
		}
		if err := f.eng.Insert(tx, cmd.Table, row); err != nil {
			f.eng.Rollback(tx)
			return err
		}
	case OpDelete:
		var pk interface{}
		if err := json.Unmarshal(cmd.Data, &pk); err != nil {
			f.eng.Rollback(tx)
			return err
		}
		if err := f.eng.Delete(tx, cmd.Table, pk); err != nil {
			f.eng.Rollback(tx)
			return err
		}
	}
	return f.eng.Commit(tx)
}

// Snapshot is unimplemented at the FSM layer: the engine's own page store
// and WAL already provide a consistent on-disk snapshot via
// internal/backup, so Raft snapshotting here only needs to mark that the
// log can be truncated up to the applied index; see the snapshot type
// below.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{}, nil
}

// Restore is a no-op for the same reason: a restored node recovers its
// state from internal/backup + internal/recovery, not from a raft
// snapshot blob.
func (f *FSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type snapshot struct{}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (s *snapshot) Release() {}
