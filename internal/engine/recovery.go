package engine

import (
	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/recovery"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

// RecoveryFuncs adapts Engine's redo/undo logic to the function shapes
// internal/recovery.NewManager expects. The page store argument recovery
// passes through is unused here because redo/undo act at row granularity
// through the engine's own tables rather than raw pages; it is kept in
// the signature so a future physical-redo path can use it directly.
func (e *Engine) RecoveryFuncs() (recovery.ApplyFunc, recovery.UndoFunc) {
	apply := func(_ recovery.PageStore, rec *wal.Record) (page.ID, error) {
		return e.ApplyRedo(rec)
	}
	undo := func(_ recovery.PageStore, rec *wal.Record, writer *wal.Writer) error {
		return e.ApplyUndo(rec, writer)
	}
	return apply, undo
}
