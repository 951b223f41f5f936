// Package recovery implements ARIES crash recovery: analysis, redo and
// undo, ported from the three-phase structure of
// neuroquantum-core/src/storage/wal/recovery.rs.
package recovery

import (
	"io"
	"time"

	"github.com/neuroquantum/storage-engine/internal/metrics"
	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/wal"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// Stats mirrors RecoveryStats from the original recovery module.
type Stats struct {
	RecordsAnalyzed       int
	RedoOperations        int
	UndoOperations        int
	TransactionsCommitted int
	TransactionsAborted   int
	RecoveryTimeMS        int64
	CheckpointLSN         uint64
}

// AnalysisResult is the output of the analysis pass: which transactions
// were active, committed or aborted at crash time, which pages were
// dirty, and where the log scan should start redoing from.
type AnalysisResult struct {
	ActiveTxns    map[uint64]uint64 // txID -> last LSN seen
	CommittedTxns map[uint64]bool
	AbortedTxns   map[uint64]bool
	DirtyPages    map[page.ID]uint64 // page -> recLSN (earliest LSN that could have dirtied it)
	CheckpointLSN uint64
	TotalRecords  int
}

// TransactionsNeedingUndo returns every transaction that was active
// (neither committed nor aborted) when the crash occurred.
func (a *AnalysisResult) TransactionsNeedingUndo() []uint64 {
	out := make([]uint64, 0, len(a.ActiveTxns))
	for tx := range a.ActiveTxns {
		if !a.CommittedTxns[tx] && !a.AbortedTxns[tx] {
			out = append(out, tx)
		}
	}
	return out
}

// TransactionsNeedingRedo returns every transaction whose updates must be
// replayed: anything that reached Commit, plus any still-active
// transaction (whose effects must be applied before being undone).
func (a *AnalysisResult) TransactionsNeedingRedo() []uint64 {
	out := make([]uint64, 0, len(a.ActiveTxns)+len(a.CommittedTxns))
	seen := make(map[uint64]bool)
	for tx := range a.CommittedTxns {
		out = append(out, tx)
		seen[tx] = true
	}
	for tx := range a.ActiveTxns {
		if !seen[tx] {
			out = append(out, tx)
		}
	}
	return out
}

// PageStore is the subset of page.Store recovery needs to apply redo.
type PageStore interface {
	Fetch(id page.ID) (*page.Page, error)
	Put(p *page.Page)
}

// ApplyFunc decodes an Update/Insert/Delete/CLR payload and applies it to
// the page store, returning the affected page id. Supplied by
// internal/engine, which owns the payload formats.
type ApplyFunc func(store PageStore, rec *wal.Record) (page.ID, error)

// UndoFunc applies the inverse of a record — used both for explicit
// ROLLBACK and crash-time undo — and writes a CLR via the given writer.
type UndoFunc func(store PageStore, rec *wal.Record, writer *wal.Writer) error

// Manager drives the three ARIES phases over a WAL and a page store.
type Manager struct {
	store  PageStore
	apply  ApplyFunc
	undo   UndoFunc
	writer *wal.Writer
}

// NewManager builds a recovery manager bound to a page store and the
// engine's record-specific apply/undo logic.
func NewManager(store PageStore, apply ApplyFunc, undo UndoFunc, writer *wal.Writer) *Manager {
	return &Manager{store: store, apply: apply, undo: undo, writer: writer}
}

// Recover runs analysis, redo and undo against every segment in dir and
// returns the resulting stats.
func (m *Manager) Recover(dir string) (*Stats, error) {
	start := nowFunc()
	analysis, err := m.analysisPhase(dir)
	if err != nil {
		return nil, err
	}
	redoCount, err := m.redoPhase(dir, analysis)
	if err != nil {
		return nil, err
	}
	undoCount, err := m.undoPhase(dir, analysis)
	if err != nil {
		return nil, err
	}

	elapsed := nowFunc().Sub(start)
	metrics.RecoveryDurationSeconds.Observe(elapsed.Seconds())

	return &Stats{
		RecordsAnalyzed:       analysis.TotalRecords,
		RedoOperations:        redoCount,
		UndoOperations:        undoCount,
		TransactionsCommitted: len(analysis.CommittedTxns),
		TransactionsAborted:   len(analysis.AbortedTxns),
		RecoveryTimeMS:        int64(elapsed / time.Millisecond),
		CheckpointLSN:         analysis.CheckpointLSN,
	}, nil
}

var nowFunc = time.Now

// analysisPhase scans the whole log once from its first record,
// reconstructing which transactions were active/committed/aborted and
// noting the LSN of the last CheckpointEnd record it sees. It leaves
// DirtyPages empty, and the checkpoint does not move where redo starts.
func (m *Manager) analysisPhase(dir string) (*AnalysisResult, error) {
	r, err := wal.NewReader(dir)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	res := &AnalysisResult{
		ActiveTxns:    make(map[uint64]uint64),
		CommittedTxns: make(map[uint64]bool),
		AbortedTxns:   make(map[uint64]bool),
		DirtyPages:    make(map[page.ID]uint64),
	}

	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		res.TotalRecords++

		switch rec.Header.Type {
		case wal.RecordBegin:
			res.ActiveTxns[rec.Header.TxID] = rec.Header.LSN
		case wal.RecordCommit:
			res.CommittedTxns[rec.Header.TxID] = true
			res.ActiveTxns[rec.Header.TxID] = rec.Header.LSN
		case wal.RecordAbort:
			res.AbortedTxns[rec.Header.TxID] = true
			res.ActiveTxns[rec.Header.TxID] = rec.Header.LSN
		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete, wal.RecordCLR:
			res.ActiveTxns[rec.Header.TxID] = rec.Header.LSN
		case wal.RecordCheckpointEnd:
			res.CheckpointLSN = rec.Header.LSN
		}
	}
	return res, nil
}

// redoPhase hands every logged change belonging to a transaction that
// needs redo to apply. This phase makes no page-LSN check of its own;
// whether a record the page already reflects is skipped is up to apply
// (the engine's ApplyRedo replays logically and does not check). count
// tracks how many records were handed to apply for a page (pid != 0),
// not how many actually mutated a page.
func (m *Manager) redoPhase(dir string, analysis *AnalysisResult) (int, error) {
	r, err := wal.NewReader(dir)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	needRedo := make(map[uint64]bool)
	for _, tx := range analysis.TransactionsNeedingRedo() {
		needRedo[tx] = true
	}

	count := 0
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		switch rec.Header.Type {
		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete, wal.RecordCLR:
			if !needRedo[rec.Header.TxID] {
				continue
			}
			pid, err := m.apply(m.store, rec)
			if err != nil {
				return count, err
			}
			if pid == 0 {
				continue
			}
			count++
		}
	}
	return count, nil
}

// undoPhase rolls back every transaction that was active but neither
// committed nor aborted at crash time, walking each one's chain from its
// last LSN backward via PrevLSN and writing a CLR per undone record.
func (m *Manager) undoPhase(dir string, analysis *AnalysisResult) (int, error) {
	toUndo := analysis.TransactionsNeedingUndo()
	if len(toUndo) == 0 {
		return 0, nil
	}

	records, err := m.loadAll(dir)
	if err != nil {
		return 0, err
	}
	byLSN := make(map[uint64]*wal.Record, len(records))
	for _, rec := range records {
		byLSN[rec.Header.LSN] = rec
	}

	count := 0
	for _, txID := range toUndo {
		lsn := analysis.ActiveTxns[txID]
		for lsn != 0 {
			rec, ok := byLSN[lsn]
			if !ok {
				return count, &errors.UnundoableRecordError{LSN: lsn}
			}
			if rec.Header.Type == wal.RecordInsert || rec.Header.Type == wal.RecordUpdate || rec.Header.Type == wal.RecordDelete {
				if err := m.undo(m.store, rec, m.writer); err != nil {
					return count, err
				}
				count++
			}
			lsn = rec.Header.PrevLSN
		}
	}
	return count, nil
}

func (m *Manager) loadAll(dir string) ([]*wal.Record, error) {
	r, err := wal.NewReader(dir)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*wal.Record
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
