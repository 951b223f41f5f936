package engine

import (
	"encoding/binary"
	"sort"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

// Checkpoint takes a fuzzy checkpoint: it records the active-transaction
// table and dirty-page table as of the instant CheckpointBegin is
// written (transactions may keep running and pages may keep getting
// dirtied while the checkpoint itself is in flight — "fuzzy" means the
// checkpoint never blocks writers), flushes the schema catalogue and
// every index to dataDir, writes CheckpointEnd, and truncates WAL
// segments recovery will never need again: anything entirely below the
// oldest still-active transaction's Begin record, or below the
// checkpoint itself if nothing was active.
func (e *Engine) Checkpoint(dataDir string) (uint64, error) {
	active := e.txns.Active()

	activeTable := make(map[uint64]uint64, len(active))
	safeLSN := e.log.CurrentLSN()
	for _, tx := range active {
		activeTable[tx.ID] = tx.LastLSN()
		if begin := tx.BeginLSN(); begin < safeLSN {
			safeLSN = begin
		}
	}

	dirtyPages := e.store.DirtyPageIDs()

	beginLSN, err := e.log.Append(&wal.Record{
		Header:  wal.Header{Type: wal.RecordCheckpointBegin},
		Payload: encodeCheckpointPayload(activeTable, dirtyPages),
	})
	if err != nil {
		return 0, err
	}

	if err := e.SaveCatalog(dataDir); err != nil {
		return 0, err
	}

	if _, err := e.log.Append(&wal.Record{
		Header: wal.Header{Type: wal.RecordCheckpointEnd, PrevLSN: beginLSN},
	}); err != nil {
		return 0, err
	}
	if err := e.log.Sync(); err != nil {
		return 0, err
	}

	if len(active) == 0 {
		safeLSN = beginLSN
	}
	if err := e.log.TruncateBefore(safeLSN); err != nil {
		return 0, err
	}
	return beginLSN, nil
}

// Checkpoint payload layout: activeCount(4) { txID(8) lastLSN(8) }* ,
// dirtyCount(4) { pageID(8) }*. Both lists are written in ascending id
// order so the encoding is deterministic despite coming from maps.
func encodeCheckpointPayload(active map[uint64]uint64, dirty []page.ID) []byte {
	txIDs := make([]uint64, 0, len(active))
	for id := range active {
		txIDs = append(txIDs, id)
	}
	sort.Slice(txIDs, func(i, j int) bool { return txIDs[i] < txIDs[j] })

	dirtyIDs := append([]page.ID(nil), dirty...)
	sort.Slice(dirtyIDs, func(i, j int) bool { return dirtyIDs[i] < dirtyIDs[j] })

	buf := make([]byte, 0, 4+16*len(txIDs)+4+8*len(dirtyIDs))
	var u32, u64a, u64b [8]byte
	binary.BigEndian.PutUint32(u32[:4], uint32(len(txIDs)))
	buf = append(buf, u32[:4]...)
	for _, id := range txIDs {
		binary.BigEndian.PutUint64(u64a[:], id)
		binary.BigEndian.PutUint64(u64b[:], active[id])
		buf = append(buf, u64a[:]...)
		buf = append(buf, u64b[:]...)
	}

	binary.BigEndian.PutUint32(u32[:4], uint32(len(dirtyIDs)))
	buf = append(buf, u32[:4]...)
	for _, id := range dirtyIDs {
		binary.BigEndian.PutUint64(u64a[:], uint64(id))
		buf = append(buf, u64a[:]...)
	}
	return buf
}
