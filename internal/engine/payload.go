package engine

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

// WAL payloads for row-level records carry enough information for both
// redo (apply the after-image) and undo (apply the before-image, or
// delete an inserted row): a length-prefixed table name, then a
// length-prefixed before-image bson document (empty for Insert) and a
// length-prefixed after-image bson document (empty for Delete).

func encodeInsertPayload(table string, after Row) []byte {
	return encodeRowPayload(table, nil, after)
}

func encodeDeletePayload(table string, before Row) []byte {
	return encodeRowPayload(table, before, nil)
}

func encodeUpdatePayload(table string, before, after Row) []byte {
	return encodeRowPayload(table, before, after)
}

func encodeRowPayload(table string, before, after Row) []byte {
	var beforeBytes, afterBytes []byte
	if before != nil {
		beforeBytes, _ = bson.Marshal(before)
	}
	if after != nil {
		afterBytes, _ = bson.Marshal(after)
	}

	buf := make([]byte, 0, 4+len(table)+4+len(beforeBytes)+4+len(afterBytes))
	buf = appendLenPrefixed(buf, []byte(table))
	buf = appendLenPrefixed(buf, beforeBytes)
	buf = appendLenPrefixed(buf, afterBytes)
	return buf
}

func appendLenPrefixed(dst, v []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, v...)
}

func decodeRowPayload(payload []byte) (table string, before, after Row, err error) {
	off := 0
	read := func() ([]byte, error) {
		if off+4 > len(payload) {
			return nil, errShortPayload
		}
		n := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		if off+int(n) > len(payload) {
			return nil, errShortPayload
		}
		v := payload[off : off+int(n)]
		off += int(n)
		return v, nil
	}
	tableBytes, err := read()
	if err != nil {
		return "", nil, nil, err
	}
	beforeBytes, err := read()
	if err != nil {
		return "", nil, nil, err
	}
	afterBytes, err := read()
	if err != nil {
		return "", nil, nil, err
	}
	table = string(tableBytes)
	if len(beforeBytes) > 0 {
		before = Row{}
		if err := bson.Unmarshal(beforeBytes, &before); err != nil {
			return "", nil, nil, err
		}
	}
	if len(afterBytes) > 0 {
		after = Row{}
		if err := bson.Unmarshal(afterBytes, &after); err != nil {
			return "", nil, nil, err
		}
	}
	return table, before, after, nil
}

type payloadError string

func (e payloadError) Error() string { return string(e) }

const errShortPayload = payloadError("engine: short wal payload")

// ApplyRedo is the recovery.ApplyFunc for this engine. Redo here is
// logical, not physical: Insert/Update records are replayed by appending
// the after-image to the named table's heap again (bypassing lock and
// foreign-key checks, which only apply to live DML) and reinstalling the
// row's entry in the table's primary-key index (secondary indexes are not
// touched), rather than writing back to the exact original page offset.
// No page-LSN check is made, so every replay appends again. This is safe
// because recovery runs before the engine accepts any new connections,
// so there's no concurrent reader to see the transient duplicate, and the
// index rebuild makes the new location authoritative. Delete records
// remove the row's key from the primary-key index, leaving its heap bytes
// in place; a CLR carrying a delete image is skipped.
func (e *Engine) ApplyRedo(rec *wal.Record) (page.ID, error) {
	table, before, after, err := decodeRowPayload(rec.Payload)
	if err != nil {
		return 0, err
	}
	if after == nil {
		if before == nil || rec.Header.Type == wal.RecordCLR {
			return 0, nil
		}
		t, terr := e.table(table)
		if terr != nil {
			return 0, terr
		}
		pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
		t.PK.Delete(keyFor(pkCol, before[t.Schema.PrimaryKey]))
		return 0, nil
	}
	t, terr := e.table(table)
	if terr != nil {
		return 0, terr
	}
	ptr, err := t.Heap.Put(after)
	if err != nil {
		return 0, err
	}
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	t.PK.Insert(keyFor(pkCol, after[t.Schema.PrimaryKey]), int64(ptr))
	id, _ := ptr.split()
	return id, nil
}

// ApplyUndo is the recovery.UndoFunc / explicit-rollback inverse: it
// restores the before-image (or removes an inserted row when there is no
// before-image) and writes a CLR so undo itself never needs to be undone
// again on a repeated crash.
func (e *Engine) ApplyUndo(rec *wal.Record, writer *wal.Writer) error {
	table, before, _, err := decodeRowPayload(rec.Payload)
	if err != nil {
		return err
	}
	t, terr := e.table(table)
	if terr != nil {
		return terr
	}
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)

	if before == nil {
		// This was an Insert: undo removes it, if still present.
		_, _, after, _ := decodeRowPayload(rec.Payload)
		if after != nil {
			t.PK.Delete(keyFor(pkCol, after[t.Schema.PrimaryKey]))
		}
	} else {
		ptr, perr := t.Heap.Put(before)
		if perr != nil {
			return perr
		}
		t.PK.Insert(keyFor(pkCol, before[t.Schema.PrimaryKey]), int64(ptr))
	}

	_, err = writer.Append(&wal.Record{
		Header:  wal.Header{Type: wal.RecordCLR, TxID: rec.Header.TxID, PrevLSN: rec.Header.PrevLSN},
		Payload: rec.Payload,
	})
	return err
}
