// Package wal implements the write-ahead log: LSN assignment, segment
// rotation, group commit and the ARIES record taxonomy that
// internal/recovery replays.
package wal

import "encoding/binary"

// HeaderSize is the fixed on-disk record header length, extended from the
// teacher's 24-byte WAL header with the fields strict 2PL / ARIES
// recovery need: a transaction id and the transaction's previous LSN
// (forming the per-transaction undo chain).
const HeaderSize = 40

const Magic uint32 = 0xDEADBEEF

// RecordType enumerates every WAL record kind the specification names.
// Insert/Update/Delete carry row-level before/after images; Begin/Commit/
// Abort bracket a transaction; CLR is a compensation log record written
// during undo; the Checkpoint/Savepoint records support fuzzy checkpoints
// and partial rollback respectively.
type RecordType uint8

const (
	RecordInsert RecordType = iota + 1
	RecordUpdate
	RecordDelete
	RecordBegin
	RecordCommit
	RecordAbort
	RecordCLR
	RecordCheckpointBegin
	RecordCheckpointEnd
	RecordSavepoint
	RecordRollbackToSavepoint
	RecordReleaseSavepoint
)

// Header is the fixed prefix of every record.
type Header struct {
	Magic      uint32
	Type       RecordType
	TxID       uint64
	LSN        uint64
	PrevLSN    uint64 // previous LSN written by the same transaction, 0 if none
	PayloadLen uint32
	CRC32      uint32
}

// Record is one full WAL entry: header plus opaque payload bytes. The
// payload format is record-type specific; row-level payloads are owned by
// internal/engine (a length-prefixed table name, before-image and
// after-image).
type Record struct {
	Header  Header
	Payload []byte
}

func (h *Header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = byte(h.Type)
	binary.LittleEndian.PutUint64(buf[8:16], h.TxID)
	binary.LittleEndian.PutUint64(buf[16:24], h.LSN)
	binary.LittleEndian.PutUint64(buf[24:32], h.PrevLSN)
	binary.LittleEndian.PutUint32(buf[32:36], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[36:40], h.CRC32)
}

func (h *Header) decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Type = RecordType(buf[4])
	h.TxID = binary.LittleEndian.Uint64(buf[8:16])
	h.LSN = binary.LittleEndian.Uint64(buf[16:24])
	h.PrevLSN = binary.LittleEndian.Uint64(buf[24:32])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[32:36])
	h.CRC32 = binary.LittleEndian.Uint32(buf[36:40])
}

func (r *Record) encodedLen() int {
	return HeaderSize + len(r.Payload)
}
