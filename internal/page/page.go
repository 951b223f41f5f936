// Package page implements the fixed-size page store: the lowest layer of
// the engine, on top of which the WAL, B+Tree and row engine are built.
package page

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Size is the fixed page size in bytes. Every file the store manages is a
// sequence of Size-byte slots, addressed by ID (slot index).
const Size = 4096

// headerLen is the on-page header: Magic(4) LSN(8) Checksum(8) Kind(1)
// FreeOffset(2) Reserved(1).
const headerLen = 24

// DataSize is the usable payload length within a page, after the header.
const DataSize = Size - headerLen

const magic uint32 = 0x50474530 // "PGE0"

// Kind identifies the payload layout stored in a page.
type Kind uint8

const (
	KindFree Kind = iota
	KindBTreeLeaf
	KindBTreeInternal
	KindHeapData
	KindMeta
)

// ID addresses a page within a file by its slot index.
type ID uint64

// Page is an in-memory mutable view of one on-disk slot. The LSN field
// implements the WAL's write-ahead rule: a page must not be flushed to
// disk before the WAL record with the same LSN has been durably written.
type Page struct {
	ID         ID
	LSN        uint64
	Kind       Kind
	FreeOffset uint16
	Data       [DataSize]byte
}

// New returns a zeroed page ready to receive a payload.
func New(id ID, kind Kind) *Page {
	return &Page{ID: id, Kind: kind}
}

// Checksum computes the xxhash64 checksum over the header (excluding the
// checksum field itself) and the payload.
func (p *Page) Checksum() uint64 {
	var buf [headerLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint64(buf[4:12], p.LSN)
	buf[20] = byte(p.Kind)
	binary.LittleEndian.PutUint16(buf[21:23], p.FreeOffset)

	h := xxhash.New()
	h.Write(buf[:12])
	h.Write(buf[20:headerLen])
	h.Write(p.Data[:])
	return h.Sum64()
}

// Marshal serializes the page into a caller-supplied Size-byte buffer.
func (p *Page) Marshal(buf []byte) {
	if len(buf) != Size {
		panic("page: buffer must be exactly Size bytes")
	}
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint64(buf[4:12], p.LSN)
	binary.LittleEndian.PutUint64(buf[12:20], p.Checksum())
	buf[20] = byte(p.Kind)
	binary.LittleEndian.PutUint16(buf[21:23], p.FreeOffset)
	copy(buf[headerLen:], p.Data[:])
}

// Unmarshal parses a Size-byte buffer into p, verifying magic and checksum.
func (p *Page) Unmarshal(id ID, buf []byte) error {
	if len(buf) != Size {
		return &ShortReadError{PageID: id}
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return &CorruptPageError{PageID: id, Reason: "bad magic"}
	}
	p.ID = id
	p.LSN = binary.LittleEndian.Uint64(buf[4:12])
	wantSum := binary.LittleEndian.Uint64(buf[12:20])
	p.Kind = Kind(buf[20])
	p.FreeOffset = binary.LittleEndian.Uint16(buf[21:23])
	copy(p.Data[:], buf[headerLen:])
	if p.Checksum() != wantSum {
		return &ChecksumError{PageID: id}
	}
	return nil
}

// ShortReadError, CorruptPageError and ChecksumError are the errors
// Unmarshal returns. Store.Fetch turns a ChecksumError into pkg/errors'
// PageChecksumError (which keeps page ids out of its default Error()
// string) and returns the other two unchanged.
type ShortReadError struct{ PageID ID }

func (e *ShortReadError) Error() string { return "page: short read" }

type CorruptPageError struct {
	PageID ID
	Reason string
}

func (e *CorruptPageError) Error() string { return "page: corrupt: " + e.Reason }

type ChecksumError struct{ PageID ID }

func (e *ChecksumError) Error() string { return "page: checksum mismatch" }
