package engine

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// RowPointer addresses a row within the page store: high 48 bits are the
// page id, low 16 bits the byte offset within the page's data area.
type RowPointer int64

func newRowPointer(id page.ID, offset uint16) RowPointer {
	return RowPointer(uint64(id)<<16 | uint64(offset))
}

func (p RowPointer) split() (page.ID, uint16) {
	return page.ID(uint64(p) >> 16), uint16(uint64(p) & 0xffff)
}

// RowHeap stores bson-encoded rows in fixed-size pages appended
// sequentially; a row must fit in a single page (page.DataSize minus a
// 4-byte length prefix). This mirrors the teacher's heap append model
// one layer up, operating over page.Store slots instead of raw file
// offsets.
type RowHeap struct {
	store  *page.Store
	active page.ID
	hasAct bool
}

// NewRowHeap wraps a page store for row storage.
func NewRowHeap(store *page.Store) *RowHeap {
	return &RowHeap{store: store}
}

// Put encodes row as bson and appends it, allocating a new page when the
// active page lacks room, returning the row's pointer.
func (h *RowHeap) Put(row Row) (RowPointer, error) {
	data, err := bson.Marshal(row)
	if err != nil {
		return 0, &errors.WalIoError{Cause: err}
	}
	need := 4 + len(data)
	if need > page.DataSize {
		return 0, &errors.CorruptRecordError{Reason: "row exceeds page size"}
	}

	var p *page.Page
	var err2 error
	if h.hasAct {
		p, err2 = h.store.Fetch(h.active)
		if err2 != nil {
			return 0, err2
		}
	}
	if !h.hasAct || int(p.FreeOffset)+need > len(p.Data) {
		p, err2 = h.store.Allocate(page.KindHeapData)
		if err2 != nil {
			return 0, err2
		}
		h.active = p.ID
		h.hasAct = true
	}

	off := p.FreeOffset
	binary.LittleEndian.PutUint32(p.Data[off:off+4], uint32(len(data)))
	copy(p.Data[off+4:], data)
	p.FreeOffset += uint16(need)
	h.store.Put(p)

	return newRowPointer(p.ID, off), nil
}

// Get decodes the row at ptr.
func (h *RowHeap) Get(ptr RowPointer) (Row, error) {
	id, off := ptr.split()
	p, err := h.store.Fetch(id)
	if err != nil {
		return nil, err
	}
	if int(off)+4 > len(p.Data) {
		return nil, &errors.CorruptRecordError{Reason: "row pointer out of range"}
	}
	n := binary.LittleEndian.Uint32(p.Data[off : off+4])
	if int(off)+4+int(n) > len(p.Data) {
		return nil, &errors.CorruptRecordError{Reason: "row length out of range"}
	}
	var row Row
	if err := bson.Unmarshal(p.Data[off+4:off+4+uint16(n)], &row); err != nil {
		return nil, &errors.WalIoError{Cause: err}
	}
	return row, nil
}
