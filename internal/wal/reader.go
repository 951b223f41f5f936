package wal

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	storeerrors "github.com/neuroquantum/storage-engine/pkg/errors"
)

// Reader reads records sequentially across every segment file in a WAL
// directory, in segment order, transparently crossing segment boundaries.
type Reader struct {
	dir      string
	segments []string
	idx      int
	file     *os.File
}

// NewReader opens a Reader positioned at the first segment in dir.
func NewReader(dir string) (*Reader, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.wal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	r := &Reader{dir: dir, segments: entries}
	return r, nil
}

func (r *Reader) nextSegment() (bool, error) {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	if r.idx >= len(r.segments) {
		return false, nil
	}
	f, err := os.Open(r.segments[r.idx])
	if err != nil {
		return false, err
	}
	r.file = f
	r.idx++
	return true, nil
}

// ReadRecord returns the next record across all segments, or io.EOF once
// every segment has been exhausted.
func (r *Reader) ReadRecord() (*Record, error) {
	for {
		if r.file == nil {
			ok, err := r.nextSegment()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, io.EOF
			}
		}

		var hbuf [HeaderSize]byte
		n, err := io.ReadFull(r.file, hbuf[:])
		if err == io.EOF {
			// Clean end of this segment; move to the next.
			r.file.Close()
			r.file = nil
			continue
		}
		if err != nil || n != HeaderSize {
			return nil, &storeerrors.ShortReadError{}
		}

		var h Header
		h.decode(hbuf[:])
		if h.Magic != Magic {
			return nil, &storeerrors.CorruptRecordError{Reason: "bad magic"}
		}

		payload := make([]byte, h.PayloadLen)
		if _, err := io.ReadFull(r.file, payload); err != nil {
			return nil, &storeerrors.CorruptRecordError{Reason: "truncated payload"}
		}
		if checksum(payload) != h.CRC32 {
			return nil, &storeerrors.CorruptRecordError{Reason: "checksum mismatch"}
		}

		return &Record{Header: h, Payload: payload}, nil
	}
}

// Close releases the currently open segment file, if any.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
