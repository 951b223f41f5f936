package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/neuroquantum/storage-engine/internal/metrics"
)

// Writer appends records to a segmented, rotating log file, applying the
// configured SyncPolicy. Segment rotation and the background sync
// goroutine follow the teacher's WALWriter; group commit is realized by
// holding the writer mutex across the whole write-then-maybe-sync
// critical section, so concurrent committers queue behind one fsync.
type Writer struct {
	mu         sync.Mutex
	dir        string
	opts       Options
	lsn        *LSNTracker
	segment    *os.File
	bw         *bufio.Writer
	segNo      int
	segSize    int64
	curLastLSN uint64

	// rotated holds every closed segment this Writer has rotated away
	// from, oldest first, so TruncateBefore can reclaim them without
	// re-scanning the directory.
	rotated []segmentInfo

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// segmentInfo records a rotated-out segment's file number and the
// highest LSN it contains, the minimum TruncateBefore needs to decide
// whether the segment is safe to delete.
type segmentInfo struct {
	no      int
	lastLSN uint64
}

// NewWriter opens (creating if needed) the WAL directory and starts a
// fresh segment at segNo, allocating LSNs from lsn.
func NewWriter(opts Options, lsn *LSNTracker, segNo int) (*Writer, error) {
	if err := os.MkdirAll(opts.DirPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "wal: create dir")
	}
	w := &Writer{dir: opts.DirPath, opts: opts, lsn: lsn, segNo: segNo, done: make(chan struct{})}
	if err := w.openSegment(segNo); err != nil {
		return nil, err
	}
	if opts.SyncPolicy == SyncPeriodic {
		w.ticker = time.NewTicker(opts.SyncInterval)
		go w.backgroundSync()
	}
	return w, nil
}

func (w *Writer) segmentPath(n int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%08d.wal", n))
}

func (w *Writer) openSegment(n int) error {
	f, err := os.OpenFile(w.segmentPath(n), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "wal: open segment")
	}
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "wal: stat segment")
	}
	w.segment = f
	w.bw = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.segSize = info.Size()
	w.segNo = n
	return nil
}

func (w *Writer) rotateIfNeeded(nextLen int64) error {
	if w.segSize+nextLen <= w.opts.SegmentMaxSize {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.segment.Close(); err != nil {
		return errors.Wrap(err, "wal: close segment")
	}
	w.rotated = append(w.rotated, segmentInfo{no: w.segNo, lastLSN: w.curLastLSN})
	return w.openSegment(w.segNo + 1)
}

// Append assigns an LSN to rec, writes it, and applies the sync policy.
// It returns the assigned LSN.
func (w *Writer) Append(rec *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.Header.Magic = Magic
	rec.Header.LSN = w.lsn.Next()
	rec.Header.PayloadLen = uint32(len(rec.Payload))
	rec.Header.CRC32 = checksum(rec.Payload)

	if err := w.rotateIfNeeded(int64(rec.encodedLen())); err != nil {
		return 0, err
	}

	var hbuf [HeaderSize]byte
	rec.Header.encode(hbuf[:])
	if _, err := w.bw.Write(hbuf[:]); err != nil {
		return 0, errors.Wrap(err, "wal: write header")
	}
	if _, err := w.bw.Write(rec.Payload); err != nil {
		return 0, errors.Wrap(err, "wal: write payload")
	}
	w.segSize += int64(rec.encodedLen())
	w.curLastLSN = rec.Header.LSN
	metrics.WalBytesWritten.Add(float64(rec.encodedLen()))

	switch w.opts.SyncPolicy {
	case SyncOnWrite:
		return rec.Header.LSN, w.syncLocked()
	case SyncOnCommit:
		if rec.Header.Type == RecordCommit || rec.Header.Type == RecordCheckpointEnd {
			return rec.Header.LSN, w.syncLocked()
		}
		return rec.Header.LSN, w.bw.Flush()
	default:
		return rec.Header.LSN, nil
	}
}

// WriteRaw appends rec exactly as given, without reassigning its LSN —
// used when copying or truncating an existing log (e.g. point-in-time
// restore), where the original LSNs must be preserved verbatim.
func (w *Writer) WriteRaw(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.Header.Magic = Magic
	rec.Header.PayloadLen = uint32(len(rec.Payload))
	rec.Header.CRC32 = checksum(rec.Payload)

	if err := w.rotateIfNeeded(int64(rec.encodedLen())); err != nil {
		return err
	}
	var hbuf [HeaderSize]byte
	rec.Header.encode(hbuf[:])
	if _, err := w.bw.Write(hbuf[:]); err != nil {
		return errors.Wrap(err, "wal: write header")
	}
	if _, err := w.bw.Write(rec.Payload); err != nil {
		return errors.Wrap(err, "wal: write payload")
	}
	w.segSize += int64(rec.encodedLen())
	w.curLastLSN = rec.Header.LSN
	return w.bw.Flush()
}

// Flush pushes the OS-buffered bytes out of the bufio.Writer without
// fsyncing.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

func (w *Writer) flushLocked() error {
	return w.bw.Flush()
}

// Sync fsyncs the current segment, guaranteeing every record written so
// far survives a crash.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	start := time.Now()
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(err, "wal: flush")
	}
	err := w.segment.Sync()
	metrics.WalFsyncSeconds.Observe(time.Since(start).Seconds())
	return err
}

// TruncateBefore reclaims rotated-out segments whose last LSN is below
// lsn, always leaving at least Options.MinSegmentsToKeep segments (the
// active one plus however many rotated segments are needed to reach the
// floor) on disk — the contract's safety margin against a checkpoint
// that computed too aggressive a cutoff.
func (w *Writer) TruncateBefore(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	keep := w.opts.MinSegmentsToKeep
	if keep < 1 {
		keep = 1
	}
	total := len(w.rotated) + 1 // +1 for the active segment
	maxRemovable := total - keep
	if maxRemovable <= 0 {
		return nil
	}

	kept := make([]segmentInfo, 0, len(w.rotated))
	removed := 0
	for _, seg := range w.rotated {
		if removed < maxRemovable && seg.lastLSN < lsn {
			if err := os.Remove(w.segmentPath(seg.no)); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "wal: remove segment %d", seg.no)
			}
			removed++
			continue
		}
		kept = append(kept, seg)
	}
	w.rotated = kept
	return nil
}

// CurrentLSN returns the highest LSN assigned so far.
func (w *Writer) CurrentLSN() uint64 {
	return w.lsn.Current()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			_ = w.Sync()
		case <-w.done:
			return
		}
	}
}

// Close flushes, syncs and closes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}
	if err := w.syncLocked(); err != nil {
		w.segment.Close()
		return err
	}
	return w.segment.Close()
}
