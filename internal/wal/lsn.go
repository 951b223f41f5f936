package wal

import "sync/atomic"

// LSNTracker hands out monotonically increasing log sequence numbers,
// generalized from the teacher's single-purpose pkg/storage/lsn_tracker.go
// to the shared counter every WAL writer, checkpoint and page header
// reads against.
type LSNTracker struct {
	current uint64
}

// NewLSNTracker returns a tracker that will hand out start+1 on its first
// Next call; pass the highest LSN recovered from the log on restart.
func NewLSNTracker(start uint64) *LSNTracker {
	return &LSNTracker{current: start}
}

// Next atomically allocates and returns the next LSN.
func (t *LSNTracker) Next() uint64 {
	return atomic.AddUint64(&t.current, 1)
}

// Current returns the most recently allocated LSN without advancing it.
func (t *LSNTracker) Current() uint64 {
	return atomic.LoadUint64(&t.current)
}
