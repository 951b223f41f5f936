package wal

import "time"

// SyncPolicy controls when fsync is called relative to a record write,
// carried over from the teacher's WAL options.
type SyncPolicy int

const (
	// SyncOnWrite fsyncs after every record — safest, slowest.
	SyncOnWrite SyncPolicy = iota
	// SyncOnCommit fsyncs only when a Commit or CheckpointEnd record is
	// written, batching the records of concurrently-committing
	// transactions into one fsync
	// (group commit).
	SyncOnCommit
	// SyncPeriodic fsyncs on a background timer.
	SyncPeriodic
)

// Options configures a Writer.
type Options struct {
	DirPath        string
	BufferSize     int
	SegmentMaxSize int64
	SyncPolicy     SyncPolicy
	SyncInterval   time.Duration

	// MinSegmentsToKeep floors how many segments, the active one included,
	// TruncateBefore leaves on disk even when their last LSN is older than
	// the requested cutoff, so a checkpoint bug can never truncate the
	// entire log.
	MinSegmentsToKeep int
}

// DefaultOptions returns group-commit-on-commit with a 64MB segment size,
// matching the durability/throughput balance the specification calls the
// default policy.
func DefaultOptions(dir string) Options {
	return Options{
		DirPath:           dir,
		BufferSize:        64 * 1024,
		SegmentMaxSize:    64 * 1024 * 1024,
		SyncPolicy:        SyncOnCommit,
		SyncInterval:      200 * time.Millisecond,
		MinSegmentsToKeep: 2,
	}
}
