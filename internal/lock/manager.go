// Package lock implements the strict two-phase-locking lock manager:
// shared/exclusive locks on table, row and index-gap resources, FIFO wait
// queues with barge prevention, and periodic wait-for-graph deadlock
// detection.
package lock

import (
	"sync"
	"time"

	"github.com/neuroquantum/storage-engine/internal/metrics"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// Mode is a lock mode: Shared allows concurrent readers, Exclusive is
// single-holder.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func compatible(held, want Mode) bool {
	return held == Shared && want == Shared
}

// Resource identifies a lockable entity: a table, a specific row, or an
// index gap (used only at Serializable, per the gap-lock Open Question).
type Resource struct {
	Table string
	Key   string // empty for a table-level lock
	IsGap bool
}

type holder struct {
	txID uint64
	mode Mode
}

type waiter struct {
	txID    uint64
	mode    Mode
	granted chan error
}

type entry struct {
	mu      sync.Mutex
	holders []holder
	queue   []*waiter
}

// Manager grants and releases locks and runs background deadlock
// detection over the wait-for graph it derives from queued waiters.
type Manager struct {
	mu        sync.Mutex
	resources map[Resource]*entry
	heldBy    map[uint64]map[Resource]Mode // for deadlock graph + victim selection
	logCounts map[uint64]int               // log records written per tx, for victim choice

	detectInterval time.Duration
	stop           chan struct{}
}

// NewManager constructs a Manager whose background detector runs every
// interval.
func NewManager(interval time.Duration) *Manager {
	m := &Manager{
		resources:      make(map[Resource]*entry),
		heldBy:         make(map[uint64]map[Resource]Mode),
		logCounts:      make(map[uint64]int),
		detectInterval: interval,
		stop:           make(chan struct{}),
	}
	go m.detectLoop()
	return m
}

// RecordLogActivity lets the transaction manager report how many log
// records a transaction has written, so deadlock victim selection can
// pick the transaction that has done the least work.
func (m *Manager) RecordLogActivity(txID uint64, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logCounts[txID] = count
}

func (m *Manager) getEntry(r Resource) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.resources[r]
	if !ok {
		e = &entry{}
		m.resources[r] = e
	}
	return e
}

// Acquire blocks until txID holds mode on resource, a deadlock victim
// error arrives, or timeout elapses.
func (m *Manager) Acquire(txID uint64, r Resource, mode Mode, timeout time.Duration) error {
	e := m.getEntry(r)

	e.mu.Lock()
	if m.canGrantLocked(e, txID, mode) {
		e.holders = append(e.holders, holder{txID: txID, mode: mode})
		e.mu.Unlock()
		m.noteHeld(txID, r, mode)
		return nil
	}

	w := &waiter{txID: txID, mode: mode, granted: make(chan error, 1)}
	e.queue = append(e.queue, w)
	e.mu.Unlock()

	waitStart := time.Now()
	select {
	case err := <-w.granted:
		metrics.LockWaitSeconds.WithLabelValues(modeLabel(mode)).Observe(time.Since(waitStart).Seconds())
		if err == nil {
			m.noteHeld(txID, r, mode)
		}
		return err
	case <-time.After(timeout):
		m.cancelWait(e, w)
		metrics.LockWaitSeconds.WithLabelValues(modeLabel(mode)).Observe(time.Since(waitStart).Seconds())
		return &errors.LockTimeoutError{Resource: r.Table, TxID: txID}
	}
}

func modeLabel(m Mode) string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// canGrantLocked reports whether mode can be granted to txID immediately:
// no queued waiters ahead of it (FIFO, preventing barging) and compatible
// with every current holder, or an upgrade of txID's own shared lock.
func (m *Manager) canGrantLocked(e *entry, txID uint64, mode Mode) bool {
	if len(e.queue) > 0 {
		return false
	}
	for _, h := range e.holders {
		if h.txID == txID {
			continue
		}
		if !compatible(h.mode, mode) {
			return false
		}
	}
	return true
}

func (m *Manager) cancelWait(e *entry, w *waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
}

func (m *Manager) noteHeld(txID uint64, r Resource, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	locks, ok := m.heldBy[txID]
	if !ok {
		locks = make(map[Resource]Mode)
		m.heldBy[txID] = locks
	}
	locks[r] = mode
}

// ReleaseAll drops every lock held by txID and wakes the next compatible
// waiters on each affected resource, implementing strict 2PL's
// release-at-commit-or-abort rule.
func (m *Manager) ReleaseAll(txID uint64) {
	m.mu.Lock()
	locks := m.heldBy[txID]
	delete(m.heldBy, txID)
	delete(m.logCounts, txID)
	m.mu.Unlock()

	for r := range locks {
		e := m.getEntry(r)
		e.mu.Lock()
		kept := e.holders[:0]
		for _, h := range e.holders {
			if h.txID != txID {
				kept = append(kept, h)
			}
		}
		e.holders = kept
		m.wakeQueueLocked(e)
		e.mu.Unlock()
	}
}

// wakeQueueLocked grants the lock to as many leading FIFO waiters as are
// mutually compatible, then stops at the first incompatible request.
func (m *Manager) wakeQueueLocked(e *entry) {
	for len(e.queue) > 0 {
		w := e.queue[0]
		if !m.canGrantLocked(e, w.txID, w.mode) {
			break
		}
		e.holders = append(e.holders, holder{txID: w.txID, mode: w.mode})
		e.queue = e.queue[1:]
		w.granted <- nil
	}
}

// Release drops a single resource lock held by txID, taking its shared
// entry when it holds r in both modes (used by ReadCommitted to let go of
// a read lock as soon as the read returns, without releasing the
// transaction's other locks).
func (m *Manager) Release(txID uint64, r Resource) {
	e := m.getEntry(r)
	e.mu.Lock()
	idx := -1
	for i, h := range e.holders {
		if h.txID == txID && (idx < 0 || h.mode == Shared) {
			idx = i
		}
	}
	if idx >= 0 {
		e.holders = append(e.holders[:idx], e.holders[idx+1:]...)
	}
	stillHeld := false
	for _, h := range e.holders {
		if h.txID == txID {
			stillHeld = true
		}
	}
	m.wakeQueueLocked(e)
	e.mu.Unlock()

	if !stillHeld {
		m.mu.Lock()
		if locks, ok := m.heldBy[txID]; ok {
			delete(locks, r)
		}
		m.mu.Unlock()
	}
}

// Stop terminates the background deadlock detector.
func (m *Manager) Stop() { close(m.stop) }

func (m *Manager) detectLoop() {
	ticker := time.NewTicker(m.detectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.detectAndBreak()
		case <-m.stop:
			return
		}
	}
}

// detectAndBreak builds the wait-for graph from queued waiters and current
// holders, finds a cycle via DFS, and aborts the victim with the fewest
// logged records (the transaction that has done the least work is
// cheapest to roll back).
func (m *Manager) detectAndBreak() {
	graph := make(map[uint64]map[uint64]bool)

	m.mu.Lock()
	for r, e := range m.resources {
		e.mu.Lock()
		for _, w := range e.queue {
			for _, h := range e.holders {
				if h.txID == w.txID {
					continue
				}
				if graph[w.txID] == nil {
					graph[w.txID] = make(map[uint64]bool)
				}
				graph[w.txID][h.txID] = true
			}
		}
		e.mu.Unlock()
		_ = r
	}
	counts := make(map[uint64]int, len(m.logCounts))
	for k, v := range m.logCounts {
		counts[k] = v
	}
	m.mu.Unlock()

	cycle := findCycle(graph)
	if cycle == nil {
		return
	}
	victim := cycle[0]
	for _, tx := range cycle[1:] {
		if counts[tx] < counts[victim] {
			victim = tx
		}
	}
	metrics.DeadlocksTotal.Inc()
	m.abortWaiter(victim)
}

func findCycle(graph map[uint64]map[uint64]bool) []uint64 {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint64]int)
	var path []uint64
	var result []uint64

	var visit func(n uint64) bool
	visit = func(n uint64) bool {
		color[n] = gray
		path = append(path, n)
		for next := range graph[n] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				// found cycle: slice path from next's first occurrence
				for i, p := range path {
					if p == next {
						result = append([]uint64{}, path[i:]...)
						return true
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for n := range graph {
		if color[n] == white {
			if visit(n) {
				return result
			}
		}
	}
	return nil
}

// abortWaiter delivers a deadlock error to every waiter entry belonging to
// victim across all resources, so its Acquire call returns immediately.
func (m *Manager) abortWaiter(victim uint64) {
	m.mu.Lock()
	resources := make([]*entry, 0, len(m.resources))
	for _, e := range m.resources {
		resources = append(resources, e)
	}
	m.mu.Unlock()

	for _, e := range resources {
		e.mu.Lock()
		remaining := e.queue[:0]
		for _, w := range e.queue {
			if w.txID == victim {
				w.granted <- &errors.DeadlockError{VictimTxID: victim}
			} else {
				remaining = append(remaining, w)
			}
		}
		e.queue = remaining
		e.mu.Unlock()
	}
}
