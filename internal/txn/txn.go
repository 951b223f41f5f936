// Package txn implements the transaction manager: strict two-phase
// locking transactions, isolation levels realized through lock-hold
// duration, savepoints, and the undo chain used both for explicit
// rollback and for ARIES crash recovery.
package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/neuroquantum/storage-engine/internal/lock"
	"github.com/neuroquantum/storage-engine/internal/metrics"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

// IsolationLevel selects how long read locks are held and whether gap
// locks guard against phantoms, replacing the teacher's MVCC snapshot
// levels with strict-2PL equivalents.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// State is a transaction's position in its lifecycle.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

// Savepoint marks a point in a transaction's undo chain that
// RollbackToSavepoint can return to without aborting the whole
// transaction.
type Savepoint struct {
	Name    string
	LastLSN uint64
}

// Transaction tracks one in-flight unit of work: its locks (held via the
// shared lock.Manager), its WAL undo chain, and any savepoints.
type Transaction struct {
	ID        uint64
	Level     IsolationLevel
	state     State
	mu        sync.Mutex
	lastLSN   uint64
	beginLSN  uint64
	savepoint []Savepoint
	readLocks []lock.Resource // released early at ReadCommitted, held to commit otherwise
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) LastLSN() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLSN
}

// BeginLSN returns the LSN of tx's Begin record, the earliest LSN a
// checkpoint must keep on disk while tx is still active.
func (t *Transaction) BeginLSN() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginLSN
}

// Manager coordinates transaction lifecycle against the lock manager and
// the WAL, and is the component that decides, per isolation level,
// whether a read lock may be dropped as soon as the read completes.
type Manager struct {
	nextID uint64
	locks  *lock.Manager
	log    *wal.Writer

	mu  sync.Mutex
	txs map[uint64]*Transaction

	lockTimeout time.Duration
}

// NewManager builds a transaction manager over a lock manager and WAL
// writer, acquiring locks with the given timeout before giving up and
// reporting a lock-timeout error to the caller.
func NewManager(locks *lock.Manager, log *wal.Writer, lockTimeout time.Duration) *Manager {
	return &Manager{
		locks:       locks,
		log:         log,
		txs:         make(map[uint64]*Transaction),
		lockTimeout: lockTimeout,
	}
}

// Begin starts a new transaction at the given isolation level and writes
// its Begin WAL record.
func (m *Manager) Begin(level IsolationLevel) (*Transaction, error) {
	id := atomic.AddUint64(&m.nextID, 1)
	lsn, err := m.log.Append(&wal.Record{Header: wal.Header{Type: wal.RecordBegin, TxID: id}})
	if err != nil {
		return nil, err
	}
	tx := &Transaction{ID: id, Level: level, state: Active, beginLSN: lsn, lastLSN: lsn}
	m.mu.Lock()
	m.txs[id] = tx
	m.mu.Unlock()
	return tx, nil
}

// AcquireRead acquires a shared lock for a read under tx's isolation
// level. At ReadCommitted the lock is released as soon as the read
// returns (Go's caller is expected to call ReleaseRead immediately after
// reading); at RepeatableRead and Serializable it is held until commit.
// Serializable additionally takes a gap lock on IsGap resources so range
// scans see no phantom inserts.
func (m *Manager) AcquireRead(tx *Transaction, r lock.Resource) error {
	if r.IsGap && tx.Level != Serializable {
		return nil
	}
	if err := m.locks.Acquire(tx.ID, r, lock.Shared, m.lockTimeout); err != nil {
		return err
	}
	tx.mu.Lock()
	tx.readLocks = append(tx.readLocks, r)
	tx.mu.Unlock()
	return nil
}

// ReleaseRead drops a previously acquired read lock early, which is only
// correct at ReadUncommitted/ReadCommitted — RepeatableRead and
// Serializable must hold it to commit, so this is a no-op there.
func (m *Manager) ReleaseRead(tx *Transaction, r lock.Resource) {
	if tx.Level == RepeatableRead || tx.Level == Serializable {
		return
	}
	m.locks.Release(tx.ID, r)
}

// AcquireWrite acquires an exclusive lock, held until commit or abort
// regardless of isolation level.
func (m *Manager) AcquireWrite(tx *Transaction, r lock.Resource) error {
	return m.locks.Acquire(tx.ID, r, lock.Exclusive, m.lockTimeout)
}

// LogUpdate appends an Update record to tx's undo chain and returns its
// LSN, which the caller stores as the affected page's new page-LSN.
func (m *Manager) LogUpdate(tx *Transaction, payload []byte) (uint64, error) {
	tx.mu.Lock()
	prev := tx.lastLSN
	tx.mu.Unlock()

	lsn, err := m.log.Append(&wal.Record{
		Header:  wal.Header{Type: wal.RecordUpdate, TxID: tx.ID, PrevLSN: prev},
		Payload: payload,
	})
	if err != nil {
		return 0, err
	}
	tx.mu.Lock()
	tx.lastLSN = lsn
	tx.mu.Unlock()
	m.locks.RecordLogActivity(tx.ID, int(lsn-tx.beginLSN))
	return lsn, nil
}

// Savepoint records a named rollback point at the transaction's current
// position in its undo chain.
func (m *Manager) Savepoint(tx *Transaction, name string) error {
	lsn, err := m.log.Append(&wal.Record{
		Header:  wal.Header{Type: wal.RecordSavepoint, TxID: tx.ID, PrevLSN: tx.LastLSN()},
		Payload: []byte(name),
	})
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.savepoint = append(tx.savepoint, Savepoint{Name: name, LastLSN: lsn})
	tx.lastLSN = lsn
	tx.mu.Unlock()
	return nil
}

// FindSavepoint returns the most recent savepoint with the given name.
func (tx *Transaction) FindSavepoint(name string) (Savepoint, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.savepoint) - 1; i >= 0; i-- {
		if tx.savepoint[i].Name == name {
			return tx.savepoint[i], true
		}
	}
	return Savepoint{}, false
}

// Commit writes the Commit record, forces it to stable storage
// regardless of the WAL's configured sync policy (a commit is the one
// point a transaction's durability cannot be made conditional on a
// periodic timer), releases every lock tx holds, and marks it done.
func (m *Manager) Commit(tx *Transaction) error {
	_, err := m.log.Append(&wal.Record{Header: wal.Header{Type: wal.RecordCommit, TxID: tx.ID, PrevLSN: tx.LastLSN()}})
	if err != nil {
		return err
	}
	if err := m.log.Sync(); err != nil {
		return err
	}
	tx.mu.Lock()
	tx.state = Committed
	tx.mu.Unlock()
	m.locks.ReleaseAll(tx.ID)
	m.forget(tx.ID)
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// Abort writes the Abort record. The caller (internal/engine) is
// responsible for walking the undo chain and applying compensating
// writes before calling Abort, mirroring how internal/recovery's undo
// phase works from the same chain after a crash.
func (m *Manager) Abort(tx *Transaction) error {
	_, err := m.log.Append(&wal.Record{Header: wal.Header{Type: wal.RecordAbort, TxID: tx.ID, PrevLSN: tx.LastLSN()}})
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.state = Aborted
	tx.mu.Unlock()
	m.locks.ReleaseAll(tx.ID)
	m.forget(tx.ID)
	metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	return nil
}

func (m *Manager) forget(id uint64) {
	m.mu.Lock()
	delete(m.txs, id)
	m.mu.Unlock()
}

// Active returns every transaction the manager currently tracks as open,
// used by checkpoint creation.
func (m *Manager) Active() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	return out
}
