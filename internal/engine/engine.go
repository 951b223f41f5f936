package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/neuroquantum/storage-engine/internal/btree"
	"github.com/neuroquantum/storage-engine/internal/lock"
	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/txn"
	"github.com/neuroquantum/storage-engine/internal/wal"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// Engine is the single handle owning every table, the shared page store,
// WAL, lock manager and transaction manager. The specification requires
// all global state to live behind one Engine value rather than package
// globals, the way the teacher's StorageEngine in pkg/storage/engine.go
// is the sole owner of its TableMetaData/WAL/Checkpoint state.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*Table

	store *page.Store
	log   *wal.Writer
	locks *lock.Manager
	txns  *txn.Manager
}

// New builds an Engine over an already-open page store and WAL writer.
func New(store *page.Store, log *wal.Writer, lockTimeout time.Duration) *Engine {
	locks := lock.NewManager(2 * time.Second)
	return &Engine{
		tables: make(map[string]*Table),
		store:  store,
		log:    log,
		locks:  locks,
		txns:   txn.NewManager(locks, log, lockTimeout),
	}
}

// Begin starts a new transaction at the given isolation level.
func (e *Engine) Begin(level txn.IsolationLevel) (*txn.Transaction, error) {
	return e.txns.Begin(level)
}

// CreateTable validates and registers a new schema.
func (e *Engine) CreateTable(schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tables[schema.Table]; exists {
		return &errors.TableExistsError{Name: schema.Table}
	}
	t := &Table{
		Schema:  schema,
		Heap:    NewRowHeap(e.store),
		PK:      btree.NewUnique(),
		Indexes: make(map[string]*btree.Tree),
	}
	e.tables[schema.Table] = t
	return nil
}

func (e *Engine) table(name string) (*Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[name]
	if !ok {
		return nil, &errors.TableNotFoundError{Name: name}
	}
	return t, nil
}

// Insert validates row against table's schema, assigns auto-increment
// values, checks foreign keys, writes the WAL record, and installs the
// row into the heap and every index.
func (e *Engine) Insert(tx *txn.Transaction, table string, row Row) error {
	t, err := e.table(table)
	if err != nil {
		return err
	}

	for _, c := range t.Schema.Columns {
		if (c.Type == TypeSerial || c.Type == TypeBigSerial) && row[c.Name] == nil {
			row[c.Name] = t.NextSerial()
		}
		if row[c.Name] == nil && c.Default != nil {
			row[c.Name] = c.Default
		}
	}
	if err := t.Schema.ValidateRow(row); err != nil {
		return err
	}

	if err := e.checkForeignKeys(t, row); err != nil {
		return err
	}

	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	pkKey := keyFor(pkCol, row[t.Schema.PrimaryKey])
	if _, exists := t.PK.Search(pkKey); exists {
		return &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", pkKey)}
	}

	if err := e.txns.AcquireWrite(tx, lock.Resource{Table: table, Key: fmt.Sprintf("%v", pkKey)}); err != nil {
		return err
	}

	ptr, err := t.Heap.Put(row)
	if err != nil {
		return err
	}
	if _, err := e.txns.LogUpdate(tx, encodeInsertPayload(table, row)); err != nil {
		return err
	}
	t.PK.Insert(pkKey, int64(ptr))
	for col, idx := range t.Indexes {
		c, _ := t.Schema.column(col)
		idx.Insert(keyFor(c, row[col]), int64(ptr))
	}
	return nil
}

// Get reads a row by primary key value under tx's isolation level.
func (e *Engine) Get(tx *txn.Transaction, table string, pk interface{}) (Row, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	key := keyFor(pkCol, pk)
	res := lock.Resource{Table: table, Key: fmt.Sprintf("%v", key)}
	if err := e.txns.AcquireRead(tx, res); err != nil {
		return nil, err
	}
	defer e.txns.ReleaseRead(tx, res)

	ptr, ok := t.PK.Search(key)
	if !ok {
		return nil, nil
	}
	return t.Heap.Get(RowPointer(ptr))
}

// Delete removes the row with the given primary key, applying the
// OnDelete action of each foreign key referencing it to the referencing
// row that applyDependentActions finds, guarded against cycles by
// tracking the set of tables visited in the current cascade chain.
func (e *Engine) Delete(tx *txn.Transaction, table string, pk interface{}) error {
	return e.deleteCascade(tx, table, pk, make(map[string]bool))
}

func (e *Engine) deleteCascade(tx *txn.Transaction, table string, pk interface{}, visiting map[string]bool) error {
	if visiting[table] {
		return nil // cycle guard: a table already mid-cascade is not re-entered
	}
	visiting[table] = true
	defer delete(visiting, table)

	t, err := e.table(table)
	if err != nil {
		return err
	}
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	key := keyFor(pkCol, pk)

	if err := e.txns.AcquireWrite(tx, lock.Resource{Table: table, Key: fmt.Sprintf("%v", key)}); err != nil {
		return err
	}

	ptr, ok := t.PK.Search(key)
	if !ok {
		return nil
	}

	if err := e.applyDependentActions(tx, table, pk, visiting); err != nil {
		return err
	}

	row, err := t.Heap.Get(RowPointer(ptr))
	if err != nil {
		return err
	}
	if _, err := e.txns.LogUpdate(tx, encodeDeletePayload(table, row)); err != nil {
		return err
	}
	t.PK.Delete(key)
	for col, idx := range t.Indexes {
		c, _ := t.Schema.column(col)
		idx.Delete(keyFor(c, row[col]))
	}
	return nil
}

// applyDependentActions walks every other table's foreign keys pointing
// at table, applying each one's OnDelete action to the row that the
// dependent table's secondary index on the foreign-key column maps pk to.
// A dependent table with no such index is skipped, so its referencing
// rows are left as they are, and since an index holds one pointer per
// key, at most one referencing row per foreign key is acted on.
func (e *Engine) applyDependentActions(tx *txn.Transaction, table string, pk interface{}, visiting map[string]bool) error {
	e.mu.RLock()
	deps := make([]*Table, 0)
	for _, other := range e.tables {
		for _, fk := range other.Schema.ForeignKeys {
			if fk.RefTable == table {
				deps = append(deps, other)
			}
		}
	}
	e.mu.RUnlock()

	for _, dep := range deps {
		for _, fk := range dep.Schema.ForeignKeys {
			if fk.RefTable != table {
				continue
			}
			idx, ok := dep.Indexes[fk.Column]
			if !ok {
				continue // no index on the FK column: scan is out of scope for this pass
			}
			pkCol, _ := dep.Schema.column(fk.Column)
			refKey := keyFor(pkCol, pk)
			ptr, found := idx.Search(refKey)
			if !found {
				continue
			}
			row, err := dep.Heap.Get(RowPointer(ptr))
			if err != nil {
				return err
			}
			switch fk.OnDelete {
			case Restrict, NoAction:
				return &errors.ForeignKeyViolationError{Constraint: fk.Name, Table: dep.Schema.Table}
			case Cascade:
				depPKCol, _ := dep.Schema.column(dep.Schema.PrimaryKey)
				if err := e.deleteCascade(tx, dep.Schema.Table, row[depPKCol.Name], visiting); err != nil {
					return err
				}
			case SetNull:
				row[fk.Column] = nil
				if err := e.updateRowInPlace(tx, dep, row); err != nil {
					return err
				}
			case SetDefault:
				col, _ := dep.Schema.column(fk.Column)
				row[fk.Column] = col.Default
				if err := e.updateRowInPlace(tx, dep, row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) updateRowInPlace(tx *txn.Transaction, t *Table, row Row) error {
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	key := keyFor(pkCol, row[t.Schema.PrimaryKey])
	ptr, ok := t.PK.Search(key)
	if !ok {
		return nil
	}
	before, err := t.Heap.Get(RowPointer(ptr))
	if err != nil {
		return err
	}
	newPtr, err := t.Heap.Put(row)
	if err != nil {
		return err
	}
	if _, err := e.txns.LogUpdate(tx, encodeUpdatePayload(t.Schema.Table, before, row)); err != nil {
		return err
	}
	t.PK.Insert(key, int64(newPtr))
	return nil
}

// checkForeignKeys verifies every foreign key on row's table has a
// matching referenced row.
func (e *Engine) checkForeignKeys(t *Table, row Row) error {
	for _, fk := range t.Schema.ForeignKeys {
		if row[fk.Column] == nil {
			continue
		}
		refTable, err := e.table(fk.RefTable)
		if err != nil {
			return &errors.ForeignKeyViolationError{Constraint: fk.Name, Table: t.Schema.Table}
		}
		refCol, _ := refTable.Schema.column(fk.RefColumn)
		key := keyFor(refCol, row[fk.Column])
		if _, found := refTable.PK.Search(key); !found {
			return &errors.ForeignKeyViolationError{Constraint: fk.Name, Table: t.Schema.Table}
		}
	}
	return nil
}

// Scan returns a cursor over table's primary-key order starting at
// lowerBound (nil for the first row).
func (e *Engine) Scan(table string, lowerBound interface{}) (*btree.Cursor, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	if lowerBound == nil {
		return t.PK.Seek(nil), nil
	}
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	return t.PK.Seek(keyFor(pkCol, lowerBound)), nil
}

// Commit finalizes tx.
func (e *Engine) Commit(tx *txn.Transaction) error { return e.txns.Commit(tx) }

// Rollback aborts tx. Undo of its in-memory effects against indexes and
// the heap is driven by internal/recovery's UndoFunc applied to the same
// WAL records this transaction wrote, keeping explicit rollback and
// crash recovery on one code path.
func (e *Engine) Rollback(tx *txn.Transaction) error { return e.txns.Abort(tx) }
