package engine

import (
	"fmt"

	"github.com/neuroquantum/storage-engine/internal/lock"
	"github.com/neuroquantum/storage-engine/internal/txn"
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// Predicate decides whether row matches a query, the storage-core side
// of spec.md §6's update(query)/delete(query)/select(query) contract —
// the SQL layer (out of scope per spec.md §1) compiles its WHERE clause
// down to one of these before calling in.
type Predicate func(Row) bool

// MatchAll is the Predicate that accepts every row, used by callers that
// want a full-table Update/Delete/Select.
func MatchAll(Row) bool { return true }

// Select scans table in primary-key order under tx's isolation level,
// returning every row for which pred is true. A nil pred behaves like
// MatchAll.
func (e *Engine) Select(tx *txn.Transaction, table string, pred Predicate) ([]Row, error) {
	if pred == nil {
		pred = MatchAll
	}
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}

	var out []Row
	c, err := e.Scan(table, nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	for {
		key, ptr, ok := c.Next()
		if !ok {
			break
		}
		res := lock.Resource{Table: table, Key: fmt.Sprintf("%v", key)}
		if err := e.txns.AcquireRead(tx, res); err != nil {
			return nil, err
		}
		row, err := t.Heap.Get(RowPointer(ptr))
		e.txns.ReleaseRead(tx, res)
		if err != nil {
			return nil, err
		}
		if pred(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Update applies mutate to every row in table matching pred, writing the
// resulting row back through the same logged, index-maintaining path as
// Insert/Delete, and returns the count of rows changed. mutate receives
// a copy of the matched row and returns the row to store in its place;
// it must not change the primary key column (use Delete+Insert for
// that).
func (e *Engine) Update(tx *txn.Transaction, table string, pred Predicate, mutate func(Row) Row) (int, error) {
	if pred == nil {
		pred = MatchAll
	}
	t, err := e.table(table)
	if err != nil {
		return 0, err
	}

	matched, err := e.matchingKeys(tx, table, t, pred)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, key := range matched {
		if err := e.updateByKey(tx, t, key, mutate); err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

// DeleteWhere removes every row in table matching pred, cascading foreign
// key actions exactly as the primary-key Delete does, and returns the
// count of rows removed.
func (e *Engine) DeleteWhere(tx *txn.Transaction, table string, pred Predicate) (int, error) {
	if pred == nil {
		pred = MatchAll
	}
	t, err := e.table(table)
	if err != nil {
		return 0, err
	}

	matched, err := e.matchingKeys(tx, table, t, pred)
	if err != nil {
		return 0, err
	}

	affected := 0
	for _, pk := range matched {
		if err := e.Delete(tx, table, pk); err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

// matchingKeys returns the primary-key values (not the internal
// types.Comparable encoding) of every row satisfying pred, snapshotted
// up front so Update/DeleteWhere can mutate the table while iterating
// without invalidating the scan cursor.
func (e *Engine) matchingKeys(tx *txn.Transaction, table string, t *Table, pred Predicate) ([]interface{}, error) {
	var keys []interface{}
	c, err := e.Scan(table, nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	for {
		_, ptr, ok := c.Next()
		if !ok {
			break
		}
		row, err := t.Heap.Get(RowPointer(ptr))
		if err != nil {
			return nil, err
		}
		if pred(row) {
			keys = append(keys, row[t.Schema.PrimaryKey])
		}
	}
	return keys, nil
}

func (e *Engine) updateByKey(tx *txn.Transaction, t *Table, pk interface{}, mutate func(Row) Row) error {
	pkCol, _ := t.Schema.column(t.Schema.PrimaryKey)
	key := keyFor(pkCol, pk)
	res := lock.Resource{Table: t.Schema.Table, Key: fmt.Sprintf("%v", key)}
	if err := e.txns.AcquireWrite(tx, res); err != nil {
		return err
	}

	ptr, ok := t.PK.Search(key)
	if !ok {
		return nil // row was removed by an earlier step in this same batch
	}
	before, err := t.Heap.Get(RowPointer(ptr))
	if err != nil {
		return err
	}

	after := mutate(cloneRow(before))
	if after[t.Schema.PrimaryKey] != before[t.Schema.PrimaryKey] {
		return &errors.ImmutablePrimaryKeyError{Table: t.Schema.Table, Column: t.Schema.PrimaryKey}
	}
	if err := t.Schema.ValidateRow(after); err != nil {
		return err
	}
	if err := e.checkForeignKeys(t, after); err != nil {
		return err
	}

	newPtr, err := t.Heap.Put(after)
	if err != nil {
		return err
	}
	if _, err := e.txns.LogUpdate(tx, encodeUpdatePayload(t.Schema.Table, before, after)); err != nil {
		return err
	}
	t.PK.Insert(key, int64(newPtr))
	for col, idx := range t.Indexes {
		c, _ := t.Schema.column(col)
		if before[col] != after[col] {
			idx.Delete(keyFor(c, before[col]))
			idx.Insert(keyFor(c, after[col]), int64(newPtr))
		}
	}
	return nil
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
