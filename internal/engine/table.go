package engine

import (
	"sync/atomic"

	"github.com/neuroquantum/storage-engine/internal/btree"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

// Table couples a schema, its primary-key and secondary indexes, its row
// heap, and an auto-increment counter for Serial/BigSerial columns.
type Table struct {
	Schema  Schema
	Heap    *RowHeap
	PK      *btree.Tree
	Indexes map[string]*btree.Tree // column name -> index, PK excluded
	serial  uint64
}

// NextSerial atomically allocates the next auto-increment value.
func (t *Table) NextSerial() int64 {
	return int64(atomic.AddUint64(&t.serial, 1))
}

// keyFor converts a column value into the Comparable the btree package
// operates on, the same per-type mapping the teacher's pkg/types uses.
func keyFor(col Column, v interface{}) types.Comparable {
	switch col.Type {
	case TypeInt, TypeSerial, TypeBigSerial:
		switch n := v.(type) {
		case int:
			return types.IntKey(n)
		case int32:
			return types.IntKey(n)
		case int64:
			return types.IntKey(n)
		}
	case TypeVarchar:
		return types.VarcharKey(v.(string))
	case TypeFloat:
		switch n := v.(type) {
		case float32:
			return types.FloatKey(n)
		case float64:
			return types.FloatKey(n)
		}
	case TypeBoolean:
		return types.BoolKey(v.(bool))
	}
	return nil
}
