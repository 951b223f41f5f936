package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/neuroquantum/storage-engine/pkg/errors"
	"github.com/neuroquantum/storage-engine/pkg/types"
)

// AlterOp is one schema-change operation accepted by Engine.AlterTable,
// per spec.md §4.9's op set.
type AlterOp interface{ isAlterOp() }

// AddColumn appends a new column to a table's schema. Default is
// required when the column is not nullable and the table already holds
// rows, since those rows have no value to fall back to.
type AddColumn struct {
	Column Column
}

func (AddColumn) isAlterOp() {}

// DropColumn removes a column and any secondary index on it. The
// primary key column may not be dropped.
type DropColumn struct {
	Name string
}

func (DropColumn) isAlterOp() {}

// RenameColumn renames a column in place, carrying its index, foreign
// key references, and primary-key designation along with it.
type RenameColumn struct {
	Old, New string
}

func (RenameColumn) isAlterOp() {}

// ModifyColumn changes a column's declared type, converting every
// existing row's value per the widening table in convertValue.
type ModifyColumn struct {
	Name    string
	NewType DataType
}

func (ModifyColumn) isAlterOp() {}

// DropTable removes a table and its indexes. ifExists suppresses
// TableNotFoundError when name does not exist, matching spec.md §6's
// drop_table(if_exists) contract.
func (e *Engine) DropTable(name string, ifExists bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; !ok {
		if ifExists {
			return nil
		}
		return &errors.TableNotFoundError{Name: name}
	}
	delete(e.tables, name)
	return nil
}

// ResetAutoIncrement sets table's Serial/BigSerial counter back to zero,
// so the next insert that leaves the column null assigns 1.
func (e *Engine) ResetAutoIncrement(table string) error {
	t, err := e.table(table)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&t.serial, 0)
	return nil
}

// AlterTable applies op to table's schema, under an exclusive hold of
// the engine's catalogue lock (spec.md §5: "DDL takes an exclusive lock
// on the table... and is itself transactional" — here realized as the
// same engine-wide mutex CreateTable/DropTable already serialize under,
// since a dedicated per-table catalogue lock does not yet exist).
func (e *Engine) AlterTable(table string, op AlterOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[table]
	if !ok {
		return &errors.TableNotFoundError{Name: table}
	}

	switch o := op.(type) {
	case AddColumn:
		return e.alterAddColumn(t, o)
	case DropColumn:
		return e.alterDropColumn(t, o)
	case RenameColumn:
		return e.alterRenameColumn(t, o)
	case ModifyColumn:
		return e.alterModifyColumn(t, o)
	default:
		return &errors.InvalidSchemaError{Table: table, Reason: "unrecognized alter operation"}
	}
}

func (e *Engine) alterAddColumn(t *Table, o AddColumn) error {
	if _, exists := t.Schema.column(o.Column.Name); exists {
		return &errors.InvalidSchemaError{Table: t.Schema.Table, Reason: "column " + o.Column.Name + " already exists"}
	}
	if !o.Column.Nullable && o.Column.Default == nil && t.PK.Len() > 0 {
		return &errors.InvalidSchemaError{
			Table:  t.Schema.Table,
			Reason: "cannot add non-nullable column " + o.Column.Name + " without a default to a non-empty table",
		}
	}
	t.Schema.Columns = append(t.Schema.Columns, o.Column)
	return nil
}

func (e *Engine) alterDropColumn(t *Table, o DropColumn) error {
	if o.Name == t.Schema.PrimaryKey {
		return &errors.InvalidSchemaError{Table: t.Schema.Table, Reason: "cannot drop primary key column " + o.Name}
	}
	col, exists := t.Schema.column(o.Name)
	if !exists {
		return &errors.ColumnNotFoundError{Table: t.Schema.Table, Column: o.Name}
	}
	kept := make([]Column, 0, len(t.Schema.Columns)-1)
	for _, c := range t.Schema.Columns {
		if c.Name != col.Name {
			kept = append(kept, c)
		}
	}
	t.Schema.Columns = kept
	delete(t.Indexes, o.Name)
	return nil
}

func (e *Engine) alterRenameColumn(t *Table, o RenameColumn) error {
	col, exists := t.Schema.column(o.Old)
	if !exists {
		return &errors.ColumnNotFoundError{Table: t.Schema.Table, Column: o.Old}
	}
	if _, taken := t.Schema.column(o.New); taken {
		return &errors.InvalidSchemaError{Table: t.Schema.Table, Reason: "column " + o.New + " already exists"}
	}

	for i := range t.Schema.Columns {
		if t.Schema.Columns[i].Name == col.Name {
			t.Schema.Columns[i].Name = o.New
		}
	}
	if t.Schema.PrimaryKey == o.Old {
		t.Schema.PrimaryKey = o.New
	}
	for i := range t.Schema.ForeignKeys {
		if t.Schema.ForeignKeys[i].Column == o.Old {
			t.Schema.ForeignKeys[i].Column = o.New
		}
	}
	if idx, ok := t.Indexes[o.Old]; ok {
		delete(t.Indexes, o.Old)
		t.Indexes[o.New] = idx
	}
	return nil
}

// alterModifyColumn rewrites every existing row's value for the column
// under the widening table below, then reinstalls the row at a new heap
// location so the before-image on disk is never mutated in place.
func (e *Engine) alterModifyColumn(t *Table, o ModifyColumn) error {
	col, exists := t.Schema.column(o.Name)
	if !exists {
		return &errors.ColumnNotFoundError{Table: t.Schema.Table, Column: o.Name}
	}
	if col.Type == o.NewType {
		return nil
	}

	entries := t.PK.RangeScan(nil, nil)
	converted := make([]Row, len(entries))
	oldIndexKeys := make([]types.Comparable, len(entries))
	idx, indexed := t.Indexes[col.Name]
	for i, ent := range entries {
		row, err := t.Heap.Get(RowPointer(ent.Ptr))
		if err != nil {
			return err
		}
		if indexed {
			oldIndexKeys[i] = keyFor(col, row[col.Name])
		}
		if v, present := row[col.Name]; present && v != nil {
			nv, err := convertValue(col.Type, o.NewType, v)
			if err != nil {
				return err
			}
			row[col.Name] = nv
		}
		converted[i] = row
	}

	for i := range t.Schema.Columns {
		if t.Schema.Columns[i].Name == col.Name {
			t.Schema.Columns[i].Type = o.NewType
		}
	}
	newCol, _ := t.Schema.column(col.Name)

	for i, ent := range entries {
		newPtr, err := t.Heap.Put(converted[i])
		if err != nil {
			return err
		}
		t.PK.Insert(ent.Key, int64(newPtr))
		if indexed {
			if oldIndexKeys[i] != nil {
				idx.Delete(oldIndexKeys[i])
			}
			idx.Insert(keyFor(newCol, converted[i][col.Name]), int64(newPtr))
		}
	}
	return nil
}

// convertValue implements spec.md §4.9's widening table for
// ModifyColumn: int<->float<->text<->bool, with out-of-range int
// narrowing (float->int where the value has a fractional part, or a
// magnitude an int64 cannot hold) rejected.
func convertValue(from, to DataType, v interface{}) (interface{}, error) {
	if to == from {
		return v, nil
	}
	switch to {
	case TypeInt, TypeSerial, TypeBigSerial:
		switch from {
		case TypeFloat:
			f := asFloat(v)
			if f != float64(int64(f)) {
				return nil, &errors.TypeMismatchError{Column: "", Expected: "int", Got: "non-integral float"}
			}
			return int64(f), nil
		case TypeVarchar:
			var n int64
			if _, err := fmt.Sscanf(v.(string), "%d", &n); err != nil {
				return nil, &errors.TypeMismatchError{Column: "", Expected: "int", Got: "non-numeric text"}
			}
			return n, nil
		case TypeBoolean:
			if v.(bool) {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case TypeFloat:
		switch from {
		case TypeInt, TypeSerial, TypeBigSerial:
			return float64(asInt(v)), nil
		case TypeVarchar:
			var f float64
			if _, err := fmt.Sscanf(v.(string), "%g", &f); err != nil {
				return nil, &errors.TypeMismatchError{Column: "", Expected: "float", Got: "non-numeric text"}
			}
			return f, nil
		case TypeBoolean:
			if v.(bool) {
				return float64(1), nil
			}
			return float64(0), nil
		}
	case TypeVarchar:
		switch from {
		case TypeInt, TypeSerial, TypeBigSerial:
			return fmt.Sprintf("%d", asInt(v)), nil
		case TypeFloat:
			return fmt.Sprintf("%g", asFloat(v)), nil
		case TypeBoolean:
			return fmt.Sprintf("%t", v.(bool)), nil
		}
	case TypeBoolean:
		switch from {
		case TypeInt, TypeSerial, TypeBigSerial:
			return asInt(v) != 0, nil
		case TypeFloat:
			return asFloat(v) != 0, nil
		case TypeVarchar:
			return v.(string) == "true", nil
		}
	}
	return nil, &errors.TypeMismatchError{Column: "", Expected: to.String(), Got: from.String()}
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
