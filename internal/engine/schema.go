// Package engine implements the row engine: schema validation, DDL/DML,
// auto-increment columns, foreign-key actions with cycle-guarded cascade
// recursion, and index maintenance over internal/btree.
package engine

import (
	"github.com/neuroquantum/storage-engine/pkg/errors"
)

// DataType is a column's logical type.
type DataType int

const (
	TypeInt DataType = iota
	TypeVarchar
	TypeFloat
	TypeBoolean
	TypeDate
	TypeSerial
	TypeBigSerial
)

func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeVarchar:
		return "varchar"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeSerial:
		return "serial"
	case TypeBigSerial:
		return "bigserial"
	default:
		return "unknown"
	}
}

// Column describes one field of a table.
type Column struct {
	Name     string
	Type     DataType
	Nullable bool
	Default  interface{}
}

// FKAction is the action taken on a row in the referencing table when its
// referenced row is deleted. ForeignKey carries only an OnDelete action;
// there is no action on update.
type FKAction int

const (
	Restrict FKAction = iota
	NoAction
	Cascade
	SetNull
	SetDefault
)

// ForeignKey constrains Column to reference RefTable.RefColumn.
type ForeignKey struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  FKAction
}

// Schema is a table's full column and constraint set.
type Schema struct {
	Table       string
	Columns     []Column
	PrimaryKey  string
	ForeignKeys []ForeignKey
}

func (s *Schema) column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks a schema definition for structural errors: exactly one
// primary key, no duplicate columns, foreign keys referencing existing
// columns.
func (s *Schema) Validate() error {
	if s.PrimaryKey == "" {
		return &errors.InvalidSchemaError{Table: s.Table, Reason: "no primary key defined"}
	}
	seen := make(map[string]bool)
	pkFound := false
	for _, c := range s.Columns {
		if seen[c.Name] {
			return &errors.InvalidSchemaError{Table: s.Table, Reason: "duplicate column " + c.Name}
		}
		seen[c.Name] = true
		if c.Name == s.PrimaryKey {
			pkFound = true
		}
	}
	if !pkFound {
		return &errors.InvalidSchemaError{Table: s.Table, Reason: "primary key column not declared"}
	}
	for _, fk := range s.ForeignKeys {
		if !seen[fk.Column] {
			return &errors.ColumnNotFoundError{Table: s.Table, Column: fk.Column}
		}
	}
	return nil
}

// Row is a single record: column name to value.
type Row map[string]interface{}

// ValidateRow checks row against schema: required columns present,
// types compatible, no extraneous columns.
func (s *Schema) ValidateRow(row Row) error {
	for _, c := range s.Columns {
		v, present := row[c.Name]
		if !present || v == nil {
			if c.Type == TypeSerial || c.Type == TypeBigSerial {
				continue // assigned by the engine
			}
			if !c.Nullable && c.Default == nil {
				return &errors.MissingRequiredColumnError{Column: c.Name}
			}
			continue
		}
		if !typeMatches(c.Type, v) {
			return &errors.TypeMismatchError{Column: c.Name, Expected: c.Type.String(), Got: goType(v)}
		}
	}
	for name := range row {
		if _, ok := s.column(name); !ok {
			return &errors.ColumnNotFoundError{Table: s.Table, Column: name}
		}
	}
	return nil
}

func typeMatches(t DataType, v interface{}) bool {
	switch t {
	case TypeInt, TypeSerial, TypeBigSerial:
		switch v.(type) {
		case int, int64, int32:
			return true
		}
		return false
	case TypeVarchar:
		_, ok := v.(string)
		return ok
	case TypeFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate:
		_, ok := v.(int64) // stored as unix nanos
		return ok
	default:
		return false
	}
}

func goType(v interface{}) string {
	switch v.(type) {
	case int, int64, int32:
		return "int"
	case string:
		return "string"
	case float32, float64:
		return "float"
	case bool:
		return "bool"
	default:
		return "unknown"
	}
}
