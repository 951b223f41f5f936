package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroquantum/storage-engine/internal/txn"
	storeerrors "github.com/neuroquantum/storage-engine/pkg/errors"
)

func TestDropTable_IfExistsSuppressesError(t *testing.T) {
	e := newTestEngine(t)

	err := e.DropTable("ghost", false)
	var notFound *storeerrors.TableNotFoundError
	assert.ErrorAs(t, err, &notFound)

	assert.NoError(t, e.DropTable("ghost", true))
}

func TestResetAutoIncrement_RestartsCounter(t *testing.T) {
	e := newTestEngine(t)
	schema := Schema{
		Table:      "orders",
		PrimaryKey: "id",
		Columns:    []Column{{Name: "id", Type: TypeSerial}},
	}
	require.NoError(t, e.CreateTable(schema))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "orders", Row{}))
	require.NoError(t, e.Insert(tx, "orders", Row{}))
	require.NoError(t, e.Delete(tx, "orders", int64(1)))
	require.NoError(t, e.Delete(tx, "orders", int64(2)))
	require.NoError(t, e.Commit(tx))

	require.NoError(t, e.ResetAutoIncrement("orders"))

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx2, "orders", Row{}))
	require.NoError(t, e.Commit(tx2))

	tx3, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e.Get(tx3, "orders", int64(1))
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx3))
	assert.NotNil(t, row)
}

func TestAlterTable_AddColumnRejectsNonNullableOnNonEmptyTable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "users", Row{"id": 1, "name": "ada"}))
	require.NoError(t, e.Commit(tx))

	err = e.AlterTable("users", AddColumn{Column: Column{Name: "email", Type: TypeVarchar}})
	var invalid *storeerrors.InvalidSchemaError
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, e.AlterTable("users", AddColumn{Column: Column{Name: "email", Type: TypeVarchar, Nullable: true}}))
}

func TestAlterTable_DropColumnRejectsPrimaryKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	err := e.AlterTable("users", DropColumn{Name: "id"})
	var invalid *storeerrors.InvalidSchemaError
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, e.AlterTable("users", DropColumn{Name: "name"}))
	_, exists := e.tables["users"].Schema.column("name")
	assert.False(t, exists)
}

func TestAlterTable_RenameColumnUpdatesPrimaryKey(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable(usersSchema()))

	require.NoError(t, e.AlterTable("users", RenameColumn{Old: "id", New: "user_id"}))
	assert.Equal(t, "user_id", e.tables["users"].Schema.PrimaryKey)
	_, exists := e.tables["users"].Schema.column("user_id")
	assert.True(t, exists)
}

func TestAlterTable_ModifyColumnConvertsExistingRows(t *testing.T) {
	e := newTestEngine(t)
	schema := Schema{
		Table:      "metrics",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeInt},
			{Name: "count", Type: TypeInt},
		},
	}
	require.NoError(t, e.CreateTable(schema))

	tx, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Insert(tx, "metrics", Row{"id": 1, "count": 42}))
	require.NoError(t, e.Commit(tx))

	require.NoError(t, e.AlterTable("metrics", ModifyColumn{Name: "count", NewType: TypeFloat}))

	tx2, err := e.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	row, err := e.Get(tx2, "metrics", 1)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))
	assert.Equal(t, float64(42), row["count"])
}

func TestConvertValue_RejectsNonIntegralFloatNarrowing(t *testing.T) {
	_, err := convertValue(TypeFloat, TypeInt, 3.5)
	var mismatch *storeerrors.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
