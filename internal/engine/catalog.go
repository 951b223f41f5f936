package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/neuroquantum/storage-engine/internal/btree"
	"github.com/neuroquantum/storage-engine/internal/page"
)

const catalogFile = "metadata.json"

// catalogEntry is one table's persisted schema plus the page ids of its
// flushed indexes, letting LoadCatalog reopen a table without scanning
// the heap or replaying the WAL from its very first record.
type catalogEntry struct {
	Schema      Schema
	Serial      uint64
	PKMetaID    page.ID
	IndexMetaID map[string]page.ID
}

type catalogDocument struct {
	Tables []catalogEntry
}

// SaveCatalog flushes every table's primary-key and secondary indexes
// to store and writes the resulting schemas and index page ids to
// metadata.json in dir. A restarted process calls LoadCatalog before
// running recovery, so ApplyRedo/ApplyUndo's table lookups for logged
// row records succeed instead of failing with TableNotFoundError.
func (e *Engine) SaveCatalog(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := make([]catalogEntry, 0, len(e.tables))
	for _, t := range e.tables {
		pkMetaID, err := t.PK.Flush(e.store)
		if err != nil {
			return errors.Wrapf(err, "engine: flush primary key index for %s", t.Schema.Table)
		}
		idxMetaIDs := make(map[string]page.ID, len(t.Indexes))
		for col, idx := range t.Indexes {
			metaID, err := idx.Flush(e.store)
			if err != nil {
				return errors.Wrapf(err, "engine: flush index %s.%s", t.Schema.Table, col)
			}
			idxMetaIDs[col] = metaID
		}
		entries = append(entries, catalogEntry{
			Schema:      t.Schema,
			Serial:      atomic.LoadUint64(&t.serial),
			PKMetaID:    pkMetaID,
			IndexMetaID: idxMetaIDs,
		})
	}

	data, err := json.MarshalIndent(catalogDocument{Tables: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "engine: marshal catalog")
	}
	if err := e.store.Flush(); err != nil {
		return errors.Wrap(err, "engine: flush page store")
	}
	return os.WriteFile(filepath.Join(dir, catalogFile), data, 0o644)
}

// LoadCatalog reads metadata.json from dir, if present — a fresh data
// directory has none, which is not an error, just an empty catalogue —
// and reconstructs every table's schema, auto-increment counter, and
// primary-key/secondary indexes from their persisted page ids. Callers
// must run this before recovery: the catalogue is what makes e.table()
// resolve for every row record recovery needs to redo or undo.
func (e *Engine) LoadCatalog(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "engine: read catalog")
	}

	var parsed catalogDocument
	if err := json.Unmarshal(data, &parsed); err != nil {
		return errors.Wrap(err, "engine: unmarshal catalog")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range parsed.Tables {
		schema := normalizeSchema(entry.Schema)

		pk, err := btree.Open(e.store, entry.PKMetaID)
		if err != nil {
			return errors.Wrapf(err, "engine: open primary key index for %s", schema.Table)
		}
		indexes := make(map[string]*btree.Tree, len(entry.IndexMetaID))
		for col, metaID := range entry.IndexMetaID {
			idx, err := btree.Open(e.store, metaID)
			if err != nil {
				return errors.Wrapf(err, "engine: open index %s.%s", schema.Table, col)
			}
			indexes[col] = idx
		}

		e.tables[schema.Table] = &Table{
			Schema:  schema,
			Heap:    NewRowHeap(e.store),
			PK:      pk,
			Indexes: indexes,
			serial:  entry.Serial,
		}
	}
	return nil
}

// normalizeSchema repairs the numeric type information a JSON round
// trip loses: every number decodes as float64 regardless of the Go
// type it was marshaled from, so a column's Default needs coercing
// back to what its DataType expects before ValidateRow compares it.
func normalizeSchema(s Schema) Schema {
	for i, c := range s.Columns {
		s.Columns[i].Default = coerceDefault(c.Type, c.Default)
	}
	return s
}

func coerceDefault(t DataType, v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch t {
	case TypeInt, TypeSerial, TypeBigSerial:
		return int64(f)
	default:
		return v
	}
}
