package backup

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cockroachdb/errors"
)

var bucketBackups = []byte("backups")

// catalog is a BoltDB-backed index of every backup set's metadata,
// keyed by backup id, giving Manager.List a fast path that doesn't walk
// the backup directory tree the way Load/Chain do for a single id.
// Grounded on cuemby-warren's pkg/storage/boltdb.go BoltStore, which
// indexes its own domain objects the same way: one bucket, JSON-encoded
// values, keyed by id.
type catalog struct {
	db *bolt.DB
}

func openCatalog(backupDir string) (*catalog, error) {
	db, err := bolt.Open(filepath.Join(backupDir, "catalog.db"), 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "backup: open catalog")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBackups)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "backup: init catalog bucket")
	}
	return &catalog{db: db}, nil
}

func (c *catalog) put(meta *Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "backup: marshal catalog entry")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Put([]byte(meta.ID), data)
	})
}

// list returns every cataloged backup's metadata, most recently taken
// first.
func (c *catalog) list() ([]*Metadata, error) {
	var out []*Metadata
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(_, v []byte) error {
			var meta Metadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, &meta)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "backup: list catalog")
	}
	sortByTakenAtDesc(out)
	return out, nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

func sortByTakenAtDesc(metas []*Metadata) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].TakenAt > metas[j-1].TakenAt; j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}
