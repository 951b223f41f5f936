package backup

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/neuroquantum/storage-engine/internal/wal"
)

// Restore copies a backup chain's files into destDir in order (base full
// backup first, each incremental/differential layered on top), then
// optionally truncates the restored WAL after targetLSN for point-in-time
// recovery; Restore itself replays nothing, recovery does that on the
// next open. A targetLSN of 0 keeps the whole log (ordinary restore
// without PITR truncation).
func (m *Manager) Restore(id, destDir string, targetLSN uint64) error {
	chain, err := m.Chain(id)
	if err != nil {
		return err
	}
	for _, meta := range chain {
		if err := m.Verify(meta.ID); err != nil {
			return err
		}
		srcDir := filepath.Join(m.backupDir, meta.ID)
		for _, rel := range meta.Files {
			if err := copyFile(filepath.Join(srcDir, rel), filepath.Join(destDir, rel)); err != nil {
				return err
			}
		}
	}
	if targetLSN == 0 {
		return nil
	}
	return truncateWALAfter(filepath.Join(destDir, "wal"), targetLSN)
}

// truncateWALAfter rewrites the restored WAL directory so it contains
// only records up to and including targetLSN, realizing point-in-time
// recovery: internal/recovery will then only ever see records at or
// before the requested point.
func truncateWALAfter(dir string, targetLSN uint64) error {
	r, err := wal.NewReader(dir)
	if err != nil {
		return errors.Wrap(err, "backup: open restored wal")
	}
	defer r.Close()

	tmpDir := dir + ".pitr"
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return errors.Wrap(err, "backup: create pitr dir")
	}
	tracker := wal.NewLSNTracker(0)
	w, err := wal.NewWriter(wal.DefaultOptions(tmpDir), tracker, 0)
	if err != nil {
		return err
	}

	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Close()
			return err
		}
		if rec.Header.LSN > targetLSN {
			break
		}
		if err := w.WriteRaw(rec); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "backup: remove old wal dir")
	}
	return os.Rename(tmpDir, dir)
}
