package backup

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const metadataFile = "metadata.json"

func writeMetadata(dir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "backup: marshal metadata")
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644)
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, errors.Wrap(err, "backup: read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "backup: unmarshal metadata")
	}
	return &meta, nil
}
