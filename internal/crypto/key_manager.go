package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
)

func newSHA256() hash.Hash { return sha256.New() }

// KeyManager owns the key-encryption key and the generation history of
// derived data-encryption keys. No OS keychain library exists anywhere in
// this corpus (checked across every example go.mod), so the only storage
// backend implemented is the file-fallback path the specification
// requires regardless: a 0600-mode key file under the data directory.
// Where a production deployment wants a real keychain or KMS, Source is
// the seam to add one without touching Envelope.
type KeyManager struct {
	mu          sync.RWMutex
	path        string
	kek         []byte
	generations map[uint32][]byte
	current     uint32
}

// LoadOrCreate opens the key file at path, creating a fresh random KEK on
// first run, and derives generation-0 data encryption key.
func LoadOrCreate(path string) (*KeyManager, error) {
	km := &KeyManager{path: path, generations: make(map[uint32][]byte)}

	kek, err := readKeyFile(path)
	if errors.Is(err, os.ErrNotExist) {
		kek = make([]byte, keyLen)
		if _, rerr := io.ReadFull(rand.Reader, kek); rerr != nil {
			return nil, errors.Wrap(rerr, "crypto: generate kek")
		}
		if werr := writeKeyFile(path, kek); werr != nil {
			return nil, werr
		}
	} else if err != nil {
		return nil, err
	}
	km.kek = kek

	dek, err := deriveDEK(kek, salt(0))
	if err != nil {
		return nil, err
	}
	km.generations[0] = dek
	km.current = 0
	return km, nil
}

// Current returns the active generation number and its DEK.
func (km *KeyManager) Current() (uint32, []byte) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current, km.generations[km.current]
}

// Generation returns the DEK for a specific (possibly retired) generation.
func (km *KeyManager) Generation(gen uint32) ([]byte, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	key, ok := km.generations[gen]
	return key, ok
}

// Rotate derives a new generation's DEK from the same KEK with a fresh
// salt and makes it current. Older generations remain available so
// already-sealed pages still decrypt until they are rewritten.
func (km *KeyManager) Rotate() (uint32, error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	next := km.current + 1
	dek, err := deriveDEK(km.kek, salt(next))
	if err != nil {
		return 0, err
	}
	km.generations[next] = dek
	km.current = next
	return next, nil
}

func salt(gen uint32) []byte {
	return []byte{byte(gen >> 24), byte(gen >> 16), byte(gen >> 8), byte(gen)}
}

func readKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) != keyLen {
		return nil, errors.Newf("crypto: key file %s has wrong length", path)
	}
	return b, nil
}

func writeKeyFile(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "crypto: create key dir")
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return errors.Wrap(err, "crypto: write key file")
	}
	return nil
}
