// Package crypto implements encryption-at-rest: data encryption keys
// (DEKs) derived per generation from a key-encryption key (KEK) via
// HKDF, AEAD-sealed page and backup payloads, and on-demand key rotation.
package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/cockroachdb/errors"
	storeerrors "github.com/neuroquantum/storage-engine/pkg/errors"
)

const keyLen = chacha20poly1305.KeySize

// Envelope seals and opens payloads with a generation-versioned key so
// rotation doesn't require re-encrypting data still under an older key;
// the key generation is stored alongside the ciphertext.
type Envelope struct {
	km *KeyManager
}

// NewEnvelope builds an Envelope over the given key manager.
func NewEnvelope(km *KeyManager) *Envelope {
	return &Envelope{km: km}
}

// Seal encrypts plaintext under the current DEK, returning
// generation || nonce || ciphertext.
func (e *Envelope) Seal(plaintext, aad []byte) ([]byte, error) {
	gen, key := e.km.Current()
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: build aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "crypto: generate nonce")
	}
	out := make([]byte, 0, 4+len(nonce)+len(plaintext)+aead.Overhead())
	out = appendGen(out, gen)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a Seal'd payload, looking up the DEK generation recorded
// in the header so data sealed under a rotated-out key still opens.
func (e *Envelope) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < 4 {
		return nil, &storeerrors.CorruptRecordError{Reason: "envelope too short"}
	}
	gen := readGen(sealed)
	key, ok := e.km.Generation(gen)
	if !ok {
		return nil, &storeerrors.CorruptRecordError{Reason: "unknown key generation"}
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: build aead")
	}
	rest := sealed[4:]
	if len(rest) < aead.NonceSize() {
		return nil, &storeerrors.ShortReadError{}
	}
	nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: open sealed payload")
	}
	return pt, nil
}

func appendGen(dst []byte, gen uint32) []byte {
	return append(dst, byte(gen>>24), byte(gen>>16), byte(gen>>8), byte(gen))
}

func readGen(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// deriveDEK derives a DEK from a KEK and a per-generation salt via HKDF,
// so the KEK itself never encrypts data directly.
func deriveDEK(kek []byte, salt []byte) ([]byte, error) {
	r := hkdf.New(newSHA256, kek, salt, []byte("neuroquantum-dek"))
	dek := make([]byte, keyLen)
	if _, err := io.ReadFull(r, dek); err != nil {
		return nil, errors.Wrap(err, "crypto: derive dek")
	}
	return dek, nil
}
