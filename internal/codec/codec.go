// Package codec provides the pluggable compression layer sitting between
// the row engine and the page store. The "quantum/neuromorphic" branding
// in product material names nothing more than an implementation of this
// interface; the engine itself only depends on Codec.
package codec

// Codec compresses and decompresses page and backup payloads.
type Codec interface {
	Name() string
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
}

// None is the identity codec, used in tests and for already-compressed
// payloads (e.g. encrypted pages, where compressing ciphertext is wasted
// work).
type None struct{}

func (None) Name() string                               { return "none" }
func (None) Compress(dst, src []byte) []byte             { return append(dst, src...) }
func (None) Decompress(dst, src []byte) ([]byte, error)  { return append(dst, src...), nil }
