package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps klauspost/compress's zstd encoder/decoder pair, reused across
// calls via sync.Once-initialized singletons per the library's own
// guidance that encoders/decoders are expensive to construct.
type Zstd struct {
	level zstd.EncoderLevel

	initOnce sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	initErr  error
}

// NewZstd returns a Codec using the given compression level. A zero level
// defaults to zstd.SpeedDefault.
func NewZstd(level zstd.EncoderLevel) *Zstd {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &Zstd{level: level}
}

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) init() {
	z.initOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
		if err != nil {
			z.initErr = err
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			z.initErr = err
			return
		}
		z.enc = enc
		z.dec = dec
	})
}

func (z *Zstd) Compress(dst, src []byte) []byte {
	z.init()
	if z.initErr != nil {
		return append(dst, src...)
	}
	return z.enc.EncodeAll(src, dst)
}

func (z *Zstd) Decompress(dst, src []byte) ([]byte, error) {
	z.init()
	if z.initErr != nil {
		return nil, z.initErr
	}
	return z.dec.DecodeAll(src, dst)
}
