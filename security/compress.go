package security

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/kartikbazzad/dbx/errs"
)

// Compressor compresses and decompresses opaque byte blocks, the
// per-chunk codec ROS column chunks run through before (optional) AEAD
// sealing (spec.md §4.5/§6.4: "Each chunk is independently compressed
// then, if enabled, independently AEAD-sealed").
type Compressor interface {
	Compress(plaintext []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// noneCompressor is used for catalog.CompressionNone.
type noneCompressor struct{}

func (noneCompressor) Compress(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (noneCompressor) Decompress(compressed []byte) ([]byte, error) { return compressed, nil }

// NoneCompressor returns the identity Compressor.
func NoneCompressor() Compressor { return noneCompressor{} }

// zstdCompressor wraps github.com/klauspost/compress/zstd, reusing one
// encoder/decoder pair per instance since both are safe for concurrent
// use once created (zstd's own documented contract) — this mirrors how
// bundoc reuses its single cipher.AEAD rather than rebuilding it per
// call.
type zstdCompressor struct {
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor builds a zstd Compressor at the given level
// (catalog.CompressionPolicy.Level; 0 selects the library default).
func NewZstdCompressor(level int) (Compressor, error) {
	var opts []zstd.EOption
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd encoder: %v", errs.ErrIO, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decoder: %v", errs.ErrIO, err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Compress(plaintext []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.enc.EncodeAll(plaintext, make([]byte, 0, len(plaintext))), nil
}

func (z *zstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	out, err := z.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decode: %v", errs.ErrCorruption, err)
	}
	return out, nil
}
