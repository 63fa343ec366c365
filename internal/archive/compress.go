package archive

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdSuffix is appended to the key of compressed archive copies.
const zstdSuffix = ".zst"

// compressor turns an object body into the bytes stored by the sink.
type compressor interface {
	// Compress returns the encoded body. src must not be modified.
	Compress(src []byte) []byte
	// Suffix is appended to the sink key.
	Suffix() string
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &zstdCompressor{enc: enc}, nil
}

// Compress is safe for concurrent use; EncodeAll shares the encoder's
// internal pool.
func (c *zstdCompressor) Compress(src []byte) []byte {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2))
}

func (c *zstdCompressor) Suffix() string { return zstdSuffix }

func newCompressor(name string) (compressor, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "zstd":
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown archive compression %q", name)
	}
}
