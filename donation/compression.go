package donation

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionLevel selects the zstd level used for stored records.
type CompressionLevel string

const (
	// CompressionLevelNone stores records as plain JSON.
	CompressionLevelNone CompressionLevel = "none"
	// CompressionLevelFastest is zstd level 1.
	CompressionLevelFastest CompressionLevel = "fastest"
	// CompressionLevelDefault is zstd level 3.
	CompressionLevelDefault CompressionLevel = "default"
	// CompressionLevelBetter is zstd level 7.
	CompressionLevelBetter CompressionLevel = "better"
	// CompressionLevelBest is zstd level 11.
	CompressionLevelBest CompressionLevel = "best"
)

// minCompressSize is the size below which compressing is not worth it.
const minCompressSize = 64

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Codec compresses stored records. Decompress accepts both compressed and
// plain payloads, so the level can change without migrating old records.
// A Codec is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec for level. An empty level means default.
func NewCodec(level CompressionLevel) (*Codec, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	codec := &Codec{decoder: decoder}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case CompressionLevelNone:
		return codec, nil
	case CompressionLevelFastest:
		encoderLevel = zstd.SpeedFastest
	case CompressionLevelDefault, "":
		encoderLevel = zstd.SpeedDefault
	case CompressionLevelBetter:
		encoderLevel = zstd.SpeedBetterCompression
	case CompressionLevelBest:
		encoderLevel = zstd.SpeedBestCompression
	default:
		decoder.Close()
		return nil, fmt.Errorf("unknown compression level: %s", level)
	}

	codec.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return codec, nil
}

// Compress returns data compressed, or unchanged when compression is off
// or data is small.
func (c *Codec) Compress(data []byte) []byte {
	if c.encoder == nil || len(data) < minCompressSize {
		return data
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, make([]byte, 0, len(data)*3))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}
	return out, nil
}

// Close releases the decoder.
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	c.decoder.Close()
}

// IsCompressed reports whether data starts with the zstd magic number.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}
