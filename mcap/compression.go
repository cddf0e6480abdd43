package mcap

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionLevel selects a speed/ratio tradeoff for chunk compression.
// Only the named constants are meaningful; treat the underlying values as
// opaque so future library upgrades can remap them.
type CompressionLevel int

const (
	CompressionFastest CompressionLevel = -20
	CompressionFast    CompressionLevel = -10
	CompressionDefault CompressionLevel = 0
	CompressionSlow    CompressionLevel = 10
	CompressionSlowest CompressionLevel = 20
)

func (c CompressionLevel) lz4Level() lz4.CompressionLevel {
	switch c {
	case CompressionFastest:
		return lz4.Fast
	case CompressionFast:
		return lz4.Level3
	case CompressionSlow:
		return lz4.Level7
	case CompressionSlowest:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func (c CompressionLevel) zstdLevel() zstd.EncoderLevel {
	switch c {
	case CompressionFastest, CompressionFast:
		return zstd.SpeedFastest
	case CompressionSlow:
		return zstd.SpeedBetterCompression
	case CompressionSlowest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// decompressor is the uniform "compressed reader" contract from spec.md
// §4.2: reset to a new compressed payload of known uncompressed size, then
// serve byte ranges out of an owned output buffer. Used by the indexed
// chunk loader (loadChunkAt); the linear lexer decodes chunks through its
// own streaming decoders instead.
type decompressor interface {
	// decompress fully decompresses compressed into dst, growing or
	// reusing dst's backing array, and returns the result.
	decompress(compressed []byte, uncompressedLen uint64, dst []byte) ([]byte, error)
}

type noneDecompressor struct{}

func (noneDecompressor) decompress(compressed []byte, uncompressedLen uint64, dst []byte) ([]byte, error) {
	if uint64(len(compressed)) != uncompressedLen {
		return nil, ErrUncompressedSizeMismatch
	}
	dst = growTo(dst, len(compressed))
	copy(dst, compressed)
	return dst, nil
}

type lz4Decompressor struct {
	r *lz4.Reader
}

func (d *lz4Decompressor) decompress(compressed []byte, uncompressedLen uint64, dst []byte) ([]byte, error) {
	if d.r == nil {
		d.r = lz4.NewReader(bytes.NewReader(compressed))
	} else {
		d.r.Reset(bytes.NewReader(compressed))
	}
	dst = growTo(dst, int(uncompressedLen))
	if _, err := io.ReadFull(d.r, dst); err != nil {
		return nil, fmt.Errorf("failed to decompress lz4 chunk: %w", err)
	}
	return dst, nil
}

type zstdDecompressor struct {
	dec *zstd.Decoder
}

func (d *zstdDecompressor) decompress(compressed []byte, uncompressedLen uint64, dst []byte) ([]byte, error) {
	if d.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to instantiate zstd decoder: %w", err)
		}
		d.dec = dec
	}
	out, err := d.dec.DecodeAll(compressed, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode zstd chunk: %w", err)
	}
	if uint64(len(out)) != uncompressedLen {
		return nil, ErrUncompressedSizeMismatch
	}
	return out, nil
}

func growTo(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

// decompressorSet lazily constructs and caches one decompressor per
// compression format, so stateful decoders (lz4.Reader, zstd.Decoder) are
// reused across chunks instead of rebuilt.
type decompressorSet struct {
	none noneDecompressor
	lz4  lz4Decompressor
	zstd zstdDecompressor
}

func (s *decompressorSet) get(format CompressionFormat) (decompressor, error) {
	switch format {
	case CompressionNone:
		return s.none, nil
	case CompressionLZ4:
		return &s.lz4, nil
	case CompressionZSTD:
		return &s.zstd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, format)
	}
}

// checksumChunk computes the CRC-32 over a decompressed chunk's interior and
// compares it against the declared value, when present. A zero declared CRC
// means the writer skipped CRC computation (WriterOptions.NoCRC).
func checksumChunk(decompressed []byte, declared uint32) error {
	if declared == 0 {
		return nil
	}
	if actual := crc32.ChecksumIEEE(decompressed); actual != declared {
		return fmt.Errorf("%w: expected %x, got %x", ErrChunkCRCMismatch, declared, actual)
	}
	return nil
}
