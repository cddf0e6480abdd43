package mcap

import (
	"bytes"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// chunkWriter buffers one Chunk record's worth of Schema/Channel/Message
// records, compressing them through the configured codec as they arrive
// rather than materializing the uncompressed payload and compressing it in
// one pass at flush time.
type chunkWriter struct {
	compressed        *bytes.Buffer
	compressedWriter  *countingCRCWriter
	compressionFormat CompressionFormat
	uncompressed      *bytes.Buffer // only populated for CompressionNone

	ChunkStartTime uint64
	ChunkEndTime   uint64
}

func newChunkWriter(compression CompressionFormat, level CompressionLevel, includeCRC bool) (*chunkWriter, error) {
	compressed := &bytes.Buffer{}
	var rwc resettableWriteCloser
	var uncompressed *bytes.Buffer
	switch compression {
	case CompressionZSTD:
		zw, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(level.zstdLevel()))
		if err != nil {
			return nil, fmt.Errorf("failed to build zstd writer: %w", err)
		}
		rwc = zw
	case CompressionLZ4:
		lw := lz4.NewWriter(compressed)
		_ = lw.Apply(lz4.CompressionLevelOption(level.lz4Level()))
		rwc = lw
	case CompressionNone:
		uncompressed = compressed
		rwc = bufCloser{compressed}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, compression)
	}
	return &chunkWriter{
		compressed:        compressed,
		compressedWriter:  newCountingCRCWriter(rwc, includeCRC),
		compressionFormat: compression,
		uncompressed:      uncompressed,
		ChunkStartTime:    math.MaxUint64,
	}, nil
}

func (cw *chunkWriter) Write(buf []byte) (int, error) {
	return cw.compressedWriter.Write(buf)
}

// UncompressedLen returns the number of uncompressed bytes written to the
// chunk so far.
func (cw *chunkWriter) UncompressedLen() int64 { return cw.compressedWriter.Size() }

func (cw *chunkWriter) compressedLen() int { return cw.compressed.Len() }

// rawUncompressed exposes the chunk's raw bytes for in-place sorting; this
// is only possible for CompressionNone, since compressed codecs have
// already consumed and discarded the plaintext.
func (cw *chunkWriter) rawUncompressed() ([]byte, bool) {
	if cw.uncompressed == nil {
		return nil, false
	}
	return cw.uncompressed.Bytes(), true
}

// SerializedLen returns the byte length of this chunk's record body, not
// including its own opcode+length framing.
func (cw *chunkWriter) SerializedLen() int {
	return 8 + 8 + 8 + 4 + 4 + len(cw.compressionFormat) + 8 + cw.compressedLen()
}

// SerializeTo writes the chunk's record body (everything after the
// opcode+length framing) to buf, returning the number of bytes written.
func (cw *chunkWriter) SerializeTo(buf []byte) (int, error) {
	if len(buf) < cw.SerializedLen() {
		return 0, fmt.Errorf("chunk buffer too small to serialize")
	}
	offset := putUint64(buf, cw.ChunkStartTime)
	offset += putUint64(buf[offset:], cw.ChunkEndTime)
	offset += putUint64(buf[offset:], uint64(cw.UncompressedLen()))
	offset += putUint32(buf[offset:], cw.compressedWriter.CRC())
	offset += putPrefixedString(buf[offset:], string(cw.compressionFormat))
	offset += putUint64(buf[offset:], uint64(cw.compressedLen()))
	offset += copy(buf[offset:], cw.compressed.Bytes())
	return offset, nil
}

func (cw *chunkWriter) Close() error { return cw.compressedWriter.Close() }

func (cw *chunkWriter) Reset() error {
	cw.compressed.Reset()
	cw.compressedWriter.Reset(cw.compressed)
	cw.compressedWriter.ResetCRC()
	cw.compressedWriter.ResetSize()
	cw.ChunkStartTime = math.MaxUint64
	cw.ChunkEndTime = 0
	return nil
}
