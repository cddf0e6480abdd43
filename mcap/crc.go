package mcap

import (
	"bytes"
	"hash"
	"hash/crc32"
	"io"
)

// CRC-32 throughout this package is the standard IEEE variant: polynomial
// 0xEDB88320, initial value 0xFFFFFFFF, reflected input/output, final XOR
// 0xFFFFFFFF (spec.md §4.1) — exactly hash/crc32.ChecksumIEEE, which this
// package uses directly so streaming updates across arbitrary splits agree
// with one-shot computation.

// crcReader wraps an io.Reader, accumulating a running CRC-32 of everything
// read through it when computeCRC is true.
type crcReader struct {
	r          io.Reader
	crc        hash.Hash32
	computeCRC bool
}

func newCRCReader(r io.Reader, computeCRC bool) *crcReader {
	return &crcReader{r: r, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (r *crcReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if r.computeCRC && n > 0 {
		_, _ = r.crc.Write(p[:n])
	}
	return n, err
}

func (r *crcReader) Checksum() uint32 { return r.crc.Sum32() }

// crcWriter wraps an io.Writer, accumulating a running CRC-32 of everything
// written through it.
type crcWriter struct {
	w   io.Writer
	crc hash.Hash32
}

func newCRCWriter(w io.Writer) *crcWriter {
	return &crcWriter{w: w, crc: crc32.NewIEEE()}
}

func (w *crcWriter) Write(p []byte) (int, error) {
	_, _ = w.crc.Write(p)
	return w.w.Write(p)
}

func (w *crcWriter) Checksum() uint32 { return w.crc.Sum32() }

func (w *crcWriter) ResetCRC() { w.crc = crc32.NewIEEE() }

// writeSizer wraps an io.Writer, tracking both the total number of bytes
// written and a running CRC-32 over them. The writer pipeline uses it as the
// outermost sink so Offset()/Size() and the data/summary CRCs stay in sync
// with actual output.
type writeSizer struct {
	w    *crcWriter
	size uint64
}

func newWriteSizer(w io.Writer) *writeSizer {
	return &writeSizer{w: newCRCWriter(w)}
}

func (w *writeSizer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.size += uint64(n)
	return n, err
}

func (w *writeSizer) Size() uint64 { return w.size }

func (w *writeSizer) Checksum() uint32 { return w.w.Checksum() }

func (w *writeSizer) ResetCRC() { w.w.ResetCRC() }

// resettableWriteCloser is implemented by compressors that can be rebound to
// a new destination without reallocating internal buffers.
type resettableWriteCloser interface {
	io.WriteCloser
	Reset(io.Writer)
}

// bufCloser adapts a *bytes.Buffer to resettableWriteCloser for the
// "no compression" chunk-writer path.
type bufCloser struct {
	buf *bytes.Buffer
}

func (b bufCloser) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b bufCloser) Close() error                { return nil }

// Reset ignores w: the chunk writer always rebinds to the same underlying
// buffer it was constructed with, so this just clears it.
func (b bufCloser) Reset(io.Writer) { b.buf.Reset() }

// countingCRCWriter wraps a resettableWriteCloser, additionally tracking the
// uncompressed byte count and an optional CRC-32 of everything written
// through it. Used by chunkWriter to compute the Chunk record's
// UncompressedSize/UncompressedCRC fields without re-scanning the buffer.
type countingCRCWriter struct {
	w          resettableWriteCloser
	size       int64
	crc        hash.Hash32
	computeCRC bool
}

func newCountingCRCWriter(w resettableWriteCloser, computeCRC bool) *countingCRCWriter {
	return &countingCRCWriter{w: w, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (c *countingCRCWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.size += int64(n)
	if c.computeCRC && n > 0 {
		_, _ = c.crc.Write(p[:n])
	}
	return n, err
}

func (c *countingCRCWriter) Close() error { return c.w.Close() }

func (c *countingCRCWriter) Reset(w io.Writer) { c.w.Reset(w) }

func (c *countingCRCWriter) ResetCRC() { c.crc = crc32.NewIEEE() }

func (c *countingCRCWriter) ResetSize() { c.size = 0 }

func (c *countingCRCWriter) CRC() uint32 { return c.crc.Sum32() }

func (c *countingCRCWriter) Size() int64 { return c.size }
