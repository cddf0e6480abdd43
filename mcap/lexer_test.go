package mcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRecord(buf *bytes.Buffer, op OpCode, body []byte) {
	var header [9]byte
	header[0] = byte(op)
	putUint64(header[1:], uint64(len(body)))
	buf.Write(header[:])
	buf.Write(body)
}

func TestLexerRejectsBadLeadingMagic(t *testing.T) {
	buf := bytes.NewBufferString("not an mcap file")
	_, err := NewLexer(buf)
	require.Error(t, err)
	var badMagic *ErrBadMagic
	require.ErrorAs(t, err, &badMagic)
}

func TestLexerReadsHeaderThenEOF(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	var body bytes.Buffer
	putLenPrefixed(&body, "prof")
	putLenPrefixed(&body, "lib")
	writeRecord(&buf, OpHeader, body.Bytes())

	lexer, err := NewLexer(&buf)
	require.NoError(t, err)
	tokenType, r, n, err := lexer.Next()
	require.NoError(t, err)
	require.Equal(t, TokenHeader, tokenType)
	record := make([]byte, n)
	_, err = r.Read(record)
	require.NoError(t, err)
	h, err := ParseHeader(record)
	require.NoError(t, err)
	require.Equal(t, "prof", h.Profile)
	require.Equal(t, "lib", h.Library)

	_, _, _, err = lexer.Next()
	require.Error(t, err)
}

func putLenPrefixed(buf *bytes.Buffer, s string) {
	b := make([]byte, 4+len(s))
	putPrefixedString(b, s)
	buf.Write(b)
}

func TestLexerRejectsZeroOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	writeRecord(&buf, OpReserved, nil)
	lexer, err := NewLexer(&buf)
	require.NoError(t, err)
	_, _, _, err = lexer.Next()
	require.ErrorIs(t, err, ErrInvalidZeroOpcode)
}

func TestLexerEnforcesMaxRecordSize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	writeRecord(&buf, OpMessage, make([]byte, 100))
	lexer, err := NewLexer(&buf, &LexerOptions{MaxRecordSize: 10})
	require.NoError(t, err)
	_, _, _, err = lexer.Next()
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestLexerSkipMagic(t *testing.T) {
	var buf bytes.Buffer // no magic
	writeRecord(&buf, OpDataEnd, make([]byte, 4))
	lexer, err := NewLexer(&buf, &LexerOptions{SkipMagic: true})
	require.NoError(t, err)
	tokenType, _, _, err := lexer.Next()
	require.NoError(t, err)
	require.Equal(t, TokenDataEnd, tokenType)
}

func TestLexerDeChunksTransparently(t *testing.T) {
	var inner bytes.Buffer
	writeRecord(&inner, OpMessage, make([]byte, 4))

	var chunkBody bytes.Buffer
	chunkBody.Write(make([]byte, 8)) // start time
	chunkBody.Write(make([]byte, 8)) // end time
	sizeBuf := make([]byte, 8)
	putUint64(sizeBuf, uint64(inner.Len()))
	chunkBody.Write(sizeBuf)
	chunkBody.Write(make([]byte, 4)) // crc (0 = skip validation)
	compLen := make([]byte, 4+0)
	putUint32(compLen, 0)
	chunkBody.Write(compLen) // compression string length 0
	recLenBuf := make([]byte, 8)
	putUint64(recLenBuf, uint64(inner.Len()))
	chunkBody.Write(recLenBuf)
	chunkBody.Write(inner.Bytes())

	var buf bytes.Buffer
	buf.Write(Magic)
	writeRecord(&buf, OpChunk, chunkBody.Bytes())

	lexer, err := NewLexer(&buf)
	require.NoError(t, err)
	tokenType, _, n, err := lexer.Next()
	require.NoError(t, err)
	require.Equal(t, TokenMessage, tokenType)
	require.Equal(t, int64(4), n)

	tokenType, _, _, err = lexer.Next()
	require.NoError(t, err)
	require.Equal(t, TokenChunkEnd, tokenType)
}

func TestLexerRejectsNestedChunk(t *testing.T) {
	// A chunk whose declared records section itself begins with another
	// chunk opcode should surface ErrNestedChunk once the outer chunk's
	// decompressed stream is scanned.
	var innerChunkHeader bytes.Buffer
	writeRecord(&innerChunkHeader, OpChunk, make([]byte, 8+8+8+4+4))

	var outerBody bytes.Buffer
	outerBody.Write(make([]byte, 8))
	outerBody.Write(make([]byte, 8))
	sizeBuf := make([]byte, 8)
	putUint64(sizeBuf, uint64(innerChunkHeader.Len()))
	outerBody.Write(sizeBuf)
	outerBody.Write(make([]byte, 4))
	compLen := make([]byte, 4)
	putUint32(compLen, 0)
	outerBody.Write(compLen)
	recLenBuf := make([]byte, 8)
	putUint64(recLenBuf, uint64(innerChunkHeader.Len()))
	outerBody.Write(recLenBuf)
	outerBody.Write(innerChunkHeader.Bytes())

	var buf bytes.Buffer
	buf.Write(Magic)
	writeRecord(&buf, OpChunk, outerBody.Bytes())

	lexer, err := NewLexer(&buf)
	require.NoError(t, err)
	_, _, _, err = lexer.Next()
	require.ErrorIs(t, err, ErrNestedChunk)
}
