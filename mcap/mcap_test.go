package mcap

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetUint16(t *testing.T) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, 123)
	t.Run("successful read", func(t *testing.T) {
		x, offset, err := getUint16(buf, 0)
		require.NoError(t, err)
		require.Equal(t, uint16(123), x)
		require.Equal(t, 2, offset)
	})
	t.Run("insufficient space", func(t *testing.T) {
		_, _, err := getUint16(buf, 1)
		require.ErrorIs(t, err, io.ErrShortBuffer)
	})
	t.Run("offset outside buffer", func(t *testing.T) {
		_, _, err := getUint16(buf, 10)
		require.ErrorIs(t, err, io.ErrShortBuffer)
	})
}

func TestGetUint32(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 123)
	t.Run("successful read", func(t *testing.T) {
		x, offset, err := getUint32(buf, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(123), x)
		require.Equal(t, 4, offset)
	})
	t.Run("offset outside buffer", func(t *testing.T) {
		_, _, err := getUint32(buf, 10)
		require.ErrorIs(t, err, io.ErrShortBuffer)
	})
}

func TestGetUint64(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 123)
	t.Run("successful read", func(t *testing.T) {
		x, offset, err := getUint64(buf, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(123), x)
		require.Equal(t, 8, offset)
	})
	t.Run("offset outside buffer", func(t *testing.T) {
		_, _, err := getUint64(buf, 10)
		require.ErrorIs(t, err, io.ErrShortBuffer)
	})
}

func TestPrefixedStringRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	n := putPrefixedString(buf, "hello world")
	s, offset, err := getPrefixedString(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", s)
	require.Equal(t, n, offset)
}

func TestPrefixedStringTruncated(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 100)
	_, _, err := getPrefixedString(buf, 0)
	require.Error(t, err)
}

func TestPrefixedBytesRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	data := []byte{1, 2, 3, 4, 5}
	n := putPrefixedBytes(buf, data)
	out, offset, err := getPrefixedBytes(buf, 0)
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Equal(t, n, offset)
}

func TestPrefixedMapRoundTrip(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	buf := make([]byte, 4+prefixedMapLen(m))
	n := putPrefixedMap(buf, m)
	out, offset, err := getPrefixedMap(buf, 0)
	require.NoError(t, err)
	require.Equal(t, m, out)
	require.Equal(t, n, offset)
}

func TestPrefixedMapDeterministicOrder(t *testing.T) {
	m := map[string]string{"z": "1", "a": "2"}
	buf := make([]byte, 4+prefixedMapLen(m))
	putPrefixedMap(buf, m)
	// "a" sorts before "z", so its key bytes appear first after the length prefix.
	aLen := binary.LittleEndian.Uint32(buf[4:8])
	require.Equal(t, uint32(1), aLen)
	require.Equal(t, byte('a'), buf[8])
}

func TestMakeSafe(t *testing.T) {
	buf, err := makeSafe(16)
	require.NoError(t, err)
	require.Len(t, buf, 16)

	_, err = makeSafe(1 << 40)
	require.ErrorIs(t, err, ErrLengthOutOfRange)
}

// CRC-32 values below are literal: the well known ASCII test vector and its
// byte-for-byte digest, confirming this package's use of hash/crc32's IEEE
// table matches the framing described in spec.md §4.1 and §8.
func TestCRC32IEEEVector(t *testing.T) {
	require.Equal(t, uint32(0xCBF43926), crc32.ChecksumIEEE([]byte("123456789")))
}

func TestCRCWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := newCRCWriter(&buf)
	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = w.Write([]byte(" world"))
	require.NoError(t, err)
	require.Equal(t, crc32.ChecksumIEEE([]byte("hello world")), w.Checksum())
	require.Equal(t, "hello world", buf.String())
}

func TestCRCReaderAccumulates(t *testing.T) {
	data := []byte("the quick brown fox")
	r := newCRCReader(bytes.NewReader(data), true)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Equal(t, crc32.ChecksumIEEE(data), r.Checksum())
}

func TestCRCReaderDisabled(t *testing.T) {
	data := []byte("ignored")
	r := newCRCReader(bytes.NewReader(data), false)
	_, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, uint32(0), r.Checksum())
}

func TestWriteSizerTracksOffset(t *testing.T) {
	var buf bytes.Buffer
	ws := newWriteSizer(&buf)
	_, err := ws.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = ws.Write([]byte("de"))
	require.NoError(t, err)
	require.Equal(t, uint64(5), ws.Size())
	require.Equal(t, crc32.ChecksumIEEE([]byte("abcde")), ws.Checksum())
}
