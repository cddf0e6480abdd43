package mcap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// All multi-byte integers in an MCAP file are little-endian (spec.md §4.1).

func getUint16(buf []byte, offset int) (x uint16, newoffset int, err error) {
	if offset < 0 || offset > len(buf)-2 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint16(buf[offset:]), offset + 2, nil
}

func getUint32(buf []byte, offset int) (x uint32, newoffset int, err error) {
	if offset < 0 || offset > len(buf)-4 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(buf[offset:]), offset + 4, nil
}

func getUint64(buf []byte, offset int) (x uint64, newoffset int, err error) {
	if offset < 0 || offset > len(buf)-8 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(buf[offset:]), offset + 8, nil
}

// getPrefixedString reads a u32 byte-length followed by that many UTF-8
// bytes (spec.md §4.1). The returned string aliases buf.
func getPrefixedString(buf []byte, offset int) (s string, newoffset int, err error) {
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read string length: %w", err)
	}
	end := offset + int(length)
	if length > math.MaxInt32 || end < offset || end > len(buf) {
		return "", 0, fmt.Errorf("string of length %d exceeds remaining input: %w", length, io.ErrShortBuffer)
	}
	return string(buf[offset:end]), end, nil
}

// getPrefixedBytes reads a u32 byte-length followed by that many raw bytes.
// The returned slice aliases buf.
func getPrefixedBytes(buf []byte, offset int) (s []byte, newoffset int, err error) {
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read bytes length: %w", err)
	}
	end := offset + int(length)
	if length > math.MaxInt32 || end < offset || end > len(buf) {
		return nil, 0, fmt.Errorf("byte array of length %d exceeds remaining input: %w", length, io.ErrShortBuffer)
	}
	return buf[offset:end], end, nil
}

// getPrefixedMap reads a u32 total-byte-length followed by repeated
// (string key, string value) pairs.
func getPrefixedMap(buf []byte, offset int) (result map[string]string, newoffset int, err error) {
	maplen, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read map length: %w", err)
	}
	end := offset + int(maplen)
	if maplen > math.MaxInt32 || end < offset || end > len(buf) {
		return nil, 0, fmt.Errorf("map of length %d exceeds remaining input: %w", maplen, io.ErrShortBuffer)
	}
	m := make(map[string]string)
	inset := offset
	for inset < end {
		var key, value string
		key, inset, err = getPrefixedString(buf, inset)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read map key: %w", err)
		}
		value, inset, err = getPrefixedString(buf, inset)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read map value: %w", err)
		}
		m[key] = value
	}
	if inset != end {
		return nil, 0, fmt.Errorf("map entries overran declared length: %w", io.ErrShortBuffer)
	}
	return m, end, nil
}

func putByte(buf []byte, x byte) int {
	buf[0] = x
	return 1
}

func putUint16(buf []byte, v uint16) int {
	binary.LittleEndian.PutUint16(buf, v)
	return 2
}

func putUint32(buf []byte, v uint32) int {
	binary.LittleEndian.PutUint32(buf, v)
	return 4
}

func putUint64(buf []byte, v uint64) int {
	binary.LittleEndian.PutUint64(buf, v)
	return 8
}

func putPrefixedString(buf []byte, s string) int {
	offset := putUint32(buf, uint32(len(s)))
	offset += copy(buf[offset:], s)
	return offset
}

func putPrefixedBytes(buf []byte, b []byte) int {
	offset := putUint32(buf, uint32(len(b)))
	offset += copy(buf[offset:], b)
	return offset
}

// prefixedMapLen returns the encoded byte length of a string/string map,
// not including its own length prefix.
func prefixedMapLen(m map[string]string) int {
	n := 0
	for k, v := range m {
		n += 4 + len(k) + 4 + len(v)
	}
	return n
}

// putPrefixedMap encodes m in sorted-key order (the reader is not required
// to preserve any particular order, but deterministic output simplifies
// testing and diffing).
func putPrefixedMap(buf []byte, m map[string]string) int {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	offset := putUint32(buf, uint32(prefixedMapLen(m)))
	for _, k := range keys {
		offset += putPrefixedString(buf[offset:], k)
		offset += putPrefixedString(buf[offset:], m[k])
	}
	return offset
}

// makeSafe allocates a buffer of size n, rejecting sizes that cannot be
// represented as a Go slice length on the platforms this library targets.
func makeSafe(n uint64) ([]byte, error) {
	if n < math.MaxInt32 {
		return make([]byte, n), nil
	}
	return nil, ErrLengthOutOfRange
}
