package mcap

import "io"

// readIntoBuf reads n bytes from r into the slice pointed to by buf,
// growing it first if necessary, and returns the filled prefix. Callers
// reuse the same *[]byte across many records to avoid an allocation per
// record; the lexer already bounds r to exactly n bytes via io.LimitedReader.
func readIntoBuf(r io.Reader, n int64, buf *[]byte) ([]byte, error) {
	if int64(cap(*buf)) < n {
		*buf = make([]byte, n)
	} else {
		*buf = (*buf)[:n]
	}
	if _, err := io.ReadFull(r, *buf); err != nil {
		return nil, err
	}
	return *buf, nil
}
