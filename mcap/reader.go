package mcap

import (
	"errors"
	"fmt"
	"io"
)

// Reader reads MCAP files. Constructed over any io.Reader for linear
// (file-order) access; random-access operations (Info, indexed message
// iteration, ByteRange) additionally require the source to implement
// io.ReadSeeker.
type Reader struct {
	r  io.Reader
	rs io.ReadSeeker

	info *Info
}

// NewReader constructs a Reader over r. It reads nothing from r; the leading
// magic is validated when Messages or Header first lexes the stream.
func NewReader(r io.Reader) (*Reader, error) {
	rs, _ := r.(io.ReadSeeker)
	reader := &Reader{r: r, rs: rs}
	return reader, nil
}

// Info parses the file's summary section using method, caching the result.
// It requires the underlying source to be seekable.
func (r *Reader) Info(method ScanMethod) (*Info, error) {
	if r.info != nil {
		return r.info, nil
	}
	if r.rs == nil {
		return nil, errors.New("mcap: Info requires a seekable source")
	}
	info, err := readSummary(r.rs, method)
	if info != nil {
		r.info = info
	}
	return info, err
}

// Messages returns a MessageIterator over r configured by opts. FileOrder
// reads work on any source and need no summary; LogTimeOrder and
// ReverseLogTimeOrder require a seekable source and call Info(AllowFallbackScan)
// if it has not already been called.
func (r *Reader) Messages(opts ...ReadOpt) (MessageIterator, error) {
	var ro ReadOptions
	ro.UseIndex = true
	for _, opt := range opts {
		if err := opt(&ro); err != nil {
			return nil, fmt.Errorf("invalid read option: %w", err)
		}
	}
	if ro.Order == FileOrder {
		lexer, err := NewLexer(r.r)
		if err != nil {
			return nil, err
		}
		return newFileOrderIterator(lexer, &ro), nil
	}
	if r.rs == nil {
		return nil, errors.New("mcap: LogTimeOrder/ReverseLogTimeOrder reads require a seekable source")
	}
	info, err := r.Info(AllowFallbackScan)
	if err != nil && info == nil {
		return nil, err
	}
	return newTimeOrderedIterator(r.rs, info, &ro), nil
}

// Header returns the file's Header, reading it directly if Info has not
// been called yet.
func (r *Reader) Header() (*Header, error) {
	if r.info != nil && r.info.Header != nil {
		return r.info.Header, nil
	}
	if r.rs == nil {
		return nil, errors.New("mcap: Header requires a seekable source")
	}
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	lexer, err := NewLexer(r.rs)
	if err != nil {
		return nil, err
	}
	tokenType, rr, recordLen, err := lexer.Next()
	if err != nil {
		return nil, err
	}
	if tokenType != TokenHeader {
		return nil, fmt.Errorf("expected header, found %s", tokenType)
	}
	var buf []byte
	record, err := readIntoBuf(rr, recordLen, &buf)
	if err != nil {
		return nil, err
	}
	header, err := ParseHeader(record)
	if err != nil {
		return nil, newInvalidRecordError(OpHeader, err)
	}
	return header, nil
}

// Footer returns the file's trailing Footer.
func (r *Reader) Footer() (*Footer, error) {
	if r.info != nil && r.info.Footer != nil {
		return r.info.Footer, nil
	}
	if r.rs == nil {
		return nil, errors.New("mcap: Footer requires a seekable source")
	}
	return readFooter(r.rs)
}

// Statistics returns the file's Statistics record, as found by Info.
func (r *Reader) Statistics() (*Statistics, error) {
	if r.info == nil {
		return nil, errors.New("mcap: Statistics requires Info to have been called")
	}
	return r.info.Statistics, nil
}

// Schemas returns every Schema found by Info, keyed by ID.
func (r *Reader) Schemas() (map[uint16]*Schema, error) {
	if r.info == nil {
		return nil, errors.New("mcap: Schemas requires Info to have been called")
	}
	return r.info.Schemas, nil
}

// Channels returns every Channel found by Info, keyed by ID.
func (r *Reader) Channels() (map[uint16]*Channel, error) {
	if r.info == nil {
		return nil, errors.New("mcap: Channels requires Info to have been called")
	}
	return r.info.Channels, nil
}

// ChunkIndexes returns every ChunkIndex found by Info, in file order.
func (r *Reader) ChunkIndexes() ([]*ChunkIndex, error) {
	if r.info == nil {
		return nil, errors.New("mcap: ChunkIndexes requires Info to have been called")
	}
	return r.info.ChunkIndexes, nil
}

// ReadAttachment seeks to and reads the full Attachment record located by
// idx.
func (r *Reader) ReadAttachment(idx *AttachmentIndex) (*Attachment, error) {
	if r.rs == nil {
		return nil, errors.New("mcap: ReadAttachment requires a seekable source")
	}
	if _, err := r.rs.Seek(int64(idx.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to attachment: %w", err)
	}
	lexer, err := NewLexer(r.rs, &LexerOptions{SkipMagic: true})
	if err != nil {
		return nil, err
	}
	tokenType, rr, recordLen, err := lexer.Next()
	if err != nil {
		return nil, err
	}
	if tokenType != TokenAttachment {
		return nil, fmt.Errorf("expected attachment at offset %d, found %s", idx.Offset, tokenType)
	}
	var buf []byte
	record, err := readIntoBuf(rr, recordLen, &buf)
	if err != nil {
		return nil, err
	}
	attachment, err := ParseAttachment(record)
	if err != nil {
		return nil, newInvalidRecordError(OpAttachment, err)
	}
	return attachment, nil
}

// ReadMetadata seeks to and reads the full Metadata record located by idx.
func (r *Reader) ReadMetadata(idx *MetadataIndex) (*Metadata, error) {
	if r.rs == nil {
		return nil, errors.New("mcap: ReadMetadata requires a seekable source")
	}
	if _, err := r.rs.Seek(int64(idx.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to metadata: %w", err)
	}
	lexer, err := NewLexer(r.rs, &LexerOptions{SkipMagic: true})
	if err != nil {
		return nil, err
	}
	tokenType, rr, recordLen, err := lexer.Next()
	if err != nil {
		return nil, err
	}
	if tokenType != TokenMetadata {
		return nil, fmt.Errorf("expected metadata at offset %d, found %s", idx.Offset, tokenType)
	}
	var buf []byte
	record, err := readIntoBuf(rr, recordLen, &buf)
	if err != nil {
		return nil, err
	}
	metadata, err := ParseMetadata(record)
	if err != nil {
		return nil, newInvalidRecordError(OpMetadata, err)
	}
	return metadata, nil
}

// ByteRange returns the [start, end) byte offsets within the file that
// cover every Chunk whose time range overlaps [startTime, endTime), based
// on the cached Info. Info must have been computed already.
func (r *Reader) ByteRange(startTime, endTime uint64) (uint64, uint64, error) {
	if r.info == nil {
		return 0, 0, errors.New("mcap: ByteRange requires Info to have been called")
	}
	var start, end uint64
	found := false
	for _, ci := range r.info.ChunkIndexes {
		if ci.MessageEndTime < startTime || ci.MessageStartTime >= endTime {
			continue
		}
		chunkEnd := ci.ChunkStartOffset + ci.ChunkLength
		if !found {
			start, end, found = ci.ChunkStartOffset, chunkEnd, true
			continue
		}
		if ci.ChunkStartOffset < start {
			start = ci.ChunkStartOffset
		}
		if chunkEnd > end {
			end = chunkEnd
		}
	}
	return start, end, nil
}
