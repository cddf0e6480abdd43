package mcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// TokenType encodes a type of token from the Lexer.
type TokenType int

const (
	TokenHeader TokenType = iota
	TokenFooter
	TokenSchema
	TokenChannel
	TokenMessage
	TokenChunk
	// TokenChunkEnd is emitted immediately after the last record de-chunked
	// out of a Chunk, once the chunk boundary is reached. It carries no
	// record body; callers that need to know when a chunk has been fully
	// consumed (e.g. to flush a per-chunk message index) watch for it.
	TokenChunkEnd
	TokenMessageIndex
	TokenChunkIndex
	TokenAttachment
	TokenAttachmentIndex
	TokenStatistics
	TokenMetadata
	TokenMetadataIndex
	TokenSummaryOffset
	TokenDataEnd
	TokenError
)

func (t TokenType) String() string {
	switch t {
	case TokenHeader:
		return "header"
	case TokenFooter:
		return "footer"
	case TokenSchema:
		return "schema"
	case TokenChannel:
		return "channel"
	case TokenMessage:
		return "message"
	case TokenChunk:
		return "chunk"
	case TokenChunkEnd:
		return "chunk end"
	case TokenMessageIndex:
		return "message index"
	case TokenChunkIndex:
		return "chunk index"
	case TokenAttachment:
		return "attachment"
	case TokenAttachmentIndex:
		return "attachment index"
	case TokenStatistics:
		return "statistics"
	case TokenMetadata:
		return "metadata"
	case TokenMetadataIndex:
		return "metadata index"
	case TokenSummaryOffset:
		return "summary offset"
	case TokenDataEnd:
		return "data end"
	case TokenError:
		return "error"
	default:
		return "unknown"
	}
}

// Lexer is a low-level reader for MCAP streams that emits tokenized byte
// ranges without parsing or interpreting them, transparently de-chunking
// Chunk records unless EmitChunks is set.
type Lexer struct {
	basereader io.Reader
	reader     io.Reader
	emitChunks bool

	decoders                 decoders
	inChunk                  bool
	chunkEndPending          bool
	buf                      []byte
	uncompressedChunk        []byte
	validateCRC              bool
	maxRecordSize            int
	maxDecompressedChunkSize int
	lastReturnedReader       *io.LimitedReader
}

type decoders struct {
	zstd *zstd.Decoder
	lz4  *lz4.Reader
	none *bytes.Reader
}

// LexerOptions configures a Lexer.
type LexerOptions struct {
	// SkipMagic disables validation of the leading magic bytes.
	SkipMagic bool
	// ValidateCRC enables CRC-32 validation of chunk contents. This forces
	// full decompression of each chunk up front, rather than incremental
	// decompression as it is consumed.
	ValidateCRC bool
	// EmitChunks causes the lexer to emit Chunk records whole, without
	// de-chunking their contents. Incompatible with ValidateCRC.
	EmitChunks bool
	// MaxDecompressedChunkSize bounds chunk decompression; chunks whose
	// declared uncompressed size exceeds it produce ErrChunkTooLarge. Zero
	// means unbounded.
	MaxDecompressedChunkSize int
	// MaxRecordSize bounds any single record's declared length; records
	// exceeding it produce ErrRecordTooLarge. Zero means unbounded.
	MaxRecordSize int
}

// NewLexer returns a new Lexer reading from r.
func NewLexer(r io.Reader, opts ...*LexerOptions) (*Lexer, error) {
	var o LexerOptions
	if len(opts) > 0 && opts[0] != nil {
		o = *opts[0]
	}
	if !o.SkipMagic {
		if err := validateMagic(r, magicLocationStart); err != nil {
			return nil, err
		}
	}
	return &Lexer{
		basereader:               r,
		reader:                   r,
		buf:                      make([]byte, 32),
		validateCRC:              o.ValidateCRC,
		emitChunks:               o.EmitChunks,
		maxRecordSize:            o.MaxRecordSize,
		maxDecompressedChunkSize: o.MaxDecompressedChunkSize,
	}, nil
}

func validateMagic(r io.Reader, loc magicLocation) error {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return &ErrBadMagic{Location: loc, Actual: magic}
	}
	if !bytes.Equal(magic, Magic) {
		return &ErrBadMagic{Location: loc, Actual: magic}
	}
	return nil
}

// Next returns the next token from the stream along with a reader bounded to
// its record body. The caller must fully consume or discard the reader
// before calling Next again; Next will do so on the caller's behalf if they
// do not.
func (l *Lexer) Next() (TokenType, io.Reader, int64, error) {
	if l.chunkEndPending {
		l.chunkEndPending = false
		return TokenChunkEnd, nil, 0, nil
	}
	if l.lastReturnedReader != nil && l.lastReturnedReader.N != 0 {
		if rs, ok := l.lastReturnedReader.R.(io.ReadSeeker); ok {
			_, _ = rs.Seek(l.lastReturnedReader.N, io.SeekCurrent)
		} else {
			_, _ = io.Copy(io.Discard, l.lastReturnedReader)
		}
		l.lastReturnedReader = nil
	}
	for {
		_, err := io.ReadFull(l.reader, l.buf[:9])
		if err != nil {
			unexpectedEOF := errors.Is(err, io.ErrUnexpectedEOF)
			eof := errors.Is(err, io.EOF)
			if l.inChunk && (eof || unexpectedEOF) {
				l.inChunk = false
				l.reader = l.basereader
				return TokenChunkEnd, nil, 0, nil
			}
			if unexpectedEOF || eof {
				return TokenError, nil, 0, io.EOF
			}
			return TokenError, nil, 0, err
		}
		opcode := OpCode(l.buf[0])
		recordLen := int64(binary.LittleEndian.Uint64(l.buf[1:9]))
		if l.maxRecordSize > 0 && recordLen > int64(l.maxRecordSize) {
			return TokenError, nil, 0, ErrRecordTooLarge
		}
		if opcode == OpChunk && !l.emitChunks {
			if err := l.loadChunk(); err != nil {
				return TokenError, nil, 0, err
			}
			continue
		}

		record := &io.LimitedReader{R: l.reader, N: recordLen}
		l.lastReturnedReader = record
		switch opcode {
		case OpMessage:
			return TokenMessage, record, recordLen, nil
		case OpHeader:
			return TokenHeader, record, recordLen, nil
		case OpSchema:
			return TokenSchema, record, recordLen, nil
		case OpDataEnd:
			return TokenDataEnd, record, recordLen, nil
		case OpChannel:
			return TokenChannel, record, recordLen, nil
		case OpFooter:
			return TokenFooter, record, recordLen, nil
		case OpAttachment:
			return TokenAttachment, record, recordLen, nil
		case OpAttachmentIndex:
			return TokenAttachmentIndex, record, recordLen, nil
		case OpChunkIndex:
			return TokenChunkIndex, record, recordLen, nil
		case OpStatistics:
			return TokenStatistics, record, recordLen, nil
		case OpMessageIndex:
			return TokenMessageIndex, record, recordLen, nil
		case OpChunk:
			return TokenChunk, record, recordLen, nil
		case OpMetadata:
			return TokenMetadata, record, recordLen, nil
		case OpMetadataIndex:
			return TokenMetadataIndex, record, recordLen, nil
		case OpSummaryOffset:
			return TokenSummaryOffset, record, recordLen, nil
		case OpReserved:
			return TokenError, nil, 0, ErrInvalidZeroOpcode
		default:
			continue
		}
	}
}

func (l *Lexer) setNoneDecoder(buf []byte) {
	if l.decoders.none == nil {
		l.decoders.none = bytes.NewReader(buf)
	} else {
		l.decoders.none.Reset(buf)
	}
	l.reader = l.decoders.none
}

func (l *Lexer) setZSTDDecoder(r io.Reader) error {
	if l.decoders.zstd == nil {
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return err
		}
		l.decoders.zstd = decoder
	} else if err := l.decoders.zstd.Reset(r); err != nil {
		return err
	}
	l.reader = l.decoders.zstd
	return nil
}

func (l *Lexer) setLZ4Decoder(r io.Reader) {
	if l.decoders.lz4 == nil {
		l.decoders.lz4 = lz4.NewReader(r)
	} else {
		l.decoders.lz4.Reset(r)
	}
	l.reader = l.decoders.lz4
}

func (l *Lexer) loadChunk() error {
	if l.inChunk {
		return ErrNestedChunk
	}
	_, err := io.ReadFull(l.reader, l.buf[:8+8+8+4+4])
	if err != nil {
		return err
	}
	_, offset, err := getUint64(l.buf, 0) // message start time
	if err != nil {
		return fmt.Errorf("failed to read chunk start time: %w", err)
	}
	_, offset, err = getUint64(l.buf, offset) // message end time
	if err != nil {
		return fmt.Errorf("failed to read chunk end time: %w", err)
	}
	uncompressedSize, offset, err := getUint64(l.buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read uncompressed size: %w", err)
	}
	uncompressedCRC, offset, err := getUint32(l.buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read uncompressed CRC: %w", err)
	}
	compressionLen, _, err := getUint32(l.buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read compression length: %w", err)
	}

	if _, err := io.ReadFull(l.reader, l.buf[:compressionLen+8]); err != nil {
		return fmt.Errorf("failed to read compression from chunk: %w", err)
	}
	compression := CompressionFormat(l.buf[:compressionLen])
	recordsLength, _, err := getUint64(l.buf, int(compressionLen))
	if err != nil {
		return fmt.Errorf("failed to read records length: %w", err)
	}

	lr := io.LimitReader(l.reader, int64(recordsLength))
	switch compression {
	case CompressionNone:
		l.reader = lr
	case CompressionZSTD:
		if err := l.setZSTDDecoder(lr); err != nil {
			return err
		}
	case CompressionLZ4:
		l.setLZ4Decoder(lr)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCompression, compression)
	}

	// CRC validation requires the whole chunk decompressed up front;
	// otherwise we decompress incrementally as the caller consumes it,
	// which lets streaming readers avoid buffering an entire chunk.
	if l.maxDecompressedChunkSize > 0 && uncompressedSize > uint64(l.maxDecompressedChunkSize) {
		return ErrChunkTooLarge
	}
	if l.validateCRC {
		if uint64(len(l.uncompressedChunk)) < uncompressedSize {
			l.uncompressedChunk, err = makeSafe(uncompressedSize * 2)
			if err != nil {
				return fmt.Errorf("failed to allocate chunk buffer: %w", err)
			}
		}
		if _, err := io.ReadFull(l.reader, l.uncompressedChunk[:uncompressedSize]); err != nil {
			return fmt.Errorf("failed to decompress chunk: %w", err)
		}
		if compression == CompressionLZ4 {
			// LZ4 chunks may carry trailing block-checksum bytes that
			// ReadFull above did not need to consume; any non-EOF data
			// remaining here indicates a malformed chunk.
			extra, err := io.ReadAll(l.reader)
			if err != nil {
				return fmt.Errorf("failed to read trailing chunk bytes: %w", err)
			}
			if len(extra) > 0 {
				return fmt.Errorf("encountered unexpected bytes after chunk: %q", extra)
			}
		}
		if err := checksumChunk(l.uncompressedChunk[:uncompressedSize], uncompressedCRC); err != nil {
			return err
		}
		l.setNoneDecoder(l.uncompressedChunk[:uncompressedSize])
	}
	l.inChunk = true
	return nil
}
