package mcap

import (
	"errors"
	"fmt"
	"io"
)

func isEOF(err error) bool { return errors.Is(err, io.EOF) }

// RecordHandler receives the parsed, typed records a LinearReader drives
// out of an MCAP stream. Implementations that are not interested in a kind
// of record can ignore it; returning a non-nil error from any method stops
// the run and surfaces that error from LinearReader.Run.
type RecordHandler interface {
	OnHeader(*Header) error
	OnFooter(*Footer) error
	OnSchema(*Schema) error
	OnChannel(*Channel) error
	OnMessage(*Message) error
	OnChunk(*Chunk) error
	OnMessageIndex(*MessageIndex) error
	OnChunkIndex(*ChunkIndex) error
	OnAttachment(*Attachment) error
	OnAttachmentIndex(*AttachmentIndex) error
	OnStatistics(*Statistics) error
	OnMetadata(*Metadata) error
	OnMetadataIndex(*MetadataIndex) error
	OnSummaryOffset(*SummaryOffset) error
	OnDataEnd(*DataEnd) error
	// OnUnknownRecord receives a record whose opcode this package does not
	// define a record type for. LinearReader does not call it: the Lexer
	// skips such records without emitting a token.
	OnUnknownRecord(opcode OpCode, data []byte) error
	// OnChunkEnd is called once the last record de-chunked out of a Chunk
	// has been dispatched.
	OnChunkEnd() error
}

// NopRecordHandler can be embedded in a RecordHandler implementation to
// supply no-op defaults for the callbacks it doesn't care about.
type NopRecordHandler struct{}

func (NopRecordHandler) OnHeader(*Header) error                   { return nil }
func (NopRecordHandler) OnFooter(*Footer) error                   { return nil }
func (NopRecordHandler) OnSchema(*Schema) error                   { return nil }
func (NopRecordHandler) OnChannel(*Channel) error                 { return nil }
func (NopRecordHandler) OnMessage(*Message) error                 { return nil }
func (NopRecordHandler) OnChunk(*Chunk) error                     { return nil }
func (NopRecordHandler) OnMessageIndex(*MessageIndex) error       { return nil }
func (NopRecordHandler) OnChunkIndex(*ChunkIndex) error           { return nil }
func (NopRecordHandler) OnAttachment(*Attachment) error           { return nil }
func (NopRecordHandler) OnAttachmentIndex(*AttachmentIndex) error { return nil }
func (NopRecordHandler) OnStatistics(*Statistics) error           { return nil }
func (NopRecordHandler) OnMetadata(*Metadata) error               { return nil }
func (NopRecordHandler) OnMetadataIndex(*MetadataIndex) error     { return nil }
func (NopRecordHandler) OnSummaryOffset(*SummaryOffset) error     { return nil }
func (NopRecordHandler) OnDataEnd(*DataEnd) error                 { return nil }
func (NopRecordHandler) OnUnknownRecord(OpCode, []byte) error     { return nil }
func (NopRecordHandler) OnChunkEnd() error                        { return nil }

// LinearReader drives a Lexer forward over an entire stream, parsing each
// record and dispatching it to a RecordHandler. Chunk records are entered
// transparently: their contents are dispatched as ordinary Schema/Channel/
// Message records, followed by an OnChunkEnd call once the chunk boundary
// is reached.
type LinearReader struct {
	lexer     *Lexer
	recordBuf []byte
}

// NewLinearReader constructs a LinearReader over lexer, which must have
// been built with EmitChunks: false (the default).
func NewLinearReader(lexer *Lexer) *LinearReader {
	return &LinearReader{lexer: lexer}
}

// Run dispatches every record in the stream to handler until EOF or the
// handler returns an error. io.EOF is not returned to the caller; Run
// returns nil when the stream ends normally.
func (lr *LinearReader) Run(handler RecordHandler) error {
	for {
		tokenType, r, recordLen, err := lr.lexer.Next()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
		if tokenType == TokenChunkEnd {
			if err := handler.OnChunkEnd(); err != nil {
				return err
			}
			continue
		}
		record, err := readIntoBuf(r, recordLen, &lr.recordBuf)
		if err != nil {
			return fmt.Errorf("failed to read %s record: %w", tokenType, err)
		}
		if err := dispatchRecord(handler, tokenType, record); err != nil {
			return err
		}
	}
}

func dispatchRecord(handler RecordHandler, tokenType TokenType, record []byte) error {
	switch tokenType {
	case TokenHeader:
		v, err := ParseHeader(record)
		if err != nil {
			return newInvalidRecordError(OpHeader, err)
		}
		return handler.OnHeader(v)
	case TokenFooter:
		v, err := ParseFooter(record)
		if err != nil {
			return newInvalidRecordError(OpFooter, err)
		}
		return handler.OnFooter(v)
	case TokenSchema:
		v, err := ParseSchema(record)
		if err != nil {
			return newInvalidRecordError(OpSchema, err)
		}
		return handler.OnSchema(v)
	case TokenChannel:
		v, err := ParseChannel(record)
		if err != nil {
			return newInvalidRecordError(OpChannel, err)
		}
		return handler.OnChannel(v)
	case TokenMessage:
		v, err := ParseMessage(record)
		if err != nil {
			return newInvalidRecordError(OpMessage, err)
		}
		return handler.OnMessage(v)
	case TokenChunk:
		v, err := ParseChunk(record)
		if err != nil {
			return newInvalidRecordError(OpChunk, err)
		}
		return handler.OnChunk(v)
	case TokenMessageIndex:
		v, err := ParseMessageIndex(record)
		if err != nil {
			return newInvalidRecordError(OpMessageIndex, err)
		}
		return handler.OnMessageIndex(v)
	case TokenChunkIndex:
		v, err := ParseChunkIndex(record)
		if err != nil {
			return newInvalidRecordError(OpChunkIndex, err)
		}
		return handler.OnChunkIndex(v)
	case TokenAttachment:
		v, err := ParseAttachment(record)
		if err != nil {
			return newInvalidRecordError(OpAttachment, err)
		}
		return handler.OnAttachment(v)
	case TokenAttachmentIndex:
		v, err := ParseAttachmentIndex(record)
		if err != nil {
			return newInvalidRecordError(OpAttachmentIndex, err)
		}
		return handler.OnAttachmentIndex(v)
	case TokenStatistics:
		v, err := ParseStatistics(record)
		if err != nil {
			return newInvalidRecordError(OpStatistics, err)
		}
		return handler.OnStatistics(v)
	case TokenMetadata:
		v, err := ParseMetadata(record)
		if err != nil {
			return newInvalidRecordError(OpMetadata, err)
		}
		return handler.OnMetadata(v)
	case TokenMetadataIndex:
		v, err := ParseMetadataIndex(record)
		if err != nil {
			return newInvalidRecordError(OpMetadataIndex, err)
		}
		return handler.OnMetadataIndex(v)
	case TokenSummaryOffset:
		v, err := ParseSummaryOffset(record)
		if err != nil {
			return newInvalidRecordError(OpSummaryOffset, err)
		}
		return handler.OnSummaryOffset(v)
	case TokenDataEnd:
		v, err := ParseDataEnd(record)
		if err != nil {
			return newInvalidRecordError(OpDataEnd, err)
		}
		return handler.OnDataEnd(v)
	default:
		return handler.OnUnknownRecord(OpReserved, record)
	}
}
