package mcap

import (
	"errors"
	"fmt"
)

// Framing errors (spec.md §7 "Framing errors").
var (
	ErrNestedChunk       = errors.New("mcap: detected nested chunk")
	ErrChunkTooLarge     = errors.New("mcap: chunk exceeds configured maximum size")
	ErrRecordTooLarge    = errors.New("mcap: record exceeds configured maximum size")
	ErrInvalidZeroOpcode = errors.New("mcap: invalid zero opcode")
	ErrLengthOutOfRange  = errors.New("mcap: length out of range")
	ErrShortRecord       = errors.New("mcap: truncated record body")
)

// Schema/Channel errors.
var (
	ErrUnknownSchema  = errors.New("mcap: unknown schema ID")
	ErrUnknownChannel = errors.New("mcap: unknown channel ID")
)

// Compression errors.
var (
	ErrUnsupportedCompression   = errors.New("mcap: unsupported compression format")
	ErrUncompressedSizeMismatch = errors.New("mcap: decompressed size did not match declared size")
)

// Integrity errors.
var (
	ErrChunkCRCMismatch   = errors.New("mcap: chunk CRC-32 mismatch")
	ErrDataCRCMismatch    = errors.New("mcap: data section CRC-32 mismatch")
	ErrSummaryCRCMismatch = errors.New("mcap: summary section CRC-32 mismatch")
)

// Summary errors.
var (
	ErrMissingStatistics   = errors.New("mcap: summary section has no statistics record")
	ErrMissingMessageIndex = errors.New("mcap: summary section has no message index records")
	ErrSummaryUnreadable   = errors.New("mcap: summary section could not be parsed and fallback scan was disallowed")
)

// Writer lifecycle errors.
var (
	ErrWriterClosed    = errors.New("mcap: writer is closed")
	ErrWriterTerminal  = errors.New("mcap: writer is closed, terminated, or unusable after a failed write")
	ErrAttachmentCRC   = errors.New("mcap: attachment content length does not match supplied data")
	ErrMetadataNotFound = errors.New("mcap: metadata not found")
)

// InvalidRecordError reports a malformed record encountered while parsing,
// identified by its opcode (spec.md §4.1).
type InvalidRecordError struct {
	Op  OpCode
	Err error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s record: %s", e.Op, e.Err)
}

func (e *InvalidRecordError) Unwrap() error { return e.Err }

func (e *InvalidRecordError) Is(target error) bool {
	_, ok := target.(*InvalidRecordError)
	return ok
}

func newInvalidRecordError(op OpCode, err error) error {
	return &InvalidRecordError{Op: op, Err: err}
}

// magicLocation names where in the file a bad-magic error was detected.
type magicLocation int

const (
	magicLocationStart magicLocation = iota
	magicLocationEnd
)

func (l magicLocation) String() string {
	if l == magicLocationStart {
		return "start"
	}
	return "end"
}

// ErrBadMagic indicates invalid magic bytes were found at the given
// location.
type ErrBadMagic struct {
	Location magicLocation
	Actual   []byte
}

func (e *ErrBadMagic) Error() string {
	return fmt.Sprintf("invalid magic at %s of file, found: %v", e.Location, e.Actual)
}

func (e *ErrBadMagic) Is(target error) bool {
	_, ok := target.(*ErrBadMagic)
	return ok
}

// UnexpectedTokenError wraps an error encountered while expecting a specific
// token type from the lexer.
type UnexpectedTokenError struct {
	err error
}

func NewUnexpectedTokenError(err error) error {
	return &UnexpectedTokenError{err: err}
}

func (e *UnexpectedTokenError) Error() string { return e.err.Error() }

func (e *UnexpectedTokenError) Unwrap() error { return e.err }

func (e *UnexpectedTokenError) Is(target error) bool {
	var want *UnexpectedTokenError
	if errors.As(target, &want) {
		return true
	}
	return errors.Is(e.err, target)
}
