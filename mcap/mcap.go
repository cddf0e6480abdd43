// Package mcap implements the MCAP container format: a self-describing,
// append-only log of time-indexed binary messages grouped by channel, with
// an optional trailing summary section that enables random access by time.
package mcap

import "fmt"

// Magic is the 8-byte sequence that opens and closes every MCAP file.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', 0x30, '\r', '\n'}

// CompressionFormat names a chunk compression scheme, as it appears on the
// wire in Chunk and ChunkIndex records.
type CompressionFormat string

const (
	CompressionNone CompressionFormat = ""
	CompressionLZ4  CompressionFormat = "lz4"
	CompressionZSTD CompressionFormat = "zstd"
)

func (c CompressionFormat) String() string { return string(c) }

// OpCode identifies the kind of a record in the framed TLV stream.
type OpCode byte

const (
	OpReserved        OpCode = 0x00
	OpHeader          OpCode = 0x01
	OpFooter          OpCode = 0x02
	OpSchema          OpCode = 0x03
	OpChannel         OpCode = 0x04
	OpMessage         OpCode = 0x05
	OpChunk           OpCode = 0x06
	OpMessageIndex    OpCode = 0x07
	OpChunkIndex      OpCode = 0x08
	OpAttachment      OpCode = 0x09
	OpAttachmentIndex OpCode = 0x0A
	OpStatistics      OpCode = 0x0B
	OpMetadata        OpCode = 0x0C
	OpMetadataIndex   OpCode = 0x0D
	OpSummaryOffset   OpCode = 0x0E
	OpDataEnd         OpCode = 0x0F
)

func (c OpCode) String() string {
	switch c {
	case OpReserved:
		return "reserved"
	case OpHeader:
		return "header"
	case OpFooter:
		return "footer"
	case OpSchema:
		return "schema"
	case OpChannel:
		return "channel"
	case OpMessage:
		return "message"
	case OpChunk:
		return "chunk"
	case OpMessageIndex:
		return "message index"
	case OpChunkIndex:
		return "chunk index"
	case OpAttachment:
		return "attachment"
	case OpAttachmentIndex:
		return "attachment index"
	case OpStatistics:
		return "statistics"
	case OpMetadata:
		return "metadata"
	case OpMetadataIndex:
		return "metadata index"
	case OpSummaryOffset:
		return "summary offset"
	case OpDataEnd:
		return "data end"
	default:
		return fmt.Sprintf("<unrecognized opcode 0x%02x>", byte(c))
	}
}

// Header is the first record in an MCAP file.
type Header struct {
	Profile string
	Library string
}

// Footer is the last fixed-size record before the trailing magic. It locates
// the summary section for indexed readers.
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

// Schema describes the shape of messages on one or more channels. A Schema
// ID of 0 means "no schema". Schema records sharing an ID must be
// byte-identical.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

// Channel names an encoded stream of messages on a topic, optionally
// referencing a Schema. Channel records sharing an ID must be identical.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

// Message is a single timestamped payload on a Channel. LogTime is the
// canonical ordering key for all message iteration.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// PopulateFrom decodes a raw Message record body into m, reusing m's
// existing Data buffer's backing array when copyData is true and it has
// capacity, or aliasing buf directly when copyData is false.
func (m *Message) PopulateFrom(buf []byte, copyData bool) error {
	channelID, offset, err := getUint16(buf, 0)
	if err != nil {
		return fmt.Errorf("failed to read channel ID: %w", err)
	}
	sequence, offset, err := getUint32(buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}
	logTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read log time: %w", err)
	}
	publishTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return fmt.Errorf("failed to read publish time: %w", err)
	}
	data := buf[offset:]
	m.ChannelID = channelID
	m.Sequence = sequence
	m.LogTime = logTime
	m.PublishTime = publishTime
	if copyData {
		m.Data = append(m.Data[:0], data...)
	} else {
		m.Data = data
	}
	return nil
}

// Chunk holds a compressed run of Schema, Channel and Message records.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      string
	Records          []byte
}

// MessageIndexEntry locates one message's start offset within a chunk's
// decompressed interior, keyed by LogTime.
type MessageIndexEntry struct {
	Timestamp uint64
	Offset    uint64
}

// MessageIndex lists, for one channel, every message's offset within the
// chunk immediately preceding it in the file.
type MessageIndex struct {
	ChannelID    uint16
	Records      []MessageIndexEntry
	currentIndex int
}

// Reset clears the index for reuse without discarding its backing array.
func (idx *MessageIndex) Reset() { idx.currentIndex = 0 }

// IsEmpty reports whether no entries have been added since the last Reset.
func (idx *MessageIndex) IsEmpty() bool { return idx.currentIndex == 0 }

// Entries returns the entries added since the last Reset, in insertion order.
func (idx *MessageIndex) Entries() []MessageIndexEntry {
	return idx.Records[:idx.currentIndex]
}

// Add appends one (timestamp, offset) entry, growing the backing array if
// needed.
func (idx *MessageIndex) Add(timestamp, offset uint64) {
	if idx.currentIndex >= len(idx.Records) {
		records := make([]MessageIndexEntry, (len(idx.Records)+20)*2)
		copy(records, idx.Records)
		idx.Records = records
	}
	idx.Records[idx.currentIndex] = MessageIndexEntry{Timestamp: timestamp, Offset: offset}
	idx.currentIndex++
}

// ChunkIndex locates a Chunk record and its trailing MessageIndex records.
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         CompressionFormat
	CompressedSize      uint64
	UncompressedSize    uint64
}

// Attachment is an external blob stored outside chunks.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
}

// AttachmentIndex locates an Attachment record in the file.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

// Statistics summarizes the recording: counts, time bounds, and per-channel
// message counts.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// Metadata is an arbitrary string/string map stored outside chunks.
type Metadata struct {
	Name     string
	Metadata map[string]string
}

// MetadataIndex locates a Metadata record in the file.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

// SummaryOffset locates one contiguous group of same-opcode summary records.
type SummaryOffset struct {
	GroupOpcode OpCode
	GroupStart  uint64
	GroupLength uint64
}

// DataEnd closes the data section, optionally carrying its CRC-32.
type DataEnd struct {
	DataSectionCRC uint32
}

// RecordOffset locates a record for tie-breaking during indexed iteration:
// when InChunk is set, ChunkOffset is the file offset of the enclosing Chunk
// record and ByteOffset is the record's offset within that chunk's
// decompressed records; otherwise ChunkOffset is zero and ByteOffset is an
// absolute file offset. Comparison is
// lexicographic on (chunkOffset, byteOffset); see job_queue.go.
type RecordOffset struct {
	ByteOffset  uint64
	ChunkOffset uint64
	InChunk     bool
}

// Info is the parsed summary of an MCAP file: everything needed to answer
// questions about its contents without reading the data section.
type Info struct {
	Header            *Header
	Footer            *Footer
	Statistics        *Statistics
	Schemas           map[uint16]*Schema
	Channels          map[uint16]*Channel
	ChunkIndexes      []*ChunkIndex
	AttachmentIndexes []*AttachmentIndex
	MetadataIndexes   []*MetadataIndex
}

// ChannelCounts maps each channel's topic to its message count.
func (i *Info) ChannelCounts() map[string]uint64 {
	counts := make(map[string]uint64, len(i.Statistics.ChannelMessageCounts))
	for id, count := range i.Statistics.ChannelMessageCounts {
		if channel, ok := i.Channels[id]; ok {
			counts[channel.Topic] = count
		}
	}
	return counts
}

// CanReadMessagesUsingIndex reports whether messages can be read from this
// file using the index, without falling back to a linear scan.
func (i *Info) CanReadMessagesUsingIndex() bool {
	return len(i.ChunkIndexes) > 0 || (i.Statistics != nil && i.Statistics.MessageCount == 0)
}
