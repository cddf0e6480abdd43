package mcap

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

type messageIndexEntry struct {
	offset    uint64
	timestamp uint64
	channelID uint16
}

// Writer writes MCAP records to an underlying sink, optionally buffering
// them into compressed chunks and tracking the indexes and statistics that
// make up the summary section.
//
// A single Writer may be rotated across multiple sinks with Rotate: schema
// and channel ids allocated before a rotation remain valid afterward, but
// each sink gets its own chunk buffer, indexes, and statistics, and must be
// closed (the Writer tracks this internally) before another rotation.
type Writer struct {
	Statistics        *Statistics
	ChunkIndexes      []*ChunkIndex
	AttachmentIndexes []*AttachmentIndex
	MetadataIndexes   []*MetadataIndex

	currentMessageIndex []messageIndexEntry

	channelIDs     []uint16
	schemaIDs      []uint16
	channels       map[uint16]*Channel
	schemas        map[uint16]*Schema
	messageIndexes map[uint16]*MessageIndex

	// nextSchemaID/nextChannelID survive Rotate: the spec requires the
	// logical id allocator to persist across sinks sharing one Writer.
	nextSchemaID  uint16
	nextChannelID uint16

	w    *writeSizer
	buf  []byte
	msg  []byte
	chunk []byte

	chunkWriter *chunkWriter

	currentChunkStartTime uint64
	currentChunkEndTime   uint64

	opts *WriterOptions

	terminal bool
}

// NewWriter returns a Writer that writes a fresh MCAP stream (magic bytes
// and Header) to w.
func NewWriter(w io.Writer, header *Header, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = &WriterOptions{}
	}
	writer := &Writer{opts: opts}
	if err := writer.bind(w); err != nil {
		return nil, err
	}
	if err := writer.WriteHeader(header); err != nil {
		return nil, err
	}
	return writer, nil
}

// bind (re)initializes per-sink state: the writeSizer, chunk buffer,
// indexes, and statistics. Schema/channel ids and their definitions are
// preserved across calls, per the rotation contract.
func (w *Writer) bind(sink io.Writer) error {
	writer := newWriteSizer(sink)
	if _, err := writer.Write(Magic); err != nil {
		return err
	}
	cw, err := newChunkWriter(w.opts.Compression, w.opts.CompressionLevel, !w.opts.NoCRC)
	if err != nil {
		return err
	}
	w.w = writer
	w.buf = make([]byte, 32)
	w.msg = make([]byte, 1024)
	w.channels = make(map[uint16]*Channel)
	w.schemas = make(map[uint16]*Schema)
	w.messageIndexes = make(map[uint16]*MessageIndex)
	w.channelIDs = nil
	w.schemaIDs = nil
	w.chunkWriter = cw
	w.currentChunkStartTime = math.MaxUint64
	w.currentChunkEndTime = 0
	w.currentMessageIndex = w.currentMessageIndex[:0]
	w.ChunkIndexes = nil
	w.AttachmentIndexes = nil
	w.MetadataIndexes = nil
	w.Statistics = &Statistics{ChannelMessageCounts: make(map[uint16]uint64)}
	w.terminal = false
	return nil
}

// Rotate closes out the current sink (flushing its active chunk, summary
// section, footer, and trailing magic, exactly as Close does) and then
// rebinds the Writer to newSink, writing a fresh magic+Header there.
// Schema and Channel ids allocated so far remain valid; their definitions
// are written again into the new file's data section right after its
// Header, and registered again in its summary section.
func (w *Writer) Rotate(newSink io.Writer) error {
	if w.terminal {
		return ErrWriterTerminal
	}
	priorSchemas := w.schemas
	priorChannels := w.channels
	priorSchemaIDs := w.schemaIDs
	priorChannelIDs := w.channelIDs

	if err := w.Close(); err != nil {
		w.terminal = true
		return fmt.Errorf("failed to close sink before rotation: %w", err)
	}
	if err := w.bind(newSink); err != nil {
		w.terminal = true
		return err
	}
	// carry the id allocator and definitions forward; the new file must be
	// able to resolve channels/schemas referenced by their prior ids
	// without the caller re-registering them.
	if err := w.WriteHeader(&Header{Profile: w.opts.Profile}); err != nil {
		return err
	}
	for _, id := range priorSchemaIDs {
		if err := w.writeSchema(priorSchemas[id], !w.opts.NoChunking); err != nil {
			return err
		}
	}
	for _, id := range priorChannelIDs {
		if err := w.writeChannel(priorChannels[id], !w.opts.NoChunking); err != nil {
			return err
		}
	}
	return nil
}

// Terminate abandons the writer immediately, without flushing the active
// chunk or writing a summary section, footer, or trailing magic. Call it
// after a failed write so a partial file can be discarded; the writer must
// not be used afterward.
func (w *Writer) Terminate() error {
	w.terminal = true
	return nil
}

func (w *Writer) checkUsable() error {
	if w.terminal {
		return ErrWriterTerminal
	}
	return nil
}

// WriteHeader writes a Header record. Called automatically by NewWriter and
// Rotate; exposed for callers constructing a Writer via bind-equivalent
// lower-level sequences.
func (w *Writer) WriteHeader(header *Header) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	library := header.Library
	if !w.opts.OverrideLibrary {
		def := "mcap go #" + Version()
		if library != "" {
			library = def + "; " + library
		} else {
			library = def
		}
	}
	msglen := 4 + len(header.Profile) + 4 + len(library)
	w.ensureSized(msglen)
	offset := putPrefixedString(w.msg, header.Profile)
	offset += putPrefixedString(w.msg[offset:], library)
	_, err := w.writeRecord(w.w, OpHeader, w.msg[:offset])
	return err
}

// Offset returns the number of bytes written to the current sink so far.
func (w *Writer) Offset() uint64 { return w.w.Size() }

// AddSchema registers a Schema, assigning it the next available schema id
// and writing its Schema record (into the active chunk if chunking, or
// directly to the sink otherwise). s.ID is populated on return.
func (w *Writer) AddSchema(s *Schema) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	w.nextSchemaID++
	s.ID = w.nextSchemaID
	return w.writeSchema(s, !w.opts.NoChunking)
}

// writeSchema writes a Schema record into the active chunk when chunked is
// true, or directly to the sink otherwise. Summary-section callers always
// pass false: the summary section is never chunked.
func (w *Writer) writeSchema(s *Schema, chunked bool) error {
	msglen := 2 + 4 + len(s.Name) + 4 + len(s.Encoding) + 4 + len(s.Data)
	w.ensureSized(msglen)
	offset := putUint16(w.msg, s.ID)
	offset += putPrefixedString(w.msg[offset:], s.Name)
	offset += putPrefixedString(w.msg[offset:], s.Encoding)
	offset += putPrefixedBytes(w.msg[offset:], s.Data)
	var err error
	if chunked {
		_, err = w.writeRecord(w.chunkWriter, OpSchema, w.msg[:offset])
	} else {
		_, err = w.writeRecord(w.w, OpSchema, w.msg[:offset])
	}
	if err != nil {
		return err
	}
	if _, ok := w.schemas[s.ID]; !ok {
		w.schemaIDs = append(w.schemaIDs, s.ID)
		w.Statistics.SchemaCount++
	}
	w.schemas[s.ID] = s
	return nil
}

// AddChannel registers a Channel referencing an already-added schema (or
// schema id 0, meaning none), assigning it the next available channel id
// and writing its Channel record. c.ID is populated on return.
func (w *Writer) AddChannel(c *Channel) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	if c.SchemaID != 0 {
		if _, ok := w.schemas[c.SchemaID]; !ok {
			return ErrUnknownSchema
		}
	}
	w.nextChannelID++
	c.ID = w.nextChannelID
	return w.writeChannel(c, !w.opts.NoChunking)
}

// writeChannel writes a Channel record into the active chunk when chunked is
// true, or directly to the sink otherwise. Summary-section callers always
// pass false: the summary section is never chunked.
func (w *Writer) writeChannel(c *Channel, chunked bool) error {
	userdata := make([]byte, prefixedMapLen(c.Metadata)+4)
	putPrefixedMap(userdata, c.Metadata)
	msglen := 2 + 2 + 4 + len(c.Topic) + 4 + len(c.MessageEncoding) + len(userdata)
	w.ensureSized(msglen)
	offset := putUint16(w.msg, c.ID)
	offset += putUint16(w.msg[offset:], c.SchemaID)
	offset += putPrefixedString(w.msg[offset:], c.Topic)
	offset += putPrefixedString(w.msg[offset:], c.MessageEncoding)
	offset += copy(w.msg[offset:], userdata)
	var err error
	if chunked {
		_, err = w.writeRecord(w.chunkWriter, OpChannel, w.msg[:offset])
	} else {
		_, err = w.writeRecord(w.w, OpChannel, w.msg[:offset])
	}
	if err != nil {
		return err
	}
	if _, ok := w.channels[c.ID]; !ok {
		w.channelIDs = append(w.channelIDs, c.ID)
		w.Statistics.ChannelCount++
	}
	w.channels[c.ID] = c
	return nil
}

func (w *Writer) currentChunkSize() int64 {
	if w.chunkWriter == nil {
		return 0
	}
	return w.chunkWriter.UncompressedLen()
}

// WriteMessage writes a Message on a previously added Channel.
func (w *Writer) WriteMessage(m *Message) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	if _, ok := w.channels[m.ChannelID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, m.ChannelID)
	}
	msglen := 2 + 4 + 8 + 8 + len(m.Data)
	w.ensureSized(msglen)
	offset := putUint16(w.msg, m.ChannelID)
	offset += putUint32(w.msg[offset:], m.Sequence)
	offset += putUint64(w.msg[offset:], m.LogTime)
	offset += putUint64(w.msg[offset:], m.PublishTime)
	offset += copy(w.msg[offset:], m.Data)

	w.Statistics.ChannelMessageCounts[m.ChannelID]++
	w.Statistics.MessageCount++
	if m.LogTime > w.Statistics.MessageEndTime {
		w.Statistics.MessageEndTime = m.LogTime
	}
	if m.LogTime < w.Statistics.MessageStartTime || w.Statistics.MessageCount == 1 {
		w.Statistics.MessageStartTime = m.LogTime
	}

	if w.opts.NoChunking {
		_, err := w.writeRecord(w.w, OpMessage, w.msg[:offset])
		return err
	}
	if !w.opts.NoMessageIndex {
		w.currentMessageIndex = append(w.currentMessageIndex, messageIndexEntry{
			offset:    uint64(w.currentChunkSize()),
			timestamp: m.LogTime,
			channelID: m.ChannelID,
		})
	}
	if _, err := w.writeRecord(w.chunkWriter, OpMessage, w.msg[:offset]); err != nil {
		return err
	}
	if m.LogTime > w.currentChunkEndTime {
		w.currentChunkEndTime = m.LogTime
	}
	if m.LogTime < w.currentChunkStartTime {
		w.currentChunkStartTime = m.LogTime
	}
	if w.currentChunkSize() >= w.opts.chunkSize() {
		return w.flushActiveChunk()
	}
	return nil
}

// WriteMessageIndex writes a MessageIndex record.
func (w *Writer) WriteMessageIndex(idx *MessageIndex) error {
	datalen := len(idx.Entries()) * 16
	msglen := 2 + 4 + datalen
	w.ensureSized(msglen)
	offset := putUint16(w.msg, idx.ChannelID)
	offset += putUint32(w.msg[offset:], uint32(datalen))
	for _, v := range idx.Entries() {
		offset += putUint64(w.msg[offset:], v.Timestamp)
		offset += putUint64(w.msg[offset:], v.Offset)
	}
	_, err := w.writeRecord(w.w, OpMessageIndex, w.msg[:offset])
	return err
}

// WriteAttachment writes an Attachment record and records an index entry
// for it. Attachments are never chunked.
func (w *Writer) WriteAttachment(a *Attachment) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	msglen := 8 + 8 + 4 + len(a.Name) + 4 + len(a.MediaType) + 4 + len(a.Data) + 4
	w.ensureSized(msglen)
	offset := putUint64(w.msg, a.LogTime)
	offset += putUint64(w.msg[offset:], a.CreateTime)
	offset += putPrefixedString(w.msg[offset:], a.Name)
	offset += putPrefixedString(w.msg[offset:], a.MediaType)
	offset += putPrefixedBytes(w.msg[offset:], a.Data)
	var crc uint32
	if !w.opts.NoCRC {
		crc = crc32.ChecksumIEEE(w.msg[:offset])
	}
	offset += putUint32(w.msg[offset:], crc)

	attachmentOffset := w.w.Size()
	n, err := w.writeRecord(w.w, OpAttachment, w.msg[:offset])
	if err != nil {
		return err
	}
	w.AttachmentIndexes = append(w.AttachmentIndexes, &AttachmentIndex{
		Offset:     attachmentOffset,
		Length:     uint64(n),
		LogTime:    a.LogTime,
		CreateTime: a.CreateTime,
		DataSize:   uint64(len(a.Data)),
		Name:       a.Name,
		MediaType:  a.MediaType,
	})
	w.Statistics.AttachmentCount++
	return nil
}

func (w *Writer) writeAttachmentIndex(idx *AttachmentIndex) error {
	msglen := 8 + 8 + 8 + 8 + 8 + 4 + len(idx.Name) + 4 + len(idx.MediaType)
	w.ensureSized(msglen)
	offset := putUint64(w.msg, idx.Offset)
	offset += putUint64(w.msg[offset:], idx.Length)
	offset += putUint64(w.msg[offset:], idx.LogTime)
	offset += putUint64(w.msg[offset:], idx.CreateTime)
	offset += putUint64(w.msg[offset:], idx.DataSize)
	offset += putPrefixedString(w.msg[offset:], idx.Name)
	offset += putPrefixedString(w.msg[offset:], idx.MediaType)
	_, err := w.writeRecord(w.w, OpAttachmentIndex, w.msg[:offset])
	return err
}

// WriteMetadata writes a Metadata record and records an index entry for it.
func (w *Writer) WriteMetadata(m *Metadata) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	data := make([]byte, prefixedMapLen(m.Metadata)+4)
	putPrefixedMap(data, m.Metadata)
	msglen := 4 + len(m.Name) + len(data)
	w.ensureSized(msglen)
	offset := putPrefixedString(w.msg, m.Name)
	offset += copy(w.msg[offset:], data)

	metadataOffset := w.w.Size()
	n, err := w.writeRecord(w.w, OpMetadata, w.msg[:offset])
	if err != nil {
		return err
	}
	w.MetadataIndexes = append(w.MetadataIndexes, &MetadataIndex{
		Offset: metadataOffset,
		Length: uint64(n),
		Name:   m.Name,
	})
	w.Statistics.MetadataCount++
	return nil
}

func (w *Writer) writeMetadataIndex(idx *MetadataIndex) error {
	msglen := 8 + 8 + 4 + len(idx.Name)
	w.ensureSized(msglen)
	offset := putUint64(w.msg, idx.Offset)
	offset += putUint64(w.msg[offset:], idx.Length)
	offset += putPrefixedString(w.msg[offset:], idx.Name)
	_, err := w.writeRecord(w.w, OpMetadataIndex, w.msg[:offset])
	return err
}

func (w *Writer) writeStatistics(s *Statistics) error {
	msglen := 8 + 2 + 4 + 4 + 4 + 4 + 8 + 8 + 4 + len(s.ChannelMessageCounts)*10
	w.ensureSized(msglen)
	offset := putUint64(w.msg, s.MessageCount)
	offset += putUint16(w.msg[offset:], s.SchemaCount)
	offset += putUint32(w.msg[offset:], s.ChannelCount)
	offset += putUint32(w.msg[offset:], s.AttachmentCount)
	offset += putUint32(w.msg[offset:], s.MetadataCount)
	offset += putUint32(w.msg[offset:], s.ChunkCount)
	offset += putUint64(w.msg[offset:], s.MessageStartTime)
	offset += putUint64(w.msg[offset:], s.MessageEndTime)
	offset += putUint32(w.msg[offset:], uint32(len(s.ChannelMessageCounts)*10))
	for _, chanID := range w.channelIDs {
		if count, ok := s.ChannelMessageCounts[chanID]; ok {
			offset += putUint16(w.msg[offset:], chanID)
			offset += putUint64(w.msg[offset:], count)
		}
	}
	_, err := w.writeRecord(w.w, OpStatistics, w.msg[:offset])
	return err
}

func (w *Writer) writeSummaryOffset(s *SummaryOffset) error {
	msglen := 1 + 8 + 8
	w.ensureSized(msglen)
	w.msg[0] = byte(s.GroupOpcode)
	offset := 1
	offset += putUint64(w.msg[offset:], s.GroupStart)
	offset += putUint64(w.msg[offset:], s.GroupLength)
	_, err := w.writeRecord(w.w, OpSummaryOffset, w.msg[:offset])
	return err
}

func (w *Writer) writeChunkIndex(idx *ChunkIndex) error {
	indexLen := len(idx.MessageIndexOffsets) * 10
	msglen := 8 + 8 + 8 + 8 + 4 + indexLen + 8 + 4 + len(idx.Compression) + 8 + 8
	w.ensureSized(msglen)
	offset := putUint64(w.msg, idx.MessageStartTime)
	offset += putUint64(w.msg[offset:], idx.MessageEndTime)
	offset += putUint64(w.msg[offset:], idx.ChunkStartOffset)
	offset += putUint64(w.msg[offset:], idx.ChunkLength)
	offset += putUint32(w.msg[offset:], uint32(indexLen))
	for _, chanID := range w.channelIDs {
		if v, ok := idx.MessageIndexOffsets[chanID]; ok {
			offset += putUint16(w.msg[offset:], chanID)
			offset += putUint64(w.msg[offset:], v)
		}
	}
	offset += putUint64(w.msg[offset:], idx.MessageIndexLength)
	offset += putPrefixedString(w.msg[offset:], string(idx.Compression))
	offset += putUint64(w.msg[offset:], idx.CompressedSize)
	offset += putUint64(w.msg[offset:], idx.UncompressedSize)
	_, err := w.writeRecord(w.w, OpChunkIndex, w.msg[:offset])
	return err
}

func (w *Writer) writeDataEnd(e *DataEnd) error {
	w.ensureSized(4)
	offset := putUint32(w.msg, e.DataSectionCRC)
	_, err := w.writeRecord(w.w, OpDataEnd, w.msg[:offset])
	return err
}

func (w *Writer) flushActiveChunk() error {
	uncompressedLen := w.currentChunkSize()
	if uncompressedLen == 0 {
		return nil
	}
	if w.opts.SortChunkMessages {
		// sorting requires access to the raw uncompressed bytes, which are
		// only available for the "none" codec; for compressed codecs the
		// caller should write messages in order instead.
		if raw, ok := w.chunkWriter.rawUncompressed(); ok {
			sortChunk(w.msg, raw, w.currentMessageIndex)
			if !w.opts.NoCRC {
				w.chunkWriter.compressedWriter.ResetCRC()
				_, _ = w.chunkWriter.compressedWriter.crc.Write(raw)
			}
		}
	}
	w.chunkWriter.ChunkStartTime = w.currentChunkStartTime
	w.chunkWriter.ChunkEndTime = w.currentChunkEndTime
	if err := w.chunkWriter.Close(); err != nil {
		return fmt.Errorf("failed to close chunk: %w", err)
	}

	recordlen := 1 + 8 + w.chunkWriter.SerializedLen()
	if len(w.chunk) < recordlen {
		w.chunk = make([]byte, recordlen*2)
	}
	w.chunk[0] = byte(OpChunk)
	chunkStartOffset := w.w.Size()
	n, err := w.chunkWriter.SerializeTo(w.chunk[9:])
	if err != nil {
		return err
	}
	putUint64(w.chunk[1:], uint64(n))
	if _, err := w.w.Write(w.chunk[:9+n]); err != nil {
		return err
	}

	if err := w.chunkWriter.Reset(); err != nil {
		return fmt.Errorf("failed to reset chunk writer: %w", err)
	}
	chunkEndOffset := w.w.Size()

	messageIndexOffsets := make(map[uint16]uint64)
	if !w.opts.NoMessageIndex {
		for _, e := range w.currentMessageIndex {
			idx, ok := w.messageIndexes[e.channelID]
			if !ok {
				idx = &MessageIndex{ChannelID: e.channelID}
				w.messageIndexes[e.channelID] = idx
			}
			idx.Add(e.timestamp, e.offset)
		}
		for _, chanID := range w.channelIDs {
			if idx, ok := w.messageIndexes[chanID]; ok && !idx.IsEmpty() {
				messageIndexOffsets[chanID] = w.w.Size()
				if err := w.WriteMessageIndex(idx); err != nil {
					return err
				}
			}
		}
	}
	messageIndexEnd := w.w.Size()

	var chunkStart uint64
	if w.currentChunkStartTime != math.MaxUint64 {
		chunkStart = w.currentChunkStartTime
	}
	if !w.opts.NoChunkIndex {
		w.ChunkIndexes = append(w.ChunkIndexes, &ChunkIndex{
			MessageStartTime:    chunkStart,
			MessageEndTime:      w.currentChunkEndTime,
			ChunkStartOffset:    chunkStartOffset,
			ChunkLength:         chunkEndOffset - chunkStartOffset,
			MessageIndexOffsets: messageIndexOffsets,
			MessageIndexLength:  messageIndexEnd - chunkEndOffset,
			Compression:         w.opts.Compression,
			CompressedSize:      uint64(n) - 8 - 8 - 8 - 4 - 4 - uint64(len(w.opts.Compression)) - 8,
			UncompressedSize:    uint64(uncompressedLen),
		})
	}
	for _, idx := range w.messageIndexes {
		idx.Reset()
	}
	w.currentMessageIndex = w.currentMessageIndex[:0]
	w.Statistics.ChunkCount++
	w.currentChunkStartTime = math.MaxUint64
	w.currentChunkEndTime = 0
	return nil
}

func (w *Writer) writeSummarySection() ([]*SummaryOffset, error) {
	var offsets []*SummaryOffset
	if !w.opts.NoRepeatedSchemas && len(w.schemas) > 0 {
		start := w.w.Size()
		for _, id := range w.schemaIDs {
			if s, ok := w.schemas[id]; ok {
				if err := w.writeSchema(s, false); err != nil {
					return offsets, fmt.Errorf("failed to write schema: %w", err)
				}
			}
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpSchema, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	if !w.opts.NoRepeatedChannels && len(w.channels) > 0 {
		start := w.w.Size()
		for _, id := range w.channelIDs {
			if c, ok := w.channels[id]; ok {
				if err := w.writeChannel(c, false); err != nil {
					return offsets, fmt.Errorf("failed to write channel: %w", err)
				}
			}
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpChannel, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	if !w.opts.NoStatistics {
		start := w.w.Size()
		if err := w.writeStatistics(w.Statistics); err != nil {
			return offsets, fmt.Errorf("failed to write statistics: %w", err)
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpStatistics, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	if !w.opts.NoChunkIndex && len(w.ChunkIndexes) > 0 {
		start := w.w.Size()
		for _, idx := range w.ChunkIndexes {
			if err := w.writeChunkIndex(idx); err != nil {
				return offsets, fmt.Errorf("failed to write chunk index: %w", err)
			}
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpChunkIndex, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	if !w.opts.NoAttachmentIndex && len(w.AttachmentIndexes) > 0 {
		start := w.w.Size()
		for _, idx := range w.AttachmentIndexes {
			if err := w.writeAttachmentIndex(idx); err != nil {
				return offsets, fmt.Errorf("failed to write attachment index: %w", err)
			}
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpAttachmentIndex, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	if !w.opts.NoMetadataIndex && len(w.MetadataIndexes) > 0 {
		start := w.w.Size()
		for _, idx := range w.MetadataIndexes {
			if err := w.writeMetadataIndex(idx); err != nil {
				return offsets, fmt.Errorf("failed to write metadata index: %w", err)
			}
		}
		offsets = append(offsets, &SummaryOffset{GroupOpcode: OpMetadataIndex, GroupStart: start, GroupLength: w.w.Size() - start})
	}
	return offsets, nil
}

// Close flushes the active chunk, writes DataEnd, the summary section (and
// its SummaryOffset records, unless disabled), the Footer, and trailing
// magic. After Close the writer is terminal: every further call, Rotate
// included, returns ErrWriterTerminal.
func (w *Writer) Close() error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	if !w.opts.NoChunking {
		if err := w.flushActiveChunk(); err != nil {
			w.terminal = true
			return fmt.Errorf("failed to flush active chunk: %w", err)
		}
	}
	dataEnd := &DataEnd{}
	if !w.opts.NoCRC {
		dataEnd.DataSectionCRC = w.w.Checksum()
	}
	if err := w.writeDataEnd(dataEnd); err != nil {
		w.terminal = true
		return fmt.Errorf("failed to write data end: %w", err)
	}

	var summarySectionStart, summaryOffsetStart uint64
	var summaryOffsets []*SummaryOffset
	if !w.opts.NoSummary {
		w.w.ResetCRC()
		summarySectionStart = w.w.Size()
		offsets, err := w.writeSummarySection()
		if err != nil {
			w.terminal = true
			return fmt.Errorf("failed to write summary section: %w", err)
		}
		summaryOffsets = offsets
		if len(summaryOffsets) == 0 {
			summarySectionStart = 0
		}
		if !w.opts.NoSummaryOffsets {
			summaryOffsetStart = w.w.Size()
			for _, so := range summaryOffsets {
				if err := w.writeSummaryOffset(so); err != nil {
					w.terminal = true
					return fmt.Errorf("failed to write summary offset: %w", err)
				}
			}
		}
	}
	if err := w.WriteFooter(&Footer{SummaryStart: summarySectionStart, SummaryOffsetStart: summaryOffsetStart}); err != nil {
		w.terminal = true
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if _, err := w.w.Write(Magic); err != nil {
		w.terminal = true
		return fmt.Errorf("failed to write closing magic: %w", err)
	}
	w.terminal = true
	return nil
}

// WriteFooter writes a Footer record. If opts.NoCRC is unset, SummaryCRC is
// computed over everything written since the last ResetCRC call.
func (w *Writer) WriteFooter(f *Footer) error {
	msglen := 8 + 8 + 4
	w.ensureSized(1 + 8 + msglen)
	w.msg[0] = byte(OpFooter)
	offset := 1
	offset += putUint64(w.msg[offset:], uint64(msglen))
	offset += putUint64(w.msg[offset:], f.SummaryStart)
	offset += putUint64(w.msg[offset:], f.SummaryOffsetStart)
	if _, err := w.w.Write(w.msg[:offset]); err != nil {
		return err
	}
	var summaryCRC uint32
	if !w.opts.NoCRC {
		summaryCRC = w.w.Checksum()
	}
	offset += putUint32(w.msg[offset:], summaryCRC)
	_, err := w.w.Write(w.msg[offset-4 : offset])
	return err
}

func (w *Writer) ensureSized(n int) {
	if len(w.msg) < n {
		w.msg = make([]byte, 2*n)
	}
}

func (w *Writer) writeRecord(dst io.Writer, op OpCode, data []byte) (int, error) {
	c := 0
	w.buf[0] = byte(op)
	binary.LittleEndian.PutUint64(w.buf[1:], uint64(len(data)))
	n, err := dst.Write(w.buf[:9])
	c += n
	if err != nil {
		return c, err
	}
	n, err = dst.Write(data)
	c += n
	return c, err
}

// swapSlices exchanges the byte ranges [leftstart:leftend) and
// [rightstart:rightend) of buf in place, using tmp as scratch space
// (allocating a replacement if it is too small). The ranges must be
// nonoverlapping and given in increasing order.
func swapSlices(tmp []byte, buf []byte, leftstart, leftend, rightstart, rightend int) []byte {
	leftLen := leftend - leftstart
	rightLen := rightend - rightstart
	scratchlen := leftLen
	if rightLen > scratchlen {
		scratchlen = rightLen
	}
	if len(tmp) < scratchlen {
		tmp = make([]byte, scratchlen)
	}
	scratch := tmp[:scratchlen]
	switch {
	case leftLen > rightLen:
		copy(scratch, buf[leftstart:leftend])
		copy(buf[leftstart:], buf[rightstart:rightend])
		copy(buf[leftstart+rightLen:], buf[leftend:rightstart])
		copy(buf[rightstart-leftLen+rightLen:], scratch)
	case leftLen < rightLen:
		copy(scratch, buf[rightstart:rightend])
		copy(buf[rightend-leftLen:], buf[leftstart:leftend])
		copy(buf[leftend+rightLen-leftLen:rightstart+rightLen-leftLen], buf[leftend:rightstart])
		copy(buf[leftstart:], scratch)
	default:
		copy(scratch, buf[leftstart:leftend])
		copy(buf[leftstart:], buf[rightstart:rightend])
		copy(buf[rightstart:rightend], scratch)
	}
	return tmp
}

func readRecordLen(chunk []byte, offset uint64) uint64 {
	return binary.LittleEndian.Uint64(chunk[offset+1:])
}

// sortChunk reorders a decompressed chunk's records (and the parallel index
// into chunk-relative offsets) into (timestamp, offset) order, using
// insertion sort on the assumption that messages usually arrive nearly
// ordered already.
func sortChunk(tmp []byte, chunk []byte, index []messageIndexEntry) {
	i := 1
	for i < len(index) {
		j := i
		for j > 0 && (index[j-1].timestamp > index[j].timestamp ||
			(index[j-1].timestamp == index[j].timestamp && index[j-1].offset > index[j].offset)) {
			left := index[j-1]
			right := index[j]
			index[j-1], index[j] = index[j], index[j-1]

			leftRecordLen := readRecordLen(chunk, left.offset)
			rightRecordLen := readRecordLen(chunk, right.offset)
			leftLen := 9 + leftRecordLen
			rightLen := 9 + rightRecordLen
			tmp = swapSlices(tmp, chunk,
				int(left.offset), int(left.offset+leftLen),
				int(right.offset), int(right.offset+rightLen))

			index[j-1].offset = left.offset
			switch {
			case leftLen == rightLen:
				index[j].offset = right.offset
			case rightLen > leftLen:
				index[j].offset = right.offset + (rightLen - leftLen)
			default:
				index[j].offset = right.offset - (leftLen - rightLen)
			}
			j--
		}
		i++
	}
}
