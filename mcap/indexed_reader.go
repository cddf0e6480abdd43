package mcap

import (
	"bytes"
	"fmt"
	"io"
)

// ScanMethod selects how an indexed reader obtains the summary information
// it needs to answer Info()/byte-range queries and to drive time-ordered
// iteration.
type ScanMethod int

const (
	// NoFallbackScan requires a valid, parseable summary section. Missing
	// Statistics or MessageIndex records are reported via the returned
	// error's wrapped sentinel, but whatever was found is still returned.
	NoFallbackScan ScanMethod = iota
	// AllowFallbackScan uses the summary section when present and
	// parseable, and falls back to a forward linear scan reconstructing
	// schemas, channels and statistics when it is not. The scan builds no
	// chunk index, so a file recovered this way has no ChunkIndexes.
	AllowFallbackScan
	// ForceScan always performs the forward linear scan, ignoring any
	// summary section the file may have.
	ForceScan
)

// footerSize is the on-wire size of a Footer record's body plus its 9-byte
// opcode+length framing and the trailing 8-byte magic.
const footerSize = 9 + 8 + 8 + 4 + 8

// readFooter seeks to the end of rs and parses the trailing Footer and
// magic.
func readFooter(rs io.ReadSeeker) (*Footer, error) {
	if _, err := rs.Seek(-int64(footerSize), io.SeekEnd); err != nil {
		return nil, fmt.Errorf("failed to seek to footer: %w", err)
	}
	buf := make([]byte, footerSize)
	if _, err := io.ReadFull(rs, buf); err != nil {
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}
	magic := buf[len(buf)-len(Magic):]
	if !bytes.Equal(magic, Magic) {
		return nil, &ErrBadMagic{Location: magicLocationEnd, Actual: magic}
	}
	footer, err := ParseFooter(buf[9 : len(buf)-len(Magic)])
	if err != nil {
		return nil, newInvalidRecordError(OpFooter, err)
	}
	return footer, nil
}

// readSummary produces an Info by the method selected, seeking rs as
// needed. The returned error, when non-nil but the Info is non-nil too
// (NoFallbackScan with a partially-populated summary), wraps
// ErrMissingStatistics and/or ErrMissingMessageIndex.
func readSummary(rs io.ReadSeeker, method ScanMethod) (*Info, error) {
	if method == ForceScan {
		return scanSummary(rs)
	}
	footer, err := readFooter(rs)
	if err != nil {
		if method == AllowFallbackScan {
			return scanSummary(rs)
		}
		return nil, err
	}
	if footer.SummaryStart == 0 {
		if method == AllowFallbackScan {
			return scanSummary(rs)
		}
		return nil, ErrSummaryUnreadable
	}
	info, err := parseSummarySection(rs, footer)
	if err != nil {
		if method == AllowFallbackScan {
			return scanSummary(rs)
		}
		return nil, fmt.Errorf("%w: %w", ErrSummaryUnreadable, err)
	}
	if info.Statistics == nil {
		err = ErrMissingStatistics
	}
	if len(info.ChunkIndexes) > 0 {
		hasIndex := false
		for _, ci := range info.ChunkIndexes {
			if len(ci.MessageIndexOffsets) > 0 {
				hasIndex = true
				break
			}
		}
		if !hasIndex {
			if err != nil {
				err = fmt.Errorf("%w; %w", err, ErrMissingMessageIndex)
			} else {
				err = ErrMissingMessageIndex
			}
		}
	}
	return info, err
}

// parseSummarySection reads and parses every record in the summary section
// located by footer, grounded on the equivalent scan performed by Reader.Info.
func parseSummarySection(rs io.ReadSeeker, footer *Footer) (*Info, error) {
	if _, err := rs.Seek(int64(footer.SummaryStart), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to summary start: %w", err)
	}
	lexer, err := NewLexer(rs, &LexerOptions{SkipMagic: true})
	if err != nil {
		return nil, err
	}
	info := &Info{
		Footer:   footer,
		Schemas:  make(map[uint16]*Schema),
		Channels: make(map[uint16]*Channel),
	}
	var recordBuf []byte
	for {
		tokenType, r, recordLen, err := lexer.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to get next summary token: %w", err)
		}
		record, err := readIntoBuf(r, recordLen, &recordBuf)
		if err != nil {
			return nil, fmt.Errorf("failed to read summary record: %w", err)
		}
		switch tokenType {
		case TokenSchema:
			schema, err := ParseSchema(record)
			if err != nil {
				return nil, newInvalidRecordError(OpSchema, err)
			}
			info.Schemas[schema.ID] = schema
		case TokenChannel:
			channel, err := ParseChannel(record)
			if err != nil {
				return nil, newInvalidRecordError(OpChannel, err)
			}
			info.Channels[channel.ID] = channel
		case TokenChunkIndex:
			idx, err := ParseChunkIndex(record)
			if err != nil {
				return nil, newInvalidRecordError(OpChunkIndex, err)
			}
			info.ChunkIndexes = append(info.ChunkIndexes, idx)
		case TokenAttachmentIndex:
			idx, err := ParseAttachmentIndex(record)
			if err != nil {
				return nil, newInvalidRecordError(OpAttachmentIndex, err)
			}
			info.AttachmentIndexes = append(info.AttachmentIndexes, idx)
		case TokenMetadataIndex:
			idx, err := ParseMetadataIndex(record)
			if err != nil {
				return nil, newInvalidRecordError(OpMetadataIndex, err)
			}
			info.MetadataIndexes = append(info.MetadataIndexes, idx)
		case TokenStatistics:
			stats, err := ParseStatistics(record)
			if err != nil {
				return nil, newInvalidRecordError(OpStatistics, err)
			}
			info.Statistics = stats
		case TokenFooter:
			return info, nil
		}
	}
}

// scanSummaryCollector implements RecordHandler, reconstructing an Info by
// scanning the data section forward: every Schema/Channel seen, and
// Statistics accumulated from the Message records encountered, whether
// inside chunks or not. The LinearReader it runs under enters chunks
// transparently and never calls OnChunk, so no ChunkIndex is synthesized
// and Statistics.ChunkCount stays zero.
type scanSummaryCollector struct {
	NopRecordHandler
	info *Info
}

func (c *scanSummaryCollector) OnHeader(h *Header) error {
	c.info.Header = h
	return nil
}

func (c *scanSummaryCollector) OnSchema(s *Schema) error {
	c.info.Schemas[s.ID] = s
	return nil
}

func (c *scanSummaryCollector) OnChannel(ch *Channel) error {
	c.info.Channels[ch.ID] = ch
	return nil
}

func (c *scanSummaryCollector) OnChunk(ch *Chunk) error {
	c.info.Statistics.ChunkCount++
	c.info.ChunkIndexes = append(c.info.ChunkIndexes, &ChunkIndex{
		MessageStartTime: ch.MessageStartTime,
		MessageEndTime:   ch.MessageEndTime,
		Compression:      CompressionFormat(ch.Compression),
		UncompressedSize: ch.UncompressedSize,
	})
	return nil
}

func (c *scanSummaryCollector) OnMessage(m *Message) error {
	s := c.info.Statistics
	s.MessageCount++
	if s.MessageCount == 1 || m.LogTime < s.MessageStartTime {
		s.MessageStartTime = m.LogTime
	}
	if m.LogTime > s.MessageEndTime {
		s.MessageEndTime = m.LogTime
	}
	if s.ChannelMessageCounts == nil {
		s.ChannelMessageCounts = make(map[uint16]uint64)
	}
	s.ChannelMessageCounts[m.ChannelID]++
	return nil
}

func (c *scanSummaryCollector) OnAttachment(*Attachment) error {
	c.info.Statistics.AttachmentCount++
	return nil
}

func (c *scanSummaryCollector) OnMetadata(*Metadata) error {
	c.info.Statistics.MetadataCount++
	return nil
}

// loadChunkAt seeks to ci's Chunk record, reads its compressed body into
// compressedBuf, and fully decompresses it into dst, validating the chunk
// CRC when validateCRC is set.
func loadChunkAt(
	rs io.ReadSeeker,
	ci *ChunkIndex,
	decompressors *decompressorSet,
	validateCRC bool,
	compressedBuf *[]byte,
	dst []byte,
) ([]byte, error) {
	if _, err := rs.Seek(int64(ci.ChunkStartOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to chunk: %w", err)
	}
	record, err := readIntoBuf(rs, int64(ci.ChunkLength), compressedBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk data: %w", err)
	}
	chunk, err := ParseChunk(record[9:])
	if err != nil {
		return nil, newInvalidRecordError(OpChunk, err)
	}
	decomp, err := decompressors.get(CompressionFormat(chunk.Compression))
	if err != nil {
		return nil, err
	}
	out, err := decomp.decompress(chunk.Records, chunk.UncompressedSize, dst)
	if err != nil {
		return nil, err
	}
	if validateCRC {
		if err := checksumChunk(out, chunk.UncompressedCRC); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanSummary reconstructs an Info by scanning rs forward from the start,
// grounded on the repair-oriented forward-scan style of the teacher
// package's doctor command.
func scanSummary(rs io.ReadSeeker) (*Info, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to start: %w", err)
	}
	lexer, err := NewLexer(rs)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Schemas:    make(map[uint16]*Schema),
		Channels:   make(map[uint16]*Channel),
		Statistics: &Statistics{},
	}
	collector := &scanSummaryCollector{info: info}
	lr := NewLinearReader(lexer)
	if err := lr.Run(collector); err != nil {
		return nil, fmt.Errorf("fallback scan failed: %w", err)
	}
	info.Statistics.SchemaCount = uint16(len(info.Schemas))
	info.Statistics.ChannelCount = uint32(len(info.Channels))
	return info, nil
}
