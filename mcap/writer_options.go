package mcap

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Profile is the profile of the Header that Rotate writes into each new
	// sink; NewWriter writes the Header it is given. Library is not read by
	// the Writer: the library string comes from the Header passed to
	// NewWriter. If that string is empty, it defaults to this module's own
	// identifying string; if non-empty, it is appended to that default
	// rather than replacing it, unless OverrideLibrary is set.
	Profile string
	Library string
	// OverrideLibrary causes Library to replace the default header library
	// string instead of being appended to it.
	OverrideLibrary bool

	// NoChunking disables chunk compression; every record is written
	// directly to the data section.
	NoChunking bool
	// ChunkSize targets an uncompressed chunk size in bytes before a chunk
	// is flushed. Large messages may cause this to be exceeded. Defaults to
	// 1 MiB when zero.
	ChunkSize int64
	// Compression selects the chunk compression format. Ignored when
	// NoChunking is set.
	Compression CompressionFormat
	// CompressionLevel selects a speed/ratio tradeoff within the chosen
	// Compression format.
	CompressionLevel CompressionLevel
	// ForceCompression is not read by the Writer. Every chunk is written
	// with the configured Compression, even when the compressed form is
	// not smaller than the uncompressed one.
	ForceCompression bool

	// NoCRC disables CRC-32 computation for chunks, attachments, the data
	// section, and the summary section.
	NoCRC bool
	// NoMessageIndex disables per-chunk message index records.
	NoMessageIndex bool
	// NoSummary disables the summary section entirely: no repeated
	// schemas/channels, no statistics, no chunk/attachment/metadata
	// indexes, no summary offsets. Close still writes a Footer and trailing
	// magic, with SummaryStart and SummaryOffsetStart set to zero.
	NoSummary bool
	// NoRepeatedSchemas skips re-emitting schemas in the summary section.
	NoRepeatedSchemas bool
	// NoRepeatedChannels skips re-emitting channels in the summary section.
	NoRepeatedChannels bool
	// NoAttachmentIndex skips AttachmentIndex records.
	NoAttachmentIndex bool
	// NoMetadataIndex skips MetadataIndex records.
	NoMetadataIndex bool
	// NoChunkIndex skips ChunkIndex records.
	NoChunkIndex bool
	// NoStatistics skips the Statistics record.
	NoStatistics bool
	// NoSummaryOffsets skips SummaryOffset records.
	NoSummaryOffsets bool

	// SortChunkMessages reorders each chunk's messages (and its message
	// index) into LogTime order before flushing, at the cost of an
	// insertion sort pass per chunk. It takes effect only when Compression
	// is CompressionNone; chunks written with other codecs keep their
	// messages in write order.
	SortChunkMessages bool
}

func (o *WriterOptions) chunkSize() int64 {
	if o.ChunkSize == 0 {
		return 1024 * 1024
	}
	return o.ChunkSize
}
