package mcap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMessageRoundTrip(t *testing.T) {
	buf := make([]byte, 2+4+8+8+3)
	offset := putUint16(buf, 42)
	offset += putUint32(buf[offset:], 7)
	offset += putUint64(buf[offset:], 1000)
	offset += putUint64(buf[offset:], 1001)
	copy(buf[offset:], []byte{1, 2, 3})

	msg, err := ParseMessage(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(42), msg.ChannelID)
	require.Equal(t, uint32(7), msg.Sequence)
	require.Equal(t, uint64(1000), msg.LogTime)
	require.Equal(t, uint64(1001), msg.PublishTime)
	require.Equal(t, []byte{1, 2, 3}, msg.Data)
}

func TestParseSchemaRoundTrip(t *testing.T) {
	buf := make([]byte, 2+4+len("name")+4+len("enc")+4+3)
	offset := putUint16(buf, 5)
	offset += putPrefixedString(buf[offset:], "name")
	offset += putPrefixedString(buf[offset:], "enc")
	putPrefixedBytes(buf[offset:], []byte{9, 9, 9})

	schema, err := ParseSchema(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(5), schema.ID)
	require.Equal(t, "name", schema.Name)
	require.Equal(t, "enc", schema.Encoding)
	require.Equal(t, []byte{9, 9, 9}, schema.Data)
}

func TestParseChannelRoundTrip(t *testing.T) {
	meta := map[string]string{"k": "v"}
	userdata := make([]byte, 4+prefixedMapLen(meta))
	putPrefixedMap(userdata, meta)

	buf := make([]byte, 2+2+4+len("/topic")+4+len("enc")+len(userdata))
	offset := putUint16(buf, 3)
	offset += putUint16(buf[offset:], 1)
	offset += putPrefixedString(buf[offset:], "/topic")
	offset += putPrefixedString(buf[offset:], "enc")
	copy(buf[offset:], userdata)

	channel, err := ParseChannel(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(3), channel.ID)
	require.Equal(t, uint16(1), channel.SchemaID)
	require.Equal(t, "/topic", channel.Topic)
	require.Equal(t, "enc", channel.MessageEncoding)
	require.Equal(t, meta, channel.Metadata)
}

func TestParseChunkIndexRoundTrip(t *testing.T) {
	offsets := map[uint16]uint64{1: 100, 2: 200}
	offsetsLen := 0
	for range offsets {
		offsetsLen += 2 + 8
	}
	buf := make([]byte, 8+8+8+8+4+offsetsLen+8+4+8+8)
	offset := putUint64(buf, 10)
	offset += putUint64(buf[offset:], 20)
	offset += putUint64(buf[offset:], 1000)
	offset += putUint64(buf[offset:], 500)
	offset += putUint32(buf[offset:], uint32(offsetsLen))
	for id, off := range offsets {
		offset += putUint16(buf[offset:], id)
		offset += putUint64(buf[offset:], off)
	}
	offset += putUint64(buf[offset:], 64)
	offset += putPrefixedString(buf[offset:], "lz4")
	offset += putUint64(buf[offset:], 300)
	putUint64(buf[offset:], 1000)

	idx, err := ParseChunkIndex(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(10), idx.MessageStartTime)
	require.Equal(t, uint64(20), idx.MessageEndTime)
	require.Equal(t, uint64(1000), idx.ChunkStartOffset)
	require.Equal(t, uint64(500), idx.ChunkLength)
	require.Equal(t, offsets, idx.MessageIndexOffsets)
	require.Equal(t, uint64(64), idx.MessageIndexLength)
	require.Equal(t, CompressionLZ4, idx.Compression)
	require.Equal(t, uint64(300), idx.CompressedSize)
	require.Equal(t, uint64(1000), idx.UncompressedSize)
}

func TestParseStatisticsRoundTrip(t *testing.T) {
	counts := map[uint16]uint64{1: 5, 2: 7}
	countsLen := len(counts) * (2 + 8)
	buf := make([]byte, 8+2+4+4+4+4+8+8+4+countsLen)
	offset := putUint64(buf, 12)
	offset += putUint16(buf[offset:], 3)
	offset += putUint32(buf[offset:], 4)
	offset += putUint32(buf[offset:], 1)
	offset += putUint32(buf[offset:], 2)
	offset += putUint32(buf[offset:], 6)
	offset += putUint64(buf[offset:], 100)
	offset += putUint64(buf[offset:], 900)
	offset += putUint32(buf[offset:], uint32(countsLen))
	for id, c := range counts {
		offset += putUint16(buf[offset:], id)
		offset += putUint64(buf[offset:], c)
	}

	stats, err := ParseStatistics(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(12), stats.MessageCount)
	require.Equal(t, uint16(3), stats.SchemaCount)
	require.Equal(t, uint32(4), stats.ChannelCount)
	require.Equal(t, uint32(1), stats.AttachmentCount)
	require.Equal(t, uint32(2), stats.MetadataCount)
	require.Equal(t, uint32(6), stats.ChunkCount)
	require.Equal(t, uint64(100), stats.MessageStartTime)
	require.Equal(t, uint64(900), stats.MessageEndTime)
	require.Equal(t, counts, stats.ChannelMessageCounts)
}

func TestParseStatisticsRejectsShortBuffer(t *testing.T) {
	_, err := ParseStatistics(make([]byte, 4))
	require.Error(t, err)
}

func TestParseDataEndRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	putUint32(buf, 0xDEADBEEF)
	de, err := ParseDataEnd(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), de.DataSectionCRC)
}

func TestParseSummaryOffsetRoundTrip(t *testing.T) {
	buf := make([]byte, 17)
	buf[0] = byte(OpSchema)
	offset := 1
	offset += putUint64(buf[offset:], 50)
	putUint64(buf[offset:], 200)

	so, err := ParseSummaryOffset(buf)
	require.NoError(t, err)
	require.Equal(t, OpSchema, so.GroupOpcode)
	require.Equal(t, uint64(50), so.GroupStart)
	require.Equal(t, uint64(200), so.GroupLength)
}

func TestParseSummaryOffsetRejectsShortBuffer(t *testing.T) {
	_, err := ParseSummaryOffset(make([]byte, 10))
	require.Error(t, err)
}

func TestParseChunkRejectsOverrunRecordsLength(t *testing.T) {
	buf := make([]byte, 8+8+8+4+4+8)
	offset := putUint64(buf, 0)
	offset += putUint64(buf[offset:], 0)
	offset += putUint64(buf[offset:], 0)
	offset += putUint32(buf[offset:], 0)
	offset += putPrefixedString(buf[offset:], "")
	putUint64(buf[offset:], 1000) // claims far more than is present

	_, err := ParseChunk(buf)
	require.Error(t, err)
}
