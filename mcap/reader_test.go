package mcap

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestFile writes a small MCAP file with two channels sharing one
// schema, interleaved messages, one attachment and one metadata record,
// returning the encoded bytes.
func writeTestFile(t *testing.T, opts *WriterOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{Profile: "test"}, opts)
	require.NoError(t, err)

	schema := &Schema{Name: "example", Encoding: "ros1msg", Data: []byte("int32 value")}
	require.NoError(t, w.AddSchema(schema))

	chanA := &Channel{SchemaID: schema.ID, Topic: "/a", MessageEncoding: "ros1"}
	chanB := &Channel{SchemaID: schema.ID, Topic: "/b", MessageEncoding: "ros1"}
	require.NoError(t, w.AddChannel(chanA))
	require.NoError(t, w.AddChannel(chanB))

	for i := 0; i < 10; i++ {
		require.NoError(t, w.WriteMessage(&Message{
			ChannelID:   chanA.ID,
			Sequence:    uint32(i),
			LogTime:     uint64(i * 2),
			PublishTime: uint64(i * 2),
			Data:        []byte{byte(i)},
		}))
		require.NoError(t, w.WriteMessage(&Message{
			ChannelID:   chanB.ID,
			Sequence:    uint32(i),
			LogTime:     uint64(i*2 + 1),
			PublishTime: uint64(i*2 + 1),
			Data:        []byte{byte(i + 100)},
		}))
	}

	require.NoError(t, w.WriteAttachment(&Attachment{
		LogTime:   5,
		Name:      "calibration.json",
		MediaType: "application/json",
		Data:      []byte(`{"ok":true}`),
	}))
	require.NoError(t, w.WriteMetadata(&Metadata{
		Name:     "run-info",
		Metadata: map[string]string{"operator": "test"},
	}))

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAllMessages(t *testing.T, it MessageIterator) []*Message {
	t.Helper()
	var out []*Message
	for {
		_, _, msg, err := it.Next(nil)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		out = append(out, msg)
	}
	return out
}

func TestReaderFileOrderRoundTrip(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(FileOrder))
	require.NoError(t, err)
	msgs := readAllMessages(t, it)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		require.Equal(t, uint64(i), m.LogTime)
	}
}

func TestReaderLogTimeOrderRoundTrip(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(LogTimeOrder))
	require.NoError(t, err)
	msgs := readAllMessages(t, it)
	require.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		require.LessOrEqual(t, msgs[i-1].LogTime, msgs[i].LogTime)
	}
}

func TestReaderReverseLogTimeOrderRoundTrip(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(ReverseLogTimeOrder))
	require.NoError(t, err)
	msgs := readAllMessages(t, it)
	require.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		require.GreaterOrEqual(t, msgs[i-1].LogTime, msgs[i].LogTime)
	}
}

func TestReaderTopicFilter(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(LogTimeOrder), WithTopics([]string{"/a"}))
	require.NoError(t, err)
	_, channel, msg, err := it.Next(nil)
	require.NoError(t, err)
	require.Equal(t, "/a", channel.Topic)
	require.NotNil(t, msg)
	msgs := readAllMessages(t, it)
	require.Len(t, msgs, 9) // one already consumed above
}

func TestReaderTimeRangeFilter(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(LogTimeOrder), AfterNanos(5), BeforeNanos(15))
	require.NoError(t, err)
	msgs := readAllMessages(t, it)
	for _, m := range msgs {
		require.GreaterOrEqual(t, m.LogTime, uint64(5))
		require.Less(t, m.LogTime, uint64(15))
	}
}

func TestReaderInfoStatistics(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	info, err := r.Info(NoFallbackScan)
	require.NoError(t, err)
	require.Equal(t, uint64(20), info.Statistics.MessageCount)
	require.Equal(t, uint16(1), info.Statistics.SchemaCount)
	require.Equal(t, uint32(2), info.Statistics.ChannelCount)
	require.Equal(t, uint32(1), info.Statistics.AttachmentCount)
	require.Equal(t, uint32(1), info.Statistics.MetadataCount)
}

func TestReaderUnchunkedFileOrder(t *testing.T) {
	data := writeTestFile(t, &WriterOptions{NoChunking: true})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	it, err := r.Messages(InOrder(FileOrder))
	require.NoError(t, err)
	msgs := readAllMessages(t, it)
	require.Len(t, msgs, 20)
}

func TestReaderFallbackScanWhenNoSummary(t *testing.T) {
	data := writeTestFile(t, &WriterOptions{NoSummary: true})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	info, err := r.Info(AllowFallbackScan)
	require.NoError(t, err)
	require.Equal(t, uint64(20), info.Statistics.MessageCount)
	require.Len(t, info.Schemas, 1)
	require.Len(t, info.Channels, 2)
}

func TestReaderHeaderAndFooter(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	header, err := r.Header()
	require.NoError(t, err)
	require.Equal(t, "test", header.Profile)

	footer, err := r.Footer()
	require.NoError(t, err)
	require.NotZero(t, footer.SummaryStart)
}

func TestReaderAttachmentAndMetadataDirectRead(t *testing.T) {
	data := writeTestFile(t, nil)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	info, err := r.Info(NoFallbackScan)
	require.NoError(t, err)
	require.Len(t, info.AttachmentIndexes, 1)
	require.Len(t, info.MetadataIndexes, 1)

	attachment, err := r.ReadAttachment(info.AttachmentIndexes[0])
	require.NoError(t, err)
	require.Equal(t, "calibration.json", attachment.Name)
	require.Equal(t, []byte(`{"ok":true}`), attachment.Data)

	metadata, err := r.ReadMetadata(info.MetadataIndexes[0])
	require.NoError(t, err)
	require.Equal(t, "run-info", metadata.Name)
	require.Equal(t, "test", metadata.Metadata["operator"])
}

func TestReaderByteRange(t *testing.T) {
	data := writeTestFile(t, &WriterOptions{ChunkSize: 1})
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Info(NoFallbackScan)
	require.NoError(t, err)
	start, end, err := r.ByteRange(0, 5)
	require.NoError(t, err)
	require.Less(t, start, end)
}

func TestReaderCompressionFormats(t *testing.T) {
	for _, format := range []CompressionFormat{CompressionNone, CompressionLZ4, CompressionZSTD} {
		format := format
		t.Run(string(format)+"_or_none", func(t *testing.T) {
			data := writeTestFile(t, &WriterOptions{Compression: format})
			r, err := NewReader(bytes.NewReader(data))
			require.NoError(t, err)
			it, err := r.Messages(InOrder(LogTimeOrder))
			require.NoError(t, err)
			msgs := readAllMessages(t, it)
			require.Len(t, msgs, 20)
		})
	}
}
