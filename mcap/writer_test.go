package mcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterAssignsSequentialIDs(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)

	s1 := &Schema{Name: "a"}
	s2 := &Schema{Name: "b"}
	require.NoError(t, w.AddSchema(s1))
	require.NoError(t, w.AddSchema(s2))
	require.Equal(t, uint16(1), s1.ID)
	require.Equal(t, uint16(2), s2.ID)

	c1 := &Channel{SchemaID: s1.ID, Topic: "/x"}
	c2 := &Channel{SchemaID: s2.ID, Topic: "/y"}
	require.NoError(t, w.AddChannel(c1))
	require.NoError(t, w.AddChannel(c2))
	require.Equal(t, uint16(1), c1.ID)
	require.Equal(t, uint16(2), c2.ID)
	require.NoError(t, w.Close())
}

func TestWriterRejectsUnknownSchemaForChannel(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)
	err = w.AddChannel(&Channel{SchemaID: 99, Topic: "/x"})
	require.ErrorIs(t, err, ErrUnknownSchema)
}

func TestWriterRejectsMessageOnUnknownChannel(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)
	err = w.WriteMessage(&Message{ChannelID: 7, LogTime: 1})
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestWriterTrackStatistics(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)
	ch := &Channel{Topic: "/x"}
	require.NoError(t, w.AddChannel(ch))
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteMessage(&Message{ChannelID: ch.ID, LogTime: uint64(i)}))
	}
	require.Equal(t, uint64(5), w.Statistics.MessageCount)
	require.Equal(t, uint64(0), w.Statistics.MessageStartTime)
	require.Equal(t, uint64(4), w.Statistics.MessageEndTime)
	require.NoError(t, w.Close())
}

func TestWriterTerminateBlocksFurtherWrites(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Terminate())
	err = w.WriteHeader(&Header{})
	require.ErrorIs(t, err, ErrWriterTerminal)
}

func TestWriterCloseIsTerminal(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	err = w.AddSchema(&Schema{Name: "late"})
	require.ErrorIs(t, err, ErrWriterTerminal)
}

func TestWriterRotatePreservesSchemaAndChannelIDs(t *testing.T) {
	var firstSink, secondSink bytes.Buffer
	w, err := NewWriter(&firstSink, &Header{}, nil)
	require.NoError(t, err)

	schema := &Schema{Name: "shared"}
	require.NoError(t, w.AddSchema(schema))
	channel := &Channel{SchemaID: schema.ID, Topic: "/shared"}
	require.NoError(t, w.AddChannel(channel))
	require.NoError(t, w.WriteMessage(&Message{ChannelID: channel.ID, LogTime: 1}))

	require.NoError(t, w.Rotate(&secondSink))
	require.NoError(t, w.WriteMessage(&Message{ChannelID: channel.ID, LogTime: 2}))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(secondSink.Bytes()))
	require.NoError(t, err)
	info, err := r.Info(NoFallbackScan)
	require.NoError(t, err)
	require.Contains(t, info.Channels, channel.ID)
	require.Equal(t, "/shared", info.Channels[channel.ID].Topic)
}

func TestWriterNoChunkingWritesMessagesDirectly(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{}, &WriterOptions{NoChunking: true})
	require.NoError(t, err)
	ch := &Channel{Topic: "/x"}
	require.NoError(t, w.AddChannel(ch))
	require.NoError(t, w.WriteMessage(&Message{ChannelID: ch.ID, LogTime: 1}))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	info, err := r.Info(NoFallbackScan)
	require.NoError(t, err)
	require.Empty(t, info.ChunkIndexes)
}

func TestWriterHeaderLibraryDefaulting(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &Header{Profile: "p"}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	header, err := r.Header()
	require.NoError(t, err)
	require.Contains(t, header.Library, "mcap go #")
}
