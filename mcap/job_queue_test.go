package mcap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobQueueForwardOrdersByTimestamp(t *testing.T) {
	q := newJobQueue(false)
	q.pushMessage(30, RecordOffset{ByteOffset: 3}, 0)
	q.pushMessage(10, RecordOffset{ByteOffset: 1}, 0)
	q.pushMessage(20, RecordOffset{ByteOffset: 2}, 0)

	var order []uint64
	for q.Len() > 0 {
		order = append(order, q.pop().timestamp)
	}
	require.Equal(t, []uint64{10, 20, 30}, order)
}

func TestJobQueueReverseOrdersByTimestampDescending(t *testing.T) {
	q := newJobQueue(true)
	q.pushMessage(10, RecordOffset{ByteOffset: 1}, 0)
	q.pushMessage(30, RecordOffset{ByteOffset: 3}, 0)
	q.pushMessage(20, RecordOffset{ByteOffset: 2}, 0)

	var order []uint64
	for q.Len() > 0 {
		order = append(order, q.pop().timestamp)
	}
	require.Equal(t, []uint64{30, 20, 10}, order)
}

func TestJobQueueBreaksTimestampTiesByPosition(t *testing.T) {
	q := newJobQueue(false)
	q.pushMessage(10, RecordOffset{ChunkOffset: 0, ByteOffset: 50}, 0)
	q.pushMessage(10, RecordOffset{ChunkOffset: 0, ByteOffset: 5}, 0)

	first := q.pop()
	second := q.pop()
	require.Equal(t, uint64(5), first.offset.ByteOffset)
	require.Equal(t, uint64(50), second.offset.ByteOffset)
}

func TestJobQueueDecompressChunkUsesStartTimeForward(t *testing.T) {
	q := newJobQueue(false)
	q.pushChunk(&ChunkIndex{MessageStartTime: 100, MessageEndTime: 200, ChunkStartOffset: 10})
	q.pushMessage(150, RecordOffset{ByteOffset: 5}, 0)

	job := q.pop()
	require.Equal(t, jobDecompressChunk, job.kind)

	next := q.pop()
	require.Equal(t, jobReadMessage, next.kind)
	require.Equal(t, uint64(150), next.timestamp)
}

func TestJobQueueDecompressChunkUsesEndTimeReverse(t *testing.T) {
	q := newJobQueue(true)
	q.pushChunk(&ChunkIndex{MessageStartTime: 100, MessageEndTime: 200, ChunkStartOffset: 10})
	q.pushMessage(150, RecordOffset{ByteOffset: 5}, 0)

	job := q.pop()
	require.Equal(t, jobDecompressChunk, job.kind)

	next := q.pop()
	require.Equal(t, jobReadMessage, next.kind)
	require.Equal(t, uint64(150), next.timestamp)
}

func TestJobQueueMixedChunksAndMessagesForward(t *testing.T) {
	q := newJobQueue(false)
	q.pushChunk(&ChunkIndex{MessageStartTime: 50, MessageEndTime: 90, ChunkStartOffset: 1000})
	q.pushMessage(10, RecordOffset{ByteOffset: 5}, 0)
	q.pushMessage(70, RecordOffset{ByteOffset: 6}, 1)

	job := q.pop()
	require.Equal(t, jobReadMessage, job.kind)
	require.Equal(t, uint64(10), job.timestamp)

	job = q.pop()
	require.Equal(t, jobDecompressChunk, job.kind)

	job = q.pop()
	require.Equal(t, jobReadMessage, job.kind)
	require.Equal(t, uint64(70), job.timestamp)
}

func TestRecordOffsetLess(t *testing.T) {
	require.True(t, recordOffsetLess(
		RecordOffset{ChunkOffset: 1, ByteOffset: 100},
		RecordOffset{ChunkOffset: 2, ByteOffset: 0},
	))
	require.True(t, recordOffsetLess(
		RecordOffset{ChunkOffset: 1, ByteOffset: 5},
		RecordOffset{ChunkOffset: 1, ByteOffset: 10},
	))
	require.False(t, recordOffsetLess(
		RecordOffset{ChunkOffset: 1, ByteOffset: 10},
		RecordOffset{ChunkOffset: 1, ByteOffset: 10},
	))
}

func TestJobQueueEmptyPopPanics(t *testing.T) {
	q := newJobQueue(false)
	require.Equal(t, 0, q.Len())
	require.Panics(t, func() {
		q.pop()
	})
}
