package mcap

import "container/heap"

// recordOffsetLess defines the total order used to break logTime ties
// during indexed iteration: primarily by ChunkOffset, the file offset of
// the enclosing chunk (zero for un-chunked records), then by ByteOffset,
// the record's offset within that chunk (or within the file for
// un-chunked records). This mirrors the comparison the
// original C++ reader's RecordOffset performs.
func recordOffsetLess(a, b RecordOffset) bool {
	if a.ChunkOffset != b.ChunkOffset {
		return a.ChunkOffset < b.ChunkOffset
	}
	return a.ByteOffset < b.ByteOffset
}

// jobKind distinguishes the two kinds of work an indexed reader schedules.
type jobKind int

const (
	jobDecompressChunk jobKind = iota
	jobReadMessage
)

// readJob is a tagged union standing in for the original implementation's
// ReadMessageJob/DecompressChunkJob variant: decompressing a chunk so its
// messages become available, or yielding one already-decoded message.
type readJob struct {
	kind jobKind

	// populated when kind == jobReadMessage
	timestamp uint64
	offset    RecordOffset
	chunkSlot int

	// populated when kind == jobDecompressChunk
	messageStartTime uint64
	messageEndTime   uint64
	chunkIndex       *ChunkIndex
}

// timeKey returns the timestamp used to order this job, honoring reverse's
// convention of ordering chunks by their end time rather than start time.
func (j *readJob) timeKey(reverse bool) uint64 {
	if j.kind == jobReadMessage {
		return j.timestamp
	}
	if reverse {
		return j.messageEndTime
	}
	return j.messageStartTime
}

// positionKey returns the RecordOffset used to break a timestamp tie: a
// message's own offset, or a chunk's start offset (forward) / the offset
// just past its message index records (reverse), matching the order in
// which un-decompressed chunks are encountered from each direction.
func (j *readJob) positionKey(reverse bool) RecordOffset {
	if j.kind == jobReadMessage {
		return j.offset
	}
	if reverse {
		return RecordOffset{ByteOffset: j.chunkIndex.ChunkStartOffset + j.chunkIndex.ChunkLength + j.chunkIndex.MessageIndexLength}
	}
	return RecordOffset{ByteOffset: j.chunkIndex.ChunkStartOffset}
}

// jobQueue is a container/heap-backed priority queue of readJobs, ordered
// ascending (forward) or descending (reverse) by (timeKey, positionKey).
type jobQueue struct {
	jobs    []*readJob
	reverse bool
}

func newJobQueue(reverse bool) *jobQueue {
	q := &jobQueue{reverse: reverse}
	heap.Init(q)
	return q
}

func (q *jobQueue) Len() int { return len(q.jobs) }

func (q *jobQueue) Less(i, j int) bool {
	a, b := q.jobs[i], q.jobs[j]
	at, bt := a.timeKey(q.reverse), b.timeKey(q.reverse)
	if at != bt {
		if q.reverse {
			return at > bt
		}
		return at < bt
	}
	ap, bp := a.positionKey(q.reverse), b.positionKey(q.reverse)
	if q.reverse {
		return recordOffsetLess(bp, ap)
	}
	return recordOffsetLess(ap, bp)
}

func (q *jobQueue) Swap(i, j int) { q.jobs[i], q.jobs[j] = q.jobs[j], q.jobs[i] }

func (q *jobQueue) Push(x interface{}) { q.jobs = append(q.jobs, x.(*readJob)) }

func (q *jobQueue) Pop() interface{} {
	old := q.jobs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.jobs = old[:n-1]
	return item
}

func (q *jobQueue) pushChunk(ci *ChunkIndex) {
	heap.Push(q, &readJob{
		kind:             jobDecompressChunk,
		messageStartTime: ci.MessageStartTime,
		messageEndTime:   ci.MessageEndTime,
		chunkIndex:       ci,
	})
}

func (q *jobQueue) pushMessage(timestamp uint64, offset RecordOffset, chunkSlot int) {
	heap.Push(q, &readJob{
		kind:      jobReadMessage,
		timestamp: timestamp,
		offset:    offset,
		chunkSlot: chunkSlot,
	})
}

func (q *jobQueue) pop() *readJob {
	return heap.Pop(q).(*readJob)
}
