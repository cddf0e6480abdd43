package mcap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/foxglove/mcap-sub000/mcap/slicemap"
)

// chunkSlot holds one chunk's decompressed bytes for as long as any
// jobReadMessage still references it. Slots are recycled once empty so a
// file with many chunks doesn't hold all of them decompressed at once.
type chunkSlot struct {
	buf            []byte
	unreadMessages int
}

// timeOrderedIterator yields messages in LogTimeOrder or ReverseLogTimeOrder
// by driving job_queue.go's priority queue of chunk-decompress and
// message-read jobs against a seekable source and a previously parsed Info.
type timeOrderedIterator struct {
	rs       io.ReadSeeker
	channels []*Channel
	schemas  []*Schema
	start    uint64
	end      uint64

	queue         *jobQueue
	slots         []*chunkSlot
	decompressors decompressorSet
	compressedBuf []byte
	validateCRC   bool

	problemCallback ProblemCallback
}

func newTimeOrderedIterator(rs io.ReadSeeker, info *Info, opts *ReadOptions) *timeOrderedIterator {
	end := opts.EndNanos
	if end == 0 {
		end = ^uint64(0)
	}
	var topics map[string]bool
	if len(opts.Topics) > 0 {
		topics = make(map[string]bool, len(opts.Topics))
		for _, t := range opts.Topics {
			topics[t] = true
		}
	}
	var channels []*Channel
	var schemas []*Schema
	for id, s := range info.Schemas {
		schemas = slicemap.SetAt(schemas, id, s)
	}
	for id, c := range info.Channels {
		if topics == nil || topics[c.Topic] {
			channels = slicemap.SetAt(channels, id, c)
		}
	}
	it := &timeOrderedIterator{
		rs:              rs,
		channels:        channels,
		schemas:         schemas,
		start:           opts.StartNanos,
		end:             end,
		queue:           newJobQueue(opts.Order == ReverseLogTimeOrder),
		validateCRC:     true,
		problemCallback: opts.ProblemCallback,
	}
	hasTimeFilter := it.start != 0 || it.end != ^uint64(0)
	for _, ci := range info.ChunkIndexes {
		if hasTimeFilter && (ci.MessageEndTime < it.start || ci.MessageStartTime >= it.end) {
			continue
		}
		if len(ci.MessageIndexOffsets) > 0 {
			selected := false
			for channelID := range ci.MessageIndexOffsets {
				if slicemap.GetAt(channels, channelID) != nil {
					selected = true
					break
				}
			}
			if !selected {
				continue
			}
		}
		it.queue.pushChunk(ci)
	}
	return it
}

func (it *timeOrderedIterator) recoverable(err error) bool {
	if it.problemCallback == nil {
		return false
	}
	return it.problemCallback(err)
}

func (it *timeOrderedIterator) allocSlot() int {
	for i, slot := range it.slots {
		if slot.unreadMessages == 0 {
			return i
		}
	}
	it.slots = append(it.slots, &chunkSlot{})
	return len(it.slots) - 1
}

// indexChunk scans a freshly decompressed chunk sequentially, pushing a
// jobReadMessage for every message that falls within the selected channels
// and time bounds. Per-channel MessageIndex records are not consulted:
// chunks are small enough that a sequential scan is cheap, and this avoids
// a second, independent offset-tracking scheme from drifting out of sync
// with the chunk's actual contents.
func (it *timeOrderedIterator) indexChunk(slotIdx int, ci *ChunkIndex) error {
	buf := it.slots[slotIdx].buf
	for offset := 0; offset < len(buf); {
		if len(buf)-offset < 9 {
			return fmt.Errorf("truncated record header in chunk at offset %d", ci.ChunkStartOffset)
		}
		op := OpCode(buf[offset])
		recordLen := binary.LittleEndian.Uint64(buf[offset+1 : offset+9])
		start := offset + 9
		end := start + int(recordLen)
		if end > len(buf) {
			return fmt.Errorf("%s record in chunk exceeds chunk bounds", op)
		}
		if op == OpMessage {
			msg, err := ParseMessage(buf[start:end])
			if err != nil {
				return newInvalidRecordError(OpMessage, err)
			}
			if slicemap.GetAt(it.channels, msg.ChannelID) != nil && msg.LogTime >= it.start && msg.LogTime < it.end {
				it.queue.pushMessage(msg.LogTime, RecordOffset{
					ChunkOffset: ci.ChunkStartOffset,
					ByteOffset:  uint64(offset),
					InChunk:     true,
				}, slotIdx)
				it.slots[slotIdx].unreadMessages++
			}
		}
		offset = end
	}
	return nil
}

func (it *timeOrderedIterator) Next(msg *Message) (*Schema, *Channel, *Message, error) {
	if msg == nil {
		msg = &Message{}
	}
	for {
		if it.queue.Len() == 0 {
			return nil, nil, nil, io.EOF
		}
		job := it.queue.pop()
		switch job.kind {
		case jobDecompressChunk:
			slotIdx := it.allocSlot()
			buf, err := loadChunkAt(it.rs, job.chunkIndex, &it.decompressors, it.validateCRC, &it.compressedBuf, it.slots[slotIdx].buf)
			if err != nil {
				if it.recoverable(err) {
					continue
				}
				return nil, nil, nil, err
			}
			it.slots[slotIdx].buf = buf
			if err := it.indexChunk(slotIdx, job.chunkIndex); err != nil {
				if it.recoverable(err) {
					continue
				}
				return nil, nil, nil, err
			}
		case jobReadMessage:
			slot := it.slots[job.chunkSlot]
			buf := slot.buf
			offset := int(job.offset.ByteOffset)
			recordLen := binary.LittleEndian.Uint64(buf[offset+1 : offset+9])
			body := buf[offset+9 : offset+9+int(recordLen)]
			if err := msg.PopulateFrom(body, true); err != nil {
				return nil, nil, nil, err
			}
			slot.unreadMessages--
			channel := slicemap.GetAt(it.channels, msg.ChannelID)
			if channel == nil {
				continue
			}
			schema := slicemap.GetAt(it.schemas, channel.SchemaID)
			if schema == nil && channel.SchemaID != 0 {
				err := fmt.Errorf("channel %d references unrecognized schema %d", msg.ChannelID, channel.SchemaID)
				if it.recoverable(err) {
					continue
				}
				return nil, nil, nil, err
			}
			return schema, channel, msg, nil
		}
	}
}
