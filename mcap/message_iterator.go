package mcap

import (
	"fmt"

	"github.com/foxglove/mcap-sub000/mcap/slicemap"
)

// MessageIterator yields messages along with the Schema and Channel that
// describe them, in whatever order a particular implementation promises.
type MessageIterator interface {
	// Next populates and returns msg (allocating one if msg is nil) with the
	// next message, along with its channel and schema (schema is nil if the
	// channel has no associated schema). It returns io.EOF once exhausted.
	Next(msg *Message) (*Schema, *Channel, *Message, error)
}

// fileOrderIterator yields messages in file order by scanning the lexer
// forward, transparently de-chunking Chunk records as it goes. It never
// seeks, so it works on non-seekable input and files with no summary
// section.
type fileOrderIterator struct {
	lexer    *Lexer
	schemas  []*Schema
	channels []*Channel
	topics   map[string]bool
	start    uint64
	end      uint64

	recordBuf []byte

	metadataCallback func(*Metadata) error
	problemCallback  ProblemCallback
}

func newFileOrderIterator(lexer *Lexer, opts *ReadOptions) *fileOrderIterator {
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
	return &fileOrderIterator{
		lexer:            lexer,
		topics:           topics,
		start:            opts.StartNanos,
		end:              end,
		metadataCallback: opts.MetadataCallback,
		problemCallback:  opts.ProblemCallback,
	}
}

func (it *fileOrderIterator) Next(msg *Message) (*Schema, *Channel, *Message, error) {
	if msg == nil {
		msg = &Message{}
	}
	for {
		tokenType, r, recordLen, err := it.lexer.Next()
		if err != nil {
			return nil, nil, nil, err
		}
		switch tokenType {
		case TokenSchema:
			record, err := readIntoBuf(r, recordLen, &it.recordBuf)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read schema: %w", err)
			}
			schema, err := ParseSchema(record)
			if err != nil {
				if it.recoverable(err) {
					continue
				}
				return nil, nil, nil, err
			}
			it.schemas = slicemap.SetAt(it.schemas, schema.ID, schema)
		case TokenChannel:
			record, err := readIntoBuf(r, recordLen, &it.recordBuf)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read channel: %w", err)
			}
			channel, err := ParseChannel(record)
			if err != nil {
				if it.recoverable(err) {
					continue
				}
				return nil, nil, nil, err
			}
			if it.topics == nil || it.topics[channel.Topic] {
				it.channels = slicemap.SetAt(it.channels, channel.ID, channel)
			}
		case TokenMessage:
			record, err := readIntoBuf(r, recordLen, &it.recordBuf)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read message: %w", err)
			}
			if err := msg.PopulateFrom(record, true); err != nil {
				return nil, nil, nil, err
			}
			channel := slicemap.GetAt(it.channels, msg.ChannelID)
			if channel == nil {
				// A linear reader that has not yet seen this message's
				// channel record has no way to know if it's wanted, so it
				// must be skipped.
				continue
			}
			if msg.LogTime < it.start || msg.LogTime >= it.end {
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
		case TokenMetadata:
			if it.metadataCallback != nil {
				record, err := readIntoBuf(r, recordLen, &it.recordBuf)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("failed to read metadata: %w", err)
				}
				metadata, err := ParseMetadata(record)
				if err != nil {
					return nil, nil, nil, err
				}
				if err := it.metadataCallback(metadata); err != nil {
					return nil, nil, nil, err
				}
			}
		case TokenChunkEnd, TokenHeader, TokenFooter, TokenDataEnd:
			// no-ops for a file-order scan
		default:
			// skip all other tokens (attachment, indexes, statistics, ...)
		}
	}
}

// recoverable reports whether err should be swallowed (continuing the scan)
// per the registered ProblemCallback, defaulting to fatal when none is set.
func (it *fileOrderIterator) recoverable(err error) bool {
	if it.problemCallback == nil {
		return false
	}
	return it.problemCallback(err)
}
