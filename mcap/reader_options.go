package mcap

import "fmt"

// ReadOrder selects the sequence in which a MessageIterator yields messages.
type ReadOrder int

const (
	// FileOrder yields records in the order they appear in the file. Valid
	// with or without an index.
	FileOrder ReadOrder = iota
	// LogTimeOrder yields messages in ascending log time, breaking ties by
	// position in the file. Requires an index.
	LogTimeOrder
	// ReverseLogTimeOrder yields messages in descending log time, breaking
	// ties by reverse position in the file. Requires an index.
	ReverseLogTimeOrder
)

func (o ReadOrder) String() string {
	switch o {
	case FileOrder:
		return "FileOrder"
	case LogTimeOrder:
		return "LogTimeOrder"
	case ReverseLogTimeOrder:
		return "ReverseLogTimeOrder"
	default:
		return "unknown"
	}
}

// ProblemCallback is invoked when a MessageIterator encounters a recoverable
// error - a corrupt chunk, a CRC mismatch, a channel whose schema is
// unknown - and lets callers decide whether iteration should continue.
// Returning false aborts iteration, surfacing err from the call to Next
// that encountered it.
type ProblemCallback func(err error) (shouldContinue bool)

// ReadOptions configures a MessageIterator.
type ReadOptions struct {
	Topics   []string
	UseIndex bool
	Order    ReadOrder

	StartNanos uint64
	EndNanos   uint64

	MetadataCallback func(*Metadata) error
	ProblemCallback  ProblemCallback
}

// ReadOpt configures a ReadOptions.
type ReadOpt func(*ReadOptions) error

// AfterNanos limits messages yielded by the reader to those with log times at
// or after this timestamp.
func AfterNanos(start uint64) ReadOpt {
	return func(ro *ReadOptions) error {
		if ro.EndNanos != 0 && ro.EndNanos < start {
			return fmt.Errorf("end cannot come before start")
		}
		ro.StartNanos = start
		return nil
	}
}

// BeforeNanos limits messages yielded by the reader to those with log times
// before this timestamp.
func BeforeNanos(end uint64) ReadOpt {
	return func(ro *ReadOptions) error {
		if end < ro.StartNanos {
			return fmt.Errorf("end cannot come before start")
		}
		ro.EndNanos = end
		return nil
	}
}

// WithTopics restricts the iterator to messages on channels with one of the
// given topics. An empty list disables filtering.
func WithTopics(topics []string) ReadOpt {
	return func(ro *ReadOptions) error {
		ro.Topics = topics
		return nil
	}
}

// InOrder sets the order in which messages are yielded.
func InOrder(order ReadOrder) ReadOpt {
	return func(ro *ReadOptions) error {
		if !ro.UseIndex && order != FileOrder {
			return fmt.Errorf("only file-order reads are supported when not using index")
		}
		ro.Order = order
		return nil
	}
}

// UsingIndex controls whether the iterator seeks to the summary section and
// uses the chunk/message indexes there, or scans the file linearly.
func UsingIndex(useIndex bool) ReadOpt {
	return func(ro *ReadOptions) error {
		if ro.Order != FileOrder && !useIndex {
			return fmt.Errorf("only file-order reads are supported when not using index")
		}
		ro.UseIndex = useIndex
		return nil
	}
}

// WithMetadataCallback registers a callback invoked with each Metadata record
// encountered while iterating.
func WithMetadataCallback(callback func(*Metadata) error) ReadOpt {
	return func(ro *ReadOptions) error {
		ro.MetadataCallback = callback
		return nil
	}
}

// WithProblemCallback registers a callback invoked on recoverable errors
// during iteration, letting the caller decide whether to continue.
func WithProblemCallback(callback ProblemCallback) ReadOpt {
	return func(ro *ReadOptions) error {
		ro.ProblemCallback = callback
		return nil
	}
}
