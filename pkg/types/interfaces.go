package types

import (
	"context"
	"io"
	"time"
)

// StreamReader is one independent cursor over a replayed stream.
type StreamReader interface {
	io.ReadCloser
	io.ByteReader

	// Skip advances up to n bytes and returns how many were skipped.
	Skip(n int64) (int64, error)
	// ReadContext is Read with a context bounding the wait for more data.
	ReadContext(ctx context.Context, p []byte) (int, error)
	// Offset is the logical position of the next byte.
	Offset() int64
}

// ReplayCache is the collaborator-facing view of a spill cache: a source
// supplied once, replayed by any number of readers.
type ReplayCache interface {
	NewReader(consuming bool) StreamReader
	Delete() int
	IsDeleted() bool
	IsAppending() bool
	AwaitCompletion(timeout time.Duration) bool
	Wait(ctx context.Context) error
	Stats() CacheStats
}

// MetricsCollector receives spill cache events
type MetricsCollector interface {
	RecordPartWritten(length, stored int64)
	RecordPartsDeleted(reason string, n int)
	ReaderOpened()
	ReaderClosed()
	RecordReaderBytes(n int)
	RecordError(operation string, err error)
	SetProducerRunning(running bool)
}
