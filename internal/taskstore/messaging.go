package taskstore

import "context"

// StreamMetadata describes one changelog stream as reported by a
// SystemAdmin: its partition count and, for each partition present in
// the response, the oldest retained offset.
type StreamMetadata struct {
	Partitions int

	// OldestOffsets maps partition -> oldest retained offset. A
	// partition absent from this map has no metadata available and is
	// dropped from changelogOldestOffsets rather than defaulted.
	OldestOffsets map[Partition]*Offset

	// NewestOffsets maps partition -> newest offset, consulted by the
	// checkpointer's metadata-fallback path when no NewestOffsetAdmin
	// capability is available.
	NewestOffsets map[Partition]*Offset
}

// SystemAdmin is the system-admin collaborator for one message system
// (identified by SSP.System). The manager treats it as opaque beyond
// this contract.
type SystemAdmin interface {
	// ValidateChangelogStream asserts that stream's actual partition
	// count equals expectedPartitions. Returns InvalidPartitioningError
	// on divergence.
	ValidateChangelogStream(ctx context.Context, stream ChangelogStream, expectedPartitions int) error

	// GetSystemStreamMetadata gathers metadata for all named streams in
	// one batch call.
	GetSystemStreamMetadata(ctx context.Context, streams []ChangelogStream) (map[ChangelogStream]StreamMetadata, error)
}

// NewestOffsetAdmin is an optional capability of a SystemAdmin: a
// single-SSP newest-offset lookup, preferred by the checkpointer over
// the GetSystemStreamMetadata fallback when available (SPEC_FULL.md §4.5).
type NewestOffsetAdmin interface {
	// GetNewestOffset returns the newest offset for ssp, retrying up to
	// retries times on transient failure.
	GetNewestOffset(ctx context.Context, ssp SSP, retries int) (*Offset, error)
}

// Record is one changelog record, as delivered to a restoration iterator.
type Record struct {
	Key   []byte
	Value []byte
	SSP   SSP
}

// Consumer is the message-system collaborator that delivers changelog
// records to a RestoreIterator. One Consumer instance serves every SSP
// registered with it.
type Consumer interface {
	// Register assigns ssp to this consumer at the given starting
	// offset. offset is never nil: callers must resolve a concrete
	// starting point (oldest, or a saved checkpoint) before calling.
	Register(ssp SSP, offset Offset) error

	// Start begins delivering records for all registered SSPs.
	Start(ctx context.Context) error

	// Stop halts delivery and releases resources. The consumer must not
	// be reused afterward.
	Stop() error

	// Iterator returns the RestoreIterator for ssp. Register must have
	// been called for ssp first.
	Iterator(ssp SSP) RestoreIterator
}

// RestoreIterator is a lazy, finite, non-restartable pull sequence over
// changelog records for one SSP, sourced from a running Consumer. Next
// blocks when no record is currently available and returns (Record{},
// false, nil) once the consumer's catch-up watermark reaches the latest
// offset known when restoration began. It is single-consumer: exactly
// one goroutine may call Next at a time, matching the task thread that
// drives StorageEngine.Restore.
type RestoreIterator interface {
	Next(ctx context.Context) (Record, bool, error)
}
