// Package kafka implements taskstore's SystemAdmin, NewestOffsetAdmin,
// and Consumer interfaces on top of github.com/twmb/franz-go, the same
// Kafka client this codebase's internal/ingester/kafka package uses for
// topic consumption. Unlike that ingester, which consumes via a
// consumer group, this package assigns exact partitions and offsets the
// Manager computed (kgo.ConsumePartitions), since restoration must
// start at a precise, previously-resolved offset rather than wherever a
// group's last commit happened to land.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"taskcore/internal/logging"
	"taskcore/internal/taskstore"
)

// Admin implements taskstore.SystemAdmin and taskstore.NewestOffsetAdmin
// against a live Kafka cluster via kadm.
type Admin struct {
	client *kadm.Client
	logger *slog.Logger
}

// NewAdmin creates an Admin over cl. The caller owns cl's lifecycle.
func NewAdmin(cl *kgo.Client, logger *slog.Logger) *Admin {
	return &Admin{
		client: kadm.NewClient(cl),
		logger: logging.Default(logger).With("component", "taskstore-admin", "type", "kafka"),
	}
}

// ValidateChangelogStream asserts the topic's actual partition count
// equals expectedPartitions.
func (a *Admin) ValidateChangelogStream(ctx context.Context, stream taskstore.ChangelogStream, expectedPartitions int) error {
	topics, err := a.client.ListTopics(ctx, stream.Stream)
	if err != nil {
		return fmt.Errorf("list topic %s: %w", stream.Stream, err)
	}
	td, ok := topics[stream.Stream]
	if !ok {
		return fmt.Errorf("topic %s not found", stream.Stream)
	}
	if td.Err != nil {
		return fmt.Errorf("describe topic %s: %w", stream.Stream, td.Err)
	}
	actual := len(td.Partitions)
	if actual != expectedPartitions {
		return &taskstore.InvalidPartitioningError{Stream: stream, Expected: expectedPartitions, Actual: actual}
	}
	return nil
}

// GetSystemStreamMetadata gathers oldest/newest offsets for every
// partition of every named stream in one batch.
func (a *Admin) GetSystemStreamMetadata(ctx context.Context, streams []taskstore.ChangelogStream) (map[taskstore.ChangelogStream]taskstore.StreamMetadata, error) {
	topicNames := make([]string, len(streams))
	for i, s := range streams {
		topicNames[i] = s.Stream
	}

	topics, err := a.client.ListTopics(ctx, topicNames...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	start, err := a.client.ListStartOffsets(ctx, topicNames...)
	if err != nil {
		return nil, fmt.Errorf("list start offsets: %w", err)
	}
	end, err := a.client.ListEndOffsets(ctx, topicNames...)
	if err != nil {
		return nil, fmt.Errorf("list end offsets: %w", err)
	}

	out := make(map[taskstore.ChangelogStream]taskstore.StreamMetadata, len(streams))
	for _, s := range streams {
		td := topics[s.Stream]
		meta := taskstore.StreamMetadata{
			Partitions:    len(td.Partitions),
			OldestOffsets: map[taskstore.Partition]*taskstore.Offset{},
			NewestOffsets: map[taskstore.Partition]*taskstore.Offset{},
		}
		for p := range td.Partitions {
			part := taskstore.Partition(p)
			if so, ok := start.Lookup(s.Stream, int32(p)); ok && so.Err == nil {
				meta.OldestOffsets[part] = offsetOrNil(so.Offset)
			}
			if eo, ok := end.Lookup(s.Stream, int32(p)); ok && eo.Err == nil {
				meta.NewestOffsets[part] = offsetOrNil(eo.Offset)
			}
		}
		out[s] = meta
	}
	return out, nil
}

// GetNewestOffset implements taskstore.NewestOffsetAdmin, retrying the
// single-partition ListEndOffsets call up to retries times.
func (a *Admin) GetNewestOffset(ctx context.Context, ssp taskstore.SSP, retries int) (*taskstore.Offset, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		end, err := a.client.ListEndOffsets(ctx, ssp.Stream)
		if err != nil {
			lastErr = err
			continue
		}
		eo, ok := end.Lookup(ssp.Stream, int32(ssp.Partition))
		if !ok || eo.Err != nil {
			if eo.Err != nil {
				lastErr = eo.Err
			} else {
				lastErr = fmt.Errorf("no end offset reported for %s", ssp)
			}
			continue
		}
		return offsetOrNil(eo.Offset), nil
	}
	return nil, fmt.Errorf("get newest offset for %s after %d attempts: %w", ssp, retries+1, lastErr)
}

// offsetOrNil maps Kafka's "offset -1 means no records" convention onto
// taskstore's nil-means-empty-changelog Offset.
func offsetOrNil(raw int64) *taskstore.Offset {
	if raw < 0 {
		return nil
	}
	return &taskstore.Offset{Value: fmt.Sprintf("%d", raw)}
}
