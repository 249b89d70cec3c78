// Package memmsg implements taskstore's SystemAdmin and Consumer
// interfaces purely in memory, for deterministic tests and the CLI's
// offline demo mode. It mirrors this codebase's chunk/memory package in
// spirit: an append-only log guarded by a mutex, no goroutines started
// until asked.
package memmsg

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"taskcore/internal/taskstore"
)

// System is an in-memory changelog system. One System instance serves
// any number of streams; each stream is an independent append-only log
// keyed by (stream, partition).
type System struct {
	mu   sync.Mutex
	logs map[taskstore.SSP][]taskstore.Record
}

// NewSystem creates an empty in-memory changelog system.
func NewSystem() *System {
	return &System{logs: map[taskstore.SSP][]taskstore.Record{}}
}

// Append adds a record to ssp's log, returning its new offset.
func (s *System) Append(ssp taskstore.SSP, value []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := taskstore.Record{Value: value, SSP: ssp}
	s.logs[ssp] = append(s.logs[ssp], rec)
	return len(s.logs[ssp]) - 1
}

func (s *System) length(ssp taskstore.SSP) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[ssp])
}

func (s *System) recordAt(ssp taskstore.SSP, pos int) (taskstore.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.logs[ssp]
	if pos < 0 || pos >= len(recs) {
		return taskstore.Record{}, false
	}
	return recs[pos], true
}

// Admin is the SystemAdmin (and NewestOffsetAdmin) implementation for a
// System.
type Admin struct {
	sys        *System
	partitions int
}

// NewAdmin creates an Admin reporting partitions for every stream it is
// asked to validate; a single-partition in-memory system is standard
// for tests; pass the value configured as ChangeLogStreamPartitions.
func NewAdmin(sys *System, partitions int) *Admin {
	return &Admin{sys: sys, partitions: partitions}
}

func (a *Admin) ValidateChangelogStream(_ context.Context, stream taskstore.ChangelogStream, expected int) error {
	if a.partitions != expected {
		return &taskstore.InvalidPartitioningError{Stream: stream, Expected: expected, Actual: a.partitions}
	}
	return nil
}

func (a *Admin) GetSystemStreamMetadata(_ context.Context, streams []taskstore.ChangelogStream) (map[taskstore.ChangelogStream]taskstore.StreamMetadata, error) {
	out := make(map[taskstore.ChangelogStream]taskstore.StreamMetadata, len(streams))
	for _, s := range streams {
		meta := taskstore.StreamMetadata{
			Partitions:    a.partitions,
			OldestOffsets: map[taskstore.Partition]*taskstore.Offset{},
			NewestOffsets: map[taskstore.Partition]*taskstore.Offset{},
		}
		for p := 0; p < a.partitions; p++ {
			part := taskstore.Partition(p)
			ssp := taskstore.SSP{System: s.System, Stream: s.Stream, Partition: part}
			n := a.sys.length(ssp)
			if n == 0 {
				meta.OldestOffsets[part] = nil
				meta.NewestOffsets[part] = nil
				continue
			}
			meta.OldestOffsets[part] = &taskstore.Offset{Value: "0"}
			meta.NewestOffsets[part] = &taskstore.Offset{Value: strconv.Itoa(n)}
		}
		out[s] = meta
	}
	return out, nil
}

// GetNewestOffset implements taskstore.NewestOffsetAdmin.
func (a *Admin) GetNewestOffset(_ context.Context, ssp taskstore.SSP, _ int) (*taskstore.Offset, error) {
	n := a.sys.length(ssp)
	if n == 0 {
		return nil, nil
	}
	return &taskstore.Offset{Value: strconv.Itoa(n)}, nil
}

// Consumer is the in-memory Consumer implementation for a System.
type Consumer struct {
	sys *System

	mu    sync.Mutex
	regs  map[taskstore.SSP]int
	order []taskstore.SSP
}

// NewConsumer creates a Consumer bound to sys.
func NewConsumer(sys *System) *Consumer {
	return &Consumer{sys: sys, regs: map[taskstore.SSP]int{}}
}

func (c *Consumer) Register(ssp taskstore.SSP, offset taskstore.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, err := strconv.Atoi(offset.Value)
	if err != nil {
		return err
	}
	c.regs[ssp] = start
	c.order = append(c.order, ssp)
	sort.Slice(c.order, func(i, j int) bool { return c.order[i].String() < c.order[j].String() })
	return nil
}

func (c *Consumer) Start(_ context.Context) error { return nil }
func (c *Consumer) Stop() error                   { return nil }

func (c *Consumer) Iterator(ssp taskstore.SSP) taskstore.RestoreIterator {
	c.mu.Lock()
	start := c.regs[ssp]
	c.mu.Unlock()
	watermark := c.sys.length(ssp)
	return &iterator{sys: c.sys, ssp: ssp, pos: start, watermark: watermark}
}

// iterator is a non-blocking restoration iterator: the in-memory system
// never grows concurrently with a restore in these tests, so "end" is
// simply "reached the watermark observed when restoration began".
type iterator struct {
	sys       *System
	ssp       taskstore.SSP
	pos       int
	watermark int
}

func (it *iterator) Next(_ context.Context) (taskstore.Record, bool, error) {
	if it.pos >= it.watermark {
		return taskstore.Record{}, false, nil
	}
	rec, ok := it.sys.recordAt(it.ssp, it.pos)
	if !ok {
		return taskstore.Record{}, false, nil
	}
	it.pos++
	return rec, true, nil
}
