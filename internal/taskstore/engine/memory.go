// Package engine provides reference StorageEngine implementations for
// taskstore.Manager: an in-memory engine for non-logged, non-persisted
// stores, and a file-backed engine for logged, persisted stores. Both
// are adapted from this codebase's append-only chunk managers
// (internal/chunk/memory and internal/chunk/file in the teacher
// codebase), trimmed to the restore/flush/stop lifecycle taskstore
// drives rather than the full chunk-rotation/indexing surface those
// managers originally supported.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"taskcore/internal/logging"
	"taskcore/internal/taskstore"
)

// Memory is a StorageEngine that holds its records purely in memory. It
// never persists anything to disk and is suitable for non-logged
// stores, matching the properties {isLoggedStore: false,
// isPersistedToDisk: false}.
type Memory struct {
	mu      sync.Mutex
	records [][]byte
	logger  *slog.Logger
}

// NewMemory creates an empty in-memory engine. logger may be nil.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{logger: logging.Default(logger).With("component", "engine", "type", "memory")}
}

// Restore drains it, appending every record's value to the in-memory
// record set.
func (m *Memory) Restore(it taskstore.RestoreIterator) error {
	ctx := context.Background()
	count := 0
	for {
		rec, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m.mu.Lock()
		m.records = append(m.records, rec.Value)
		m.mu.Unlock()
		count++
	}
	m.logger.Debug("restore complete", "records", count)
	return nil
}

// Flush is a no-op: there is nothing to persist for a memory engine.
func (m *Memory) Flush() error { return nil }

// Stop clears the in-memory record set.
func (m *Memory) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

// Records returns a copy of the currently held records, for tests and
// CLI inspection.
func (m *Memory) Records() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.records))
	copy(out, m.records)
	return out
}

var _ taskstore.StorageEngine = (*Memory)(nil)
