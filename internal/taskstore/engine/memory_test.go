package engine

import (
	"context"
	"testing"

	"taskcore/internal/taskstore"
)

type fakeIterator struct {
	values [][]byte
	pos    int
}

func (it *fakeIterator) Next(_ context.Context) (taskstore.Record, bool, error) {
	if it.pos >= len(it.values) {
		return taskstore.Record{}, false, nil
	}
	v := it.values[it.pos]
	it.pos++
	return taskstore.Record{Value: v}, true, nil
}

func TestMemoryRestoreAppendsAllRecords(t *testing.T) {
	m := NewMemory(nil)
	it := &fakeIterator{values: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	if err := m.Restore(it); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	recs := m.Records()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if string(recs[1]) != "b" {
		t.Errorf("got %q, want %q", recs[1], "b")
	}
}

func TestMemoryStopClearsRecords(t *testing.T) {
	m := NewMemory(nil)
	_ = m.Restore(&fakeIterator{values: [][]byte{[]byte("a")}})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(m.Records()) != 0 {
		t.Fatal("expected records cleared after Stop")
	}
}

func TestMemoryFlushIsNoop(t *testing.T) {
	m := NewMemory(nil)
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestMemoryRecordsReturnsCopy(t *testing.T) {
	m := NewMemory(nil)
	_ = m.Restore(&fakeIterator{values: [][]byte{[]byte("a")}})
	recs := m.Records()
	recs[0] = []byte("mutated")
	if string(m.Records()[0]) != "a" {
		t.Fatal("Records() should return a copy, not the internal slice")
	}
}
