package taskstore

import (
	"context"
	"strconv"
	"testing"

	"taskcore/internal/taskstore/engine"
	"taskcore/internal/taskstore/memmsg"
)

// noNewestOffsetAdmin forwards only the two SystemAdmin methods of a
// wrapped memmsg.Admin, deliberately not promoting GetNewestOffset, so a
// type assertion to NewestOffsetAdmin fails and checkpointStore falls
// back to the GetSystemStreamMetadata path (SPEC_FULL.md §4.5).
type noNewestOffsetAdmin struct {
	admin *memmsg.Admin
}

func (a *noNewestOffsetAdmin) GetSystemStreamMetadata(ctx context.Context, streams []ChangelogStream) (map[ChangelogStream]StreamMetadata, error) {
	return a.admin.GetSystemStreamMetadata(ctx, streams)
}

func (a *noNewestOffsetAdmin) ValidateChangelogStream(ctx context.Context, stream ChangelogStream, expected int) error {
	return a.admin.ValidateChangelogStream(ctx, stream, expected)
}

func TestCheckpointMonotonicityAcrossSuccessiveFlushes(t *testing.T) {
	sys := memmsg.NewSystem()
	ssp := SSP{System: testSystem, Stream: "store1-changelog", Partition: 0}

	cfg := newTestConfig(t, sys, 1)
	mem := engine.NewMemory(nil)
	desc := loggedDesc("store1", mem)
	mgr, err := NewManager("task1", 0, cfg, []StoreDescriptor{desc})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	dir := LoggedPartitionDir(cfg.LoggedStoreBaseDir, "store1", "task1")

	var last int
	for i := 0; i < 3; i++ {
		sys.Append(ssp, []byte("rec"))
		if err := mgr.Flush(context.Background()); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
		got, ok, err := readOffsetFile(dir)
		if err != nil || !ok {
			t.Fatalf("readOffsetFile after flush %d: ok=%v err=%v", i, ok, err)
		}
		n, err := strconv.Atoi(got)
		if err != nil {
			t.Fatalf("parse offset %q: %v", got, err)
		}
		if n < last {
			t.Fatalf("checkpoint offset decreased: %d -> %d", last, n)
		}
		last = n
	}
	if last != 3 {
		t.Errorf("expected final offset 3, got %d", last)
	}
}

func TestCheckpointFallsBackToMetadataWithoutNewestOffsetAdmin(t *testing.T) {
	sys := memmsg.NewSystem()
	ssp := SSP{System: testSystem, Stream: "store1-changelog", Partition: 0}
	sys.Append(ssp, []byte("rec0"))

	cfg := newTestConfig(t, sys, 1)
	cfg.Admins[testSystem] = &noNewestOffsetAdmin{admin: memmsg.NewAdmin(sys, 1)}

	mem := engine.NewMemory(nil)
	desc := loggedDesc("store1", mem)
	mgr, err := NewManager("task1", 0, cfg, []StoreDescriptor{desc})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := mgr.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dir := LoggedPartitionDir(cfg.LoggedStoreBaseDir, "store1", "task1")
	got, ok, err := readOffsetFile(dir)
	if err != nil || !ok {
		t.Fatalf("readOffsetFile: ok=%v err=%v", ok, err)
	}
	if got != "1" {
		t.Errorf("got offset %q, want %q", got, "1")
	}
}

func TestCheckpointDeletesOffsetFileWhenChangelogEmpty(t *testing.T) {
	sys := memmsg.NewSystem()
	cfg := newTestConfig(t, sys, 1)
	mem := engine.NewMemory(nil)
	desc := loggedDesc("store1", mem)
	mgr, err := NewManager("task1", 0, cfg, []StoreDescriptor{desc})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	dir := LoggedPartitionDir(cfg.LoggedStoreBaseDir, "store1", "task1")
	if err := writeOffsetFile(dir, "0"); err != nil {
		t.Fatalf("seed offset file: %v", err)
	}

	if err := mgr.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, ok, err := readOffsetFile(dir); err != nil || ok {
		t.Fatalf("expected OFFSET file removed for empty changelog: ok=%v err=%v", ok, err)
	}
}
