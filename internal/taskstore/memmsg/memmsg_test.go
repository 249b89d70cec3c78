package memmsg

import (
	"context"
	"errors"
	"testing"

	"taskcore/internal/taskstore"
)

func TestAppendAndConsumerIterator(t *testing.T) {
	sys := NewSystem()
	ssp := taskstore.SSP{System: "mem", Stream: "s", Partition: 0}
	sys.Append(ssp, []byte("a"))
	sys.Append(ssp, []byte("b"))

	c := NewConsumer(sys)
	if err := c.Register(ssp, taskstore.Offset{Value: "0"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	it := c.Iterator(ssp)
	var got [][]byte
	for {
		rec, ok, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec.Value)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestConsumerIteratorRespectsStartOffset(t *testing.T) {
	sys := NewSystem()
	ssp := taskstore.SSP{System: "mem", Stream: "s", Partition: 0}
	sys.Append(ssp, []byte("a"))
	sys.Append(ssp, []byte("b"))

	c := NewConsumer(sys)
	if err := c.Register(ssp, taskstore.Offset{Value: "1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	it := c.Iterator(ssp)
	rec, ok, err := it.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if string(rec.Value) != "b" {
		t.Errorf("got %q, want %q", rec.Value, "b")
	}
	_, ok, err = it.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatal("expected end of stream")
	}
}

func TestAdminValidateChangelogStreamPartitionMismatch(t *testing.T) {
	sys := NewSystem()
	admin := NewAdmin(sys, 2)
	stream := taskstore.ChangelogStream{System: "mem", Stream: "s"}
	err := admin.ValidateChangelogStream(context.Background(), stream, 3)
	if err == nil {
		t.Fatal("expected error for partition mismatch")
	}
	var partErr *taskstore.InvalidPartitioningError
	if !errors.As(err, &partErr) {
		t.Fatalf("expected InvalidPartitioningError, got %T: %v", err, err)
	}
}

func TestAdminGetSystemStreamMetadataEmptyChangelogIsNil(t *testing.T) {
	sys := NewSystem()
	admin := NewAdmin(sys, 1)
	stream := taskstore.ChangelogStream{System: "mem", Stream: "s"}
	meta, err := admin.GetSystemStreamMetadata(context.Background(), []taskstore.ChangelogStream{stream})
	if err != nil {
		t.Fatalf("GetSystemStreamMetadata: %v", err)
	}
	sm := meta[stream]
	if sm.OldestOffsets[0] != nil || sm.NewestOffsets[0] != nil {
		t.Fatal("expected nil offsets for an empty changelog")
	}
}

func TestAdminGetNewestOffset(t *testing.T) {
	sys := NewSystem()
	ssp := taskstore.SSP{System: "mem", Stream: "s", Partition: 0}
	sys.Append(ssp, []byte("a"))
	admin := NewAdmin(sys, 1)
	off, err := admin.GetNewestOffset(context.Background(), ssp, 3)
	if err != nil {
		t.Fatalf("GetNewestOffset: %v", err)
	}
	if off == nil || off.Value != "1" {
		t.Fatalf("got %v, want offset 1", off)
	}
}
