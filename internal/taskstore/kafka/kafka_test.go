package kafka

import (
	"context"
	"testing"
	"time"

	"taskcore/internal/taskstore"
)

func TestOffsetOrNil(t *testing.T) {
	if got := offsetOrNil(-1); got != nil {
		t.Errorf("expected nil for -1, got %v", got)
	}
	got := offsetOrNil(5)
	if got == nil || got.Value != "5" {
		t.Errorf("got %v, want offset 5", got)
	}
}

func TestBuildSASLMechanismSupportedKinds(t *testing.T) {
	for _, mech := range []string{"plain", "scram-sha-256", "scram-sha-512"} {
		cfg := &SASLConfig{Mechanism: mech, User: "u", Password: "p"}
		m, err := buildSASLMechanism(cfg)
		if err != nil {
			t.Fatalf("buildSASLMechanism(%s): %v", mech, err)
		}
		if m == nil {
			t.Fatalf("buildSASLMechanism(%s): expected non-nil mechanism", mech)
		}
	}
}

func TestBuildSASLMechanismUnsupported(t *testing.T) {
	_, err := buildSASLMechanism(&SASLConfig{Mechanism: "kerberos"})
	if err == nil {
		t.Fatal("expected error for unsupported mechanism")
	}
}

func TestConsumerRegisterRejectsUnparsableOffset(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}})
	ssp := taskstore.SSP{System: "kafka", Stream: "t", Partition: 0}
	err := c.Register(ssp, taskstore.Offset{Value: "not-a-number"})
	if err == nil {
		t.Fatal("expected error for unparsable offset")
	}
}

// TestConsumerRegisterPreservesSystemForPollLookup guards against the
// silent-drop bug where poll rebuilt an SSP from only the Kafka
// topic/partition, leaving System zero and never matching the buffer
// Register stored under the full SSP.
func TestConsumerRegisterPreservesSystemForPollLookup(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}})
	ssp := taskstore.SSP{System: "kafka", Stream: "orders-changelog", Partition: 3}
	if err := c.Register(ssp, taskstore.Offset{Value: "0"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c.mu.Lock()
	got, ok := c.sspByTP[topicPartition{topic: "orders-changelog", partition: 3}]
	c.mu.Unlock()
	if !ok {
		t.Fatal("sspByTP has no entry for the registered topic/partition")
	}
	if got != ssp {
		t.Errorf("sspByTP lookup = %+v, want %+v", got, ssp)
	}

	c.mu.Lock()
	buf, ok := c.buffers[ssp]
	c.mu.Unlock()
	if !ok || buf == nil {
		t.Fatal("Register did not create a buffer under the full SSP")
	}
}

func withTimeout(t *testing.T, d time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for operation to complete")
	}
}

// TestPartitionBufferNextBlocksUntilPush is the regression test for the
// dead-synchronization bug: Next must block, not return end-of-stream
// immediately, while the buffer is empty and not yet done.
func TestPartitionBufferNextBlocksUntilPush(t *testing.T) {
	buf := newPartitionBuffer(0)
	it := &iterator{buf: buf}

	type result struct {
		rec taskstore.Record
		ok  bool
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		rec, ok, err := it.Next(context.Background())
		resultCh <- result{rec, ok, err}
	}()

	select {
	case r := <-resultCh:
		t.Fatalf("Next returned before any record was pushed: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	want := taskstore.Record{Value: []byte("v")}
	buf.push(want, 0)

	withTimeout(t, time.Second, func() {
		r := <-resultCh
		if r.err != nil {
			t.Errorf("Next error = %v", r.err)
		}
		if !r.ok {
			t.Error("Next ok = false, want true after push")
		}
		if string(r.rec.Value) != "v" {
			t.Errorf("Next record = %+v, want Value=v", r.rec)
		}
	})
}

// TestPartitionBufferDoneAfterTargetReached confirms push marks the
// buffer done once the delivered offset reaches the restoration target,
// so a subsequent Next call returns end-of-stream instead of blocking
// forever.
func TestPartitionBufferDoneAfterTargetReached(t *testing.T) {
	buf := newPartitionBuffer(0)
	buf.setTarget(1) // one record (offset 0) reaches the target
	buf.push(taskstore.Record{Value: []byte("only")}, 0)

	it := &iterator{buf: buf}
	rec, ok, err := it.Next(context.Background())
	if err != nil || !ok || string(rec.Value) != "only" {
		t.Fatalf("first Next = %+v, %v, %v; want the pushed record", rec, ok, err)
	}

	withTimeout(t, time.Second, func() {
		_, ok, err := it.Next(context.Background())
		if err != nil {
			t.Errorf("second Next error = %v", err)
		}
		if ok {
			t.Error("second Next ok = true, want false (end of stream)")
		}
	})
}

// TestPartitionBufferSetTargetAlreadyReached confirms a partition whose
// buffer is already at or past its restoration target (a warm start
// with no new records) is marked done immediately rather than waiting
// for a fetch that will never arrive.
func TestPartitionBufferSetTargetAlreadyReached(t *testing.T) {
	buf := newPartitionBuffer(5)
	buf.setTarget(5)

	it := &iterator{buf: buf}
	withTimeout(t, time.Second, func() {
		_, ok, err := it.Next(context.Background())
		if err != nil {
			t.Errorf("Next error = %v", err)
		}
		if ok {
			t.Error("Next ok = true, want false (already at target)")
		}
	})
}

// TestIteratorNextRespectsContextCancellation confirms a blocked Next
// call unblocks and returns an error when its context is canceled,
// rather than blocking forever.
func TestIteratorNextRespectsContextCancellation(t *testing.T) {
	buf := newPartitionBuffer(0)
	it := &iterator{buf: buf}

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		_, _, err := it.Next(ctx)
		resultCh <- result{err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	withTimeout(t, time.Second, func() {
		r := <-resultCh
		if r.err == nil {
			t.Error("Next error = nil, want context.Canceled after cancellation")
		}
	})
}
