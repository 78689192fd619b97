package ring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Wakeup() { s.count.Add(1) }

// TestWakeupFiresOncePerEmptyToNonemptyTransition covers spec §8
// property 5.
func TestWakeupFiresOncePerEmptyToNonemptyTransition(t *testing.T) {
	ws := NewWakeupWaitStrategy()
	sink := &countingSink{}
	ws.SetSink(sink)

	rb, err := New[int](8, true, ws, func() int { return 0 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	// Publish a batch of 3 from empty: exactly one wakeup.
	var seqs []Sequence
	for i := 0; i < 3; i++ {
		seq, err := rb.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		seqs = append(seqs, seq)
	}
	for _, s := range seqs {
		rb.Release(s)
	}

	time.Sleep(10 * time.Millisecond)
	if got := sink.count.Load(); got != 1 {
		t.Fatalf("wakeups after first batch = %d, want 1", got)
	}

	rb.Advance(seqs[len(seqs)-1])

	// Ring now empty again (published caught up to consumer). A second
	// publish should fire exactly one more wakeup.
	seq, err := rb.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rb.Release(seq)

	time.Sleep(10 * time.Millisecond)
	if got := sink.count.Load(); got != 2 {
		t.Fatalf("wakeups after second publish = %d, want 2", got)
	}
}

func TestBlockingWaitStrategyHonorsCancellation(t *testing.T) {
	s := NewBlockingWaitStrategy()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.WaitFor(ctx, 5, func() Sequence { return InitialSequence })
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if err != ErrInterrupted {
			t.Fatalf("got %v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor never honored cancellation")
	}
}
