package ring

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newIntRing(t *testing.T, capacity int64, multi bool) *RingBuffer[int] {
	t.Helper()
	rb, err := New[int](capacity, multi, NewBlockingWaitStrategy(), func() int { return 0 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rb
}

// TestCapacityRoundsToPowerOfTwo covers spec §8 property 3.
func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	cases := map[int64]int64{1: 1, 2: 2, 3: 4, 5: 8, 9: 16, 1024: 1024, 1025: 2048}
	for requested, want := range cases {
		rb := newIntRing(t, requested, false)
		if got := rb.Capacity(); got != want {
			t.Errorf("capacity(%d) = %d, want %d", requested, got, want)
		}
	}
}

func TestNewRejectsIllegalCapacity(t *testing.T) {
	if _, err := New[int](0, false, NewBlockingWaitStrategy(), func() int { return 0 }); err != ErrCapacity {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

// TestFIFOSingleProducerSingleConsumer covers spec §8 property 1.
func TestFIFOSingleProducerSingleConsumer(t *testing.T) {
	rb := newIntRing(t, 16, false)
	ctx := context.Background()
	const n = 1000

	go func() {
		for i := 0; i < n; i++ {
			seq, err := rb.Acquire(ctx)
			if err != nil {
				return
			}
			*rb.Get(seq) = i
			rb.Release(seq)
		}
	}()

	cursor := InitialSequence
	for i := 0; i < n; i++ {
		published, err := rb.WaitFor(ctx, cursor+1)
		if err != nil {
			t.Fatalf("WaitFor: %v", err)
		}
		for s := cursor + 1; s <= published; s++ {
			if got := *rb.Get(s); got != int(s) {
				t.Fatalf("out of order: slot %d holds %d", s, got)
			}
		}
		cursor = published
		rb.Advance(cursor)
		if cursor >= n-1 {
			break
		}
	}
}

// TestBoundedNeverExceedsCapacity covers spec §8 property 2: a producer
// racing ahead of a stalled consumer never claims past capacity slots
// outstanding.
func TestBoundedNeverExceedsCapacity(t *testing.T) {
	rb := newIntRing(t, 4, false)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := rb.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	acquired := make(chan struct{})
	go func() {
		rb.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned before consumer advanced, capacity exceeded")
	case <-time.After(50 * time.Millisecond):
	}

	rb.Release(3)
	rb.Advance(0)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire never unblocked after Advance widened the window")
	}
}

// TestReleaseVisibilityWakesConsumer covers spec §8 property 4.
func TestReleaseVisibilityWakesConsumer(t *testing.T) {
	rb := newIntRing(t, 16, false)
	ctx := context.Background()

	done := make(chan Sequence, 1)
	go func() {
		seq, err := rb.WaitFor(ctx, 0)
		if err != nil {
			return
		}
		done <- seq
	}()

	time.Sleep(10 * time.Millisecond)
	seq, _ := rb.Acquire(ctx)
	*rb.Get(seq) = 42
	rb.Release(seq)

	select {
	case got := <-done:
		if got < 0 {
			t.Fatalf("WaitFor returned %d, want >= 0", got)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken within bounded time")
	}
}

// TestMultiProducerOutOfOrderRelease verifies the published cursor only
// advances contiguously even when producers release out of claim order.
func TestMultiProducerOutOfOrderRelease(t *testing.T) {
	rb := newIntRing(t, 16, true)
	ctx := context.Background()

	seqA, _ := rb.Acquire(ctx) // 0
	seqB, _ := rb.Acquire(ctx) // 1
	seqC, _ := rb.Acquire(ctx) // 2

	rb.Release(seqC)
	if got := rb.PublishedCursor(); got != InitialSequence {
		t.Fatalf("published advanced past a gap: %d", got)
	}
	rb.Release(seqB)
	if got := rb.PublishedCursor(); got != InitialSequence {
		t.Fatalf("published advanced past a gap: %d", got)
	}
	rb.Release(seqA)
	if got := rb.PublishedCursor(); got != seqC {
		t.Fatalf("published = %d, want %d once the gap closes", got, seqC)
	}
}

// TestCancelSafeDrainAfterInterrupt covers spec §8 property 8: a
// producer interrupted while parked in Acquire leaves prior releases
// drainable by a fresh consumer.
func TestCancelSafeDrainAfterInterrupt(t *testing.T) {
	rb := newIntRing(t, 2, false)
	ctx := context.Background()

	seq, _ := rb.Acquire(ctx)
	*rb.Get(seq) = 7
	rb.Release(seq)

	seq2, _ := rb.Acquire(ctx)
	*rb.Get(seq2) = 8
	rb.Release(seq2)

	cctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() {
		_, err := rb.Acquire(cctx)
		blocked <- err
	}()
	cancel()

	select {
	case err := <-blocked:
		if err == nil {
			t.Fatal("expected an error from a cancelled Acquire")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire never returned")
	}

	published, err := rb.WaitFor(ctx, 0)
	if err != nil {
		t.Fatalf("fresh consumer WaitFor: %v", err)
	}
	if published != seq2 {
		t.Fatalf("published = %d, want %d", published, seq2)
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	rb := newIntRing(t, 4, false)
	ctx := context.Background()
	seq, _ := rb.Acquire(ctx)
	rb.Attach(seq, "peer-addr")
	if got := rb.Attachment(seq); got != "peer-addr" {
		t.Fatalf("Attachment = %v, want peer-addr", got)
	}
}

func TestStopUnblocksParkedProducers(t *testing.T) {
	rb := newIntRing(t, 1, false)
	ctx := context.Background()
	rb.Acquire(ctx) // fill the single slot

	errCh := make(chan error, 1)
	go func() {
		_, err := rb.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Stop()

	select {
	case err := <-errCh:
		if err != ErrInterrupted {
			t.Fatalf("got %v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock the parked producer")
	}
}

func TestConcurrentMultiProducerClaimsAreUnique(t *testing.T) {
	// No consumer advances here, so the ring must hold all
	// producers*perProducer claims (1600) without blocking.
	rb := newIntRing(t, 2048, true)
	ctx := context.Background()
	const producers = 8
	const perProducer = 200

	seen := make(map[Sequence]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				seq, err := rb.Acquire(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				if seen[seq] {
					t.Errorf("duplicate claim of sequence %d", seq)
				}
				seen[seq] = true
				mu.Unlock()
				rb.Release(seq)
			}
		}()
	}
	wg.Wait()
}
