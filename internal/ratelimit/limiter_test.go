package ratelimit

import (
	"testing"
	"time"
)

// TestInitialCapacityDrainsWithoutThrottling checks that a limiter
// configured at R bytes/s starts with a full bucket, so sending R bytes
// right after construction does not wait for a refill tick.
func TestInitialCapacityDrainsWithoutThrottling(t *testing.T) {
	const rate = 10 * 1024 // 10 KiB/s
	b := New(rate)
	defer b.Stop()

	start := time.Now()
	var sent int64
	for sent < rate {
		take := int64(512)
		if sent+take > rate {
			take = rate - sent
		}
		b.Send(take)
		sent += take
	}
	elapsed := time.Since(start)

	// The bucket starts full, so draining exactly one second's worth of
	// capacity should complete near-instantly; this asserts the bucket
	// doesn't throttle the very first second's allowance.
	if elapsed > 200*time.Millisecond {
		t.Fatalf("draining initial capacity took %v, want near-instant", elapsed)
	}
}

func TestSendBlocksUntilRefill(t *testing.T) {
	const rate = 1000 // 1000 B/s -> 100 tokens per 100ms tick
	b := New(rate)
	defer b.Stop()

	b.Send(rate) // drain the initial full bucket

	start := time.Now()
	b.Send(50) // must wait for at least one refill tick
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("Send returned after %v without waiting for a refill tick", elapsed)
	}
}

func TestNullLimiterNeverBlocks(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Null.Send(1 << 30)
		Null.Receive(1 << 30)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("null limiter blocked")
	}
}

func TestStopUnblocksPendingSend(t *testing.T) {
	b := New(100)
	b.Send(100) // drain

	done := make(chan struct{})
	go func() {
		b.Send(1000)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock a pending Send")
	}
}

func TestSendAndReceiveAreIndependentBuckets(t *testing.T) {
	b := New(1000)
	defer b.Stop()

	b.Send(1000) // drain send bucket fully

	done := make(chan struct{})
	go func() {
		b.Receive(1000) // should not be blocked by the drained send bucket
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Receive blocked on the send bucket's state")
	}
}
