// Package ratelimit implements the per-channel token-bucket byte limiter
// from spec §4.2. It is grounded on the teacher's
// rate-limiter/gateway/ratelimiter token-bucket algorithm, stripped of its
// Redis/Lua backing store: a channel's rate limit is purely local state
// owned by the selector thread that drives it, so there is no need for a
// shared, persisted bucket across processes.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// refillIntervals is how many slices each second's quota is split across
// (spec §4.2: "refill is split into 10 intervals of 100 ms").
const refillIntervals = 10

const refillPeriod = 100 * time.Millisecond

// Limiter blocks a caller until n bytes of budget are available. The
// selector thread is always the caller (spec §4.2); blocking it stalls
// only the channels owned by that thread, which is intentional
// backpressure, not a bug.
type Limiter interface {
	// Send blocks until n bytes of send budget are available.
	Send(n int64)
	// Receive blocks until n bytes of receive budget are available.
	Receive(n int64)
	// Stop releases the limiter's background refill goroutine.
	Stop()
}

// null is the no-op variant selected by Config{RateBytesPerSec: 0}.
type null struct{}

func (null) Send(int64)    {}
func (null) Receive(int64) {}
func (null) Stop()         {}

// Null is the shared no-op limiter instance.
var Null Limiter = null{}

// TokenBucket holds two independent byte buckets, one for bytes sent and
// one for bytes received, each refilled on its own 100ms tick.
type TokenBucket struct {
	ratePerSec int64
	quantum    int64 // tokens added per refill tick, max(1, rate/10)

	mu        sync.Mutex
	sendCond  *sync.Cond
	recvCond  *sync.Cond
	sendTok   int64
	recvTok   int64
	stopped   atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New constructs a token bucket rate limiter capped at ratePerSec bytes/s
// for each of the send and receive directions. Capacity equals the
// configured rate (spec §4.2: "Capacity equals the configured byte/s
// rate").
func New(ratePerSec int64) *TokenBucket {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	quantum := ratePerSec / refillIntervals
	if quantum < 1 {
		quantum = 1
	}
	b := &TokenBucket{
		ratePerSec: ratePerSec,
		quantum:    quantum,
		sendTok:    ratePerSec,
		recvTok:    ratePerSec,
		stopCh:     make(chan struct{}),
	}
	b.sendCond = sync.NewCond(&b.mu)
	b.recvCond = sync.NewCond(&b.mu)
	go b.refillLoop()
	return b
}

func (b *TokenBucket) refillLoop() {
	ticker := time.NewTicker(refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.sendTok += b.quantum
			if b.sendTok > b.ratePerSec {
				b.sendTok = b.ratePerSec
			}
			b.recvTok += b.quantum
			if b.recvTok > b.ratePerSec {
				b.recvTok = b.ratePerSec
			}
			b.sendCond.Broadcast()
			b.recvCond.Broadcast()
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

// Send blocks until n bytes of send budget are available, then debits
// them. n may exceed the bucket capacity; it simply takes several refill
// ticks to drain (this is what produces scenario S3's ~10s wait for a
// 100KiB send capped at 10KiB/s).
func (b *TokenBucket) Send(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n > 0 && !b.stopped.Load() {
		take := n
		if take > b.sendTok {
			take = b.sendTok
		}
		b.sendTok -= take
		n -= take
		if n > 0 {
			b.sendCond.Wait()
		}
	}
}

// Receive blocks until n bytes of receive budget are available, then
// debits them.
func (b *TokenBucket) Receive(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n > 0 && !b.stopped.Load() {
		take := n
		if take > b.recvTok {
			take = b.recvTok
		}
		b.recvTok -= take
		n -= take
		if n > 0 {
			b.recvCond.Wait()
		}
	}
}

// Stop ends the refill goroutine and releases any blocked Send/Receive
// callers. Safe to call multiple times.
func (b *TokenBucket) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.stopCh)
		b.mu.Lock()
		b.sendCond.Broadcast()
		b.recvCond.Broadcast()
		b.mu.Unlock()
	})
}
