package ring

import (
	"context"
	"sync"
	"sync/atomic"
)

const cacheLinePad = 64

// slot is one pre-allocated payload plus its attachment cell. seq carries
// the sequence number once the slot has been released, mirroring the
// teacher's RingBufferSlot.SequenceNum: a consumer considers the slot
// ready only when seq equals the sequence it expects, which lets a
// multi-producer ring publish out of claim order without a separate
// per-slot lock.
type slot[T any] struct {
	seq        atomic.Int64
	payload    T
	attachment any
	_          [cacheLinePad - 8]byte
}

// RingBuffer is the bounded, sequence-coordinated buffer described in
// spec §4.1: a power-of-two array of pre-allocated slots, a claim cursor,
// a contiguously-published cursor, and a consumer gating cursor that
// bounds how far producers may run ahead.
type RingBuffer[T any] struct {
	mask     int64
	capacity int64
	slots    []slot[T]

	multiProducer bool

	producerCursor atomic.Int64 // highest claimed sequence
	published      atomic.Int64 // highest contiguously released sequence
	consumerCursor atomic.Int64 // highest sequence the consumer has advanced past

	waitStrategy WaitStrategy

	spaceMu   sync.Mutex
	spaceCond *sync.Cond

	stopped atomic.Bool
}

// New creates a ring buffer of the requested capacity (rounded up to the
// next power of two, spec §8 property 3). newPayload preallocates each
// slot's payload object so producers write into stable storage in place.
func New[T any](requestedCapacity int64, multiProducer bool, waitStrategy WaitStrategy, newPayload func() T) (*RingBuffer[T], error) {
	if requestedCapacity < 1 {
		return nil, ErrCapacity
	}
	capacity := nextPowerOfTwo(requestedCapacity)

	b := &RingBuffer[T]{
		mask:          capacity - 1,
		capacity:      capacity,
		slots:         make([]slot[T], capacity),
		multiProducer: multiProducer,
		waitStrategy:  waitStrategy,
	}
	b.spaceCond = sync.NewCond(&b.spaceMu)
	b.producerCursor.Store(InitialSequence)
	b.published.Store(InitialSequence)
	b.consumerCursor.Store(InitialSequence)

	if newPayload != nil {
		for i := range b.slots {
			b.slots[i].payload = newPayload()
			b.slots[i].seq.Store(InitialSequence)
		}
	}
	return b, nil
}

// Capacity returns the effective (power-of-two) capacity.
func (b *RingBuffer[T]) Capacity() int64 { return b.capacity }

// Remaining estimates the number of slots producible without blocking.
func (b *RingBuffer[T]) Remaining() int64 {
	outstanding := b.producerCursor.Load() - b.consumerCursor.Load()
	remaining := b.capacity - outstanding
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stop unblocks every goroutine parked in Acquire/AcquireN/WaitFor with
// ErrInterrupted, used during channel close.
func (b *RingBuffer[T]) Stop() {
	b.stopped.Store(true)
	b.spaceMu.Lock()
	b.spaceCond.Broadcast()
	b.spaceMu.Unlock()
	b.waitStrategy.SignalRelease(true)
}

// Acquire reserves the next producer sequence, blocking until there is
// room (spec §4.1 "blocks until seq - consumer_cursor < capacity").
func (b *RingBuffer[T]) Acquire(ctx context.Context) (Sequence, error) {
	_, end, err := b.AcquireN(ctx, 1)
	return end, err
}

// AcquireN reserves n contiguous sequences and returns the range
// [start, end]. end is the value spec §4.1's acquire(n) returns; start is
// an additional convenience so the caller can address every slot in the
// batch without recomputing it from n.
func (b *RingBuffer[T]) AcquireN(ctx context.Context, n int64) (start, end Sequence, err error) {
	if n <= 0 {
		n = 1
	}
	for {
		if b.stopped.Load() {
			return InitialSequence, InitialSequence, ErrInterrupted
		}

		cur := b.producerCursor.Load()
		next := cur + n
		gate := b.consumerCursor.Load()

		if next-gate <= b.capacity {
			if !b.multiProducer {
				b.producerCursor.Store(next)
				return cur + 1, next, nil
			}
			if b.producerCursor.CompareAndSwap(cur, next) {
				return cur + 1, next, nil
			}
			continue
		}

		if err := b.waitForSpace(ctx, gate); err != nil {
			return InitialSequence, InitialSequence, err
		}
	}
}

func (b *RingBuffer[T]) waitForSpace(ctx context.Context, observedGate Sequence) error {
	done := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.spaceMu.Lock()
				b.spaceCond.Broadcast()
				b.spaceMu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	b.spaceMu.Lock()
	defer b.spaceMu.Unlock()
	for b.consumerCursor.Load() == observedGate && !b.stopped.Load() {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ErrInterrupted
			default:
			}
		}
		b.spaceCond.Wait()
	}
	if b.stopped.Load() {
		return ErrInterrupted
	}
	return nil
}

// Get returns the pre-allocated slot payload for in-place writes/reads.
func (b *RingBuffer[T]) Get(seq Sequence) *T {
	return &b.slots[seq&b.mask].payload
}

// Attach sets the per-slot attachment (e.g. a UDP peer address).
func (b *RingBuffer[T]) Attach(seq Sequence, v any) {
	b.slots[seq&b.mask].attachment = v
}

// Attachment reads the per-slot attachment.
func (b *RingBuffer[T]) Attachment(seq Sequence) any {
	return b.slots[seq&b.mask].attachment
}

// Release publishes a single sequence, making it visible to the consumer
// once every lower sequence up to it has also been published (so a
// multi-producer ring never exposes a gap).
func (b *RingBuffer[T]) Release(seq Sequence) {
	b.ReleaseRange(seq, seq)
}

// ReleaseRange publishes every sequence in [start, end], as used when a
// batch claimed via AcquireN is written and released together.
func (b *RingBuffer[T]) ReleaseRange(start, end Sequence) {
	wasEmpty := b.published.Load() <= b.consumerCursor.Load()

	for s := start; s <= end; s++ {
		b.slots[s&b.mask].seq.Store(s)
	}
	b.advancePublished()
	b.waitStrategy.SignalRelease(wasEmpty)
}

// advancePublished walks the contiguous-publish cursor forward as far as
// released slots allow. Adapted from the multi-producer "updatePublished"
// CAS loop: a producer that finishes releasing sequence 7 while sequence
// 6 (claimed by another producer) hasn't been released yet must not
// advance published past 5; the producer that eventually releases 6 will
// carry the cursor the rest of the way.
func (b *RingBuffer[T]) advancePublished() {
	for {
		cur := b.published.Load()
		next := cur + 1
		if b.slots[next&b.mask].seq.Load() != next {
			return
		}
		if !b.published.CompareAndSwap(cur, next) {
			continue
		}
	}
}

// WaitFor blocks the consumer until seq has been published, returning the
// highest contiguously published sequence observed (which may be greater
// than seq, enabling batch drains).
func (b *RingBuffer[T]) WaitFor(ctx context.Context, seq Sequence) (Sequence, error) {
	if b.stopped.Load() {
		return InitialSequence, ErrInterrupted
	}
	published := func() Sequence {
		if b.stopped.Load() {
			return seq // end the wait; reported as ErrInterrupted below
		}
		return b.published.Load()
	}
	got, err := b.waitStrategy.WaitFor(ctx, seq, published)
	if err == nil && b.stopped.Load() {
		return InitialSequence, ErrInterrupted
	}
	return got, err
}

// Advance records that the consumer has fully processed up to and
// including seq, widening the window producers may claim into, and wakes
// any producer blocked on space in Acquire/AcquireN.
func (b *RingBuffer[T]) Advance(seq Sequence) {
	b.consumerCursor.Store(seq)
	b.spaceMu.Lock()
	b.spaceCond.Broadcast()
	b.spaceMu.Unlock()
}

// ConsumerCursor returns the current gating sequence.
func (b *RingBuffer[T]) ConsumerCursor() Sequence {
	return b.consumerCursor.Load()
}

// PublishedCursor returns the current contiguously-published sequence.
func (b *RingBuffer[T]) PublishedCursor() Sequence {
	return b.published.Load()
}
