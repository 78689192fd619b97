// Package provider implements the per-channel pair of rings from spec
// §3/§4.1: "out" (app -> channel, multi-producer) and "in" (channel ->
// app, single-producer). Each ring carries pre-allocated Frame payloads
// so application and selector-thread writes land directly in place
// rather than through an intermediate allocation, mirroring the
// teacher disruptor's pre-allocated RingBufferSlot approach.
package provider

import (
	"fmt"

	"github.com/rishav/ringnet/internal/ring"
)

// Frame is the pre-allocated payload object every ring slot holds. Its
// backing array is sized once at construction (spec §6's "commonly
// fixed-size binary frames") and reused in place across the slot's
// lifetime.
type Frame struct {
	buf []byte
	n   int
}

// newFrame returns a constructor for frames with a fixed backing array
// of maxSize bytes, used as RingBuffer's newPayload hook.
func newFrame(maxSize int) func() Frame {
	return func() Frame {
		return Frame{buf: make([]byte, maxSize)}
	}
}

// Bytes returns the frame's current contents.
func (f *Frame) Bytes() []byte { return f.buf[:f.n] }

// Set overwrites the frame's contents, truncating to the frame's fixed
// capacity if b is larger.
func (f *Frame) Set(b []byte) {
	f.n = copy(f.buf, b)
}

// Cap returns the frame's fixed backing capacity.
func (f *Frame) Cap() int { return len(f.buf) }

// Provider is the pair of rings serving one channel (spec glossary:
// "Provider: the pair of rings serving one channel").
type Provider struct {
	Out *ring.RingBuffer[Frame] // app -> channel, multi-producer, wakeup-capable
	In  *ring.RingBuffer[Frame] // channel -> app, single-producer, blocking

	outWait *ring.WakeupWaitStrategy
	ownsIn  bool // false when In was supplied via NewWithConsumer
}

// New constructs a provider with both rings sized to capacity (rounded
// to a power of two) and frames sized to maxFrameSize.
func New(capacity int64, maxFrameSize int) (*Provider, error) {
	outWait := ring.NewWakeupWaitStrategy()
	out, err := ring.New(capacity, true, outWait, newFrame(maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("provider: out ring: %w", err)
	}
	in, err := ring.New(capacity, false, ring.NewBlockingWaitStrategy(), newFrame(maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("provider: in ring: %w", err)
	}
	return &Provider{Out: out, In: in, outWait: outWait, ownsIn: true}, nil
}

// NewWithConsumer builds a provider whose "in" ring is supplied
// externally (spec §3: "Optionally the in ring is replaced by an
// externally supplied consumer (for fan-in patterns), in which case the
// provider creates a producer view from it and does not own its
// lifecycle"). Used when several channels' key processors publish into
// one shared application-facing ring, e.g. a multicast receiver group.
func NewWithConsumer(capacity int64, maxFrameSize int, in *ring.RingBuffer[Frame]) (*Provider, error) {
	outWait := ring.NewWakeupWaitStrategy()
	out, err := ring.New(capacity, true, outWait, newFrame(maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("provider: out ring: %w", err)
	}
	return &Provider{Out: out, In: in, outWait: outWait}, nil
}

// SetWakeupSink installs the callback the out ring's wait strategy
// invokes on an empty-to-nonempty publish transition (spec §4.1: "The
// callback pointer is installed lazily the first time the provider
// hands out the producer for a processor"). Called once by the key
// processor that owns this provider.
func (p *Provider) SetWakeupSink(sink ring.WakeupSink) {
	p.outWait.SetSink(sink)
}

// Close stops both rings, unblocking any parked Acquire/WaitFor callers
// with ErrInterrupted (spec §3: "rings do not outlive the provider"). An
// In ring supplied via NewWithConsumer is left running.
func (p *Provider) Close() {
	p.Out.Stop()
	if p.In != nil && p.ownsIn {
		p.In.Stop()
	}
}
