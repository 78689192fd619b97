package ring

import (
	"context"
	"sync"
)

// WakeupSink is the callback a wakeup-capable wait strategy invokes when a
// publish transitions the ring from empty to non-empty. It is the
// mechanism spec §9's "Design Notes" uses to avoid a back-pointer from the
// ring to the key processor: the processor installs an opaque sink on the
// ring instead of the ring holding a reference to the processor.
type WakeupSink interface {
	Wakeup()
}

// WaitStrategy is the policy by which a consumer blocked on WaitFor sleeps
// and is signaled when a producer publishes. Mirrors the condition
// variable the teacher's disruptor spins around in processor.go, but
// parks instead of spinning, and adds an optional wakeup hook.
type WaitStrategy interface {
	// WaitFor blocks until published() >= seq or ctx is cancelled.
	// Returns the observed published sequence.
	WaitFor(ctx context.Context, seq Sequence, published func() Sequence) (Sequence, error)

	// SignalRelease wakes any goroutine parked in WaitFor. wasEmpty
	// reports whether the ring held zero unconsumed slots immediately
	// before this release, i.e. whether this is an empty-to-nonempty
	// transition.
	SignalRelease(wasEmpty bool)
}

// BlockingWaitStrategy parks the consumer on a condition variable and
// wakes it on every release. Used on the channel->app ring, where the
// app chooses its own pacing (spec §4.1).
type BlockingWaitStrategy struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewBlockingWaitStrategy constructs a ready-to-use blocking wait strategy.
func NewBlockingWaitStrategy() *BlockingWaitStrategy {
	s := &BlockingWaitStrategy{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *BlockingWaitStrategy) WaitFor(ctx context.Context, seq Sequence, published func() Sequence) (Sequence, error) {
	if cur := published(); cur >= seq {
		return cur, nil
	}

	// sync.Cond has no native context support; a watcher goroutine
	// translates ctx cancellation into a broadcast so WaitFor can notice
	// it inside the Wait loop below.
	done := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if cur := published(); cur >= seq {
			return cur, nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return InitialSequence, ErrInterrupted
			default:
			}
		}
		s.cond.Wait()
	}
}

func (s *BlockingWaitStrategy) SignalRelease(bool) {
	s.cond.Broadcast()
}

// WakeupWaitStrategy decorates a BlockingWaitStrategy with a sink that
// fires exactly once per empty-to-nonempty transition (spec §8 property
// 5). Used on the app->channel ring so publishing a message wakes the
// owning selector thread to add write-interest. The sink is installed
// lazily: the ring is constructed before the key processor exists, so
// SetSink is called the first time the provider hands the producer to a
// processor (spec §9).
type WakeupWaitStrategy struct {
	*BlockingWaitStrategy

	mu   sync.Mutex
	sink WakeupSink
}

// NewWakeupWaitStrategy constructs a wait strategy with no sink installed;
// SignalRelease is then a plain broadcast until SetSink is called.
func NewWakeupWaitStrategy() *WakeupWaitStrategy {
	return &WakeupWaitStrategy{BlockingWaitStrategy: NewBlockingWaitStrategy()}
}

// SetSink installs the wakeup callback. Safe to call once; later calls
// replace the sink (used when a channel reconnects to a new processor).
func (s *WakeupWaitStrategy) SetSink(sink WakeupSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *WakeupWaitStrategy) SignalRelease(wasEmpty bool) {
	s.BlockingWaitStrategy.SignalRelease(wasEmpty)
	if !wasEmpty {
		return
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Wakeup()
	}
}
