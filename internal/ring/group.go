package ring

import "context"

// Producer is the subset of RingBuffer's producer-facing methods a
// GroupProducer fans writes out across. RingBuffer satisfies this
// directly; it also lets tests substitute fakes.
type Producer[T any] interface {
	Acquire(ctx context.Context) (Sequence, error)
	AcquireN(ctx context.Context, n int64) (start, end Sequence, err error)
	Get(seq Sequence) *T
	Attach(seq Sequence, v any)
	Attachment(seq Sequence) any
	Release(seq Sequence)
	ReleaseRange(start, end Sequence)
}

// Copier copies the payload written into the first backing's slot into
// every other backing's slot at the same sequence.
type Copier[T any] func(dst, src *T)

// GroupData lets Attach scatter one element per backing instead of
// broadcasting the same attachment to all of them (spec §4.5).
type GroupData []any

// GroupProducer is an aggregate producer that fans a single logical
// publish out across N backing rings, used for fan-out patterns such as
// a multicast channel's group of receiver rings. Adapted from the
// multi-producer CAS-claim pattern in the teacher's disruptor sequencer,
// generalized from one ring to N kept in lockstep.
type GroupProducer[T any] struct {
	backings []Producer[T]
	copier   Copier[T]
}

// NewGroupProducer builds a group producer over backings, using copier to
// replicate a published payload from the first backing to the rest.
func NewGroupProducer[T any](copier Copier[T], backings ...Producer[T]) *GroupProducer[T] {
	return &GroupProducer[T]{backings: backings, copier: copier}
}

// Acquire requires every backing to claim the same sequence number.
// Divergence is a programming-invariant violation (spec §4.5, §7): the
// backings are supposed to be claimed in lockstep by a single caller, so
// if they disagree something upstream claimed on one backing without
// going through this group.
func (g *GroupProducer[T]) Acquire(ctx context.Context) (Sequence, error) {
	if len(g.backings) == 0 {
		return InitialSequence, ErrSequenceMismatch
	}
	first, err := g.backings[0].Acquire(ctx)
	if err != nil {
		return InitialSequence, err
	}
	for _, b := range g.backings[1:] {
		seq, err := b.Acquire(ctx)
		if err != nil {
			return InitialSequence, err
		}
		if seq != first {
			return InitialSequence, ErrSequenceMismatch
		}
	}
	return first, nil
}

// AcquireN is best-effort: per spec §9's open question, this
// implementation resolves it as option (b) rather than (a) — it calls
// Acquire (not AcquireN) on each backing and returns the minimum claimed
// sequence, rather than reserving the full n contiguously on every
// backing. Consumers of a group producer must not assume n contiguous
// slots are available on every member; see DESIGN.md for the rationale.
func (g *GroupProducer[T]) AcquireN(ctx context.Context, n int64) (start, end Sequence, err error) {
	min := Sequence(1<<63 - 1)
	for _, b := range g.backings {
		seq, err := b.Acquire(ctx)
		if err != nil {
			return InitialSequence, InitialSequence, err
		}
		if seq < min {
			min = seq
		}
	}
	return min, min, nil
}

// Get returns the first backing's slot; callers write the payload once
// here and Release copies it out to the rest.
func (g *GroupProducer[T]) Get(seq Sequence) *T {
	return g.backings[0].Get(seq)
}

// Attach scatters a GroupData of exactly len(backings) elements one per
// backing, or broadcasts a single attachment to every backing otherwise.
func (g *GroupProducer[T]) Attach(seq Sequence, v any) {
	if gd, ok := v.(GroupData); ok && len(gd) == len(g.backings) {
		for i, b := range g.backings {
			b.Attach(seq, gd[i])
		}
		return
	}
	for _, b := range g.backings {
		b.Attach(seq, v)
	}
}

// Attachment reads the first backing's attachment.
func (g *GroupProducer[T]) Attachment(seq Sequence) any {
	return g.backings[0].Attachment(seq)
}

// Release copies the payload written at seq from the first backing to
// every other backing, then releases seq on all of them (spec §4.5).
func (g *GroupProducer[T]) Release(seq Sequence) {
	src := g.backings[0].Get(seq)
	for _, b := range g.backings[1:] {
		if g.copier != nil {
			g.copier(b.Get(seq), src)
		}
	}
	for _, b := range g.backings {
		b.Release(seq)
	}
}

// ReleaseRange releases every sequence in [start, end] across all
// backings, copying each slot's payload along the way.
func (g *GroupProducer[T]) ReleaseRange(start, end Sequence) {
	for s := start; s <= end; s++ {
		g.Release(s)
	}
}
