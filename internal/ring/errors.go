package ring

import "errors"

// ErrInterrupted is returned by Acquire/AcquireN/WaitFor when the
// caller's context is cancelled while waiting, or when the ring has been
// stopped. Per spec §5, the ring is left in a consistent state: an
// Acquire that returns ErrInterrupted has reserved nothing. The context
// is only consulted while waiting for space, so an Acquire with an
// already-cancelled context still claims a sequence if one is free.
var ErrInterrupted = errors.New("ring: interrupted")

// ErrSequenceMismatch is a programming-invariant violation: a group
// producer's backing rings diverged on Acquire. Per spec §4.5/§9 this is
// not recoverable and is raised rather than handled.
var ErrSequenceMismatch = errors.New("ring: group producer sequence mismatch")

// ErrCapacity is returned at construction time for an illegal capacity.
var ErrCapacity = errors.New("ring: capacity must be >= 1")
