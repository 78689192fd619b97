package keyprocessor

import (
	"context"
	"errors"
)

// ringIOError tags a socket read/write failure (spec §7's IO error
// kind), surfaced to the channel's close future.
var ringIOError = errors.New("keyprocessor: io error")

// ErrProtocol tags a codec/framing failure or a recovered panic in the
// read/write path (spec §7's Protocol/codec error kind).
var ErrProtocol = errors.New("keyprocessor: protocol error")

// noopCtx is used for the internal Acquire calls the read path makes
// against the channel-input ring. It is never cancelled: while that ring
// is full, Acquire blocks the selector thread until the application
// advances its consumer cursor or the ring is Stop()ed, in which case
// Acquire returns ErrInterrupted.
func noopCtx() context.Context {
	return context.Background()
}
