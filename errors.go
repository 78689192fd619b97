package ringnet

import "errors"

// Error kinds per spec §7's error table. ErrInterrupted and
// ErrSequenceMismatch live in internal/ring; ErrInterrupted reaches
// application code unwrapped from the Provider's rings.

// ErrChannelClosed fails a registration/connect/accept future when the
// channel is already closed.
var ErrChannelClosed = errors.New("ringnet: channel closed")

// ErrIO wraps a synchronous connect failure in Connect. Socket
// read/write failures in the key processor reach the close future and
// close listener wrapped in that package's own io error instead.
var ErrIO = errors.New("ringnet: io error")

// ErrProtocol is not returned by this package: codec/framing failures
// reach the channel's close listener as keyprocessor.ErrProtocol.
var ErrProtocol = errors.New("ringnet: protocol error")

// ErrCapacity fails a Bind or Connect future for an illegal
// configuration or argument: an unknown transport, an invalid multicast
// group, or Connect on a non-TCP channel. A non-positive Capacity is not
// rejected; NewChannel replaces it with the default.
var ErrCapacity = errors.New("ringnet: illegal capacity or argument")
