package ringnet

import (
	"runtime"

	"github.com/rishav/ringnet/internal/codec"
)

// Transport selects the wire transport a channel uses (spec §6).
type Transport int

const (
	TCP Transport = iota
	UDP
	UDPMulticast
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	case UDPMulticast:
		return "UDP_MULTICAST"
	default:
		return "UNKNOWN"
	}
}

// BufferKind selects how internal I/O buffers are allocated (spec §6).
// Both kinds are plain Go byte slices here: no code in this module reads
// Config.Buffers, so the two kinds behave the same.
type BufferKind int

const (
	BufferHeap BufferKind = iota
	BufferDirect
)

// Config enumerates the builder options spec §6 specifies.
type Config struct {
	Transport Transport

	// PoolSize is the selector thread count; 0 selects runtime.NumCPU().
	PoolSize int

	// Capacity is the ring size, rounded up to a power of two.
	Capacity int64

	// MaxFrameSize bounds a single frame's payload.
	MaxFrameSize int

	Buffers BufferKind

	// RateBytesPerSec is 0 for an unlimited (null) rate limiter.
	RateBytesPerSec int64

	Codec codec.Codec

	// MulticastGroup/MulticastIface apply only to UDPMulticast channels.
	MulticastGroup string
	MulticastIface string

	// DecoupledThreshold is a payload length for decoupled processing
	// (spec §6). No code in this module reads it: setting it spawns no
	// consumer goroutine and changes no behaviour.
	DecoupledThreshold int
}

// DefaultConfig returns a Config with the teacher's
// cmd/server-style defaults: one selector per CPU, a 1024-slot ring, 64
// KiB frames, heap buffers, no rate limit, and the length-prefixed
// codec.
func DefaultConfig() Config {
	return Config{
		Transport:    TCP,
		PoolSize:     runtime.NumCPU(),
		Capacity:     1024,
		MaxFrameSize: 64 << 10,
		Buffers:      BufferHeap,
		Codec:        codec.LengthPrefixed{},
	}
}

func (c Config) normalize() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 64 << 10
	}
	if c.Codec == nil {
		c.Codec = codec.LengthPrefixed{}
	}
	return c
}
