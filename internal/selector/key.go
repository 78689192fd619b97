package selector

import "net"

// Interest is a bitmask of readiness a Key is registered for, mirroring
// spec §4.3's ACCEPT/CONNECT/READ/WRITE readiness bits.
type Interest uint32

const (
	InterestAccept Interest = 1 << iota
	InterestConnect
	InterestRead
	InterestWrite
)

// Acceptor is invoked by the owning selector thread when a listening
// key becomes accept-ready (spec §4.3).
type Acceptor interface {
	Accept(key *Key)
}

// Processor is invoked by the owning selector thread for connect
// completion and read/write readiness (spec §4.3, §4.4). Registered is
// called once registration for a channel succeeds or fails; a nil key
// with a non-nil err signals failure, per spec §4.4's "registered(thread,
// null, type)" edge case for a channel closed before its registration
// task ran.
type Processor interface {
	Connect(key *Key)
	Read(key *Key)
	Write(key *Key)
	Registered(s *Selector, key *Key, err error)
}

// Key is the (channel, interest-set, attachment) triple spec §3 defines,
// mutated only by its owning selector thread.
type Key struct {
	fd       int
	conn     net.Conn
	pconn    net.PacketConn
	interest Interest
	acceptor Acceptor
	processor Processor
	owner    *Selector

	cancelled bool
}

// Interest returns the key's current registered readiness bits.
func (k *Key) Interest() Interest { return k.interest }

// Conn returns the stream connection stored on this key. Keys created
// by Bind, Connect and Register are built from a raw fd only, so Conn is
// nil for them.
func (k *Key) Conn() net.Conn { return k.conn }

// PacketConn returns the datagram connection stored on this key. Keys
// created by Bind, Connect and Register are built from a raw fd only, so
// PacketConn is nil for them.
func (k *Key) PacketConn() net.PacketConn { return k.pconn }

// Fd returns the raw file descriptor backing this key.
func (k *Key) Fd() int { return k.fd }

// Owner returns the selector thread this key is bound to for its
// lifetime (spec §3: "Selection key binding... mutated only by its
// owning selector thread").
func (k *Key) Owner() *Selector { return k.owner }
