// Package ringnet is the public facade of a non-blocking, message-
// oriented network I/O library: channels carry framed messages over
// TCP, UDP, or UDP multicast, decoupled from application threads by a
// pair of ring buffers per channel and served by a fixed pool of
// selector threads (see internal/selector, internal/provider,
// internal/keyprocessor, internal/ring).
package ringnet

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rishav/ringnet/internal/codec"
	"github.com/rishav/ringnet/internal/keyprocessor"
	"github.com/rishav/ringnet/internal/netio"
	"github.com/rishav/ringnet/internal/provider"
	"github.com/rishav/ringnet/internal/ratelimit"
	"github.com/rishav/ringnet/internal/selector"
)

// MessageChannel is the public lifecycle wrapper spec §6 describes:
// bind/connect/close plus input/output ring access. A server channel
// additionally fires OnAccept for each accepted child channel.
type MessageChannel struct {
	cfg  Config
	pool *selector.Pool

	mu   sync.Mutex
	prov  *provider.Provider
	proc  *keyprocessor.Processor
	ln    net.Listener
	pconn net.PacketConn // kept alive to pin the UDP fd; never Read/Write'd directly

	connectFuture *Future[struct{}]
	closeFuture   *Future[struct{}]

	onAccept func(*MessageChannel)
	onClose  func(error)
}

// NewChannel constructs an unbound, unconnected channel against pool
// with the given configuration.
func NewChannel(pool *selector.Pool, cfg Config) *MessageChannel {
	return &MessageChannel{
		cfg:           cfg.normalize(),
		pool:          pool,
		connectFuture: NewFuture[struct{}](),
		closeFuture:   NewFuture[struct{}](),
	}
}

// OnAccept registers the listener invoked from the selector thread with
// each newly accepted child channel (server channels only, spec §6).
func (c *MessageChannel) OnAccept(fn func(*MessageChannel)) {
	c.mu.Lock()
	c.onAccept = fn
	c.mu.Unlock()
}

// OnClose registers the listener invoked once this channel's close
// sequence completes; err is non-nil for IO/protocol-triggered closes.
func (c *MessageChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *MessageChannel) hooks() keyprocessor.Hooks {
	return keyprocessor.Hooks{
		Connected: func(err error) {
			if err != nil {
				c.connectFuture.Fail(err)
				return
			}
			c.connectFuture.Resolve(struct{}{})
		},
		Closed: func(err error) {
			c.mu.Lock()
			onClose := c.onClose
			c.mu.Unlock()
			if err != nil {
				c.closeFuture.Fail(err)
			} else {
				c.closeFuture.Resolve(struct{}{})
			}
			if onClose != nil {
				onClose(err)
			}
		},
	}
}

func (c *MessageChannel) buildLimiters() (send, recv ratelimit.Limiter) {
	if c.cfg.RateBytesPerSec <= 0 {
		return ratelimit.Null, ratelimit.Null
	}
	return ratelimit.New(c.cfg.RateBytesPerSec), ratelimit.New(c.cfg.RateBytesPerSec)
}

// Bind begins accepting (TCP server) or begins receiving (UDP/UDP
// multicast) on local (spec §6).
func (c *MessageChannel) Bind(local string) *Future[struct{}] {
	fut := NewFuture[struct{}]()
	switch c.cfg.Transport {
	case TCP:
		c.bindTCP(local, fut)
	case UDP, UDPMulticast:
		c.bindUDP(local, fut)
	default:
		fut.Fail(fmt.Errorf("%w: unknown transport %v", ErrCapacity, c.cfg.Transport))
	}
	return fut
}

func (c *MessageChannel) bindTCP(local string, fut *Future[struct{}]) {
	ln, err := net.Listen("tcp", local)
	if err != nil {
		fut.Fail(fmt.Errorf("%w: %v", ErrChannelClosed, err))
		return
	}
	tcpLn := ln.(*net.TCPListener)
	if err := netio.SetNonblock(tcpLn); err != nil {
		ln.Close()
		fut.Fail(err)
		return
	}
	fd, err := netio.Fd(tcpLn)
	if err != nil {
		ln.Close()
		fut.Fail(err)
		return
	}

	c.mu.Lock()
	c.ln = ln
	c.mu.Unlock()

	acc := &tcpAcceptor{parent: c, listenerFd: fd}
	c.pool.Next().Bind(fd, acc, func(key *selector.Key, err error) {
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.Resolve(struct{}{})
	})
}

// tcpAcceptor implements selector.Acceptor: on ACCEPT readiness it
// drains pending connections with raw accept4 calls (bypassing
// net.Listener.Accept, which expects to own polling for this fd) and
// spins up a provider+processor+child MessageChannel per connection.
type tcpAcceptor struct {
	parent     *MessageChannel
	listenerFd int
}

func (a *tcpAcceptor) Accept(key *selector.Key) {
	for {
		childFd, _, err := unix.Accept4(a.listenerFd, unix.SOCK_NONBLOCK)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			return
		}
		a.spawnChild(key, childFd)
	}
}

func (a *tcpAcceptor) spawnChild(key *selector.Key, fd int) {
	parent := a.parent
	child := NewChannel(parent.pool, parent.cfg)

	prov, err := provider.New(parent.cfg.Capacity, parent.cfg.MaxFrameSize)
	if err != nil {
		unix.Close(fd)
		return
	}
	send, recv := child.buildLimiters()
	proc := keyprocessor.New(fd, prov, parent.cfg.Codec, send, recv, parent.cfg.MaxFrameSize, child.hooks())

	child.mu.Lock()
	child.prov = prov
	child.proc = proc
	child.mu.Unlock()

	key.Owner().Register(fd, proc, func(k *selector.Key, err error) {
		proc.SetKey(k)
		proc.Registered(key.Owner(), k, err)
		if err == nil {
			parent.mu.Lock()
			onAccept := parent.onAccept
			parent.mu.Unlock()
			if onAccept != nil {
				onAccept(child)
			}
		}
	})
}

func (c *MessageChannel) bindUDP(local string, fut *Future[struct{}]) {
	addr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		fut.Fail(err)
		return
	}
	pconn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		fut.Fail(fmt.Errorf("%w: %v", ErrChannelClosed, err))
		return
	}
	if err := netio.SetNonblock(pconn); err != nil {
		pconn.Close()
		fut.Fail(err)
		return
	}

	if c.cfg.Transport == UDPMulticast {
		group := net.ParseIP(c.cfg.MulticastGroup)
		if group == nil {
			pconn.Close()
			fut.Fail(fmt.Errorf("%w: invalid multicast group %q", ErrCapacity, c.cfg.MulticastGroup))
			return
		}
		var iface *net.Interface
		if c.cfg.MulticastIface != "" {
			iface, err = net.InterfaceByName(c.cfg.MulticastIface)
			if err != nil {
				pconn.Close()
				fut.Fail(err)
				return
			}
		}
		if err := netio.JoinMulticastGroup(pconn, group, iface); err != nil {
			pconn.Close()
			fut.Fail(err)
			return
		}
	}

	fd, err := netio.Fd(pconn)
	if err != nil {
		pconn.Close()
		fut.Fail(err)
		return
	}

	prov, err := provider.New(c.cfg.Capacity, c.cfg.MaxFrameSize)
	if err != nil {
		pconn.Close()
		fut.Fail(err)
		return
	}
	send, recv := c.buildLimiters()
	proc := keyprocessor.NewDatagram(fd, prov, send, recv, c.cfg.MaxFrameSize, c.hooks())

	c.mu.Lock()
	c.pconn = pconn
	c.prov = prov
	c.proc = proc
	c.mu.Unlock()

	sel := c.pool.Next()
	sel.Register(fd, proc, func(k *selector.Key, err error) {
		proc.SetKey(k)
		proc.Registered(sel, k, err)
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.Resolve(struct{}{})
	})
}

// Connect dials remote for a client channel (TCP only; spec §6).
func (c *MessageChannel) Connect(remote string) *Future[struct{}] {
	fut := c.connectFuture
	if c.cfg.Transport != TCP {
		fut.Fail(fmt.Errorf("%w: Connect is only defined for TCP channels", ErrCapacity))
		return fut
	}

	addr, err := net.ResolveTCPAddr("tcp", remote)
	if err != nil {
		fut.Fail(err)
		return fut
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		fut.Fail(err)
		return fut
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		fut.Fail(err)
		return fut
	}

	sa := &unix.SockaddrInet4{Port: addr.Port}
	if v4 := addr.IP.To4(); v4 != nil {
		copy(sa.Addr[:], v4)
	}

	prov, err := provider.New(c.cfg.Capacity, c.cfg.MaxFrameSize)
	if err != nil {
		unix.Close(fd)
		fut.Fail(err)
		return fut
	}
	send, recv := c.buildLimiters()
	proc := keyprocessor.New(fd, prov, c.cfg.Codec, send, recv, c.cfg.MaxFrameSize, c.hooks())

	c.mu.Lock()
	c.prov = prov
	c.proc = proc
	c.mu.Unlock()

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		fut.Fail(fmt.Errorf("%w: %v", ErrIO, err))
		return fut
	}

	c.pool.Next().Connect(fd, proc, func(k *selector.Key, err error) {
		proc.SetKey(k)
		if err != nil {
			fut.Fail(err)
		}
	})
	return fut
}

// Addr returns the local address a bound server channel is listening
// or receiving on, or nil if the channel hasn't been bound.
func (c *MessageChannel) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln != nil {
		return c.ln.Addr()
	}
	if c.pconn != nil {
		return c.pconn.LocalAddr()
	}
	return nil
}

// GetInputBuffer returns the channel's Provider; the application
// consumes inbound messages from its In ring (spec §6).
func (c *MessageChannel) GetInputBuffer() *provider.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prov
}

// GetOutputBuffer returns the app->channel ring the application
// publishes outbound messages to (spec §6). It is the same Provider as
// GetInputBuffer; callers use Provider.Out to produce and Provider.In to
// consume.
func (c *MessageChannel) GetOutputBuffer() *provider.Provider {
	return c.GetInputBuffer()
}

// ConnectFuture resolves once this channel finishes connecting/accepting
// registration (spec §3: "connection future (resolves when both read and
// write keys are registered)").
func (c *MessageChannel) ConnectFuture() *Future[struct{}] { return c.connectFuture }

// CloseFuture resolves once this channel's close sequence completes.
func (c *MessageChannel) CloseFuture() *Future[struct{}] { return c.closeFuture }

// Close begins the close sequence of spec §4.4 and returns its future.
func (c *MessageChannel) Close() *Future[struct{}] {
	c.mu.Lock()
	proc := c.proc
	ln := c.ln
	pconn := c.pconn
	c.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if pconn != nil {
		pconn.Close()
	}
	if proc == nil {
		c.closeFuture.Resolve(struct{}{})
		return c.closeFuture
	}
	proc.Close()
	return c.closeFuture
}

var _ codec.Codec = codec.LengthPrefixed{}
