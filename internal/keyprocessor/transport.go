package keyprocessor

import (
	"net"

	"golang.org/x/sys/unix"
)

// transport is the raw-fd read/write primitive a processor drives. TCP
// is a byte stream with no per-read peer address; UDP/multicast are
// datagram-oriented and report the sender's address on every read (used
// as the slot attachment, spec §3's "attachment array").
//
// Reads and writes go directly through unix syscalls on the raw fd
// rather than through net.Conn.Read/Write: the fd was already put in
// non-blocking mode and handed to our own epoll instance, and Go's
// net.Conn machinery assumes it alone owns blocking/readiness handling
// for that fd. Bypassing it here is what makes a hand-rolled selector
// loop possible at all.
type transport interface {
	read(buf []byte) (n int, peer unix.Sockaddr, err error)
	write(buf []byte, peer unix.Sockaddr) (n int, err error)
	close() error
}

type tcpTransport struct {
	fd int
}

func (t *tcpTransport) read(buf []byte) (int, unix.Sockaddr, error) {
	n, err := unix.Read(t.fd, buf)
	return n, nil, err
}

func (t *tcpTransport) write(buf []byte, _ unix.Sockaddr) (int, error) {
	return unix.Write(t.fd, buf)
}

func (t *tcpTransport) close() error {
	return unix.Close(t.fd)
}

type udpTransport struct {
	fd int
}

func (t *udpTransport) read(buf []byte) (int, unix.Sockaddr, error) {
	n, from, err := unix.Recvfrom(t.fd, buf, 0)
	return n, from, err
}

func (t *udpTransport) write(buf []byte, peer unix.Sockaddr) (int, error) {
	if peer == nil {
		return unix.Write(t.fd, buf)
	}
	err := unix.Sendto(t.fd, buf, 0, peer)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// close is a no-op: the datagram fd is always backed by a net.PacketConn
// the caller pins and owns the lifecycle of (see channel.go's bindUDP),
// to avoid the Go runtime's socket finalizer and an explicit close here
// racing on the same fd number.
func (t *udpTransport) close() error {
	return nil
}

// sockaddrToUDPAddr converts a raw sockaddr (as returned by Recvfrom)
// into a *net.UDPAddr for use as a ring slot attachment.
func sockaddrToUDPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

// udpAddrToSockaddr converts a *net.UDPAddr destination into the raw
// sockaddr Sendto needs.
func udpAddrToSockaddr(addr *net.UDPAddr) unix.Sockaddr {
	if addr == nil {
		return nil
	}
	if v4 := addr.IP.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], v4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa
}
