// Package netio holds the low-level socket-tuning helpers the selector
// and key processor need beyond what net.Conn exposes directly: raw fd
// access for setsockopt calls and multicast group membership. Grounded
// on the socket-tuning style of a UDP-server example observed in the
// retrieval pack (SO_REUSEPORT plus explicit multicast joins via
// golang.org/x/sys/unix rather than the abstracted net package, since
// the selector needs to manage readiness itself).
package netio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// RawConn is satisfied by the *net.TCPConn / *net.UDPConn types the
// channel package wraps; it's the minimal surface netio needs to reach
// the underlying file descriptor.
type RawConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// Fd extracts the underlying file descriptor from a net.Conn/PacketConn,
// for use in setsockopt calls the standard library doesn't expose.
func Fd(c RawConn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("netio: syscall conn: %w", err)
	}
	var fd int
	var controlErr error
	err = raw.Control(func(rawFd uintptr) {
		fd = int(rawFd)
	})
	if err != nil {
		return -1, fmt.Errorf("netio: control: %w", err)
	}
	if controlErr != nil {
		return -1, controlErr
	}
	return fd, nil
}

// SetReuseAddrPort sets SO_REUSEADDR and, where available, SO_REUSEPORT
// on the listener's fd, letting the selector pool bind multiple
// listeners to the same port for load distribution across workers.
func SetReuseAddrPort(c RawConn) error {
	fd, err := Fd(c)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("netio: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("netio: SO_REUSEPORT: %w", err)
	}
	return nil
}

// JoinMulticastGroup adds membership in group on the interface bound to
// iface (nil selects the default interface) for a UDP socket, via
// IP_ADD_MEMBERSHIP. Used by the UDP_MULTICAST key processor variant.
func JoinMulticastGroup(c RawConn, group net.IP, iface *net.Interface) error {
	fd, err := Fd(c)
	if err != nil {
		return err
	}
	groupV4 := group.To4()
	if groupV4 == nil {
		return fmt.Errorf("netio: only IPv4 multicast groups are supported, got %s", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], groupV4)
	if iface != nil {
		addrs, err := iface.Addrs()
		if err != nil {
			return fmt.Errorf("netio: interface addrs: %w", err)
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				if v4 := ipNet.IP.To4(); v4 != nil {
					copy(mreq.Interface[:], v4)
					break
				}
			}
		}
	}
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("netio: IP_ADD_MEMBERSHIP: %w", err)
	}
	return nil
}

// LeaveMulticastGroup drops membership added by JoinMulticastGroup.
func LeaveMulticastGroup(c RawConn, group net.IP) error {
	fd, err := Fd(c)
	if err != nil {
		return err
	}
	groupV4 := group.To4()
	if groupV4 == nil {
		return fmt.Errorf("netio: only IPv4 multicast groups are supported, got %s", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], groupV4)
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("netio: IP_DROP_MEMBERSHIP: %w", err)
	}
	return nil
}

// SetNonblock puts fd in non-blocking mode, required before handing it
// to the epoll-based selector.
func SetNonblock(c RawConn) error {
	fd, err := Fd(c)
	if err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}
