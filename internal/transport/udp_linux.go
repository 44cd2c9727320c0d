// Package transport creates the raw, non-blocking, close-on-exec sockets
// the data plane multiplexes with epoll (spec.md §3, §5): one connected UDP
// socket per link and the internal notification pipe. Everything here is a
// thin layer over golang.org/x/sys/unix; the event loops in
// internal/dataplane own the actual read/write hot paths.
package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// OpenLink creates a non-blocking, close-on-exec UDP socket bound to local
// (if non-nil) and connected to remote, returning its raw file descriptor.
// A connected UDP socket lets the data plane use plain read/write instead
// of recvfrom/sendto, matching spec.md §4.3's "connected UDP socket" link
// model.
func OpenLink(local, remote *net.UDPAddr) (int, error) {
	family := unix.AF_INET
	if remote.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("transport: open link socket: %w", err)
	}

	if local != nil {
		sa, err := sockaddr(local)
		if err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("transport: resolve local address: %w", err)
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("transport: bind local address: %w", err)
		}
	}

	if err := Reconnect(fd, remote); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Reconnect sets an already-open link socket's default peer. OpenLink uses
// it for the initial connect; calling it again on an open socket changes
// the peer. No worker calls it to relearn a Dynamic link's address.
func Reconnect(fd int, remote *net.UDPAddr) error {
	sa, err := sockaddr(remote)
	if err != nil {
		return fmt.Errorf("transport: resolve remote address: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		return fmt.Errorf("transport: connect link socket: %w", err)
	}
	return nil
}

func sockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("transport: invalid IP %v", addr.IP)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}
