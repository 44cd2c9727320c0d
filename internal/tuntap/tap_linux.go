// Package tuntap opens a Linux TAP device for the demo binary. The core
// data plane only ever needs a raw file descriptor (spec.md §6); this
// package is how cmd/linkmeshd gets one from the kernel.
package tuntap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunDevice = "/dev/net/tun"
	ifNameSz  = 16
)

type ifReq struct {
	name  [ifNameSz]byte
	flags uint16
	_     [22]byte // pad to the kernel's struct ifreq size
}

// Open creates (or attaches to) a TAP interface named name and
// returns its non-blocking, close-on-exec file descriptor.
func Open(name string) (int, error) {
	if len(name) >= ifNameSz {
		return -1, fmt.Errorf("tuntap: interface name %q too long", name)
	}

	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("tuntap: open %s: %w", tunDevice, err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = unix.IFF_TAP | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return -1, fmt.Errorf("tuntap: TUNSETIFF %q: %w", name, errno)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tuntap: set non-blocking: %w", err)
	}

	return fd, nil
}
