// Package epollset wraps a single Linux epoll instance, the primitive three
// of the four worker loops block on (spec.md §2, §5): the tap→links
// forwarder waits on the tap fd, the recv-from-links receiver waits on all
// link fds, and the link-handler waits on the notification pipe's read end.
// The heartbeat worker uses a ticker instead.
package epollset

import (
	"golang.org/x/sys/unix"
)

// Set is a thin, non-generic wrapper over one epoll file descriptor.
type Set struct {
	fd    int
	ready []int // scratch, reused by Wait across calls to avoid a hot-path allocation
}

// New creates a close-on-exec epoll instance.
func New() (*Set, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Set{fd: fd}, nil
}

// Add registers fd for the given event mask (e.g. unix.EPOLLIN), tagging
// the event with fd itself so Wait can report which descriptor fired.
func (s *Set) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Remove deregisters fd.
func (s *Set) Remove(fd int) error {
	return unix.EpollCtl(s.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready, timeoutMS < 0
// meaning "forever", and returns the ready file descriptors. The returned
// slice is owned by s and is only valid until the next call to Wait.
func (s *Set) Wait(buf []unix.EpollEvent, timeoutMS int) ([]int, error) {
	n, err := unix.EpollWait(s.fd, buf, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	s.ready = s.ready[:0]
	for i := 0; i < n; i++ {
		s.ready = append(s.ready, int(buf[i].Fd))
	}
	return s.ready, nil
}

// Close releases the epoll file descriptor.
func (s *Set) Close() error {
	return unix.Close(s.fd)
}
