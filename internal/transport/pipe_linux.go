package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// MaxRetry bounds the retry loop on EAGAIN/EWOULDBLOCK for the notification
// pipe (spec.md §4.2, §5, and §9 open question 2: the retry must be
// conditioned on the actual errno, not an unconditional loop).
const MaxRetry = 10

// ErrWouldBlockPersisted is returned when a pipe write still would-block
// after MaxRetry attempts.
var ErrWouldBlockPersisted = errors.New("transport: pipe write would-block persisted")

// Pipe is the internal notification pipe: producers (the receiver, the
// heartbeat worker, and Registry.EnableLink through the handle's adapter)
// post node ids with Notify; the link-handler worker reads them back via
// epoll on ReadFd.
type Pipe struct {
	readFd  int
	writeFd int
}

// NewPipe creates a pipe with both ends non-blocking and close-on-exec.
func NewPipe() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("transport: create notification pipe: %w", err)
	}
	return &Pipe{readFd: fds[0], writeFd: fds[1]}, nil
}

// ReadFd is the end the link-handler worker registers on its epoll set.
func (p *Pipe) ReadFd() int { return p.readFd }

// Notify writes id's 16-bit value to the pipe, retrying up to MaxRetry
// times when the write would-block. The receiver and heartbeat workers call
// it directly; the handle wraps it in an adapter that serves as the
// registry's Notifier.
func (p *Pipe) Notify(id uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], id)

	remaining := buf[:]
	for attempt := 0; attempt < MaxRetry && len(remaining) > 0; attempt++ {
		n, err := unix.Write(p.writeFd, remaining)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			return fmt.Errorf("transport: write notification pipe: %w", err)
		}
		remaining = remaining[n:]
	}
	if len(remaining) > 0 {
		return ErrWouldBlockPersisted
	}
	return nil
}

// ReadNodeID reads one pending node id notification. A short read (pipe
// closed mid-write, or a stray wakeup) is reported via ok=false with no
// error, matching spec.md §4.7's "short reads drop the event".
func (p *Pipe) ReadNodeID() (id uint16, ok bool, err error) {
	var buf [2]byte
	n, err := unix.Read(p.readFd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("transport: read notification pipe: %w", err)
	}
	if n != len(buf) {
		return 0, false, nil
	}
	return binary.BigEndian.Uint16(buf[:]), true, nil
}

// Close closes both ends of the pipe.
func (p *Pipe) Close() error {
	err1 := unix.Close(p.readFd)
	err2 := unix.Close(p.writeFd)
	if err1 != nil {
		return err1
	}
	return err2
}
