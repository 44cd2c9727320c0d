package wire

import (
	"encoding/binary"
	"time"
)

// Timestamp is the wire form of the "monotonic struct" field carried by
// PING/PONG frames: a (seconds, nanoseconds) pair measured against a single
// node's private monotonic epoch. It is opaque to every node but the one
// that minted it — PONG handlers echo it back unchanged, and only the
// original sender ever subtracts it from anything.
type Timestamp struct {
	Sec  uint64
	Nsec uint64
}

func (t Timestamp) appendTo(dst []byte) []byte {
	var b [sizeTimestamp]byte
	binary.BigEndian.PutUint64(b[0:8], t.Sec)
	binary.BigEndian.PutUint64(b[8:16], t.Nsec)
	return append(dst, b[:]...)
}

func parseTimestamp(src []byte) (Timestamp, int, error) {
	if len(src) < sizeTimestamp {
		return Timestamp{}, 0, ErrShortBuffer
	}
	return Timestamp{
		Sec:  binary.BigEndian.Uint64(src[0:8]),
		Nsec: binary.BigEndian.Uint64(src[8:16]),
	}, sizeTimestamp, nil
}

// Duration returns the elapsed time represented by t, treating it as a
// duration since some epoch (rather than a calendar time).
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec)
}

// Sub returns t-u as a duration. Both must be Timestamps minted by the same
// node's MonoClock; subtracting Timestamps from different nodes is
// meaningless, which is why the core never does it (see §4.4 PONG handling).
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return t.Duration() - u.Duration()
}

// MonoClock hands out Timestamps measured against a private start instant,
// giving every node an internally-consistent monotonic clock without
// depending on OS-specific monotonic clock plumbing being meaningful across
// the wire (it never is — only round trips on the minting node matter).
type MonoClock struct {
	start time.Time
}

// NewMonoClock creates a clock whose epoch is "now".
func NewMonoClock() MonoClock {
	return MonoClock{start: time.Now()}
}

// Now returns the current Timestamp relative to the clock's epoch.
func (c MonoClock) Now() Timestamp {
	d := time.Since(c.start)
	return Timestamp{
		Sec:  uint64(d / time.Second),
		Nsec: uint64(d % time.Second),
	}
}
