// Package registry implements the host/link registry (spec.md §3, §4.2):
// an arena of peer hosts keyed by 16-bit node id, each owning up to
// MaxLinks UDP links, protected by a single reader-writer lock. Per the
// process's re-architecture note for "shared mutable graph with
// back-pointers", hosts and links are addressed by stable integer ids
// (NodeID, LinkID) rather than raw pointers escaping the lock's protection.
package registry

import (
	"net"
	"sync/atomic"
	"time"
)

// MaxLinks bounds the number of links a single host may have, matching the
// fixed-capacity array the data model specifies.
const MaxLinks = 8

// NodeID identifies a peer host.
type NodeID uint16

// LinkID identifies a link within its owning host.
type LinkID uint8

// Policy selects how a host's active-link vector is shaped and consumed.
type Policy uint8

const (
	// Passive sends on exactly one link: the highest-priority configured
	// and connected link.
	Passive Policy = iota
	// RoundRobin sends on one link per frame, rotating through all
	// configured and connected links in turn.
	RoundRobin
	// Active sends on every configured and connected link simultaneously.
	Active
)

func (p Policy) String() string {
	switch p {
	case Passive:
		return "passive"
	case RoundRobin:
		return "round_robin"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Notifier posts a liveness-change or enable/disable notification for a
// host onto the link-handler's queue. Implementations must never block
// indefinitely; spec.md bounds retry at 10 attempts on transient pressure.
type Notifier interface {
	Notify(id NodeID) error
}

// Link is one UDP path to one host. Connected is written by workers holding
// only the registry's read lock (the receiver and the heartbeat worker), per
// the single-writer discipline in spec.md §5: it is a single-value
// transition, and the link-handler re-reads it under the write lock before
// the active-link vector is rebuilt. RemoteAddr can be swapped with
// SetRemoteAddr without the write lock. Both are therefore atomic rather
// than plain fields so concurrent readers never observe a torn value.
type Link struct {
	ID LinkID

	// Fd is the link's non-blocking connected UDP socket, opened and
	// registered on the recv-from-links epoll set by the handle
	// orchestrator (spec.md §4.1). -1 means the link has no socket yet.
	Fd         int
	remoteAddr atomic.Pointer[net.UDPAddr]

	// Dynamic marks a link whose remote address may change after
	// configuration (supplemented from kronosnet's KNET_LINK_DYN_, absent
	// from spec.md's static Link model). The flag is only stored: no worker
	// reads it, and the receiver does not learn addresses from inbound
	// datagrams.
	Dynamic bool

	configured atomic.Bool
	connected  atomic.Bool

	Priority uint8

	PingInterval time.Duration
	PongTimeout  time.Duration

	// latencyFix/latencyExp are the EWMA weights derived from PingInterval
	// and the configured precision (spec.md §4.5). Set once at Configure
	// time and read-only afterward, so no synchronization is needed.
	latencyFix int64
	latencyExp int64

	latencyUS  atomic.Int64
	pingLastNS atomic.Int64 // nanoseconds since the handle's MonoClock epoch
	pongLastNS atomic.Int64
}

// Configured reports the operator-controlled enable/disable flag.
func (l *Link) Configured() bool { return l.configured.Load() }

// SetConfigured flips the operator-controlled flag. Safe to call
// concurrently with the data plane (spec.md §4.2).
func (l *Link) SetConfigured(v bool) { l.configured.Store(v) }

// Connected reports the liveness-controlled flag.
func (l *Link) Connected() bool { return l.connected.Load() }

// SetConnected flips the liveness-controlled flag. Called by the receiver
// (to true) and the heartbeat worker (to false), both under the registry's
// read lock only.
func (l *Link) SetConnected(v bool) { l.connected.Store(v) }

// SetFd installs the link's connected, non-blocking UDP socket. Called by
// the handle orchestrator once the socket is created and registered on the
// recv-from-links epoll set.
func (l *Link) SetFd(fd int) { l.Fd = fd }

// RemoteAddr returns the link's current destination address.
func (l *Link) RemoteAddr() *net.UDPAddr { return l.remoteAddr.Load() }

// SetRemoteAddr updates the link's recorded destination address.
// Registry.ConfigureLink sets it at configuration time; no worker calls it,
// and it does not reconnect the link's socket.
func (l *Link) SetRemoteAddr(addr *net.UDPAddr) { l.remoteAddr.Store(addr) }

// LatencyMicros returns the current EWMA latency estimate, in microseconds.
func (l *Link) LatencyMicros() int64 { return l.latencyUS.Load() }

// PingLast returns nanoseconds-since-epoch of the last successful ping send.
func (l *Link) PingLast() int64 { return l.pingLastNS.Load() }

// PongLast returns nanoseconds-since-epoch of the last pong receipt.
func (l *Link) PongLast() int64 { return l.pongLastNS.Load() }
