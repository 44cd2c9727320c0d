package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrHostExists is returned by InsertHost when the node id is already
// registered.
var ErrHostExists = errors.New("registry: host already exists")

// ErrHostNotFound is returned when a node id has no registered host.
var ErrHostNotFound = errors.New("registry: host not found")

// ErrNoSuchLink is returned when a link id is outside MaxLinks.
var ErrNoSuchLink = errors.New("registry: link id out of range")

// Registry is the handle-wide host/link arena: one reader-writer lock
// protects the entire structure (spec.md §5). Readers are the tap→links
// forwarder, the recv-from-links receiver, and the heartbeat worker; the
// sole writer is the link-handler.
type Registry struct {
	mu       sync.RWMutex
	order    []NodeID
	index    map[NodeID]*Host
	notifier Notifier
}

// New creates an empty registry. notifier is used by EnableLink to signal
// the link-handler after a disable, per spec.md §4.2.
func New(notifier Notifier) *Registry {
	return &Registry{
		index:    make(map[NodeID]*Host),
		notifier: notifier,
	}
}

// RLock/RUnlock/Lock/Unlock expose the registry's lock directly to the
// worker loops, which hold it across an entire datagram or reconfiguration
// (spec.md §5: "the receiver always holds the read lock for the entire
// processing of a datagram").
func (r *Registry) RLock()   { r.mu.RLock() }
func (r *Registry) RUnlock() { r.mu.RUnlock() }
func (r *Registry) Lock()    { r.mu.Lock() }
func (r *Registry) Unlock()  { r.mu.Unlock() }

// InsertHost adds a new host to the registry. It takes the write lock
// itself, so it waits for any worker holding the read lock and must not be
// called while the caller already holds the registry lock.
func (r *Registry) InsertHost(id NodeID, name string, policy Policy) (*Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return nil, fmt.Errorf("%w: node %d", ErrHostExists, id)
	}
	h := &Host{ID: id, Name: name, Policy: policy}
	for i := range h.Links {
		h.Links[i].ID = LinkID(i)
		h.Links[i].Fd = -1
	}
	r.index[id] = h
	r.order = append(r.order, id)
	return h, nil
}

// RemoveHost deletes a host from the registry.
func (r *Registry) RemoveHost(id NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return fmt.Errorf("%w: node %d", ErrHostNotFound, id)
	}
	delete(r.index, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// LookupLocked returns the host for id, or nil. The caller must already
// hold the registry lock (read or write); this is the O(1) host_index
// lookup spec.md §3 requires.
func (r *Registry) LookupLocked(id NodeID) *Host {
	return r.index[id]
}

// SnapshotLocked returns the current hosts in registration order. The caller
// must already hold the registry lock.
func (r *Registry) SnapshotLocked() []*Host {
	out := make([]*Host, 0, len(r.order))
	for _, id := range r.order {
		if h, ok := r.index[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// ConfigureLink sets a link's static parameters under the write lock.
func (r *Registry) ConfigureLink(host NodeID, link LinkID, cfg LinkConfig) error {
	if int(link) >= MaxLinks {
		return ErrNoSuchLink
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.index[host]
	if !ok {
		return fmt.Errorf("%w: node %d", ErrHostNotFound, host)
	}
	l := &h.Links[link]
	l.Configure(cfg.Priority, cfg.PingInterval, cfg.PongTimeout, cfg.Precision, cfg.Dynamic)
	l.SetRemoteAddr(cfg.RemoteAddr)
	l.SetFd(cfg.Fd)
	return nil
}

// EnableLink flips a link's operator-controlled Configured flag. This is
// the only registry operation that may run concurrently with the data
// plane (spec.md §4.2): it does not take the write lock, only the read
// lock to safely look up the host. On disable, it notifies the
// link-handler so the active-link vector is recomputed.
func (r *Registry) EnableLink(host NodeID, link LinkID, enabled bool) error {
	if int(link) >= MaxLinks {
		return ErrNoSuchLink
	}
	r.mu.RLock()
	h, ok := r.index[host]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: node %d", ErrHostNotFound, host)
	}

	l := &h.Links[link]
	l.SetConfigured(enabled)
	if enabled {
		return nil
	}
	if r.notifier == nil {
		return nil
	}
	if err := r.notifier.Notify(host); err != nil {
		return fmt.Errorf("registry: notify link-handler after disable: %w", err)
	}
	return nil
}

// LinkConfig bundles a link's static configuration for ConfigureLink.
type LinkConfig struct {
	// Fd is the link's connected, non-blocking UDP socket. Set under the
	// same write-lock section as the rest of the link's configuration, so
	// a concurrent reader never observes a configured link with no fd.
	Fd           int
	RemoteAddr   *net.UDPAddr
	Priority     uint8
	PingInterval time.Duration
	PongTimeout  time.Duration
	Precision    int64
	Dynamic      bool
}
