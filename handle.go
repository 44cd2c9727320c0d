//go:build linux

// Package linkmesh implements a user-space, multi-link virtual network
// data plane: opaque frames handed in on a local tap-style descriptor are
// fanned out across UDP links to peer nodes according to a per-peer
// policy, while a heartbeat continuously probes path liveness and a
// link-handler worker keeps each peer's active-link set current.
package linkmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"linkmesh/internal/dataplane"
	"linkmesh/internal/linkset"
	"linkmesh/internal/registry"
	"linkmesh/internal/transport"
	"linkmesh/internal/wire"
	"linkmesh/internal/xform"
)

// ErrBusy is returned by Free when hosts remain registered (spec.md §4.1,
// §7: "Busy (handle free with live resources) — surfaced, non-destructive").
var ErrBusy = errors.New("linkmesh: handle busy, hosts still registered")

// Handle is the process-wide runtime context: one local node id, one tap
// fd, one host/link registry, one notification pipe, and the four
// cooperating worker loops (spec.md §3). Created once via New, destroyed
// once via Free.
type Handle struct {
	localID registry.NodeID
	tapFd   int
	clock   wire.MonoClock

	reg  *registry.Registry
	pipe *transport.Pipe

	forwarder   *dataplane.Forwarder
	receiver    *dataplane.Receiver
	heartbeat   *dataplane.Heartbeat
	linkHandler *dataplane.LinkHandler

	enabled atomic.Bool
	xform   xform.Transform

	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	// closers unwinds resource acquisitions in strict reverse order, per
	// the process's re-architecture note on goto-based unwinding
	// (spec.md §9): each append happens right after a successful
	// acquisition, so a later failure unwinds exactly what succeeded.
	closers []func() error
}

// notifierAdapter satisfies registry.Notifier by forwarding to the
// handle's notification pipe, translating NodeID to the pipe's raw
// uint16 wire form.
type notifierAdapter struct{ pipe *transport.Pipe }

func (n notifierAdapter) Notify(id registry.NodeID) error { return n.pipe.Notify(uint16(id)) }

// New validates cfg, allocates the runtime context, and starts the four
// worker tasks in the order link-handler, tap→links, recv-from-links,
// heartbeat (spec.md §4.1). Any failure unwinds all earlier acquisitions.
func New(cfg Config) (h *Handle, err error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h = &Handle{
		localID: cfg.LocalID,
		tapFd:   cfg.TapFd,
		clock:   wire.NewMonoClock(),
		xform:   cfg.Transform,
		logger:  logger,
	}
	h.enabled.Store(false)

	// The error returns below set h to nil, so unwind through a copy.
	created := h
	defer func() {
		if err != nil {
			created.unwind()
		}
	}()

	pipe, err := transport.NewPipe()
	if err != nil {
		return nil, fmt.Errorf("linkmesh: create notification pipe: %w", err)
	}
	h.pipe = pipe
	h.pushCloser(pipe.Close)

	h.reg = registry.New(notifierAdapter{pipe: pipe})

	linkHandler, err := dataplane.NewLinkHandler(pipe, h.reg, logger)
	if err != nil {
		return nil, err
	}
	h.linkHandler = linkHandler
	h.pushCloser(linkHandler.Close)

	forwarder, err := dataplane.NewForwarder(cfg.TapFd, cfg.LocalID, h.reg, &h.enabled, logger)
	if err != nil {
		return nil, err
	}
	forwarder.SetTransform(cfg.Transform)
	forwarder.SetFilter(cfg.Filter)
	h.forwarder = forwarder
	h.pushCloser(forwarder.Close)

	receiver, err := dataplane.NewReceiver(cfg.TapFd, cfg.LocalID, h.reg, &h.enabled, h.clock, pipe, logger)
	if err != nil {
		return nil, err
	}
	receiver.SetTransform(cfg.Transform)
	receiver.SetFilter(cfg.Filter)
	h.receiver = receiver
	h.pushCloser(receiver.Close)

	h.heartbeat = dataplane.NewHeartbeat(cfg.LocalID, h.reg, h.clock, pipe, logger)
	h.heartbeat.SetTransform(cfg.Transform)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	h.group = group

	group.Go(func() error { return h.linkHandler.Run(gctx) })
	group.Go(func() error { return h.forwarder.Run(gctx) })
	group.Go(func() error { return h.receiver.Run(gctx) })
	group.Go(func() error { return h.heartbeat.Run(gctx) })
	h.running = true

	return h, nil
}

func (h *Handle) pushCloser(fn func() error) {
	h.closers = append(h.closers, fn)
}

func (h *Handle) unwind() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			h.logger.Debug("unwind: closer failed", "error", err)
		}
	}
	h.closers = nil
}

// Free refuses to proceed while any host remains registered; otherwise it
// cancels the four workers together, waits for all of them to exit, and
// then releases every resource acquired by New in reverse order of
// acquisition (spec.md §4.1). The workers are not stopped one by one in
// reverse start order.
func (h *Handle) Free() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}

	h.reg.RLock()
	n := len(h.reg.SnapshotLocked())
	h.reg.RUnlock()
	if n > 0 {
		return ErrBusy
	}

	h.cancel()
	if err := h.group.Wait(); err != nil {
		h.logger.Debug("worker exited with error during shutdown", "error", err)
	}

	h.unwind()
	h.running = false
	return nil
}

// Enable turns on data forwarding.
func (h *Handle) Enable() { h.enabled.Store(true) }

// Disable turns off data forwarding; inbound and outbound DATA frames are
// dropped while disabled (PING/PONG still run, since they drive liveness
// independent of the forwarding flag).
func (h *Handle) Disable() { h.enabled.Store(false) }

// Enabled reports whether data forwarding is currently on.
func (h *Handle) Enabled() bool { return h.enabled.Load() }

// ErrForwardingEnabled is returned by SetTransform while forwarding is on.
var ErrForwardingEnabled = errors.New("linkmesh: cannot change transform while forwarding is enabled")

// SetTransform installs a new cryptographic transform. Forbidden while
// forwarding is enabled (spec.md §4.1).
func (h *Handle) SetTransform(t xform.Transform) error {
	if h.enabled.Load() {
		return ErrForwardingEnabled
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.xform = t
	h.forwarder.SetTransform(t)
	h.receiver.SetTransform(t)
	h.heartbeat.SetTransform(t)
	return nil
}

// AddHost registers a new peer node.
func (h *Handle) AddHost(id registry.NodeID, name string, policy registry.Policy) error {
	_, err := h.reg.InsertHost(id, name, policy)
	return err
}

// RemoveHost deregisters a peer node. All of its link sockets should be
// closed by the caller beforehand via RemoveLink.
func (h *Handle) RemoveHost(id registry.NodeID) error {
	return h.reg.RemoveHost(id)
}

// LinkOptions configures one UDP path to a host.
type LinkOptions struct {
	Local        *net.UDPAddr
	Remote       *net.UDPAddr
	Priority     uint8
	PingInterval time.Duration
	PongTimeout  time.Duration
	Precision    int64
	Dynamic      bool
}

// AddLink opens a connected, non-blocking UDP socket for host/link,
// registers it on the receiver's epoll set, and configures the link's
// static parameters, including the fd itself, under the registry's write
// lock. The link starts disabled; call EnableLink to make it eligible for
// the active-link recomputer.
func (h *Handle) AddLink(host registry.NodeID, link registry.LinkID, opts LinkOptions) error {
	fd, err := transport.OpenLink(opts.Local, opts.Remote)
	if err != nil {
		return err
	}
	if err := h.receiver.Attach(fd); err != nil {
		unix.Close(fd)
		return fmt.Errorf("linkmesh: attach link to receiver: %w", err)
	}

	if err := h.reg.ConfigureLink(host, link, registry.LinkConfig{
		Fd:           fd,
		RemoteAddr:   opts.Remote,
		Priority:     opts.Priority,
		PingInterval: opts.PingInterval,
		PongTimeout:  opts.PongTimeout,
		Precision:    opts.Precision,
		Dynamic:      opts.Dynamic,
	}); err != nil {
		h.receiver.Detach(fd)
		unix.Close(fd)
		return err
	}
	return nil
}

// EnableLink flips a link's operator-controlled enable flag (spec.md
// §4.2). Safe to call concurrently with the data plane.
func (h *Handle) EnableLink(host registry.NodeID, link registry.LinkID, enabled bool) error {
	return h.reg.EnableLink(host, link, enabled)
}

// RemoveLink strips a link from its host's active-link vector under the
// registry's write lock — the same structural-change discipline
// InsertHost/RemoveHost use — before closing its socket. EnableLink alone
// is not enough here: it only queues an async recompute for the
// link-handler, leaving a window in which the forwarder (holding only the
// read lock) could still write to the fd this call is about to close.
func (h *Handle) RemoveLink(host registry.NodeID, link registry.LinkID) error {
	h.reg.Lock()
	hst := h.reg.LookupLocked(host)
	if hst == nil {
		h.reg.Unlock()
		return fmt.Errorf("linkmesh: remove link: %w: node %d", registry.ErrHostNotFound, host)
	}
	l := &hst.Links[link]
	fd := l.Fd
	if fd < 0 {
		h.reg.Unlock()
		return nil
	}
	l.SetConfigured(false)
	l.SetConnected(false)
	l.SetFd(-1)
	linkset.Recompute(hst)
	h.reg.Unlock()

	h.receiver.Detach(fd)
	unix.Close(fd)
	return nil
}
