package dataplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"linkmesh/internal/epollset"
	"linkmesh/internal/registry"
	"linkmesh/internal/wire"
	"linkmesh/internal/xform"
)

// MaxPacket bounds the size of a single tap read and, by extension, the
// payload region of the plaintext scratch buffer (spec.md §3).
const MaxPacket = 65536

// pollTimeoutMS is how long each worker's epoll_wait blocks before
// re-checking its context, bounding shutdown latency without a dedicated
// cancellation fd registered alongside the data fds.
const pollTimeoutMS = 250

// Forwarder is the tap→links worker (spec.md §4.3): it reads payloads off
// the local tap fd, tags them with a sequence number, optionally seals
// them, and transmits on the destination hosts' active links.
type Forwarder struct {
	tapFd   int
	localID registry.NodeID
	reg     *registry.Registry
	enabled *atomic.Bool

	poller *epollset.Set

	xform  xform.Transform
	filter DestinationFilter

	bcastSeq atomic.Uint32

	readBuf   []byte
	plainBuf  []byte
	cipherBuf []byte

	logger *slog.Logger
}

// NewForwarder creates the tap→links worker and registers tapFd on its own
// epoll set.
func NewForwarder(tapFd int, localID registry.NodeID, reg *registry.Registry, enabled *atomic.Bool, logger *slog.Logger) (*Forwarder, error) {
	poller, err := epollset.New()
	if err != nil {
		return nil, fmt.Errorf("dataplane: forwarder epoll: %w", err)
	}
	if err := poller.Add(tapFd, unix.EPOLLIN); err != nil {
		poller.Close()
		return nil, fmt.Errorf("dataplane: register tap fd: %w", err)
	}
	return &Forwarder{
		tapFd:     tapFd,
		localID:   localID,
		reg:       reg,
		enabled:   enabled,
		poller:    poller,
		readBuf:   make([]byte, MaxPacket-wire.HeaderSize),
		plainBuf:  make([]byte, 0, wire.HeaderSize+MaxPacket),
		cipherBuf: make([]byte, 0, wire.HeaderSize+MaxPacket+64),
		logger:    logger,
	}, nil
}

// SetTransform installs the cryptographic transform. Must not be called
// concurrently with Run (spec.md §4.1: forbidden while forwarding enabled).
func (f *Forwarder) SetTransform(t xform.Transform) { f.xform = t }

// SetFilter installs the destination-filter callback.
func (f *Forwarder) SetFilter(fn DestinationFilter) { f.filter = fn }

// Close releases the forwarder's epoll set. Does not close tapFd, which the
// handle owns.
func (f *Forwarder) Close() error { return f.poller.Close() }

// Run blocks processing tap readiness events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 4)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ready, err := f.poller.Wait(events, pollTimeoutMS)
		if err != nil {
			return fmt.Errorf("dataplane: forwarder epoll wait: %w", err)
		}
		for range ready {
			f.drain()
		}
	}
}

func (f *Forwarder) drain() {
	n, err := unix.Read(f.tapFd, f.readBuf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		f.logger.Debug("tap read failed", "error", err)
		return
	}
	if n == 0 {
		f.logger.Debug("tap read returned zero bytes")
		return
	}
	f.forward(f.readBuf[:n])
}

func (f *Forwarder) forward(payload []byte) {
	if !f.enabled.Load() {
		return
	}

	var broadcast bool
	var targets []registry.NodeID
	if f.filter != nil {
		var ok bool
		broadcast, targets, ok = f.filter(payload, f.localID)
		if !ok {
			return
		}
		if !broadcast && len(targets) == 0 {
			return
		}
	} else {
		f.reg.RLock()
		snap := f.reg.SnapshotLocked()
		targets = make([]registry.NodeID, len(snap))
		for i, h := range snap {
			targets[i] = h.ID
		}
		f.reg.RUnlock()
	}

	f.reg.RLock()
	defer f.reg.RUnlock()

	if broadcast {
		seq := uint16(f.bcastSeq.Add(1))
		hdr := wire.Header{Type: wire.TypeData, Source: uint16(f.localID), SeqNum: seq}
		frame := f.sealIfNeeded(hdr, payload)
		if frame == nil {
			return
		}
		for _, id := range targets {
			h := f.reg.LookupLocked(id)
			if h == nil {
				continue
			}
			f.sendToHost(h, frame)
		}
		return
	}

	for _, id := range targets {
		h := f.reg.LookupLocked(id)
		if h == nil {
			continue
		}
		seq := h.NextUcastSeq()
		hdr := wire.Header{Type: wire.TypeData, Source: uint16(f.localID), SeqNum: seq}
		frame := f.sealIfNeeded(hdr, payload)
		if frame == nil {
			continue
		}
		f.sendToHost(h, frame)
	}
}

func (f *Forwarder) sealIfNeeded(hdr wire.Header, payload []byte) []byte {
	f.plainBuf = wire.Encode(f.plainBuf[:0], hdr, payload)
	if f.xform == nil {
		return f.plainBuf
	}
	sealed, err := f.xform.Seal(f.cipherBuf[:0], f.plainBuf)
	if err != nil {
		f.logger.Debug("seal failed, dropping frame", "error", err)
		return nil
	}
	f.cipherBuf = sealed
	return sealed
}

func (f *Forwarder) sendToHost(h *registry.Host, frame []byte) {
	switch h.Policy {
	case registry.Passive, registry.Active:
		for _, linkID := range h.ActiveLinks() {
			f.sendOnLink(h, linkID, frame)
		}
	case registry.RoundRobin:
		links := h.ActiveLinks()
		if len(links) == 0 {
			return
		}
		f.sendOnLink(h, links[0], frame)
		h.RotateActiveLinks()
	}
}

func (f *Forwarder) sendOnLink(h *registry.Host, linkID registry.LinkID, frame []byte) {
	link := &h.Links[linkID]
	if link.Fd < 0 {
		return
	}
	if _, err := unix.Write(link.Fd, frame); err != nil {
		f.logger.Debug("link send failed", "node", h.ID, "link", linkID, "error", err)
	}
}
