package dataplane

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"linkmesh/internal/epollset"
	"linkmesh/internal/metrics"
	"linkmesh/internal/registry"
	"linkmesh/internal/wire"
	"linkmesh/internal/xform"
)

// notifier is the minimal surface the receiver and heartbeat workers need
// from the notification pipe (spec.md §4.4, §4.6).
type notifier interface {
	Notify(id uint16) error
}

// Receiver is the links→tap worker (spec.md §4.4): it multiplexes every
// link socket with one epoll set, dispatches inbound frames by type, and
// writes accepted DATA payloads to the tap fd.
type Receiver struct {
	tapFd   int
	localID registry.NodeID
	reg     *registry.Registry
	enabled *atomic.Bool
	clock   wire.MonoClock
	notify  notifier

	poller *epollset.Set

	xform  xform.Transform
	filter DestinationFilter

	recvBuf   []byte
	openBuf   []byte
	replyBuf  []byte
	sealedBuf []byte

	logger *slog.Logger
}

// NewReceiver creates the links→tap worker. Link sockets are registered
// and deregistered later via Attach/Detach as links are configured.
func NewReceiver(tapFd int, localID registry.NodeID, reg *registry.Registry, enabled *atomic.Bool, clock wire.MonoClock, notify notifier, logger *slog.Logger) (*Receiver, error) {
	poller, err := epollset.New()
	if err != nil {
		return nil, fmt.Errorf("dataplane: receiver epoll: %w", err)
	}
	return &Receiver{
		tapFd:     tapFd,
		localID:   localID,
		reg:       reg,
		enabled:   enabled,
		clock:     clock,
		notify:    notify,
		poller:    poller,
		recvBuf:   make([]byte, MaxPacket+64),
		openBuf:   make([]byte, 0, MaxPacket+64),
		replyBuf:  make([]byte, 0, wire.HeaderSize),
		sealedBuf: make([]byte, 0, wire.HeaderSize+64),
		logger:    logger,
	}, nil
}

// SetTransform installs the cryptographic transform.
func (r *Receiver) SetTransform(t xform.Transform) { r.xform = t }

// SetFilter installs the destination-filter callback.
func (r *Receiver) SetFilter(fn DestinationFilter) { r.filter = fn }

// Attach registers a link's socket on the receiver's epoll set.
func (r *Receiver) Attach(fd int) error { return r.poller.Add(fd, unix.EPOLLIN) }

// Detach deregisters a link's socket.
func (r *Receiver) Detach(fd int) error { return r.poller.Remove(fd) }

// Close releases the receiver's epoll set.
func (r *Receiver) Close() error { return r.poller.Close() }

// Run blocks dispatching inbound datagrams until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 16)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ready, err := r.poller.Wait(events, pollTimeoutMS)
		if err != nil {
			return fmt.Errorf("dataplane: receiver epoll wait: %w", err)
		}
		for _, fd := range ready {
			r.handle(fd)
		}
	}
}

func (r *Receiver) handle(fd int) {
	n, err := unix.Read(fd, r.recvBuf)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			r.logger.Debug("link recv failed", "error", err)
		}
		return
	}
	raw := r.recvBuf[:n]

	r.reg.RLock()
	defer r.reg.RUnlock()

	plain := raw
	if r.xform != nil {
		opened, err := r.xform.Open(r.openBuf[:0], raw)
		if err != nil {
			metrics.MalformedFrames.WithLabelValues("open_failed").Inc()
			return
		}
		r.openBuf = opened
		plain = opened
	}
	if len(plain) < wire.PrefixSize+1 {
		metrics.MalformedFrames.WithLabelValues("short").Inc()
		return
	}

	hdr, off, err := wire.Decode(plain)
	if err != nil {
		metrics.MalformedFrames.WithLabelValues("decode").Inc()
		return
	}

	host := r.reg.LookupLocked(registry.NodeID(hdr.Source))
	if host == nil {
		metrics.MalformedFrames.WithLabelValues("unknown_source").Inc()
		return
	}

	var link *registry.Link
	if hdr.Type.HasLink() {
		link = &host.Links[int(hdr.LinkID)%registry.MaxLinks]
	}

	switch hdr.Type.Base() {
	case wire.TypeData:
		r.handleData(host, hdr, plain[off:])
	case wire.TypePing.Base():
		r.handlePing(host, link, fd, hdr)
	case wire.TypePong.Base():
		r.handlePong(host, link, hdr)
	default:
		metrics.MalformedFrames.WithLabelValues("unknown_type").Inc()
	}
}

func (r *Receiver) handleData(host *registry.Host, hdr wire.Header, payload []byte) {
	if !r.enabled.Load() {
		return
	}

	broadcast := false
	if r.filter != nil {
		var targets []registry.NodeID
		var ok bool
		broadcast, targets, ok = r.filter(payload, host.ID)
		if !ok {
			return
		}
		if !broadcast && !slices.Contains(targets, r.localID) {
			return
		}
	}

	window := &host.UcastWindow
	channel := "unicast"
	if broadcast {
		window = &host.BcastWindow
		channel = "broadcast"
	}
	if !window.ShouldDeliver(hdr.SeqNum) {
		metrics.DedupDrops.WithLabelValues(fmt.Sprint(host.ID), channel).Inc()
		return
	}

	n, err := unix.Write(r.tapFd, payload)
	if err != nil {
		r.logger.Debug("tap write failed", "error", err)
		return
	}
	if n == len(payload) {
		window.MarkDelivered(hdr.SeqNum)
	}
}

func (r *Receiver) handlePing(host *registry.Host, link *registry.Link, fd int, hdr wire.Header) {
	if link == nil {
		return
	}
	reply := wire.Header{Type: wire.TypePong, Source: uint16(r.localID), LinkID: hdr.LinkID, Ts: hdr.Ts}
	r.replyBuf = wire.Encode(r.replyBuf[:0], reply, nil)
	frame := r.replyBuf
	if r.xform != nil {
		sealed, err := r.xform.Seal(r.sealedBuf[:0], r.replyBuf)
		if err != nil {
			r.logger.Debug("seal pong failed", "error", err)
			return
		}
		r.sealedBuf = sealed
		frame = sealed
	}
	if _, err := unix.Write(fd, frame); err != nil {
		r.logger.Debug("pong reply failed", "node", host.ID, "error", err)
	}
}

func (r *Receiver) handlePong(host *registry.Host, link *registry.Link, hdr wire.Header) {
	if link == nil {
		return
	}
	nowNS := int64(r.clock.Now().Duration())
	sentNS := int64(hdr.Ts.Duration())
	latencyUS := link.RecordPong(nowNS, sentNS)

	metrics.LinkLatencyMicroseconds.WithLabelValues(fmt.Sprint(host.ID), fmt.Sprint(link.ID)).Set(float64(latencyUS))
	metrics.PongsReceived.WithLabelValues(fmt.Sprint(host.ID), fmt.Sprint(link.ID)).Inc()

	if latencyUS < link.PongTimeout.Microseconds() && !link.Connected() {
		link.SetConnected(true)
		metrics.LinkConnected.WithLabelValues(fmt.Sprint(host.ID), fmt.Sprint(link.ID)).Set(1)
		if r.notify != nil {
			if err := r.notify.Notify(uint16(host.ID)); err != nil {
				r.logger.Debug("notify link-handler failed", "node", host.ID, "error", err)
			}
		}
	}
}
