package dataplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"linkmesh/internal/metrics"
	"linkmesh/internal/registry"
	"linkmesh/internal/wire"
	"linkmesh/internal/xform"
)

// tickInterval is the heartbeat worker's coarse sleep resolution (spec.md
// §4.6).
const tickInterval = 200 * time.Millisecond

// Heartbeat is the heartbeat worker (spec.md §4.6): on each coarse tick it
// walks every configured link of every host under the read lock, emitting
// PINGs on schedule and declaring links down on silence.
type Heartbeat struct {
	localID registry.NodeID
	reg     *registry.Registry
	clock   wire.MonoClock
	notify  notifier

	xform xform.Transform

	pingBuf   []byte
	sealedBuf []byte

	logger *slog.Logger
}

// NewHeartbeat creates the heartbeat worker.
func NewHeartbeat(localID registry.NodeID, reg *registry.Registry, clock wire.MonoClock, notify notifier, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		localID:   localID,
		reg:       reg,
		clock:     clock,
		notify:    notify,
		pingBuf:   make([]byte, 0, wire.HeaderSize),
		sealedBuf: make([]byte, 0, wire.HeaderSize+64),
		logger:    logger,
	}
}

// SetTransform installs the cryptographic transform.
func (hb *Heartbeat) SetTransform(t xform.Transform) { hb.xform = t }

// Run blocks ticking until ctx is cancelled.
func (hb *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hb.tick()
		}
	}
}

func (hb *Heartbeat) tick() {
	hb.reg.RLock()
	defer hb.reg.RUnlock()

	now := hb.clock.Now()
	nowNS := int64(now.Duration())

	for _, host := range hb.reg.SnapshotLocked() {
		for i := range host.Links {
			link := &host.Links[i]
			if !link.Configured() {
				continue
			}

			// Cache pong_last once to avoid racing with the receiver's
			// concurrent PONG-driven update (spec.md §4.6).
			pongLast := link.PongLast()

			if nowNS-link.PingLast() >= link.PingInterval.Nanoseconds() {
				hb.sendPing(host, link, now)
			}
			if link.Connected() && nowNS-pongLast >= link.PongTimeout.Nanoseconds() {
				link.SetConnected(false)
				metrics.LinkConnected.WithLabelValues(fmt.Sprint(host.ID), fmt.Sprint(link.ID)).Set(0)
				if hb.notify != nil {
					if err := hb.notify.Notify(uint16(host.ID)); err != nil {
						hb.logger.Debug("notify link-handler failed", "node", host.ID, "error", err)
					}
				}
			}
		}
	}
}

func (hb *Heartbeat) sendPing(host *registry.Host, link *registry.Link, now wire.Timestamp) {
	if link.Fd < 0 {
		return
	}
	hdr := wire.Header{Type: wire.TypePing, Source: uint16(hb.localID), LinkID: uint8(link.ID), Ts: now}
	hb.pingBuf = wire.Encode(hb.pingBuf[:0], hdr, nil)
	frame := hb.pingBuf
	if hb.xform != nil {
		sealed, err := hb.xform.Seal(hb.sealedBuf[:0], hb.pingBuf)
		if err != nil {
			hb.logger.Debug("seal ping failed", "error", err)
			return
		}
		hb.sealedBuf = sealed
		frame = sealed
	}

	n, err := unix.Write(link.Fd, frame)
	if err != nil {
		hb.logger.Debug("ping send failed", "node", host.ID, "link", link.ID, "error", err)
		return
	}
	if n != len(frame) {
		return
	}
	link.RecordPing(int64(now.Duration()))
	metrics.PingsSent.WithLabelValues(fmt.Sprint(host.ID), fmt.Sprint(link.ID)).Inc()
}
