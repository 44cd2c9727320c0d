package registry

import (
	"time"

	"linkmesh/internal/liveness"
)

// Configure sets a link's static parameters: timing, priority, and
// precision. It derives the EWMA weights from interval and precision per
// spec.md §4.5. Must be called only while the owning host is held under the
// registry's write lock (construction time or Registry.ConfigureLink).
func (l *Link) Configure(priority uint8, pingInterval, pongTimeout time.Duration, precision int64, dynamic bool) {
	l.Priority = priority
	l.PingInterval = pingInterval
	l.PongTimeout = pongTimeout
	l.Dynamic = dynamic

	w := liveness.DeriveWeights(pingInterval.Microseconds(), precision)
	l.latencyFix = w.Fix
	l.latencyExp = w.Exp
}

// RecordPing notes a successful ping transmission at nowNS
// (nanoseconds-since-handle-epoch). Called only by the heartbeat worker.
func (l *Link) RecordPing(nowNS int64) {
	l.pingLastNS.Store(nowNS)
}

// RecordPong updates the EWMA latency from a pong arriving at nowNS whose
// echoed ping timestamp was sentNS, per spec.md §4.4. Returns the updated
// latency in microseconds. Called only by the receiver worker.
func (l *Link) RecordPong(nowNS, sentNS int64) int64 {
	sampleUS := (nowNS - sentNS) / 1000
	updated := liveness.Update(l.latencyUS.Load(), liveness.Weights{Fix: l.latencyFix, Exp: l.latencyExp}, sampleUS)
	l.latencyUS.Store(updated)
	l.pongLastNS.Store(nowNS)
	return updated
}
