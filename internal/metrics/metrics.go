// Package metrics defines the Prometheus metrics exported by the data
// plane: one gauge per link for connectivity and latency, one gauge per
// host for the active-link count, and counters for the events spec.md §8
// calls out as observable from outside the handle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var linkLabels = []string{"node", "link"}

var (
	// LinkConnected is 1 when a link is currently connected, 0 otherwise.
	LinkConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkmesh_link_connected",
			Help: "Whether a link is currently connected (1) or not (0).",
		}, linkLabels)

	// LinkLatencyMicroseconds is the current EWMA round-trip latency
	// estimate for a link, in microseconds (spec.md §4.6).
	LinkLatencyMicroseconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkmesh_link_latency_microseconds",
			Help: "Smoothed round-trip latency estimate for a link, in microseconds.",
		}, linkLabels)

	// ActiveLinkCount is the size of a host's current active-link vector.
	ActiveLinkCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkmesh_active_link_count",
			Help: "Number of links currently selected for sending to a host.",
		}, []string{"node"})

	// PingsSent counts PING frames transmitted, per link.
	PingsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkmesh_pings_sent_total",
			Help: "Total number of PING frames sent.",
		}, linkLabels)

	// PongsReceived counts PONG frames received, per link.
	PongsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkmesh_pongs_received_total",
			Help: "Total number of PONG frames received.",
		}, linkLabels)

	// DedupDrops counts datagrams discarded by duplicate suppression, per
	// host and channel (unicast or broadcast).
	DedupDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkmesh_dedup_drops_total",
			Help: "Total number of datagrams discarded as duplicates.",
		}, []string{"node", "channel"})

	// MalformedFrames counts inbound datagrams dropped before dispatch, by
	// reason: open_failed, short, decode, unknown_source, unknown_type.
	MalformedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkmesh_malformed_frames_total",
			Help: "Total number of inbound datagrams dropped as malformed, by reason.",
		}, []string{"reason"})
)
