package registry

import (
	"sync/atomic"

	"linkmesh/internal/dedup"
)

// Host is one peer node: its links, its policy, and the sequencing and
// duplicate-suppression state that depends only on that one peer.
type Host struct {
	ID   NodeID
	Name string

	Policy Policy

	Links [MaxLinks]Link

	// activeLinks and activeLinkCount are rebuilt wholesale only under the
	// registry's write lock, by the link-handler worker or by
	// Handle.RemoveLink. The tap→links forwarder — the only other accessor — is a
	// single goroutine that only ever reads the vector and, for
	// RoundRobin, rotates it in place while holding just the read lock;
	// because those writers and the forwarder are mutually exclusive via the
	// rwlock, and there is exactly one forwarder goroutine, this content
	// mutation under a shared lock is race-free (spec.md §5).
	activeLinks      [MaxLinks]LinkID
	activeLinkCount  int

	ucastSeqTx atomic.Uint32
	ucastSeqRx atomic.Uint32
	bcastSeqRx atomic.Uint32

	UcastWindow dedup.Window
	BcastWindow dedup.Window
}

// NextUcastSeq returns the next (pre-incremented) unicast TX sequence
// number, wrapping at 16 bits as the wire field does.
func (h *Host) NextUcastSeq() uint16 {
	return uint16(h.ucastSeqTx.Add(1))
}

// ActiveLinks returns the current active-link vector. The returned slice
// aliases the host's internal storage and must only be read or rotated by
// the tap→links forwarder, per the single-writer discipline documented on
// the field.
func (h *Host) ActiveLinks() []LinkID {
	return h.activeLinks[:h.activeLinkCount]
}

// SetActiveLinks replaces the active-link vector wholesale. Called only
// under the registry's write lock (by the link-handler worker, or by
// Handle.RemoveLink through linkset.Recompute).
func (h *Host) SetActiveLinks(ids []LinkID) {
	h.activeLinkCount = copy(h.activeLinks[:], ids)
}

// RotateActiveLinks moves the front entry of the active-link vector to the
// tail, for RoundRobin policy. O(k) in the vector length, as spec.md
// requires. Called only by the tap→links forwarder.
func (h *Host) RotateActiveLinks() {
	if h.activeLinkCount <= 1 {
		return
	}
	front := h.activeLinks[0]
	copy(h.activeLinks[0:h.activeLinkCount-1], h.activeLinks[1:h.activeLinkCount])
	h.activeLinks[h.activeLinkCount-1] = front
}

// ResetRxState clears both duplicate-suppression windows and the RX
// sequence counters. Called by the link-handler whenever a host's
// active-link vector becomes empty (spec.md §4.7), so stale in-flight state
// doesn't survive into a later reconnect.
func (h *Host) ResetRxState() {
	h.UcastWindow.Reset()
	h.BcastWindow.Reset()
	h.ucastSeqRx.Store(0)
	h.bcastSeqRx.Store(0)
}
