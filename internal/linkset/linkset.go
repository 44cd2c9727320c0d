// Package linkset implements the active-link recomputer (spec.md §4.7):
// given a host's current per-link Configured/Connected state, it rebuilds
// the host's active-link vector according to the host's policy.
package linkset

import (
	"linkmesh/internal/check"
	"linkmesh/internal/registry"
)

// Recompute rebuilds h's active-link vector from scratch. The caller must
// hold the registry's write lock — this function performs the structural
// change spec.md §3's invariant on active_links is scoped to.
//
// PASSIVE selects the single highest-priority configured-and-connected
// link. spec.md §9 documents the original implementation's bug here
// (active_link_entries left at 1 even when no link qualified); this
// implements the corrected, spec-mandated semantics: zero entries when none
// qualify, exactly one otherwise.
//
// ROUND_ROBIN and ACTIVE both select every configured-and-connected link,
// in ascending link-id order.
//
// When no link qualifies, both RX duplicate-suppression windows and RX
// sequence counters are reset, so a later reconnect starts clean.
func Recompute(h *registry.Host) {
	check.Assert(h != nil, "linkset.Recompute: host must not be nil")

	var selected []registry.LinkID

	switch h.Policy {
	case registry.Passive:
		best := -1
		var bestPriority uint8
		for i := range h.Links {
			l := &h.Links[i]
			if !l.Configured() || !l.Connected() {
				continue
			}
			if best == -1 || l.Priority > bestPriority {
				best = i
				bestPriority = l.Priority
			}
		}
		if best != -1 {
			selected = []registry.LinkID{registry.LinkID(best)}
		}
	case registry.RoundRobin, registry.Active:
		for i := range h.Links {
			l := &h.Links[i]
			if l.Configured() && l.Connected() {
				selected = append(selected, registry.LinkID(i))
			}
		}
	default:
		check.Assertf(false, "linkset.Recompute: unknown policy %d", h.Policy)
	}

	h.SetActiveLinks(selected)
	if len(selected) == 0 {
		h.ResetRxState()
	}
}
