package dataplane

import "linkmesh/internal/registry"

// DestinationFilter is the single callback the handle optionally installs
// (spec.md §4.3, §4.4, §6). On the tap→links path it is invoked with the
// outbound payload and the local node id to decide where the frame goes:
// the frame is sent to each listed target, numbered from the handle-wide
// broadcast sequence for a broadcast result and from each target host's
// unicast sequence otherwise. On the links→tap path it is invoked again,
// with the same signature, on an inbound DATA payload and the sender's node
// id: the broadcast result selects which duplicate-suppression window is
// used, and a unicast result is dropped unless this node is among the
// targets.
//
// ok=false means drop. When broadcast is false, targets lists the
// destination node ids; an empty unicast target list also drops the frame.
// On the receive path targets is only consulted for a unicast result.
type DestinationFilter func(payload []byte, sourceID registry.NodeID) (broadcast bool, targets []registry.NodeID, ok bool)
