package linkmesh

import (
	"errors"
	"log/slog"

	"linkmesh/internal/dataplane"
	"linkmesh/internal/registry"
	"linkmesh/internal/xform"
)

// ErrInvalidConfig is returned by New when Config is missing a required
// field (spec.md §4.1: "validates a non-null config and a positive tap
// file descriptor").
var ErrInvalidConfig = errors.New("linkmesh: invalid config")

// Config is the immutable configuration a Handle is built from.
type Config struct {
	// LocalID is this node's own 16-bit node id, stamped as the Source
	// field of every frame this handle originates.
	LocalID registry.NodeID

	// TapFd is the local tap-style file descriptor the data plane reads
	// outbound payloads from and writes inbound payloads to. Must be a
	// valid, already-open, non-blocking descriptor; the handle does not
	// open or close it.
	TapFd int

	// Transform is the optional cryptographic transform applied to every
	// wire frame. Nil means frames travel unsealed.
	Transform xform.Transform

	// Filter is the optional destination-filter callback (spec.md §4.3,
	// §4.4, §6). Nil means unicast-to-every-known-host on send, and
	// accept-everything on receive.
	Filter dataplane.DestinationFilter

	// Logger receives data-plane diagnostics (seal failures, tap and link
	// read/write errors, notification failures). Malformed frames and open
	// failures are counted in metrics, not logged. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

func (c Config) validate() error {
	if c.TapFd <= 0 {
		return errors.New("linkmesh: tap file descriptor must be positive")
	}
	return nil
}
