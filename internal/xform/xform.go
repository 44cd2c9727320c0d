// Package xform defines the cryptographic transform the core data plane
// treats as an opaque collaborator (spec.md §6): two pure operations, seal
// and open, applied to the whole wire frame (header + payload). The core
// never inspects key material or algorithm choice; it only needs sizing and
// error semantics.
package xform

import "errors"

// ErrOpenFailed is returned by Transform.Open when authentication or
// decryption fails. The data plane treats this as a silent drop (spec.md
// §7, "crypto failures").
var ErrOpenFailed = errors.New("xform: open failed")

// Transform seals and opens whole wire frames. Implementations must be safe
// for concurrent use by multiple callers: the tap→links forwarder, the
// recv-from-links receiver, and the heartbeat worker may all call Seal/Open
// concurrently under the registry's read lock.
type Transform interface {
	// Overhead is the maximum number of bytes Seal may add to a plaintext of
	// any length (e.g. authentication tag, nonce). Buffer sizing uses it.
	Overhead() int

	// Seal appends the sealed form of plaintext to dst and returns the
	// extended slice. dst and plaintext must not overlap.
	Seal(dst, plaintext []byte) ([]byte, error)

	// Open appends the opened (authenticated, decrypted) form of ciphertext
	// to dst and returns the extended slice, or ErrOpenFailed.
	Open(dst, ciphertext []byte) ([]byte, error)
}
