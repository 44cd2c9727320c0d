// Package wire implements the fixed on-wire header contract that glues
// linkmesh peers together: a small binary prefix (magic, version, type,
// source node id, optional link id, optional sequence number, optional
// monotonic timestamp) followed by an opaque payload for DATA frames.
package wire

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a linkmesh frame on the wire. A peer that sees any other
// value must silently drop the datagram.
const Magic uint32 = 0x4c4d4853 // "LMHS"

// Version is the only wire version this build understands.
const Version uint8 = 1

// Type is the frame discriminator. The high bit (LinkBit) marks frames that
// carry a link id field; only PING and PONG carry one, since they probe one
// specific path rather than the host as a whole.
type Type uint8

const (
	// LinkBit, when set in a Type, means the header carries a LinkID field.
	LinkBit Type = 0x80

	baseData Type = 0x01
	basePing Type = 0x02
	basePong Type = 0x03

	// TypeData carries an opaque application payload plus a sequence number.
	TypeData Type = baseData
	// TypePing probes one link's liveness; carries LinkID and Timestamp.
	TypePing Type = basePing | LinkBit
	// TypePong replies to a TypePing, echoing its Timestamp unchanged.
	TypePong Type = basePong | LinkBit
)

// HasLink reports whether t carries a LinkID field.
func (t Type) HasLink() bool { return t&LinkBit != 0 }

// Base strips the link bit, yielding the frame kind (Data/Ping/Pong).
func (t Type) Base() Type { return t &^ LinkBit }

func (t Type) String() string {
	switch t.Base() {
	case baseData:
		return "data"
	case basePing:
		return "ping"
	case basePong:
		return "pong"
	default:
		return "unknown"
	}
}

// Sizes of the fixed-width wire fields, in bytes.
const (
	sizeMagic     = 4
	sizeVersion   = 1
	sizeType      = 1
	sizeSourceID  = 2
	sizeLinkID    = 1
	sizeSeqNum    = 2
	sizeTimestamp = 16

	// PrefixSize is the always-present header portion (magic..source id).
	PrefixSize = sizeMagic + sizeVersion + sizeType + sizeSourceID
	// HeaderSize is the maximum possible header size (link id + seq num or
	// timestamp never coexist, but callers size buffers for the worst case).
	HeaderSize = PrefixSize + sizeLinkID + sizeTimestamp
)

// ErrShortBuffer is returned when a Decode source is smaller than
// PrefixSize, or too short for the link id, sequence number or timestamp
// its type carries.
var ErrShortBuffer = errors.New("wire: buffer shorter than frame prefix")

// ErrBadMagic is returned when the decoded magic does not match Magic.
var ErrBadMagic = errors.New("wire: bad magic")

// ErrBadVersion is returned when the decoded version does not match Version.
var ErrBadVersion = errors.New("wire: unsupported version")

// Header is the decoded form of a linkmesh frame prefix. Not every field is
// meaningful for every Type: SeqNum is DATA-only, LinkID and Timestamp are
// PING/PONG-only (see Type.HasLink).
type Header struct {
	Type     Type
	Source   uint16
	LinkID   uint8
	SeqNum   uint16
	Ts       Timestamp
}

// Encode appends the wire representation of h (and, for DATA frames,
// payload) to dst, returning the extended slice. The caller is responsible
// for only passing a non-empty payload when h.Type.Base() == TypeData.
func Encode(dst []byte, h Header, payload []byte) []byte {
	var prefix [sizeMagic + sizeVersion + sizeType + sizeSourceID]byte
	binary.BigEndian.PutUint32(prefix[0:4], Magic)
	prefix[4] = Version
	prefix[5] = byte(h.Type)
	binary.BigEndian.PutUint16(prefix[6:8], h.Source)
	dst = append(dst, prefix[:]...)

	if h.Type.HasLink() {
		dst = append(dst, h.LinkID)
	}

	switch h.Type.Base() {
	case baseData:
		var seq [sizeSeqNum]byte
		binary.BigEndian.PutUint16(seq[:], h.SeqNum)
		dst = append(dst, seq[:]...)
		dst = append(dst, payload...)
	case basePing, basePong:
		dst = h.Ts.appendTo(dst)
	}
	return dst
}

// Decode parses a frame prefix from src. It returns the header, the byte
// offset at which the payload (DATA only) begins, and an error for a short
// buffer, bad magic, or bad version. Unknown frame types decode successfully
// (so the caller can apply the "silent drop" rule for unrecognised types
// exactly as spec'd) but report a zero payload offset.
func Decode(src []byte) (Header, int, error) {
	if len(src) < PrefixSize {
		return Header{}, 0, ErrShortBuffer
	}
	magic := binary.BigEndian.Uint32(src[0:4])
	if magic != Magic {
		return Header{}, 0, ErrBadMagic
	}
	version := src[4]
	if version != Version {
		return Header{}, 0, ErrBadVersion
	}

	h := Header{
		Type:   Type(src[5]),
		Source: binary.BigEndian.Uint16(src[6:8]),
	}
	off := PrefixSize

	if h.Type.HasLink() {
		if len(src) < off+sizeLinkID {
			return Header{}, 0, ErrShortBuffer
		}
		h.LinkID = src[off]
		off += sizeLinkID
	}

	switch h.Type.Base() {
	case baseData:
		if len(src) < off+sizeSeqNum {
			return Header{}, 0, ErrShortBuffer
		}
		h.SeqNum = binary.BigEndian.Uint16(src[off : off+sizeSeqNum])
		off += sizeSeqNum
		return h, off, nil
	case basePing, basePong:
		ts, n, err := parseTimestamp(src[off:])
		if err != nil {
			return Header{}, 0, err
		}
		h.Ts = ts
		off += n
		return h, off, nil
	default:
		return h, 0, nil
	}
}
