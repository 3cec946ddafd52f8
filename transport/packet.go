package transport

import (
	"encoding/binary"
)

// packetType identifies the QUIC long-header packet types plus the
// short-header (1-RTT) form. Values match RFC 9000 section 17.2 for the
// long-header types (shifted into bits 4-5 of the first byte on the
// wire, see the longType constants) and a sentinel for short-header and version-negotiation
// packets, which do not carry a type nibble the same way.
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0RTT"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "1RTT"
	default:
		return "unknown"
	}
}

// packetTypeFromSpace maps a packet-number space to the long-header type
// used while that space's keys are the highest available, or to the
// short-header type for the application data space.
func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

// Long-header type nibble values, RFC 9000 section 17.2.
const (
	longHeaderForm   = 0x80
	fixedBit         = 0x40
	longTypeInitial  = 0x00
	longTypeZeroRTT  = 0x10
	longTypeHandshake = 0x20
	longTypeRetry    = 0x30
)

// MaxCIDLength is the maximum connection ID length in QUIC v1 (RFC 9000
// section 17.2).
const MaxCIDLength = 20

// MinInitialPacketSize is the minimum size of any UDP datagram that
// contains an Initial packet (RFC 9000 section 14.1).
const MinInitialPacketSize = 1200

// MaxPacketSize is a practical ceiling on any single packet this engine
// will ever build, matched to the largest PMTUD probe size.
const MaxPacketSize = 65535

const sampleLength = 16
const hpMaskLength = 5

// packetHeader holds the fields common to the long-header forms. Short
// headers only use dcid.
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8 // length of the locally expected dcid, used only for short-header parsing
}

// packet is a decoded (or about-to-be-encoded) QUIC packet, excluding its
// frame payload, which is handled by the frame codec.
type packet struct {
	typ    packetType
	header packetHeader

	packetNumber uint64
	pnLength     int // bytes used for the truncated packet number on the wire

	token      []byte // Initial token (client) or Retry token
	payloadLen int     // length of (frames + AEAD overhead), long headers only

	supportedVersions []uint32 // Version Negotiation only

	headerLen int // bytes consumed by the header, set by decodeHeader
}

func (p *packet) String() string {
	return p.typ.String()
}

// encodedLen returns the number of bytes the header (not including the
// payload) will occupy once encoded, assuming pnLength has been set.
func (p *packet) encodedLen() int {
	switch p.typ {
	case packetTypeShort:
		return 1 + len(p.header.dcid) + p.pnLength
	default:
		n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
		if p.typ == packetTypeInitial {
			n += varintLen(uint64(len(p.token))) + len(p.token)
		}
		n += varintLen(uint64(p.payloadLen))
		n += p.pnLength
		return n
	}
}

// choosePNLength picks the minimal truncated packet-number length (RFC
// 9000 section 17.1) sufficient to disambiguate pn against the largest
// acknowledged packet number in the same space.
func choosePNLength(pn, largestAcked uint64) int {
	// Number of bits needed so that the range covered is more than twice
	// the distance since the last acknowledgment (RFC 9000 Appendix A).
	var delta uint64
	if largestAcked == noLargestAcked {
		delta = pn + 1
	} else {
		delta = pn - largestAcked
	}
	switch {
	case delta < (1 << 7):
		return 1
	case delta < (1 << 15):
		return 2
	case delta < (1 << 23):
		return 3
	default:
		return 4
	}
}

const noLargestAcked = ^uint64(0)

// encodeLongHeader writes the long-header fields (not including token
// length/token for non-Initial types, which callers add) and returns the
// offset of the packet-number field.
func (p *packet) encodeLongHeader(b []byte) (int, error) {
	if len(b) < p.encodedLen() {
		return 0, errShortBuffer
	}
	var typeBits byte
	switch p.typ {
	case packetTypeInitial:
		typeBits = longTypeInitial
	case packetTypeZeroRTT:
		typeBits = longTypeZeroRTT
	case packetTypeHandshake:
		typeBits = longTypeHandshake
	case packetTypeRetry:
		typeBits = longTypeRetry
	default:
		return 0, newError(InternalError, "unsupported long header type")
	}
	b[0] = longHeaderForm | fixedBit | typeBits | byte(p.pnLength-1)
	off := 1
	binary.BigEndian.PutUint32(b[off:], p.header.version)
	off += 4
	b[off] = uint8(len(p.header.dcid))
	off++
	off += copy(b[off:], p.header.dcid)
	b[off] = uint8(len(p.header.scid))
	off++
	off += copy(b[off:], p.header.scid)
	if p.typ == packetTypeInitial {
		off += putVarint(b[off:], uint64(len(p.token)))
		off += copy(b[off:], p.token)
	}
	off += putVarint(b[off:], uint64(p.payloadLen))
	return off, nil
}

func (p *packet) encodeShortHeader(b []byte) (int, error) {
	if len(b) < p.encodedLen() {
		return 0, errShortBuffer
	}
	b[0] = fixedBit | byte(p.pnLength-1)
	off := 1
	off += copy(b[off:], p.header.dcid)
	return off, nil
}

// encode writes the packet header (unprotected) to b and returns the
// offset at which the payload should be written. The packet number is
// written truncated to its low pnLength bytes; header protection is
// applied later, once the ciphertext is known, by applyHeaderProtection.
func (p *packet) encode(b []byte) (int, error) {
	var off int
	var err error
	if p.typ == packetTypeShort {
		off, err = p.encodeShortHeader(b)
	} else {
		off, err = p.encodeLongHeader(b)
	}
	if err != nil {
		return 0, err
	}
	p.headerLen = off
	for i := 0; i < p.pnLength; i++ {
		shift := uint((p.pnLength - 1 - i) * 8)
		b[off+i] = byte(p.packetNumber >> shift)
	}
	return off + p.pnLength, nil
}

// PeekLongHeader reports whether b begins a long-header packet and, if
// so, returns its version, destination and source connection IDs. An
// Endpoint needs this before a Conn exists at all: a server must learn
// the client's chosen Initial destination connection ID (to derive
// Initial secrets, RFC 9001 section 5.2) and source connection ID (to
// address its replies) from the very first datagram, which arrives
// before there is anywhere else to decode it.
func PeekLongHeader(b []byte) (version uint32, dcid, scid []byte, ok bool) {
	version, dcid, scid, _, _, ok = PeekLongHeaderToken(b)
	return version, dcid, scid, ok
}

// PeekLongHeaderToken is PeekLongHeader plus the Initial token, if this is
// an Initial packet (RFC 9000 section 17.2.2) — the field a server's
// address-validation check needs before any Conn, and therefore any
// CID-keyed dispatch table entry, exists for this datagram.
func PeekLongHeaderToken(b []byte) (version uint32, dcid, scid, token []byte, isInitial, ok bool) {
	if len(b) < 1 || b[0]&longHeaderForm == 0 {
		return 0, nil, nil, nil, false, false
	}
	p := &packet{}
	if _, err := p.decodeLongHeader(b); err != nil {
		return 0, nil, nil, nil, false, false
	}
	return p.header.version, p.header.dcid, p.header.scid, p.token, p.typ == packetTypeInitial, true
}

// decodeHeader parses enough of b to identify the packet type and CIDs,
// without removing header protection. It sets p.headerLen to the number
// of bytes consumed up to (but not including) the protected packet
// number field.
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "empty packet")
	}
	if b[0]&longHeaderForm == 0 {
		return p.decodeShortHeader(b)
	}
	return p.decodeLongHeader(b)
}

func (p *packet) decodeShortHeader(b []byte) (int, error) {
	if b[0]&fixedBit == 0 {
		return 0, newError(ProtocolViolation, "fixed bit not set")
	}
	p.typ = packetTypeShort
	dcil := int(p.header.dcil)
	if len(b) < 1+dcil {
		return 0, newError(FrameEncodingError, "short header truncated")
	}
	p.header.dcid = b[1 : 1+dcil]
	p.headerLen = 1 + dcil
	return p.headerLen, nil
}

func (p *packet) decodeLongHeader(b []byte) (int, error) {
	if b[0]&fixedBit == 0 {
		// Version Negotiation packets do not set the fixed bit.
		p.typ = packetTypeVersionNegotiation
	}
	if len(b) < 6 {
		return 0, newError(FrameEncodingError, "long header truncated")
	}
	version := binary.BigEndian.Uint32(b[1:5])
	off := 5
	dcilPos := off
	off++
	if len(b) < dcilPos+1 {
		return 0, newError(FrameEncodingError, "long header truncated")
	}
	dcil := int(b[dcilPos])
	if dcil > MaxCIDLength || len(b) < off+dcil {
		return 0, newError(ProtocolViolation, "invalid dcid length")
	}
	dcid := b[off : off+dcil]
	off += dcil
	if len(b) < off+1 {
		return 0, newError(FrameEncodingError, "long header truncated")
	}
	scil := int(b[off])
	off++
	if scil > MaxCIDLength || len(b) < off+scil {
		return 0, newError(ProtocolViolation, "invalid scid length")
	}
	scid := b[off : off+scil]
	off += scil

	p.header.version = version
	p.header.dcid = dcid
	p.header.scid = scid

	if version == 0 {
		p.typ = packetTypeVersionNegotiation
		p.headerLen = off
		return off, nil
	}
	if p.typ == packetTypeVersionNegotiation {
		p.headerLen = off
		return off, nil
	}

	switch b[0] & 0x30 {
	case longTypeInitial:
		p.typ = packetTypeInitial
		var tokenLen uint64
		n := getVarint(b[off:], &tokenLen)
		if n == 0 {
			return 0, newError(FrameEncodingError, "bad token length")
		}
		off += n
		if uint64(len(b)-off) < tokenLen {
			return 0, newError(FrameEncodingError, "truncated token")
		}
		p.token = b[off : off+int(tokenLen)]
		off += int(tokenLen)
	case longTypeZeroRTT:
		p.typ = packetTypeZeroRTT
	case longTypeHandshake:
		p.typ = packetTypeHandshake
	case longTypeRetry:
		p.typ = packetTypeRetry
		// Retry token is everything up to the trailing 16-byte integrity
		// tag; decodeBody resolves the exact split.
		p.headerLen = off
		return off, nil
	}
	var payloadLen uint64
	n := getVarint(b[off:], &payloadLen)
	if n == 0 {
		return 0, newError(FrameEncodingError, "bad length")
	}
	off += n
	p.payloadLen = int(payloadLen)
	p.headerLen = off
	return off, nil
}

// decodeBody finishes parsing fields that only apply once the whole
// datagram (not just the header) is available: Version Negotiation's
// supported-version list and Retry's token.
func (p *packet) decodeBody(b []byte) (int, error) {
	switch p.typ {
	case packetTypeVersionNegotiation:
		rest := b[p.headerLen:]
		if len(rest)%4 != 0 {
			return 0, newError(FrameEncodingError, "bad version list")
		}
		versions := make([]uint32, 0, len(rest)/4)
		for i := 0; i+4 <= len(rest); i += 4 {
			versions = append(versions, binary.BigEndian.Uint32(rest[i:i+4]))
		}
		p.supportedVersions = versions
		return len(rest), nil
	case packetTypeRetry:
		if len(b)-p.headerLen < retryIntegrityTagLen {
			return 0, newError(FrameEncodingError, "retry packet too short")
		}
		p.token = b[p.headerLen : len(b)-retryIntegrityTagLen]
		return len(b) - p.headerLen, nil
	default:
		return 0, nil
	}
}

const retryIntegrityTagLen = 16

// BuildRetryPacket encodes a Retry packet (RFC 9000 section 17.2.5): a
// long header whose destination connection ID is the client's prior
// source connection ID and whose source connection ID is the server's
// newly chosen one, followed by the address-validation token and a
// 16-byte integrity tag. tag is called with every byte preceding it
// (the pseudo-packet minus its leading original-destination-CID field,
// which the caller already knows and folds in) and must return the
// RFC 9001 section 5.8 AEAD tag.
func BuildRetryPacket(clientSCID, serverSCID, token []byte, tag func(pseudo []byte) ([]byte, error)) ([]byte, error) {
	b := make([]byte, 0, 7+len(clientSCID)+len(serverSCID)+len(token)+retryIntegrityTagLen)
	b = append(b, longHeaderForm|fixedBit|longTypeRetry)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], quicVersion1)
	b = append(b, v[:]...)
	b = append(b, byte(len(clientSCID)))
	b = append(b, clientSCID...)
	b = append(b, byte(len(serverSCID)))
	b = append(b, serverSCID...)
	b = append(b, token...)
	t, err := tag(b)
	if err != nil {
		return nil, err
	}
	return append(b, t...), nil
}

// decodePacketNumber expands a truncated packet number against the
// largest packet number seen so far in the same space, per RFC 9000
// appendix A.3.
func decodePacketNumber(largest uint64, truncated uint64, pnLen int) uint64 {
	pnBits := uint(pnLen * 8)
	expectedNext := largest + 1
	win := uint64(1) << pnBits
	halfWin := win / 2
	if largest == noLargestAcked {
		expectedNext = 0
	}
	candidate := (expectedNext &^ (win - 1)) | truncated
	switch {
	case candidate+halfWin <= expectedNext && candidate < (uint64(1)<<62)-win:
		return candidate + win
	case candidate > expectedNext+halfWin && candidate >= win:
		return candidate - win
	default:
		return candidate
	}
}
