package transport

// RecoveryTokenKind identifies which frame type a RecoveryToken remembers
// enough about to replay on loss. Grounded on the teacher's approach of
// tagging retransmittable state with the frame it came from (conn.go's
// per-frame send bookkeeping), generalized into the explicit tagged union
// neqo's recovery/token.rs uses (RecoveryToken enum) since Go has no sum
// types: one struct with a Kind discriminant and the fields each kind
// needs, the rest left zero.
type RecoveryTokenKind int

const (
	TokenStream RecoveryTokenKind = iota
	TokenCrypto
	TokenAck // records that an ACK was sent, so a later one can be skipped if unneeded
	TokenResetStream
	TokenStopSending
	TokenMaxData
	TokenMaxStreamData
	TokenMaxStreams
	TokenNewConnectionId
	TokenRetireConnectionId
	TokenNewToken
	TokenHandshakeDone
	TokenDatagram
	TokenPathChallenge
	TokenPathResponse
	TokenPriorityUpdate
	TokenKeepAlive // local-only: queued on PTO expiry with nothing outstanding, framed as a PING
)

// RecoveryToken is attached to every frame written into a sent packet and
// carried back out again if that packet is declared lost, so the
// scheduler knows precisely what to re-queue without re-deriving it from
// connection state that may have since moved on.
type RecoveryToken struct {
	Kind RecoveryTokenKind

	// TokenStream / TokenResetStream / TokenStopSending
	StreamID uint64
	Offset   uint64
	Length   uint64
	Fin      bool
	ErrorCode uint64

	// TokenCrypto
	CryptoOffset int
	CryptoLength int
	CryptoLevel  EncryptionLevel

	// TokenMaxData / TokenMaxStreamData / TokenMaxStreams
	MaximumData   uint64
	MaxStreamBidi bool // TokenMaxStreams only: true selects the bidi limit, false the uni limit

	// TokenNewConnectionId / TokenRetireConnectionId
	SequenceNumber uint64
	ConnectionID   []byte
	StatelessReset []byte

	// TokenNewToken
	NewToken []byte

	// TokenDatagram
	DatagramData []byte

	// TokenPathChallenge / TokenPathResponse
	PathData [8]byte
	PathID   int

	// TokenAck
	AckSpace packetSpace

	// TokenPriorityUpdate
	PriorityFieldValue []byte
}

// sentPacket is one outstanding packet this endpoint has transmitted,
// tracked until it is acknowledged or declared lost. Grounded on the
// teacher's sentPacket bookkeeping in transport/conn.go's loss-detection
// section, extended with the PTO/pacing/PMTUD fields SPEC_FULL's recovery
// model needs.
type sentPacket struct {
	packetNumber uint64
	space        packetSpace
	timeSent     int64 // unix nano
	size         int   // bytes on the wire, including header and AEAD overhead
	ackEliciting bool
	inFlight     bool // counted against the congestion window
	isPMTUDProbe bool
	pathID       int
	ecnMark      ecnMark

	tokens []RecoveryToken

	// declaredLost is set once the loss detector has already reported
	// this packet lost; guards against double-counting if it is later
	// acknowledged after all (a late ACK for a "lost" packet still
	// credits the congestion controller, per RFC 9002 section 6.2).
	declaredLost bool
}

func (sp *sentPacket) addToken(t RecoveryToken) {
	sp.tokens = append(sp.tokens, t)
}

// sentPacketRegistry indexes in-flight packets by space (each space keeps
// them in an unordered map keyed by packet number) and keeps the running
// total of in-flight bytes for congestion-window accounting.
type sentPacketRegistry struct {
	spaces [packetSpaceCount]*packetNumberSpace
	bytesInFlight int
}

func newSentPacketRegistry() *sentPacketRegistry {
	r := &sentPacketRegistry{}
	for i := range r.spaces {
		r.spaces[i] = newPacketNumberSpace(packetSpace(i))
	}
	return r
}

func (r *sentPacketRegistry) space(s packetSpace) *packetNumberSpace {
	return r.spaces[s]
}

// onSent registers sp as freshly transmitted and in flight.
func (r *sentPacketRegistry) onSent(sp *sentPacket) {
	r.spaces[sp.space].addSent(sp)
	if sp.inFlight {
		r.bytesInFlight += sp.size
	}
}

// onAcked removes pn from the outstanding set (it has been confirmed
// delivered) and returns it, or nil if it was already removed (e.g. a
// duplicate ACK). A packet already declared lost is still returned, and
// its bytes are not subtracted from bytesInFlight a second time.
func (r *sentPacketRegistry) onAcked(space packetSpace, pn uint64) *sentPacket {
	s := r.spaces[space]
	sp, ok := s.sent[pn]
	if !ok {
		return nil
	}
	delete(s.sent, pn)
	if sp.inFlight && !sp.declaredLost {
		r.bytesInFlight -= sp.size
	}
	return sp
}

// onDeclaredLost marks pn lost in place (kept in the map with
// declaredLost set until drained) so a subsequent ACK for the same
// number is still recognized and credited to the congestion controller.
func (r *sentPacketRegistry) onDeclaredLost(space packetSpace, pn uint64) *sentPacket {
	s := r.spaces[space]
	sp, ok := s.sent[pn]
	if !ok || sp.declaredLost {
		return nil
	}
	sp.declaredLost = true
	if sp.inFlight {
		r.bytesInFlight -= sp.size
	}
	return sp
}

// drop discards every outstanding packet in space, e.g. once that
// space's keys are no longer available.
func (r *sentPacketRegistry) drop(space packetSpace) {
	s := r.spaces[space]
	for _, sp := range s.sent {
		if sp.inFlight && !sp.declaredLost {
			r.bytesInFlight -= sp.size
		}
	}
	s.sent = make(map[uint64]*sentPacket)
	s.dropped = true
}
