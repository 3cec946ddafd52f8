package transport

import (
	"net"
	"time"
)

// packetSpaceForLevel maps an encryption level to the packet-number space
// it protects. 0-RTT keys share the Application space's numbering (RFC
// 9000 section 12.3); this engine's HandshakeDriver contract never
// installs a 0-RTT opener on the receive side, only a 0-RTT sealer for a
// client's early data, which also lands in the Application space.
func packetSpaceForLevel(level EncryptionLevel) packetSpace {
	switch level {
	case EncryptionInitial:
		return packetSpaceInitial
	case EncryptionHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

// InstallKeys makes level's AEAD usable in both directions, once the
// handshake driver has derived it. Initial keys are derived from the
// client's chosen destination connection ID per RFC 9001 section 5.2,
// so this is also how a server activates its Initial opener/sealer. The
// packet-number space is exposed to callers only as an EncryptionLevel
// (packetSpace itself stays unexported, since it is purely an engine
// bookkeeping detail the handshake collaborator has no other use for).
func (c *Conn) InstallKeys(level EncryptionLevel, sealer AeadSealer, opener AeadOpener) {
	space := packetSpaceForLevel(level)
	c.sealers[space] = sealer
	c.openers[space] = opener
}

// DiscardKeys drops level's keys and every packet still tracked in its
// space, once the handshake no longer needs it (RFC 9001 section 4.9:
// Initial keys are discarded once Handshake keys are confirmed usable,
// and Handshake keys once the handshake completes).
func (c *Conn) DiscardKeys(level EncryptionLevel) {
	space := packetSpaceForLevel(level)
	c.sealers[space] = nil
	c.openers[space] = nil
	size := 0
	for _, sp := range c.sentPackets.space(space).sent {
		if sp.inFlight && !sp.declaredLost {
			size += sp.size
		}
	}
	c.sentPackets.drop(space)
	c.cc.Discard(size)
}

// OpenStream creates and returns a new locally-initiated stream (bidi or
// unidirectional), applying the per-stream receive window this
// connection advertises for streams of that kind.
func (c *Conn) OpenStream(bidi bool) (uint64, error) {
	localMax := c.config.MaxStreamDataBidiLocal
	if !bidi {
		localMax = 0 // a locally-initiated uni stream has no receive side
	}
	st, err := c.streams.OpenStream(bidi, localMax, c.config.MaxStreamDataBidiRemote)
	if err != nil {
		return 0, err
	}
	return st.id, nil
}

// StreamWrite appends data to a stream's send buffer, optionally marking
// it finished. It fails with FlowControlError if data would exceed
// either the stream's or the connection's send window; callers should
// wait for EventStreamWritable before retrying.
func (c *Conn) StreamWrite(id uint64, data []byte, fin bool) error {
	st := c.streams.Get(id)
	if st == nil {
		return newError(StreamStateError, "unknown stream")
	}
	if err := c.streams.reserveSend(uint64(len(data))); err != nil {
		return err
	}
	return st.queue(data, fin)
}

// StreamRead drains up to len(p) bytes of contiguous, in-order data
// received on stream id, returning the number of bytes copied and
// whether the stream has reached EOF with nothing left to read.
func (c *Conn) StreamRead(id uint64, p []byte) (int, bool, error) {
	st := c.streams.Get(id)
	if st == nil {
		return 0, false, newError(StreamStateError, "unknown stream")
	}
	n := st.recvBuf.read(p)
	// A MAX_STREAM_DATA update, once consumption crosses the
	// half-window threshold, is queued lazily by the scheduler's
	// control-frame stage (buildControlFrames), not here.
	return n, st.recvBuf.atEOF(), nil
}

// StreamReset abandons the send side of a stream with an application
// error code (RESET_STREAM, RFC 9000 section 3.3).
func (c *Conn) StreamReset(id uint64, errorCode uint64) error {
	st := c.streams.Get(id)
	if st == nil {
		return newError(StreamStateError, "unknown stream")
	}
	st.resetStream(errorCode)
	c.retransmitQueue = append(c.retransmitQueue, RecoveryToken{Kind: TokenResetStream, StreamID: id, ErrorCode: errorCode})
	return nil
}

// StreamStopSending requests that the peer abandon sending on stream id
// (STOP_SENDING, RFC 9000 section 3.5).
func (c *Conn) StreamStopSending(id uint64, errorCode uint64) error {
	if c.streams.Get(id) == nil {
		return newError(StreamStateError, "unknown stream")
	}
	c.retransmitQueue = append(c.retransmitQueue, RecoveryToken{Kind: TokenStopSending, StreamID: id, ErrorCode: errorCode})
	return nil
}

// SetStreamPriority records a new HTTP/3 extensible priority for stream
// id, queuing a PRIORITY_UPDATE frame if it actually changes what was
// last sent on the wire.
func (c *Conn) SetStreamPriority(id uint64, p Priority) {
	st := c.streams.Get(id)
	if st == nil {
		return
	}
	st.priority.MaybeUpdatePriority(p)
}

// SendDatagram queues an unreliable QUIC DATAGRAM payload (RFC 9221).
// trackingID is an application-chosen correlation id surfaced back on a
// later EventDatagramOutcome if the datagram is dropped before it ever
// reaches the wire (the queue was full, or it never fit a packet);
// nothing is reported for a datagram that is actually sent, since QUIC
// DATAGRAM delivery itself is never acknowledged. SendDatagramUntracked
// skips outcome reporting entirely for callers that don't need it.
func (c *Conn) SendDatagram(payload []byte, trackingID uint64) error {
	return c.dgrams.addDatagram(payload, trackingID, true)
}

// SendDatagramUntracked queues payload the same way as SendDatagram, but
// without tracking: a drop never produces an EventDatagramOutcome.
func (c *Conn) SendDatagramUntracked(payload []byte) error {
	return c.dgrams.addDatagram(payload, 0, false)
}

// SetInitialRemoteCID installs the destination connection ID this
// connection addresses its peer with before any NEW_CONNECTION_ID frame
// has arrived: the client's self-chosen Initial destination connection
// ID (RFC 9000 section 7.2), or, for a server, the source connection ID
// it observed on the client's first Initial packet.
func (c *Conn) SetInitialRemoteCID(cid []byte) {
	if p := c.paths.active(); p != nil {
		p.remoteCID = cid
	}
}

// LocalCID returns the connection ID this connection currently expects
// incoming short-header packets to be addressed to, so a caller routing
// many connections over one socket can dispatch a packet to the right
// Conn before decoding it.
func (c *Conn) LocalCID() []byte {
	if p := c.paths.active(); p != nil {
		return p.localCID
	}
	return nil
}

// Migrate begins validating a new local/remote address pair as a
// candidate active path, rejecting it outright if it fails the
// invalid-migration checks (RFC 9000 section 9).
func (c *Conn) Migrate(local, remote *net.UDPAddr, challenge [8]byte, now time.Time) error {
	active := c.paths.active()
	if active == nil {
		return newError(InternalError, "no active path to migrate from")
	}
	if c.config.DisableActiveMigration {
		return newError(InvalidMigration, "active migration disabled by local configuration")
	}
	oldLocal, _ := active.local.(*net.UDPAddr)
	oldRemote, _ := active.remote.(*net.UDPAddr)
	if err := classifyMigration(oldLocal, oldRemote, local, remote); err != nil {
		return err
	}
	p := c.paths.findOrCreate(local, remote, c.clock)
	p.startValidation(challenge, now)
	return nil
}
