package transport

import (
	"net"
	"time"
)

// ProcessInput decodes and processes one received UDP datagram. Any
// wire-invariant violation closes the connection (transitions to
// Closing) rather than being returned to the caller, per the error
// propagation policy; ProcessInput itself only returns an error for
// caller misuse (e.g. a nil datagram).
func (c *Conn) ProcessInput(data []byte, remote, local net.Addr, now time.Time) error {
	if len(data) == 0 {
		return newError(InvalidInput, "empty datagram")
	}
	p := c.paths.findOrCreate(local, remote, c.clock)
	p.recordReceived(len(data))
	if c.idleDeadline.IsZero() || c.config.IdleTimeout > 0 {
		c.idleDeadline = now.Add(c.idleTimeout())
	}

	rest := data
	for len(rest) > 0 {
		n, err := c.processOnePacket(rest, p, now)
		if err != nil {
			if qerr, ok := err.(*Error); ok && qerr.Kind.IsWireVisible() {
				c.Close(false, uint64(qerr.Kind), qerr.Detail)
			}
			c.emitQlog(newLogEvent(now, logEventPacketDropped))
			return nil
		}
		if n <= 0 || n > len(rest) {
			break
		}
		rest = rest[n:]
	}
	return nil
}

func (c *Conn) idleTimeout() time.Duration {
	local := c.config.IdleTimeout
	if c.peerParams != nil && c.peerParams.MaxIdleTimeout > 0 && c.peerParams.MaxIdleTimeout < local {
		local = c.peerParams.MaxIdleTimeout
	}
	if local < time.Second {
		local = time.Second
	}
	return local
}

// processOnePacket decodes, decrypts and dispatches a single QUIC packet
// that may be coalesced with further packets in the same datagram, and
// returns the number of bytes it consumed.
func (c *Conn) processOnePacket(b []byte, p *path, now time.Time) (int, error) {
	hdr := &packet{}
	// Short-header packets need the locally-expected DCID length to know
	// where the header ends; long headers carry their own CID lengths.
	hdr.header.dcil = uint8(c.localCIDLength)
	n, err := hdr.decodeHeader(b)
	if err != nil {
		return 0, err
	}
	if hdr.typ == packetTypeVersionNegotiation {
		return c.recvVersionNegotiation(hdr, b)
	}
	space := packetSpaceFromType(hdr.typ)
	opener := c.openers[space]
	if opener == nil {
		// Keys not yet available for this space; drop silently, the
		// packet may simply have arrived before the handshake caught up.
		return len(b), nil
	}
	// The header-protection sample starts 4 bytes after the packet-number
	// field's assumed start, regardless of the field's actual truncated
	// length (RFC 9001 section 5.4.2).
	sampleOffset := n + 4
	if sampleOffset+sampleLength > len(b) {
		return 0, newError(FrameEncodingError, "packet too short to sample")
	}
	sample := b[sampleOffset : sampleOffset+sampleLength]
	mask, err := opener.HeaderProtectionMask(sample)
	if err != nil {
		return 0, err
	}
	removeHeaderProtection(b, n, mask)
	pnLen := int(b[0]&0x03) + 1
	truncated := decodeTruncatedPacketNumber(b[n:], pnLen)
	space_ := c.sentPackets.space(space)
	pn := decodePacketNumber(largestReceivedOrSentinel(space_), truncated, pnLen)

	headerEnd := n + pnLen
	var payloadEnd int
	if hdr.typ == packetTypeShort {
		payloadEnd = len(b)
	} else {
		payloadEnd = n + hdr.payloadLen // payloadLen covers pn+payload+tag in the on-wire length field
		if payloadEnd > len(b) {
			payloadEnd = len(b)
		}
	}
	// b[:headerEnd] already holds the header with protection removed, so
	// it is exactly the AAD the sender used (RFC 9001 section 5.3).
	aad := make([]byte, headerEnd)
	copy(aad, b[:headerEnd])
	ciphertext := b[headerEnd:payloadEnd]
	plaintext, err := opener.Open(pn, aad, ciphertext)
	if err != nil {
		return 0, wrapError(DecryptError, "packet decrypt failed", err)
	}

	c.recordReceivedPacketNumber(space, pn, now)
	if err := c.recvFrames(plaintext, hdr.typ, space, p, now); err != nil {
		return 0, err
	}
	c.emitQlog(newLogEventPacket(now, logEventPacketReceived, hdr))
	c.stats.PacketsReceived++
	return payloadEnd, nil
}

func largestReceivedOrSentinel(s *packetNumberSpace) uint64 {
	if !s.haveLargestAcked && s.largestRx == 0 && s.received.Empty() {
		return noLargestAcked
	}
	return s.largestRx
}

func decodeTruncatedPacketNumber(b []byte, pnLen int) uint64 {
	var v uint64
	for i := 0; i < pnLen; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// removeHeaderProtection XORs the header-protection mask into the first
// byte and packet-number field, per RFC 9001 section 5.4.1.
func removeHeaderProtection(b []byte, pnOffset int, mask []byte) {
	if b[0]&longHeaderForm != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	pnLen := int(b[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
}

func packetSpaceFromType(t packetType) packetSpace {
	switch t {
	case packetTypeInitial:
		return packetSpaceInitial
	case packetTypeHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

func (c *Conn) recordReceivedPacketNumber(space packetSpace, pn uint64, now time.Time) {
	s := c.sentPackets.space(space)
	s.recordReceived(pn, true, now.UnixNano())
	if pn > s.largestRx {
		s.largestRx = pn
	}
}

func (c *Conn) recvVersionNegotiation(hdr *packet, b []byte) (int, error) {
	if !c.isClient || c.state != stateHandshaking {
		return len(b), nil
	}
	// Version negotiation during the initial handshake attempt: local
	// policy (outside this engine's scope) decides whether to retry with
	// a different version; this engine just surfaces the event.
	c.addEvent(Event{Kind: EventStateChange})
	return len(b), nil
}

// recvFrames parses and dispatches every frame in a decrypted packet
// payload, in order (RFC 9000 section 12.4: frame effects are visible to
// subsequent frames in the same packet).
func (c *Conn) recvFrames(b []byte, pt packetType, space packetSpace, p *path, now time.Time) error {
	if len(b) == 0 {
		return newError(ProtocolViolation, "empty packet payload")
	}
	ackEliciting := false
	for len(b) > 0 {
		f, n, err := decodeFrame(b, pt)
		if err != nil {
			return err
		}
		if f.isAckEliciting() {
			ackEliciting = true
		}
		if err := c.recvFrame(f, space, p, now); err != nil {
			return err
		}
		c.emitQlog(newLogEventFrame(now, logEventFramesProcessed, f))
		b = b[n:]
	}
	s := c.sentPackets.space(space)
	if ackEliciting {
		s.ackEliciting = true
	}
	return nil
}

func (c *Conn) recvFrame(f *frame, space packetSpace, p *path, now time.Time) error {
	switch {
	case f.kind == frameTypePadding || f.kind == frameTypePing:
		return nil
	case f.kind == frameTypeAck || f.kind == frameTypeAckECN:
		return c.recvFrameAck(f, space, now)
	case f.kind == frameTypeCrypto:
		return c.recvFrameCrypto(f, space)
	case f.kind == frameTypeResetStream:
		return c.recvFrameResetStream(f)
	case f.kind == frameTypeStopSending:
		return c.recvFrameStopSending(f)
	case isStreamFrameType(f.kind):
		return c.recvFrameStream(f)
	case f.kind == frameTypeMaxData:
		c.streams.remoteConnFlow.maxData = maxUint64(c.streams.remoteConnFlow.maxData, f.maximumData)
		return nil
	case f.kind == frameTypeMaxStreamData:
		return c.recvFrameMaxStreamData(f)
	case f.kind == frameTypeMaxStreamsBidi:
		c.streams.maxStreamsBidiRemote = maxUint64(c.streams.maxStreamsBidiRemote, f.maximumStreams)
		return nil
	case f.kind == frameTypeMaxStreamsUni:
		c.streams.maxStreamsUniRemote = maxUint64(c.streams.maxStreamsUniRemote, f.maximumStreams)
		return nil
	case f.kind == frameTypeDataBlocked, f.kind == frameTypeStreamDataBlocked, f.kind == frameTypeStreamsBlockedBidi, f.kind == frameTypeStreamsBlockedUni:
		return nil // informational; no direct action required beyond event surfacing
	case f.kind == frameTypeNewConnectionId:
		retired, err := c.cids.onNewConnectionId(f.sequenceNumber, f.retirePriorTo, f.connectionID, f.statelessReset)
		c.pendingRetireCids = append(c.pendingRetireCids, retired...)
		return err
	case f.kind == frameTypeRetireConnectionId:
		return c.cids.onRetireConnectionId(f.sequenceNumber)
	case f.kind == frameTypePathChallenge:
		c.pendingPathResponse = append(c.pendingPathResponse, f.pathData)
		return nil
	case f.kind == frameTypePathResponse:
		p.onPathResponse(f.pathData)
		return nil
	case f.kind == frameTypeNewToken:
		return nil
	case f.kind == frameTypePriorityUpdateRequest:
		if st := c.streams.Get(f.streamID); st != nil {
			st.priority.MaybeUpdatePriority(parseSignedFieldValue(string(f.data)))
		}
		return nil
	case f.kind == frameTypeConnectionClose || f.kind == frameTypeConnectionCloseApp:
		c.setDraining(now, &Error{Kind: ErrorKind(f.errorCode), Detail: f.reasonPhrase})
		return nil
	case f.kind == frameTypeHandshakeDone:
		if c.isClient {
			c.state = stateConfirmed
		}
		return nil
	case isDatagramFrameType(f.kind):
		c.addEvent(Event{Kind: EventDatagramReceived, Data: f.data})
		return nil
	case f.kind == frameTypeAckFrequency:
		return nil
	default:
		return newError(FrameEncodingError, "unhandled frame type")
	}
}

func (c *Conn) recvFrameAck(f *frame, space packetSpace, now time.Time) error {
	if len(f.ackRanges) == 0 {
		return newError(FrameEncodingError, "empty ack")
	}
	s := c.sentPackets.space(space)
	var acked []*sentPacket
	for _, r := range f.ackRanges {
		for pn := r.Low; pn <= r.High; pn++ {
			if sp := c.sentPackets.onAcked(space, pn); sp != nil {
				acked = append(acked, sp)
			}
			if pn == r.High {
				break
			}
		}
	}
	if len(acked) == 0 {
		return nil
	}
	var latestSentTime time.Time
	var largestNewlyAcked *sentPacket
	for _, sp := range acked {
		t := time.Unix(0, sp.timeSent)
		if t.After(latestSentTime) {
			latestSentTime = t
			largestNewlyAcked = sp
		}
	}
	if largestNewlyAcked != nil && largestNewlyAcked.packetNumber == f.largestAcked {
		ackDelay := time.Duration(f.ackDelay) * time.Microsecond
		c.loss.onRTTSample(space, now.Sub(latestSentTime), ackDelay)
	}
	c.cc.OnPacketsAcked(acked, c.loss.rtt(), now)
	for _, sp := range acked {
		c.applyAckedTokens(sp)
	}
	lost := c.loss.detectLost(c.sentPackets, space, f.largestAcked, now)
	var lostPackets []*sentPacket
	for _, pn := range lost {
		if sp := c.sentPackets.onDeclaredLost(space, pn); sp != nil {
			lostPackets = append(lostPackets, sp)
			c.applyLostTokens(sp)
		}
	}
	if len(lostPackets) > 0 {
		pto := c.loss.ptoDuration()
		if c.cc.OnPacketsLost(lostPackets, pto, now) {
			c.stats.PacketsLost += uint64(len(lostPackets))
		}
		c.loss.ptoCount = 0
	}
	if f.kind == frameTypeAckECN {
		p := c.paths.active()
		if p != nil {
			p.ecn.validate(ecnCounts{ect0: f.ect0, ect1: f.ect1, ce: f.ce}, ecnAckedCount(acked))
		}
	}
	s.largestAckedByPeer = maxUint64(s.largestAckedByPeer, f.largestAcked)
	s.haveLargestAcked = true
	return nil
}

func ecnAckedCount(acked []*sentPacket) uint64 {
	var n uint64
	for _, sp := range acked {
		if sp.ecnMark == ecnECT0 {
			n++
		}
	}
	return n
}

func (c *Conn) recvFrameCrypto(f *frame, space packetSpace) error {
	out, err := c.handshake.Feed(encryptionLevelForSpace(space), f.data)
	if err != nil {
		return wrapError(InternalError, "handshake driver rejected crypto data", err)
	}
	if len(out) > 0 {
		c.cryptoSend[space].write(out)
	}
	if c.handshake.HandshakeComplete() && c.state == stateHandshaking {
		c.state = stateConnected
		c.peerParams = c.handshake.PeerTransportParams()
		if c.peerParams != nil {
			c.dgrams.remoteMaxSize = c.peerParams.MaxDatagramFrameSize
			c.streams.maxStreamsBidiRemote = c.peerParams.InitialMaxStreamsBidi
			c.streams.maxStreamsUniRemote = c.peerParams.InitialMaxStreamsUni
			c.streams.remoteConnFlow.maxData = c.peerParams.InitialMaxData
			if c.peerParams.ActiveConnectionIdLimit > 0 {
				c.cids.activeLimit = c.peerParams.ActiveConnectionIdLimit
			}
			c.issueMoreLocalCids()
		}
	}
	return nil
}

func encryptionLevelForSpace(space packetSpace) EncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return EncryptionInitial
	case packetSpaceHandshake:
		return EncryptionHandshake
	default:
		return EncryptionApplication
	}
}

// spaceForEncryptionLevel inverts encryptionLevelForSpace, needed to find
// the right cryptoSend buffer back from a RecoveryToken's CryptoLevel.
func spaceForEncryptionLevel(level EncryptionLevel) packetSpace {
	switch level {
	case EncryptionInitial:
		return packetSpaceInitial
	case EncryptionHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

// issueMoreLocalCids tops up this endpoint's issued connection IDs to the
// peer's active_connection_id_limit, queueing a NEW_CONNECTION_ID frame
// for each newly-minted one. Grounded on RFC 9000 section 5.1.1's "an
// endpoint SHOULD ensure that its peer has a sufficient number of
// available and unused connection IDs".
func (c *Conn) issueMoreLocalCids() {
	if c.haveIssuedNewCids {
		return
	}
	c.haveIssuedNewCids = true
	for {
		var resetToken []byte
		if token, err := c.cids.gen.Generate(16); err == nil {
			resetToken = token
		}
		lc, err := c.cids.issueLocal(c.localCIDLength, resetToken)
		if err != nil || lc == nil {
			return
		}
		c.pendingNewCids = append(c.pendingNewCids, *lc)
	}
}

// acceptRemoteFor accepts (or looks up) a peer-initiated stream, applying
// the receive-window configuration for its actual directionality:
// initial_max_stream_data_bidi_remote for a peer-initiated bidi stream
// (the window this endpoint grants for data it will receive), or
// initial_max_stream_data_uni for a peer-initiated unidirectional one.
func (c *Conn) acceptRemoteFor(id uint64) (*stream, error) {
	if isBidi(id) {
		return c.streams.acceptRemote(id, c.config.MaxStreamDataBidiRemote, c.config.MaxStreamDataBidiLocal)
	}
	return c.streams.acceptRemote(id, c.config.MaxStreamDataUni, 0)
}

func (c *Conn) recvFrameResetStream(f *frame) error {
	st, err := c.acceptRemoteFor(f.streamID)
	if err != nil {
		return err
	}
	st.recvState = recvStreamResetRecvd
	st.finalSize = f.finalSize
	st.haveFinalSize = true
	c.addEvent(Event{Kind: EventStreamFinished, StreamID: f.streamID})
	return nil
}

func (c *Conn) recvFrameStopSending(f *frame) error {
	st := c.streams.Get(f.streamID)
	if st == nil {
		return nil
	}
	st.onStopSending(f.appErrorCode)
	c.addEvent(Event{Kind: EventStreamWritable, StreamID: f.streamID})
	return nil
}

func (c *Conn) recvFrameStream(f *frame) error {
	st, err := c.acceptRemoteFor(f.streamID)
	if err != nil {
		return err
	}
	if uint64(len(f.data)) > st.localFlow.available() {
		return errFlowControl
	}
	if err := c.streams.onDataReceived(uint64(len(f.data))); err != nil {
		return err
	}
	st.localFlow.used += uint64(len(f.data))
	if err := st.recvBuf.insert(f.offset, f.data, f.fin); err != nil {
		return err
	}
	c.addEvent(Event{Kind: EventStreamReadable, StreamID: f.streamID})
	return nil
}

func (c *Conn) recvFrameMaxStreamData(f *frame) error {
	st := c.streams.Get(f.streamID)
	if st == nil {
		return nil
	}
	st.remoteFlow.maxData = maxUint64(st.remoteFlow.maxData, f.maximumData)
	c.addEvent(Event{Kind: EventStreamWritable, StreamID: f.streamID})
	return nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// applyAckedTokens dispatches every RecoveryToken a newly-acked packet
// carried to whatever subsystem owns that frame kind's retransmission
// state, so acked data stops being considered for retransmission and
// stream/CID/datagram bookkeeping advances. Grounded on the teacher's
// per-frame ack bookkeeping in conn.go, generalized across the tagged
// union RecoveryToken represents instead of one struct per frame type.
func (c *Conn) applyAckedTokens(sp *sentPacket) {
	for _, tok := range sp.tokens {
		switch tok.Kind {
		case TokenStream:
			if st := c.streams.Get(tok.StreamID); st != nil {
				st.sendBuf.ack(tok.Offset + tok.Length)
				if tok.Fin && st.haveFinalSize && tok.Offset+tok.Length >= st.finalSize {
					st.sendState = sendStreamDataRecvd
				}
			}
		case TokenResetStream:
			if st := c.streams.Get(tok.StreamID); st != nil {
				st.sendState = sendStreamResetRecvd
			}
		case TokenRetireConnectionId:
			c.cids.retireLocal(tok.SequenceNumber)
		case TokenCrypto:
			space := spaceForEncryptionLevel(tok.CryptoLevel)
			c.cryptoSend[space].ack(uint64(tok.CryptoOffset) + uint64(tok.CryptoLength))
		case TokenHandshakeDone, TokenNewConnectionId:
			// Nothing further to do; TokenNewConnectionId's only effect was
			// informing the peer, already applied on first send, and the
			// issued CID stays valid (and in cids.local) regardless of ack.
		}
	}
}

// applyLostTokens re-queues the retransmittable effect of every
// RecoveryToken a declared-lost packet carried. Frames that are
// inherently stale once superseded (an old MAX_DATA/MAX_STREAM_DATA, an
// ACK) are intentionally not re-queued verbatim: the scheduler always
// re-derives their current value from live connection state instead, so
// only tokens whose payload cannot be safely regenerated are requeued
// here.
func (c *Conn) applyLostTokens(sp *sentPacket) {
	for _, tok := range sp.tokens {
		switch tok.Kind {
		case TokenStream:
			if st := c.streams.Get(tok.StreamID); st != nil && st.sendState != sendStreamResetSent && st.sendState != sendStreamResetRecvd {
				c.queueRetransmit(tok)
			}
		case TokenResetStream:
			if st := c.streams.Get(tok.StreamID); st != nil && st.sendState == sendStreamResetSent {
				c.queueRetransmit(tok)
			}
		case TokenCrypto:
			c.queueRetransmit(tok)
		case TokenNewConnectionId, TokenRetireConnectionId, TokenHandshakeDone, TokenStopSending:
			c.queueRetransmit(tok)
		case TokenPriorityUpdate:
			if st := c.streams.Get(tok.StreamID); st != nil {
				c.queueRetransmit(tok)
			}
		}
	}
}

// queueRetransmit appends tok to the scheduler's retransmission backlog,
// to be re-framed the next time ProcessOutput runs.
func (c *Conn) queueRetransmit(tok RecoveryToken) {
	c.retransmitQueue = append(c.retransmitQueue, tok)
}
