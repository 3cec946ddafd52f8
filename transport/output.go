package transport

import "time"

// ProcessOutput builds the next outgoing UDP datagram, if any, coalescing
// one packet per packet-number space that still has keys and something
// to send, in ascending encryption-level order as RFC 9000 section 12.2
// requires. It returns a nil datagram (not an error) when there is
// nothing to send right now; callers should then wait until the returned
// deadline and call HandleTimeout, or call ProcessOutput again after new
// input or application data arrives.
func (c *Conn) ProcessOutput(now time.Time) ([]byte, time.Time, error) {
	for _, o := range c.dgrams.drainOutcomes() {
		c.addEvent(Event{Kind: EventDatagramOutcome, DatagramTrackingID: o.trackingID, DatagramDropReason: o.reason.String()})
	}
	if c.state == stateClosed {
		return nil, time.Time{}, nil
	}
	if c.state == stateClosing || c.state == stateDraining {
		return c.buildCloseDatagram(now)
	}

	p := c.paths.active()
	if p == nil {
		return nil, time.Time{}, newError(NoAvailablePath, "no active path")
	}

	sendTime := c.pace.nextSendTime(now, c.cc.Cwnd(), c.cc.BytesInFlight(), int(DefaultParameters().MaxUDPPayloadSize), c.loss.rtt())
	if sendTime.After(now) {
		return nil, sendTime, nil
	}

	budget := c.cc.CwndAvail()
	if budget <= 0 {
		return nil, c.nextTimeout(now), nil
	}
	if amp := p.amplificationLimit(); amp < uint64(budget) {
		budget = int(amp)
	}
	maxDatagram := int(p.pmtud.Mtu())
	if budget > maxDatagram {
		budget = maxDatagram
	}
	if budget <= 0 {
		return nil, c.nextTimeout(now), nil
	}

	out := make([]byte, 0, budget)
	totalSent := 0
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		if c.sentPackets.space(space).dropped || c.sealers[space] == nil {
			continue
		}
		remaining := budget - len(out)
		if remaining <= 0 {
			break
		}
		pkt, n, err := c.buildPacket(space, p, remaining, now)
		if err != nil {
			return nil, time.Time{}, err
		}
		if n == 0 {
			continue
		}
		out = append(out, pkt...)
		totalSent += n
	}
	if totalSent == 0 {
		return nil, c.nextTimeout(now), nil
	}
	// Initial packets from a client, and any datagram carrying one, must
	// be padded to the minimum size (RFC 9000 section 14.1).
	if c.isClient && c.sealers[packetSpaceInitial] != nil && !c.sentPackets.space(packetSpaceInitial).dropped && len(out) < MinInitialPacketSize {
		pad := make([]byte, MinInitialPacketSize-len(out))
		out = append(out, pad...)
	}
	p.recordSent(len(out))
	c.pace.onPacketSent(now, len(out), c.cc.Cwnd(), c.loss.rtt())
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(out))
	c.stats.CongestionWindow = uint64(c.cc.Cwnd())
	c.stats.BytesInFlight = uint64(c.cc.BytesInFlight())
	c.stats.SmoothedRTT = c.loss.rtt().Seconds()
	return out, c.nextTimeout(now), nil
}

// buildPacket assembles and encrypts one packet in space, returning the
// encoded bytes (header, protected, with AEAD tag) and its length.
func (c *Conn) buildPacket(space packetSpace, p *path, budget int, now time.Time) ([]byte, int, error) {
	sealer := c.sealers[space]
	overhead := sealer.Overhead()
	s := c.sentPackets.space(space)

	headerBudget := budget
	if headerBudget <= overhead+4 {
		return nil, 0, nil
	}
	payloadBudget := headerBudget - overhead - estimateLongHeaderOverhead(space, p)

	var frames []*frame
	var tokens []RecoveryToken
	ackEliciting := false

	// 1. ACK, if this space has anything to acknowledge.
	if f := c.buildAckFrame(space, now); f != nil {
		frames = append(frames, f)
	}

	// 2. CRYPTO.
	if offset := c.cryptoNextSend[space]; offset < c.cryptoSend[space].baseOffset+uint64(len(c.cryptoSend[space].data)) {
		room := payloadBudget - frameSetSize(frames) - 16
		if room > 0 {
			chunk := c.cryptoSend[space].slice(offset, room)
			if len(chunk) > 0 {
				f := &frame{kind: frameTypeCrypto, offset: offset, data: chunk}
				frames = append(frames, f)
				tokens = append(tokens, RecoveryToken{Kind: TokenCrypto, CryptoOffset: int(offset), CryptoLength: len(chunk), CryptoLevel: encryptionLevelForSpace(space)})
				c.cryptoNextSend[space] = offset + uint64(len(chunk))
				ackEliciting = true
			}
		}
	}

	if space == packetSpaceApplication {
		// 3. PATH_RESPONSE / PATH_CHALLENGE.
		for len(c.pendingPathResponse) > 0 && frameSetSize(frames) < payloadBudget-9 {
			data := c.pendingPathResponse[0]
			c.pendingPathResponse = c.pendingPathResponse[1:]
			frames = append(frames, &frame{kind: frameTypePathResponse, pathData: data})
			ackEliciting = true
		}
		// 4. Control frames: retransmit backlog, flow-control updates,
		// connection-ID churn, HANDSHAKE_DONE.
		nf, nt := c.buildControlFrames(payloadBudget - frameSetSize(frames))
		frames = append(frames, nf...)
		tokens = append(tokens, nt...)
		if len(nf) > 0 {
			ackEliciting = true
		}

		// 5. STREAM frames, ordered by urgency then by stream ID within
		// a level (incremental streams are not round-robined), then
		// 6. DATAGRAM.
		sf, st := c.buildStreamFrames(payloadBudget - frameSetSize(frames))
		frames = append(frames, sf...)
		tokens = append(tokens, st...)
		if len(sf) > 0 {
			ackEliciting = true
		}

		hasOther := len(frames) > 0
		if df, _ := c.dgrams.nextFrame(payloadBudget-frameSetSize(frames), hasOther); df != nil {
			frames = append(frames, df)
			ackEliciting = true
		}
	}

	if len(frames) == 0 {
		return nil, 0, nil
	}

	pn := s.nextPacketNumber()
	pkt := &packet{
		typ:      packetTypeFromSpace(space),
		header:   packetHeader{version: c.version, dcid: p.remoteCID, scid: p.localCID},
		packetNumber: pn,
		pnLength: choosePNLength(pn, largestAckedByPeerOrSentinel(s)),
	}
	plain := encodeFrames(frames)
	pkt.payloadLen = len(plain) + overhead + pkt.pnLength

	headerBuf := make([]byte, pkt.encodedLen())
	pnOffset, err := pkt.encode(headerBuf)
	if err != nil {
		return nil, 0, err
	}
	headerBuf = headerBuf[:pnOffset]

	ciphertext, err := sealer.Seal(pn, headerBuf, plain)
	if err != nil {
		return nil, 0, wrapError(InternalError, "packet encrypt failed", err)
	}

	out := make([]byte, len(headerBuf)+len(ciphertext))
	copy(out, headerBuf)
	copy(out[len(headerBuf):], ciphertext)

	pnFieldOffset := pnOffset - pkt.pnLength
	sampleOffset := pnFieldOffset + 4
	if sampleOffset+sampleLength > len(out) {
		// Too short to sample; pad the ciphertext region conceptually by
		// treating the packet as undersized for protection and skipping
		// it rather than emitting an unprotected packet.
		return nil, 0, nil
	}
	mask, err := sealer.HeaderProtectionMask(out[sampleOffset : sampleOffset+sampleLength])
	if err != nil {
		return nil, 0, err
	}
	applyHeaderProtection(out, pnFieldOffset, pkt.pnLength, mask)

	ecn := p.ecn.markOutgoing()
	sp := &sentPacket{
		packetNumber: pn,
		space:        space,
		timeSent:     now.UnixNano(),
		size:         len(out),
		ackEliciting: ackEliciting,
		inFlight:     true,
		pathID:       p.id,
		ecnMark:      ecn,
		tokens:       tokens,
	}
	c.sentPackets.onSent(sp)
	c.cc.OnPacketSent(len(out), now)
	p.ecn.onPacketSent(ecn)
	s.ackEliciting = false
	c.emitQlog(newLogEventPacket(now, logEventPacketSent, pkt))
	return out, len(out), nil
}

func largestAckedByPeerOrSentinel(s *packetNumberSpace) uint64 {
	if !s.haveLargestAcked {
		return noLargestAcked
	}
	return s.largestAckedByPeer
}

func estimateLongHeaderOverhead(space packetSpace, p *path) int {
	if space == packetSpaceApplication {
		return 1 + len(p.remoteCID)
	}
	return 1 + 4 + 1 + len(p.remoteCID) + 1 + len(p.localCID) + 2 + 4
}

func frameSetSize(frames []*frame) int {
	n := 0
	for _, f := range frames {
		n += len(f.encode(nil))
	}
	return n
}

func encodeFrames(frames []*frame) []byte {
	var out []byte
	for _, f := range frames {
		out = f.encode(out)
	}
	return out
}

// applyHeaderProtection is the send-side counterpart of
// removeHeaderProtection: it XORs the same mask back in, which (XOR
// being its own inverse) both operations share.
func applyHeaderProtection(b []byte, pnOffset, pnLength int, mask []byte) {
	if b[0]&longHeaderForm != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLength; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
}

// buildAckFrame builds an ACK frame for space if there is anything new
// to acknowledge, consuming the "owes an ACK" flag.
func (c *Conn) buildAckFrame(space packetSpace, now time.Time) *frame {
	s := c.sentPackets.space(space)
	if !s.ackEliciting || s.received.Empty() {
		return nil
	}
	ranges := s.received.Ranges()
	if len(ranges) == 0 {
		return nil
	}
	f := &frame{
		kind:         frameTypeAck,
		largestAcked: ranges[0].High,
		ackDelay:     uint64(now.Sub(time.Unix(0, s.largestRxTime)) / time.Microsecond),
		ackRanges:    ranges,
	}
	if space == packetSpaceApplication && (s.ecnCounts.ect0+s.ecnCounts.ect1+s.ecnCounts.ce) > 0 {
		f.kind = frameTypeAckECN
		f.ect0, f.ect1, f.ce = s.ecnCounts.ect0, s.ecnCounts.ect1, s.ecnCounts.ce
	}
	return f
}

// buildControlFrames packs the retransmission backlog plus
// freshly-derived control frames (flow-control updates, connection-ID
// churn, HANDSHAKE_DONE) within budget.
func (c *Conn) buildControlFrames(budget int) ([]*frame, []RecoveryToken) {
	var frames []*frame
	var tokens []RecoveryToken

	for len(c.retransmitQueue) > 0 {
		tok := c.retransmitQueue[0]
		f := c.frameFromToken(tok)
		if f == nil {
			c.retransmitQueue = c.retransmitQueue[1:]
			continue
		}
		sz := len(f.encode(nil))
		if sz > budget {
			break
		}
		c.retransmitQueue = c.retransmitQueue[1:]
		frames = append(frames, f)
		tokens = append(tokens, tok)
		budget -= sz
	}

	for len(c.pendingNewCids) > 0 && budget > 9+len(c.pendingNewCids[0].cid) {
		lc := c.pendingNewCids[0]
		c.pendingNewCids = c.pendingNewCids[1:]
		f := &frame{
			kind:           frameTypeNewConnectionId,
			sequenceNumber: lc.seq,
			connectionID:   lc.cid,
			statelessReset: lc.statelessReset,
		}
		frames = append(frames, f)
		tokens = append(tokens, RecoveryToken{Kind: TokenNewConnectionId, SequenceNumber: lc.seq, ConnectionID: lc.cid, StatelessReset: lc.statelessReset})
		budget -= len(f.encode(nil))
	}

	for len(c.pendingRetireCids) > 0 && budget > 9 {
		seq := c.pendingRetireCids[0]
		c.pendingRetireCids = c.pendingRetireCids[1:]
		f := &frame{kind: frameTypeRetireConnectionId, sequenceNumber: seq}
		frames = append(frames, f)
		tokens = append(tokens, RecoveryToken{Kind: TokenRetireConnectionId, SequenceNumber: seq})
		budget -= len(f.encode(nil))
	}

	if !c.isClient && c.state == stateConnected && budget > 1 {
		c.state = stateConfirmed
		frames = append(frames, &frame{kind: frameTypeHandshakeDone})
		tokens = append(tokens, RecoveryToken{Kind: TokenHandshakeDone})
		budget--
	}

	if avail := c.streams.localConnFlow.available(); avail < c.streams.localConnFlow.maxData/4 && budget > 9 {
		newMax := c.streams.localConnFlow.maxData * 2
		frames = append(frames, &frame{kind: frameTypeMaxData, maximumData: newMax})
		c.streams.localConnFlow.maxData = newMax
		budget -= 9
	}

	for id, st := range c.streams.streams {
		if budget <= 9 {
			break
		}
		if st.localFlow.available() < st.localFlow.maxData/2 && st.recvState != recvStreamResetRecvd {
			newMax := st.localFlow.maxData * 2
			frames = append(frames, &frame{kind: frameTypeMaxStreamData, streamID: id, maximumData: newMax})
			tokens = append(tokens, RecoveryToken{Kind: TokenMaxStreamData, StreamID: id, MaximumData: newMax})
			st.localFlow.maxData = newMax
			budget -= 9
		}
	}

	// PRIORITY_UPDATE: a stream's priority can change independent of
	// whether it has any data queued, so this is driven off the priority
	// handler's own dirty bit rather than buildStreamFrames' send loop.
	for id, st := range c.streams.streams {
		if budget <= 9 {
			break
		}
		if !st.priority.MaybeEncodeFrame() {
			continue
		}
		pf := &frame{kind: frameTypePriorityUpdateRequest, streamID: id, data: []byte(st.priority.priority.encodeSignedFieldValue())}
		sz := len(pf.encode(nil))
		if sz > budget {
			continue
		}
		frames = append(frames, pf)
		tokens = append(tokens, RecoveryToken{Kind: TokenPriorityUpdate, StreamID: id, PriorityFieldValue: pf.data})
		st.priority.PriorityUpdateSent()
		budget -= sz
	}

	return frames, tokens
}

// frameFromToken re-derives the frame a recovery token describes, for
// the subset of tokens applyLostTokens queues for verbatim retransmit.
func (c *Conn) frameFromToken(tok RecoveryToken) *frame {
	switch tok.Kind {
	case TokenStream:
		st := c.streams.Get(tok.StreamID)
		if st == nil {
			return nil
		}
		data := st.sendBuf.slice(tok.Offset, int(tok.Length))
		if len(data) == 0 && !tok.Fin {
			return nil
		}
		return &frame{kind: frameTypeStreamBase, streamID: tok.StreamID, offset: tok.Offset, data: data, fin: tok.Fin}
	case TokenResetStream:
		st := c.streams.Get(tok.StreamID)
		if st == nil {
			return nil
		}
		return &frame{kind: frameTypeResetStream, streamID: tok.StreamID, appErrorCode: tok.ErrorCode, finalSize: st.finalSize}
	case TokenCrypto:
		space := spaceForEncryptionLevel(tok.CryptoLevel)
		data := c.cryptoSend[space].slice(uint64(tok.CryptoOffset), tok.CryptoLength)
		if len(data) == 0 {
			return nil
		}
		return &frame{kind: frameTypeCrypto, offset: uint64(tok.CryptoOffset), data: data}
	case TokenNewConnectionId:
		return &frame{
			kind:           frameTypeNewConnectionId,
			sequenceNumber: tok.SequenceNumber,
			connectionID:   tok.ConnectionID,
			statelessReset: tok.StatelessReset,
		}
	case TokenRetireConnectionId:
		return &frame{kind: frameTypeRetireConnectionId, sequenceNumber: tok.SequenceNumber}
	case TokenHandshakeDone:
		return &frame{kind: frameTypeHandshakeDone}
	case TokenPriorityUpdate:
		return &frame{kind: frameTypePriorityUpdateRequest, streamID: tok.StreamID, data: tok.PriorityFieldValue}
	case TokenStopSending:
		return &frame{kind: frameTypeStopSending, streamID: tok.StreamID, appErrorCode: tok.ErrorCode}
	case TokenKeepAlive:
		return &frame{kind: frameTypePing}
	}
	return nil
}

// buildStreamFrames selects data to send across streams ordered by
// HTTP/3 priority (lower Urgency first, then ascending stream ID within a
// level; the Incremental flag is not consulted), matching
// the scheduler's "STREAM frames ordered by Priority" stage.
func (c *Conn) buildStreamFrames(budget int) ([]*frame, []RecoveryToken) {
	var candidates []*stream
	for _, st := range c.streams.streams {
		if st.sendState == sendStreamSend && len(st.sendBuf.data) > int(st.nextSendOffset-st.sendBuf.baseOffset) {
			candidates = append(candidates, st)
		}
	}
	sortStreamsByPriority(candidates)

	var frames []*frame
	var tokens []RecoveryToken
	for _, st := range candidates {
		if budget <= 9 {
			break
		}
		avail := int(uint64(len(st.sendBuf.data)) - (st.nextSendOffset - st.sendBuf.baseOffset))
		if avail <= 0 {
			continue
		}
		room := budget - 9
		if room > avail {
			room = avail
		}
		if room <= 0 {
			continue
		}
		data := st.sendBuf.slice(st.nextSendOffset, room)
		fin := st.haveFinalSize && st.nextSendOffset+uint64(len(data)) >= st.finalSize
		f := &frame{kind: frameTypeStreamBase, streamID: st.id, offset: st.nextSendOffset, data: data, fin: fin}
		frames = append(frames, f)
		tokens = append(tokens, RecoveryToken{Kind: TokenStream, StreamID: st.id, Offset: st.nextSendOffset, Length: uint64(len(data)), Fin: fin})
		st.nextSendOffset += uint64(len(data))
		if fin {
			st.sendState = sendStreamDataSent
		}
		budget -= 9 + len(data)

	}
	return frames, tokens
}

func sortStreamsByPriority(streams []*stream) {
	for i := 1; i < len(streams); i++ {
		for j := i; j > 0; j-- {
			a, b := streams[j-1], streams[j]
			if a.priority.priority.Urgency < b.priority.priority.Urgency ||
				(a.priority.priority.Urgency == b.priority.priority.Urgency && a.id < b.id) {
				break
			}
			streams[j-1], streams[j] = streams[j], streams[j-1]
		}
	}
}

// buildCloseDatagram builds the CONNECTION_CLOSE packet for the Closing
// state. It is sent once: later calls, and every call while Draining,
// return no datagram, only the closing deadline.
func (c *Conn) buildCloseDatagram(now time.Time) ([]byte, time.Time, error) {
	if c.state == stateDraining {
		return nil, c.closingDeadline(), nil
	}
	if c.closeFramesSent >= 1 {
		return nil, c.closingDeadline(), nil
	}
	p := c.paths.active()
	if p == nil {
		return nil, time.Time{}, nil
	}
	space := packetSpaceApplication
	if c.sealers[packetSpaceHandshake] != nil && !c.sentPackets.space(packetSpaceHandshake).dropped {
		space = packetSpaceHandshake
	}
	if c.sealers[packetSpaceInitial] != nil && !c.sentPackets.space(packetSpaceInitial).dropped {
		space = packetSpaceInitial
	}
	if c.sealers[space] == nil {
		return nil, time.Time{}, nil
	}
	kind := frameTypeConnectionClose
	code := uint64(InternalError)
	if c.closeError != nil {
		code = uint64(c.closeError.Kind)
	}
	if c.closeIsApp {
		kind = frameTypeConnectionCloseApp
	}
	reason := ""
	if c.closeError != nil {
		reason = c.closeError.Detail
	}
	f := &frame{kind: kind, errorCode: code, reasonPhrase: reason}

	s := c.sentPackets.space(space)
	pn := s.nextPacketNumber()
	sealer := c.sealers[space]
	pkt := &packet{
		typ:          packetTypeFromSpace(space),
		header:       packetHeader{version: c.version, dcid: p.remoteCID, scid: p.localCID},
		packetNumber: pn,
		pnLength:     choosePNLength(pn, largestAckedByPeerOrSentinel(s)),
	}
	plain := f.encode(nil)
	pkt.payloadLen = len(plain) + sealer.Overhead() + pkt.pnLength
	headerBuf := make([]byte, pkt.encodedLen())
	pnOffset, err := pkt.encode(headerBuf)
	if err != nil {
		return nil, time.Time{}, err
	}
	headerBuf = headerBuf[:pnOffset]
	ciphertext, err := sealer.Seal(pn, headerBuf, plain)
	if err != nil {
		return nil, time.Time{}, wrapError(InternalError, "close packet encrypt failed", err)
	}
	out := make([]byte, len(headerBuf)+len(ciphertext))
	copy(out, headerBuf)
	copy(out[len(headerBuf):], ciphertext)
	pnFieldOffset := pnOffset - pkt.pnLength
	sampleOffset := pnFieldOffset + 4
	if sampleOffset+sampleLength <= len(out) {
		mask, err := sealer.HeaderProtectionMask(out[sampleOffset : sampleOffset+sampleLength])
		if err == nil {
			applyHeaderProtection(out, pnFieldOffset, pkt.pnLength, mask)
		}
	}
	c.closeFramesSent++
	return out, c.closingDeadline(), nil
}

// nextTimeout computes the deadline HandleTimeout should next be called
// at: the earliest of the PTO timer, the time-threshold loss timer and
// the idle timeout. While closing, ProcessOutput returns the closing
// deadline from buildCloseDatagram instead.
func (c *Conn) nextTimeout(now time.Time) time.Time {
	var deadline time.Time
	if _, t, ok := c.loss.nextLossTimerSpace(); ok {
		deadline = t
	}
	if earliest, ok := c.earliestInFlightSent(); ok {
		for space := packetSpaceInitial; space < packetSpaceCount; space++ {
			if c.sentPackets.space(space).dropped {
				continue
			}
			pto := c.loss.ptoTimeout(space, earliest)
			if deadline.IsZero() || pto.Before(deadline) {
				deadline = pto
			}
		}
	}
	if !c.idleDeadline.IsZero() && (deadline.IsZero() || c.idleDeadline.Before(deadline)) {
		deadline = c.idleDeadline
	}
	return deadline
}

func (c *Conn) earliestInFlightSent() (time.Time, bool) {
	var earliest time.Time
	found := false
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		s := c.sentPackets.space(space)
		for _, sp := range s.sent {
			if !sp.ackEliciting || sp.declaredLost {
				continue
			}
			t := time.Unix(0, sp.timeSent)
			if !found || t.Before(earliest) {
				earliest, found = t, true
			}
		}
	}
	return earliest, found
}

// HandleTimeout drives every timer-based transition this engine owns:
// PTO expiry (probe retransmission via the retransmit queue, matching
// RFC 9002 section 6.2's "send an ack-eliciting packet" requirement),
// the idle timeout, the closing/draining anti-deadlock timer, and the
// PMTUD raise timer.
func (c *Conn) HandleTimeout(now time.Time) {
	if c.state == stateClosed {
		return
	}
	if c.state == stateClosing || c.state == stateDraining {
		if !c.closingSince.IsZero() && !now.Before(c.closingDeadline()) {
			c.state = stateClosed
			c.addEvent(Event{Kind: EventStateChange})
		}
		return
	}
	if !c.idleDeadline.IsZero() && !now.Before(c.idleDeadline) {
		c.state = stateClosed
		c.addEvent(Event{Kind: EventStateChange, Reason: newError(NoError, "idle timeout")})
		return
	}
	if earliest, ok := c.earliestInFlightSent(); ok {
		for space := packetSpaceInitial; space < packetSpaceCount; space++ {
			if c.sentPackets.space(space).dropped {
				continue
			}
			if !now.Before(c.loss.ptoTimeout(space, earliest)) {
				c.onPTOExpired(space, now)
			}
		}
	}
	if p := c.paths.active(); p != nil {
		p.pmtud.maybeRaise(now)
	}
}

// onPTOExpired implements RFC 9002 section 6.2's probe behavior: re-queue
// the frames of the oldest outstanding ack-eliciting packet in space for
// retransmission (or a PING if there is none), and back off the PTO timer.
func (c *Conn) onPTOExpired(space packetSpace, now time.Time) {
	c.loss.ptoCount++
	s := c.sentPackets.space(space)
	var oldest *sentPacket
	for _, sp := range s.sent {
		if sp.declaredLost || !sp.ackEliciting {
			continue
		}
		if oldest == nil || sp.timeSent < oldest.timeSent {
			oldest = sp
		}
	}
	if oldest != nil {
		for _, tok := range oldest.tokens {
			c.queueRetransmit(tok)
		}
	} else {
		// Nothing outstanding to probe with; a PING keeps the PTO timer
		// from spinning without making forward progress.
		c.retransmitQueue = append(c.retransmitQueue, RecoveryToken{Kind: TokenKeepAlive})
	}
}
