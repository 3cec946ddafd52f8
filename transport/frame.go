package transport

// frameType is the varint-encoded QUIC frame type (RFC 9000 section 19),
// extended with the DATAGRAM extension (RFC 9221) and ACK_FREQUENCY
// (draft-ietf-quic-ack-frequency).
type frameType uint64

const (
	frameTypePadding           frameType = 0x00
	frameTypePing              frameType = 0x01
	frameTypeAck               frameType = 0x02
	frameTypeAckECN            frameType = 0x03
	frameTypeResetStream       frameType = 0x04
	frameTypeStopSending       frameType = 0x05
	frameTypeCrypto            frameType = 0x06
	frameTypeNewToken          frameType = 0x07
	frameTypeStreamBase        frameType = 0x08 // 0x08-0x0f, low 3 bits are OFF/LEN/FIN flags
	frameTypeMaxData           frameType = 0x10
	frameTypeMaxStreamData     frameType = 0x11
	frameTypeMaxStreamsBidi    frameType = 0x12
	frameTypeMaxStreamsUni     frameType = 0x13
	frameTypeDataBlocked       frameType = 0x14
	frameTypeStreamDataBlocked frameType = 0x15
	frameTypeStreamsBlockedBidi frameType = 0x16
	frameTypeStreamsBlockedUni frameType = 0x17
	frameTypeNewConnectionId   frameType = 0x18
	frameTypeRetireConnectionId frameType = 0x19
	frameTypePathChallenge     frameType = 0x1a
	frameTypePathResponse      frameType = 0x1b
	frameTypeConnectionClose   frameType = 0x1c
	frameTypeConnectionCloseApp frameType = 0x1d
	frameTypeHandshakeDone     frameType = 0x1e
	frameTypeDatagramBase      frameType = 0x30 // 0x30-0x31, bit 0 selects explicit length
	frameTypeAckFrequency      frameType = 0xaf // draft-ietf-quic-ack-frequency section 4, first-come codepoint
	frameTypeImmediateAck      frameType = 0xac
	// frameTypePriorityUpdateRequest is RFC 9218 section 7.1's
	// PRIORITY_UPDATE codepoint for a request stream, reused here at the
	// transport-frame layer rather than HTTP/3's control stream: this
	// engine's stream scheduler owns priority directly (C14), so it
	// writes the frame itself instead of handing it to an HTTP/3 layer.
	frameTypePriorityUpdateRequest frameType = 0xf0700
)

// frame is a decoded QUIC frame. Only the fields relevant to Kind are
// populated; this mirrors packet's approach of one struct per concern
// rather than per-type structs, which keeps the scheduler and conn
// controller's per-frame dispatch a single switch instead of a type
// assertion per case.
type frame struct {
	kind frameType

	// ACK / ACK_ECN
	largestAcked uint64
	ackDelay     uint64
	ackRanges    []ackRange
	ect0, ect1, ce uint64

	// RESET_STREAM / STOP_SENDING / STREAM / MAX_STREAM_DATA /
	// STREAM_DATA_BLOCKED
	streamID  uint64
	appErrorCode uint64
	finalSize uint64

	// CRYPTO / STREAM / NEW_TOKEN / DATAGRAM (with length)
	offset uint64
	data   []byte
	fin    bool

	// MAX_DATA / DATA_BLOCKED
	maximumData uint64

	// MAX_STREAMS / STREAMS_BLOCKED
	maximumStreams uint64

	// NEW_CONNECTION_ID
	sequenceNumber uint64
	retirePriorTo  uint64
	connectionID   []byte
	statelessReset []byte

	// RETIRE_CONNECTION_ID
	// (reuses sequenceNumber)

	// PATH_CHALLENGE / PATH_RESPONSE
	pathData [8]byte

	// CONNECTION_CLOSE
	errorCode    uint64
	frameType_   frameType // the frame type that caused a transport-level close, if known
	reasonPhrase string

	// ACK_FREQUENCY
	seqNum         uint64
	packetTolerance uint64
	maxAckDelayUs  uint64
	ignoreOrder    bool
}

// isAckEliciting reports whether sending this frame in a packet requires
// the peer to eventually acknowledge it (RFC 9000 section 13.2).
func (f *frame) isAckEliciting() bool {
	switch f.kind {
	case frameTypePadding, frameTypeAck, frameTypeAckECN, frameTypeConnectionClose, frameTypeConnectionCloseApp:
		return false
	default:
		return true
	}
}

// legalIn reports whether this frame type may appear in a packet of the
// given type, per the table in RFC 9000 section 12.4.
func frameLegalIn(kind frameType, pt packetType) bool {
	switch pt {
	case packetTypeInitial, packetTypeHandshake:
		switch kind {
		case frameTypePadding, frameTypePing, frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypeConnectionClose:
			return true
		default:
			return false
		}
	case packetTypeZeroRTT:
		switch kind {
		case frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypeNewToken, frameTypePathResponse,
			frameTypeConnectionCloseApp, frameTypeHandshakeDone, frameTypeRetireConnectionId:
			return false
		default:
			return true
		}
	default: // short-header / 1-RTT
		return true
	}
}

func isStreamFrameType(kind frameType) bool {
	return kind >= 0x08 && kind <= 0x0f
}

func isDatagramFrameType(kind frameType) bool {
	return kind == 0x30 || kind == 0x31
}

// encode appends the wire encoding of f to b and returns the result.
func (f *frame) encode(b []byte) []byte {
	switch {
	case f.kind == frameTypePadding:
		return append(b, 0x00)
	case f.kind == frameTypePing:
		return append(b, 0x01)
	case f.kind == frameTypeAck || f.kind == frameTypeAckECN:
		return f.encodeAck(b)
	case f.kind == frameTypeResetStream:
		b = appendVarint(b, uint64(frameTypeResetStream))
		b = appendVarint(b, f.streamID)
		b = appendVarint(b, f.appErrorCode)
		return appendVarint(b, f.finalSize)
	case f.kind == frameTypeStopSending:
		b = appendVarint(b, uint64(frameTypeStopSending))
		b = appendVarint(b, f.streamID)
		return appendVarint(b, f.appErrorCode)
	case f.kind == frameTypeCrypto:
		b = appendVarint(b, uint64(frameTypeCrypto))
		b = appendVarint(b, f.offset)
		b = appendVarint(b, uint64(len(f.data)))
		return append(b, f.data...)
	case f.kind == frameTypeNewToken:
		b = appendVarint(b, uint64(frameTypeNewToken))
		b = appendVarint(b, uint64(len(f.data)))
		return append(b, f.data...)
	case isStreamFrameType(f.kind):
		return f.encodeStream(b)
	case f.kind == frameTypeMaxData:
		b = appendVarint(b, uint64(frameTypeMaxData))
		return appendVarint(b, f.maximumData)
	case f.kind == frameTypeMaxStreamData:
		b = appendVarint(b, uint64(frameTypeMaxStreamData))
		b = appendVarint(b, f.streamID)
		return appendVarint(b, f.maximumData)
	case f.kind == frameTypeMaxStreamsBidi || f.kind == frameTypeMaxStreamsUni:
		b = appendVarint(b, uint64(f.kind))
		return appendVarint(b, f.maximumStreams)
	case f.kind == frameTypeDataBlocked:
		b = appendVarint(b, uint64(frameTypeDataBlocked))
		return appendVarint(b, f.maximumData)
	case f.kind == frameTypeStreamDataBlocked:
		b = appendVarint(b, uint64(frameTypeStreamDataBlocked))
		b = appendVarint(b, f.streamID)
		return appendVarint(b, f.maximumData)
	case f.kind == frameTypeStreamsBlockedBidi || f.kind == frameTypeStreamsBlockedUni:
		b = appendVarint(b, uint64(f.kind))
		return appendVarint(b, f.maximumStreams)
	case f.kind == frameTypeNewConnectionId:
		b = appendVarint(b, uint64(frameTypeNewConnectionId))
		b = appendVarint(b, f.sequenceNumber)
		b = appendVarint(b, f.retirePriorTo)
		b = append(b, byte(len(f.connectionID)))
		b = append(b, f.connectionID...)
		return append(b, f.statelessReset...)
	case f.kind == frameTypeRetireConnectionId:
		b = appendVarint(b, uint64(frameTypeRetireConnectionId))
		return appendVarint(b, f.sequenceNumber)
	case f.kind == frameTypePriorityUpdateRequest:
		b = appendVarint(b, uint64(frameTypePriorityUpdateRequest))
		b = appendVarint(b, f.streamID)
		b = appendVarint(b, uint64(len(f.data)))
		return append(b, f.data...)
	case f.kind == frameTypePathChallenge:
		b = appendVarint(b, uint64(frameTypePathChallenge))
		return append(b, f.pathData[:]...)
	case f.kind == frameTypePathResponse:
		b = appendVarint(b, uint64(frameTypePathResponse))
		return append(b, f.pathData[:]...)
	case f.kind == frameTypeConnectionClose || f.kind == frameTypeConnectionCloseApp:
		return f.encodeConnectionClose(b)
	case f.kind == frameTypeHandshakeDone:
		return append(b, 0x1e)
	case isDatagramFrameType(f.kind):
		return f.encodeDatagram(b)
	case f.kind == frameTypeAckFrequency:
		b = appendVarint(b, uint64(frameTypeAckFrequency))
		b = appendVarint(b, f.seqNum)
		b = appendVarint(b, f.packetTolerance)
		b = appendVarint(b, f.maxAckDelayUs)
		if f.ignoreOrder {
			return append(b, 0x01)
		}
		return append(b, 0x00)
	case f.kind == frameTypeImmediateAck:
		return append(b, byte(frameTypeImmediateAck))
	default:
		return b
	}
}

func (f *frame) encodeAck(b []byte) []byte {
	b = appendVarint(b, uint64(f.kind))
	b = appendVarint(b, f.largestAcked)
	b = appendVarint(b, f.ackDelay)
	b = appendVarint(b, uint64(len(f.ackRanges)-1))
	first := f.ackRanges[0]
	b = appendVarint(b, first.High-first.Low)
	prevLow := first.Low
	for _, r := range f.ackRanges[1:] {
		gap := prevLow - r.High - 2
		b = appendVarint(b, gap)
		b = appendVarint(b, r.High-r.Low)
		prevLow = r.Low
	}
	if f.kind == frameTypeAckECN {
		b = appendVarint(b, f.ect0)
		b = appendVarint(b, f.ect1)
		b = appendVarint(b, f.ce)
	}
	return b
}

func (f *frame) encodeStream(b []byte) []byte {
	kind := byte(frameTypeStreamBase)
	if f.offset != 0 {
		kind |= 0x04
	}
	kind |= 0x02 // always send an explicit length for simplicity of framing
	if f.fin {
		kind |= 0x01
	}
	b = appendVarint(b, uint64(kind))
	b = appendVarint(b, f.streamID)
	if f.offset != 0 {
		b = appendVarint(b, f.offset)
	}
	b = appendVarint(b, uint64(len(f.data)))
	return append(b, f.data...)
}

func (f *frame) encodeDatagram(b []byte) []byte {
	if f.kind == frameTypeDatagramBase {
		// Length-omitted form: the payload runs to the end of the packet.
		b = appendVarint(b, uint64(frameTypeDatagramBase))
		return append(b, f.data...)
	}
	b = appendVarint(b, uint64(frameTypeDatagramBase|0x01))
	b = appendVarint(b, uint64(len(f.data)))
	return append(b, f.data...)
}

func (f *frame) encodeConnectionClose(b []byte) []byte {
	b = appendVarint(b, uint64(f.kind))
	b = appendVarint(b, f.errorCode)
	if f.kind == frameTypeConnectionClose {
		b = appendVarint(b, uint64(f.frameType_))
	}
	b = appendVarint(b, uint64(len(f.reasonPhrase)))
	return append(b, f.reasonPhrase...)
}

// decodeFrame parses one frame from the start of b, returning the number
// of bytes consumed. pt identifies the packet type the frame appeared
// in, to enforce per-packet-type legality.
func decodeFrame(b []byte, pt packetType) (*frame, int, error) {
	if len(b) == 0 {
		return nil, 0, newError(FrameEncodingError, "empty frame section")
	}
	var kindRaw uint64
	n := getVarint(b, &kindRaw)
	if n == 0 {
		return nil, 0, newError(FrameEncodingError, "bad frame type varint")
	}
	kind := frameType(kindRaw)
	f := &frame{kind: kind}

	var off int
	var err error
	switch {
	case kind == frameTypePadding || kind == frameTypePing || kind == frameTypeHandshakeDone || kind == frameTypeImmediateAck:
		off = n
	case kind == frameTypeAck || kind == frameTypeAckECN:
		off, err = f.decodeAck(b, n)
	case kind == frameTypeResetStream:
		off, err = f.decodeResetStream(b, n)
	case kind == frameTypeStopSending:
		off, err = f.decodeStopSending(b, n)
	case kind == frameTypeCrypto:
		off, err = f.decodeCrypto(b, n)
	case kind == frameTypeNewToken:
		off, err = f.decodeNewToken(b, n)
	case isStreamFrameType(kind):
		off, err = f.decodeStream(b, n)
	case kind == frameTypeMaxData || kind == frameTypeDataBlocked:
		off, err = f.decodeVarintField(b, n, &f.maximumData)
	case kind == frameTypeMaxStreamData:
		off, err = f.decodeMaxStreamData(b, n)
	case kind == frameTypeMaxStreamsBidi || kind == frameTypeMaxStreamsUni ||
		kind == frameTypeStreamsBlockedBidi || kind == frameTypeStreamsBlockedUni:
		off, err = f.decodeVarintField(b, n, &f.maximumStreams)
	case kind == frameTypeStreamDataBlocked:
		off, err = f.decodeStreamDataBlocked(b, n)
	case kind == frameTypeNewConnectionId:
		off, err = f.decodeNewConnectionId(b, n)
	case kind == frameTypeRetireConnectionId:
		off, err = f.decodeVarintField(b, n, &f.sequenceNumber)
	case kind == frameTypePriorityUpdateRequest:
		off, err = f.decodePriorityUpdate(b, n)
	case kind == frameTypePathChallenge || kind == frameTypePathResponse:
		off, err = f.decodePathData(b, n)
	case kind == frameTypeConnectionClose || kind == frameTypeConnectionCloseApp:
		off, err = f.decodeConnectionClose(b, n)
	case isDatagramFrameType(kind):
		off, err = f.decodeDatagram(b, n)
	case kind == frameTypeAckFrequency:
		off, err = f.decodeAckFrequency(b, n)
	default:
		return nil, 0, newError(FrameEncodingError, "unknown frame type")
	}
	if err != nil {
		return nil, 0, err
	}
	if !frameLegalIn(kind, pt) {
		return nil, 0, newError(ProtocolViolation, "frame not legal in this packet type")
	}
	return f, off, nil
}

func (f *frame) decodeVarintField(b []byte, off int, dst *uint64) (int, error) {
	n := getVarint(b[off:], dst)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated frame")
	}
	return off + n, nil
}

func (f *frame) decodeAck(b []byte, off int) (int, error) {
	var rangeCount, firstRange uint64
	for _, dst := range []*uint64{&f.largestAcked, &f.ackDelay, &rangeCount, &firstRange} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated ack frame")
		}
		off += n
	}
	if firstRange > f.largestAcked {
		return 0, newError(FrameEncodingError, "ack range underflows largest acked")
	}
	high := f.largestAcked
	low := high - firstRange
	f.ackRanges = append(f.ackRanges, ackRange{Low: low, High: high})
	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		n := getVarint(b[off:], &gap)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated ack range")
		}
		off += n
		n = getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated ack range")
		}
		off += n
		if gap+2 > low {
			return 0, newError(FrameEncodingError, "ack range underflow")
		}
		high = low - gap - 2
		if length > high {
			return 0, newError(FrameEncodingError, "ack range underflow")
		}
		low = high - length
		f.ackRanges = append(f.ackRanges, ackRange{Low: low, High: high})
	}
	if f.kind == frameTypeAckECN {
		for _, dst := range []*uint64{&f.ect0, &f.ect1, &f.ce} {
			n := getVarint(b[off:], dst)
			if n == 0 {
				return 0, newError(FrameEncodingError, "truncated ack ecn counts")
			}
			off += n
		}
	}
	return off, nil
}

func (f *frame) decodeResetStream(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.streamID, &f.appErrorCode, &f.finalSize} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated reset_stream")
		}
		off += n
	}
	return off, nil
}

func (f *frame) decodeStopSending(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.streamID, &f.appErrorCode} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated stop_sending")
		}
		off += n
	}
	return off, nil
}

func (f *frame) decodeCrypto(b []byte, off int) (int, error) {
	var length uint64
	for _, dst := range []*uint64{&f.offset, &length} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated crypto")
		}
		off += n
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated crypto data")
	}
	f.data = b[off : off+int(length)]
	return off + int(length), nil
}

func (f *frame) decodeNewToken(b []byte, off int) (int, error) {
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated new_token")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated new_token data")
	}
	f.data = b[off : off+int(length)]
	return off + int(length), nil
}

func (f *frame) decodePriorityUpdate(b []byte, off int) (int, error) {
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated priority_update stream id")
	}
	off += n
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated priority_update length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated priority_update field value")
	}
	f.data = b[off : off+int(length)]
	return off + int(length), nil
}

func (f *frame) decodeStream(b []byte, off int) (int, error) {
	firstByte := b[off-1]
	hasOffset := firstByte&0x04 != 0
	hasLength := firstByte&0x02 != 0
	f.fin = firstByte&0x01 != 0

	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated stream id")
	}
	off += n
	if hasOffset {
		n = getVarint(b[off:], &f.offset)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated stream offset")
		}
		off += n
	}
	var length uint64
	if hasLength {
		n = getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated stream length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated stream data")
	}
	f.data = b[off : off+int(length)]
	return off + int(length), nil
}

func (f *frame) decodeMaxStreamData(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.streamID, &f.maximumData} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated max_stream_data")
		}
		off += n
	}
	return off, nil
}

func (f *frame) decodeStreamDataBlocked(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.streamID, &f.maximumData} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated stream_data_blocked")
		}
		off += n
	}
	return off, nil
}

func (f *frame) decodeNewConnectionId(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.sequenceNumber, &f.retirePriorTo} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated new_connection_id")
		}
		off += n
	}
	if f.retirePriorTo > f.sequenceNumber {
		return 0, newError(FrameEncodingError, "retire_prior_to exceeds sequence number")
	}
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated new_connection_id")
	}
	cidLen := int(b[off])
	off++
	if cidLen > MaxCIDLength || len(b)-off < cidLen+16 {
		return 0, newError(FrameEncodingError, "truncated new_connection_id")
	}
	f.connectionID = b[off : off+cidLen]
	off += cidLen
	f.statelessReset = b[off : off+16]
	off += 16
	return off, nil
}

func (f *frame) decodePathData(b []byte, off int) (int, error) {
	if len(b)-off < 8 {
		return 0, newError(FrameEncodingError, "truncated path data")
	}
	copy(f.pathData[:], b[off:off+8])
	return off + 8, nil
}

func (f *frame) decodeConnectionClose(b []byte, off int) (int, error) {
	n := getVarint(b[off:], &f.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated connection_close")
	}
	off += n
	if f.kind == frameTypeConnectionClose {
		var ft uint64
		n = getVarint(b[off:], &ft)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated connection_close frame type")
		}
		off += n
		f.frameType_ = frameType(ft)
	}
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated connection_close reason length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated connection_close reason")
	}
	f.reasonPhrase = string(b[off : off+int(length)])
	return off + int(length), nil
}

func (f *frame) decodeDatagram(b []byte, off int) (int, error) {
	firstByte := b[off-1]
	hasLength := firstByte&0x01 != 0
	var length uint64
	if hasLength {
		n := getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated datagram length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "truncated datagram data")
	}
	f.data = b[off : off+int(length)]
	return off + int(length), nil
}

func (f *frame) decodeAckFrequency(b []byte, off int) (int, error) {
	for _, dst := range []*uint64{&f.seqNum, &f.packetTolerance, &f.maxAckDelayUs} {
		n := getVarint(b[off:], dst)
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated ack_frequency")
		}
		off += n
	}
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated ack_frequency")
	}
	f.ignoreOrder = b[off] != 0
	off++
	return off, nil
}
