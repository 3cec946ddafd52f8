package transport

// sendStreamState is the per-stream sender state machine, RFC 9000
// section 3.1.
type sendStreamState int

const (
	sendStreamReady sendStreamState = iota
	sendStreamSend
	sendStreamDataSent
	sendStreamDataRecvd
	sendStreamResetSent
	sendStreamResetRecvd
)

// recvStreamState is the per-stream receiver state machine, RFC 9000
// section 3.2.
type recvStreamState int

const (
	recvStreamRecv recvStreamState = iota
	recvStreamSizeKnown
	recvStreamDataRecvd
	recvStreamDataRead
	recvStreamResetRecvd
	recvStreamResetRead
)

// streamFlowControl tracks one direction's flow-control window: a
// maximum the peer (or we, for receive) is willing to let fill and the
// bytes consumed of it so far.
type streamFlowControl struct {
	maxData uint64
	used    uint64
}

func (f *streamFlowControl) available() uint64 {
	if f.used >= f.maxData {
		return 0
	}
	return f.maxData - f.used
}

// sendBuffer holds outgoing stream bytes not yet acknowledged, as a
// simple append-and-trim ring rather than a byte-range tree: QUIC stream
// data is sent in order (retransmission re-sends the same bytes, never a
// reordering), so a single contiguous buffer plus an acked-up-to offset
// suffices, matching how the teacher's conn.go buffers CRYPTO data.
type sendBuffer struct {
	data       []byte
	baseOffset uint64 // offset of data[0]
	ackedUpTo  uint64 // offset up to which the peer has acked
}

func (b *sendBuffer) write(p []byte) {
	b.data = append(b.data, p...)
}

// slice returns up to maxLen bytes starting at offset, suitable for
// encoding into a STREAM frame.
func (b *sendBuffer) slice(offset uint64, maxLen int) []byte {
	if offset < b.baseOffset {
		offset = b.baseOffset
	}
	start := int(offset - b.baseOffset)
	if start >= len(b.data) {
		return nil
	}
	end := start + maxLen
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[start:end]
}

// ack advances ackedUpTo and discards any now-fully-acked prefix.
func (b *sendBuffer) ack(upTo uint64) {
	if upTo <= b.ackedUpTo {
		return
	}
	b.ackedUpTo = upTo
	if upTo > b.baseOffset {
		trim := int(upTo - b.baseOffset)
		if trim > len(b.data) {
			trim = len(b.data)
		}
		b.data = b.data[trim:]
		b.baseOffset = upTo
	}
}

// recvBuffer reassembles out-of-order incoming stream data using an
// ackRangeSet-like approach: bytes are buffered per received range and
// released to the application only once the ranges coalesce into a
// single contiguous block starting at readOffset.
type recvBuffer struct {
	readOffset uint64
	pending    map[uint64][]byte // offset -> bytes, only entries at or after readOffset that aren't yet contiguous
	ready      []byte            // contiguous bytes from readOffset not yet delivered to the application
	finalSize  uint64
	haveFinalSize bool
}

func newRecvBuffer() *recvBuffer {
	return &recvBuffer{pending: make(map[uint64][]byte)}
}

// insert records a STREAM frame's payload at offset, coalescing into
// ready as much contiguous data as is now available.
func (r *recvBuffer) insert(offset uint64, data []byte, fin bool) error {
	if fin {
		finalSize := offset + uint64(len(data))
		if r.haveFinalSize && finalSize != r.finalSize {
			return newError(FinalSizeError, "inconsistent final size")
		}
		r.finalSize = finalSize
		r.haveFinalSize = true
	}
	if r.haveFinalSize && offset+uint64(len(data)) > r.finalSize {
		return newError(FinalSizeError, "data beyond final size")
	}
	if offset+uint64(len(data)) <= r.readOffset {
		return nil // entirely already delivered
	}
	if offset < r.readOffset {
		data = data[r.readOffset-offset:]
		offset = r.readOffset
	}
	if len(data) > 0 {
		r.pending[offset] = data
	}
	r.coalesce()
	return nil
}

func (r *recvBuffer) coalesce() {
	for {
		chunk, ok := r.pending[r.readOffset]
		if !ok {
			return
		}
		delete(r.pending, r.readOffset)
		r.ready = append(r.ready, chunk...)
		r.readOffset += uint64(len(chunk))
	}
}

// read drains up to len(p) bytes of contiguous data into p.
func (r *recvBuffer) read(p []byte) int {
	n := copy(p, r.ready)
	r.ready = r.ready[n:]
	return n
}

func (r *recvBuffer) atEOF() bool {
	return r.haveFinalSize && len(r.ready) == 0 && len(r.pending) == 0 && r.readOffset == r.finalSize
}

// stream is one QUIC stream's full state: send and receive sides (for a
// unidirectional stream, only the relevant side is used), their flow
// control windows, and the buffers above.
type stream struct {
	id uint64

	sendState sendStreamState
	recvState recvStreamState

	sendBuf  sendBuffer
	recvBuf  *recvBuffer
	nextSendOffset uint64

	localFlow  streamFlowControl // this endpoint's advertised receive window (how much we allow the peer to send)
	remoteFlow streamFlowControl // the peer's advertised window (how much we may send)

	finalSize       uint64
	haveFinalSize   bool
	resetErrorCode  uint64
	stopErrorCode   uint64
	stopRequested   bool

	priority *priorityHandler

	// nextFlowControlUpdate is the localFlow.maxData threshold past which
	// a MAX_STREAM_DATA frame should be queued (RFC 9000 section 4.1
	// recommends updating once the window is half consumed).
	nextFlowControlUpdate uint64
}

func isBidi(id uint64) bool  { return id&0x02 == 0 }
func isClientInit(id uint64) bool { return id&0x01 == 0 }

func newStream(id uint64, localMax, remoteMax uint64) *stream {
	s := &stream{
		id:         id,
		recvBuf:    newRecvBuffer(),
		localFlow:  streamFlowControl{maxData: localMax},
		remoteFlow: streamFlowControl{maxData: remoteMax},
		priority:   newPriorityHandler(),
	}
	s.nextFlowControlUpdate = localMax / 2
	return s
}

// queue appends application bytes to the send buffer for later framing.
func (s *stream) queue(data []byte, fin bool) error {
	if s.sendState == sendStreamResetSent || s.sendState == sendStreamResetRecvd {
		return newError(StreamStateError, "stream reset, cannot write")
	}
	avail := s.remoteFlow.available()
	if uint64(len(data)) > avail {
		return errFlowControl
	}
	s.sendBuf.write(data)
	if fin {
		s.haveFinalSize = true
		s.finalSize = s.nextSendOffset + uint64(len(data)) + uint64(len(s.sendBuf.data)) - uint64(len(data))
	}
	if s.sendState == sendStreamReady {
		s.sendState = sendStreamSend
	}
	return nil
}

// resetStream transitions the send side to ResetSent, discarding buffered
// data.
func (s *stream) resetStream(errorCode uint64) {
	s.sendState = sendStreamResetSent
	s.resetErrorCode = errorCode
	s.sendBuf = sendBuffer{}
}

// onStopSending records the peer's request to stop sending; per RFC 9000
// this does not itself change sendState, it just signals the application.
func (s *stream) onStopSending(errorCode uint64) {
	s.stopRequested = true
	s.stopErrorCode = errorCode
}
