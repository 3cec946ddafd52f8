package transport

// streamManager owns every stream this connection has created or
// accepted, plus the connection-level flow-control windows that bound
// them all collectively (RFC 9000 section 4: a stream's own window is
// necessary but not sufficient; the sum across all streams must also fit
// the connection-level window).
type streamManager struct {
	streams map[uint64]*stream

	isClient bool

	localConnFlow  streamFlowControl // how much we allow the peer to send across all streams
	remoteConnFlow streamFlowControl // how much we may send across all streams

	nextBidiLocal  uint64
	nextUniLocal   uint64
	maxBidiRemote  uint64 // number of peer-initiated bidi streams opened so far (highest index + 1)
	maxUniRemote   uint64

	maxStreamsBidiLocal uint64 // limit we've advertised to the peer for peer-initiated bidi streams
	maxStreamsUniLocal  uint64

	maxStreamsBidiRemote uint64 // limit the peer has advertised for our bidi streams
	maxStreamsUniRemote  uint64

	defaultLocalStreamMax uint64 // per-stream receive window granted to newly accepted streams
}

func newStreamManager(isClient bool, cfg Config, peerMaxStreamsBidi, peerMaxStreamsUni uint64) *streamManager {
	m := &streamManager{
		streams:               make(map[uint64]*stream),
		isClient:              isClient,
		localConnFlow:         streamFlowControl{maxData: cfg.MaxData},
		maxStreamsBidiLocal:   cfg.MaxStreamsBidi,
		maxStreamsUniLocal:    cfg.MaxStreamsUni,
		maxStreamsBidiRemote:  peerMaxStreamsBidi,
		maxStreamsUniRemote:   peerMaxStreamsUni,
		defaultLocalStreamMax: cfg.MaxStreamDataBidiRemote,
	}
	return m
}

// streamIDBase returns the two low bits identifying stream directionality
// and initiator for this endpoint.
func (m *streamManager) streamIDBase(bidi bool) uint64 {
	var base uint64
	if !bidi {
		base |= 0x02
	}
	if !m.isClient {
		base |= 0x01
	}
	return base
}

// OpenStream creates a new locally-initiated stream, failing with
// StreamLimitError if doing so would exceed the peer-advertised limit.
func (m *streamManager) OpenStream(bidi bool, localMax, remoteMax uint64) (*stream, error) {
	var next *uint64
	var limit uint64
	if bidi {
		next, limit = &m.nextBidiLocal, m.maxStreamsBidiRemote
	} else {
		next, limit = &m.nextUniLocal, m.maxStreamsUniRemote
	}
	if *next >= limit {
		return nil, newError(StreamLimitError, "stream limit exceeded")
	}
	id := (*next)<<2 | m.streamIDBase(bidi)
	*next++
	s := newStream(id, localMax, remoteMax)
	s.sendState = sendStreamReady
	if !bidi {
		s.recvState = recvStreamDataRead // unidirectional sends have no receive side
	}
	m.streams[id] = s
	return s, nil
}

// acceptRemote ensures a peer-initiated stream with the given id exists
// (creating it, and any lower-numbered streams of the same type implied
// by QUIC's "streams are created in order" rule, on first reference),
// enforcing the locally-advertised stream-count limit.
func (m *streamManager) acceptRemote(id uint64, localMax, remoteMax uint64) (*stream, error) {
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	bidi := isBidi(id)
	index := id >> 2
	var limit *uint64
	if bidi {
		limit = &m.maxBidiRemote
	} else {
		limit = &m.maxUniRemote
	}
	advertised := m.maxStreamsBidiLocal
	if !bidi {
		advertised = m.maxStreamsUniLocal
	}
	if index >= advertised {
		return nil, newError(StreamLimitError, "peer exceeded advertised stream limit")
	}
	start := *limit
	if index+1 > *limit {
		*limit = index + 1
	}
	if start > index {
		start = index
	}
	var s *stream
	for i := start; i <= index; i++ {
		sid := i<<2 | id&0x03
		if _, ok := m.streams[sid]; ok {
			continue
		}
		s = newStream(sid, localMax, remoteMax)
		s.sendState = sendStreamReady
		if !bidi {
			s.sendState = sendStreamDataRecvd // unidirectional receive-only stream has no send side
		}
		m.streams[sid] = s
	}
	return s, nil
}

// Get returns the stream with the given id, or nil.
func (m *streamManager) Get(id uint64) *stream {
	return m.streams[id]
}

// connSendAvailable returns the bytes this endpoint may still send across
// all streams combined before hitting the connection-level limit.
func (m *streamManager) connSendAvailable() uint64 {
	return m.remoteConnFlow.available()
}

// reserveSend charges n bytes against the connection-level send window,
// failing if it would exceed the limit (should not happen if callers
// check connSendAvailable first, but enforced here as the authoritative
// gate, matching the teacher's defensive double-check pattern in
// conn.go's frame-building path).
func (m *streamManager) reserveSend(n uint64) error {
	if n > m.connSendAvailable() {
		return errFlowControl
	}
	m.remoteConnFlow.used += n
	return nil
}

// onDataReceived charges n bytes against the connection-level receive
// window, failing with FlowControlError if the peer has exceeded what
// was advertised.
func (m *streamManager) onDataReceived(n uint64) error {
	if m.localConnFlow.used+n > m.localConnFlow.maxData {
		return errFlowControl
	}
	m.localConnFlow.used += n
	return nil
}
