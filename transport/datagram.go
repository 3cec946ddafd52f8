package transport

// datagramDropReason names why a queued datagram was discarded without
// being sent, surfaced to the application/qlog rather than silently
// swallowed.
type datagramDropReason int

const (
	datagramDroppedQueueFull datagramDropReason = iota
	datagramDroppedTooBig
)

func (r datagramDropReason) String() string {
	if r == datagramDroppedTooBig {
		return "too_big"
	}
	return "queue_full"
}

// defaultMaxQueuedOutgoingDatagrams bounds the outgoing DATAGRAM backlog
// this engine holds before dropping the oldest to make room for a new
// one, when Config.MaxQueuedOutgoingDatagrams is left at 0. Grounded on
// neqo's quic_datagrams.rs MAX_QUEUED_DATAGRAMS.
const defaultMaxQueuedOutgoingDatagrams = 32

// outgoingDatagram pairs a queued payload with the caller-supplied
// tracking id (spec data model: {payload, tracking_id: Option<u64>}),
// so a later DatagramOutcome event can be correlated back to the
// SendDatagram call that enqueued it.
type outgoingDatagram struct {
	payload    []byte
	trackingID uint64
	hasTracking bool
}

// datagramQueues implements the QUIC DATAGRAM extension's send and
// receive backlogs (RFC 9221), grounded on quic_datagrams.rs: the
// outgoing queue drops the oldest entry once full rather than rejecting
// the newest, so a steady stream of small, low-value datagrams never
// starves out fresher ones.
type datagramQueues struct {
	outgoing []outgoingDatagram
	maxQueued int

	remoteMaxSize uint64 // peer's max_datagram_frame_size; 0 means the peer does not support DATAGRAM
	localMaxSize  uint64

	lastDropReason datagramDropReason
	drops          map[datagramDropReason]uint64

	// outcomes collects DatagramOutcome events for drops that happen
	// inside addDatagram/nextFrame, drained by the connection into
	// EventDatagramOutcome events on the next ProcessOutput/Events call.
	outcomes []datagramOutcome
}

// datagramOutcome records what ultimately happened to one tracked
// outgoing datagram.
type datagramOutcome struct {
	trackingID uint64
	reason     datagramDropReason
}

func newDatagramQueues(localMaxSize uint64, maxQueued int) *datagramQueues {
	if maxQueued <= 0 {
		maxQueued = defaultMaxQueuedOutgoingDatagrams
	}
	return &datagramQueues{
		localMaxSize: localMaxSize,
		maxQueued:    maxQueued,
		drops:        make(map[datagramDropReason]uint64),
	}
}

// addDatagram enqueues payload for sending under the given tracking id
// (hasTracking false for an untracked send), dropping the oldest queued
// datagram if the queue is already full. Returns TooMuchData if payload
// exceeds what the peer advertised it is willing to receive.
func (q *datagramQueues) addDatagram(payload []byte, trackingID uint64, hasTracking bool) error {
	if q.remoteMaxSize == 0 || uint64(len(payload)) > q.remoteMaxSize {
		return newError(TooMuchData, "datagram exceeds peer's max_datagram_frame_size")
	}
	if len(q.outgoing) >= q.maxQueued {
		dropped := q.outgoing[0]
		q.outgoing = q.outgoing[1:]
		q.drops[datagramDroppedQueueFull]++
		q.lastDropReason = datagramDroppedQueueFull
		if dropped.hasTracking {
			q.outcomes = append(q.outcomes, datagramOutcome{trackingID: dropped.trackingID, reason: datagramDroppedQueueFull})
		}
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.outgoing = append(q.outgoing, outgoingDatagram{payload: cp, trackingID: trackingID, hasTracking: hasTracking})
	return nil
}

// drainOutcomes returns and clears every DatagramOutcome event accrued
// since the last call.
func (q *datagramQueues) drainOutcomes() []datagramOutcome {
	if len(q.outcomes) == 0 {
		return nil
	}
	out := q.outcomes
	q.outcomes = nil
	return out
}

// datagramWriteResult tells the scheduler what happened when it asked
// the queue for the next frame to pack.
type datagramWriteResult int

const (
	datagramWriteNone     datagramWriteResult = iota // queue empty
	datagramWriteFull                                  // encoded with explicit length; room remains in the packet
	datagramWriteFullNoRoom                            // encoded length-omitted; packet is now full
	datagramWriteDeferred                              // didn't fit and packet already has other frames; try again later
	datagramWriteDropped                               // didn't fit and packet was otherwise empty; datagram discarded
)

// nextFrame decides how (or whether) to pack the front of the outgoing
// queue into a packet with budget bytes remaining, given whether the
// packet already carries other frames. It mutates the queue (popping or
// dropping as appropriate) and returns the frame to append, if any.
func (q *datagramQueues) nextFrame(budget int, packetHasOtherFrames bool) (*frame, datagramWriteResult) {
	if len(q.outgoing) == 0 {
		return nil, datagramWriteNone
	}
	entry := q.outgoing[0]
	payload := entry.payload
	// Smallest possible following frame is a 1-byte PING/PADDING; the
	// length-prefixed form needs room for the type byte, a varint length,
	// the payload, and that following frame to be worth keeping the
	// length prefix at all.
	lengthPrefixCost := 1 + varintLen(uint64(len(payload)))
	if budget >= lengthPrefixCost+len(payload)+1 {
		q.outgoing = q.outgoing[1:]
		return &frame{kind: 0x31, data: payload}, datagramWriteFull
	}
	if budget >= 1+len(payload) {
		q.outgoing = q.outgoing[1:]
		return &frame{kind: 0x30, data: payload}, datagramWriteFullNoRoom
	}
	if packetHasOtherFrames {
		return nil, datagramWriteDeferred
	}
	q.outgoing = q.outgoing[1:]
	q.drops[datagramDroppedTooBig]++
	q.lastDropReason = datagramDroppedTooBig
	if entry.hasTracking {
		q.outcomes = append(q.outcomes, datagramOutcome{trackingID: entry.trackingID, reason: datagramDroppedTooBig})
	}
	return nil, datagramWriteDropped
}

func (q *datagramQueues) pushFront(entry outgoingDatagram) {
	q.outgoing = append([]outgoingDatagram{entry}, q.outgoing...)
}

func (q *datagramQueues) droppedCount(reason datagramDropReason) uint64 {
	return q.drops[reason]
}
