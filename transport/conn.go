package transport

import (
	"net"
	"time"
)

// connectionState is the top-level connection lifecycle (C16), RFC 9000
// section 4 plus the local bookkeeping states the spec's connection
// controller component adds around it.
type connectionState int

const (
	stateInit connectionState = iota
	stateWaitInitial
	stateHandshaking
	stateConnected // 1-RTT keys installed, handshake not yet confirmed
	stateConfirmed // HANDSHAKE_DONE sent (server) or received (client)
	stateClosing
	stateDraining
	stateClosed
)

func (s connectionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateWaitInitial:
		return "wait_initial"
	case stateHandshaking:
		return "handshaking"
	case stateConnected:
		return "connected"
	case stateConfirmed:
		return "confirmed"
	case stateClosing:
		return "closing"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind identifies the application-visible events a connection
// surfaces through Events.
type EventKind int

const (
	EventStateChange EventKind = iota
	EventStreamReadable
	EventStreamWritable
	EventStreamFinished
	EventDatagramReceived
	EventPathValidated
	EventPathAbandoned
	EventAuthenticationNeeded
	EventDatagramOutcome
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state_change"
	case EventStreamReadable:
		return "stream_readable"
	case EventStreamWritable:
		return "stream_writable"
	case EventStreamFinished:
		return "stream_finished"
	case EventDatagramReceived:
		return "datagram_received"
	case EventPathValidated:
		return "path_validated"
	case EventPathAbandoned:
		return "path_abandoned"
	case EventAuthenticationNeeded:
		return "authentication_needed"
	case EventDatagramOutcome:
		return "datagram_outcome"
	default:
		return "unknown"
	}
}

// Event is a single application-visible notification produced while
// processing input or a timeout.
type Event struct {
	Kind     EventKind
	StreamID uint64
	Reason   *Error // populated for EventStateChange into Closed
	PeerInitiatedClose bool
	Data     []byte // EventDatagramReceived

	// EventDatagramOutcome: the tracking id passed to SendDatagram and why
	// that datagram never went on the wire (queue_full or too_big; a
	// successfully sent datagram gets no outcome event at all, since QUIC
	// DATAGRAM delivery is never acknowledged).
	DatagramTrackingID uint64
	DatagramDropReason string
}

// Conn is a single QUIC connection: the top-level connection controller
// (C16) that owns every other component (packet-number spaces, stream
// manager, path registry, CID pool, congestion control, loss detector,
// pacer, PMTUD, ECN validation) and drives them from the three entry
// points ProcessInput/ProcessOutput/HandleTimeout. Grounded on the
// teacher's Conn in transport/conn.go: the same per-connection,
// single-owner, no-internal-locking structure and method decomposition
// (recv*/send* methods per frame/packet kind), generalized from the
// teacher's single packet-number-space, single-path assumptions to the
// full three-space, multi-path model SPEC_FULL requires.
type Conn struct {
	isClient bool
	version  uint32

	config Config

	localParams Parameters
	peerParams  *Parameters

	cids    *cidPool
	paths   *pathRegistry
	streams *streamManager
	dgrams  *datagramQueues

	sentPackets *sentPacketRegistry
	loss        *lossDetector
	cc          CongestionController
	pace        *pacer

	handshake HandshakeDriver
	sealers   [packetSpaceCount]AeadSealer
	openers   [packetSpaceCount]AeadOpener

	state connectionState

	closeError   *Error
	closeIsApp   bool
	closingSince time.Time
	closeFramesSent int

	idleDeadline time.Time

	clock  Clock
	qlog   QlogSink
	logger Logger
	stats  *Stats
	trackingID TrackingID

	events []Event

	datagramSizeAllowed uint64

	// localCIDLength is the fixed connection-ID length this endpoint
	// issues and therefore must assume when parsing an incoming
	// short-header packet, since randomCidGenerator embeds no
	// self-describing length (RFC 9000 section 5.1 permits this; it
	// just means both ends must already agree out of band, which here
	// means "whatever length this connection picked at creation").
	localCIDLength int

	// pendingPathResponse holds PATH_CHALLENGE data received but not yet
	// answered with a PATH_RESPONSE.
	pendingPathResponse [][8]byte

	// cryptoSend holds every CRYPTO byte the handshake driver has ever
	// produced for a space, retained (like a stream's sendBuffer) until
	// acked so a declared-lost CRYPTO frame can be re-sliced verbatim
	// rather than silently dropped.
	cryptoSend       [packetSpaceCount]sendBuffer
	cryptoNextSend   [packetSpaceCount]uint64 // offset of the next unsent byte

	// pendingRetireCids holds sequence numbers of peer-issued connection
	// IDs this endpoint must retire (superseded by the peer's
	// retire_prior_to), not yet framed into a RETIRE_CONNECTION_ID.
	pendingRetireCids []uint64

	// pendingNewCids holds locally-issued connection IDs not yet framed
	// into a NEW_CONNECTION_ID, so the peer can address this endpoint at
	// more than one CID (required for the privacy-preserving migration
	// C10/the path registry drive).
	pendingNewCids []localCID

	// haveIssuedNewCids guards the one-time top-up of local CIDs once the
	// peer's active_connection_id_limit is known, so it only fires once
	// per handshake confirmation rather than every ProcessOutput call.
	haveIssuedNewCids bool

	// retransmitQueue holds RecoveryTokens from declared-lost packets
	// whose frame must be resent verbatim rather than re-derived from
	// current connection state (CRYPTO ranges, RESET_STREAM, etc.).
	retransmitQueue []RecoveryToken
}

// NewClient creates a client-role connection.
func NewClient(remote net.Addr, local net.Addr, cfg Config, handshake HandshakeDriver, gen ConnectionIdGenerator, clock Clock) (*Conn, error) {
	return newConn(true, remote, local, cfg, handshake, gen, clock)
}

// NewServer creates a server-role connection once a client's Initial has
// been received.
func NewServer(remote net.Addr, local net.Addr, cfg Config, handshake HandshakeDriver, gen ConnectionIdGenerator, clock Clock) (*Conn, error) {
	return newConn(false, remote, local, cfg, handshake, gen, clock)
}

func newConn(isClient bool, remote, local net.Addr, cfg Config, handshake HandshakeDriver, gen ConnectionIdGenerator, clock Clock) (*Conn, error) {
	if clock == nil {
		clock = realClock{}
	}
	if gen == nil {
		gen = NewRandomConnectionIdGenerator()
	}
	c := &Conn{
		isClient:    isClient,
		version:     quicVersion1,
		config:      cfg,
		localParams: cfg.toParameters(),
		cids:        newCidPool(gen),
		paths:       newPathRegistry(),
		dgrams:      newDatagramQueues(cfg.DatagramSizeLocal, cfg.MaxQueuedOutgoingDatagrams),
		sentPackets: newSentPacketRegistry(),
		loss:        newLossDetector(clock),
		pace:        newPacer(cfg.Pacing),
		handshake:   handshake,
		state:       stateInit,
		clock:       clock,
		qlog:        noopQlogSink{},
		logger:      NopLogger{},
		stats:       newStats(cfg.MetricsNamespace),
		trackingID:  NewTrackingID(),
		localCIDLength: 8,
	}
	c.streams = newStreamManager(isClient, cfg, cfg.MaxStreamsBidi, cfg.MaxStreamsUni)
	p := c.paths.findOrCreate(local, remote, clock)
	c.paths.setActive(p)

	// MSS is the path's current PLPMTU, not the transport-parameter
	// MaxUDPPayloadSize ceiling (spec.md section 4.4): a fresh path's
	// pmtud starts at the smallest search-table entry, so this is 1252
	// bytes for IPv4 (1280-28) until PMTUD raises it.
	mss := p.pmtud.PayloadMTU()
	switch cfg.CongestionAlgorithm {
	case CongestionNewReno:
		c.cc = newNewReno(mss)
	default:
		c.cc = newCubic(mss)
	}
	if isClient {
		c.state = stateHandshaking
	} else {
		c.state = stateWaitInitial
	}
	if cfg.IdleTimeout > 0 {
		c.idleDeadline = clock.Now().Add(cfg.IdleTimeout)
	}
	if lc, err := c.cids.issueLocal(c.localCIDLength, nil); err == nil && lc != nil {
		p.localCID = lc.cid
	}
	return c, nil
}

// quicVersion1 is the QUIC v1 wire version (RFC 9000 section 15).
const quicVersion1 = 0x00000001

// WithLogger installs a structured logger.
func (c *Conn) WithLogger(l Logger) { c.logger = l }

// WithQlogSink installs a qlog event sink.
func (c *Conn) WithQlogSink(s QlogSink) { c.qlog = s }

// Stats returns the connection's live metrics collector.
func (c *Conn) Stats() *Stats { return c.stats }

// TrackingID returns this connection's correlation identifier.
func (c *Conn) TrackingID() TrackingID { return c.trackingID }

// State reports the current connection-controller state.
func (c *Conn) State() string { return c.state.String() }

// IsEstablished reports whether 1-RTT keys are usable.
func (c *Conn) IsEstablished() bool {
	return c.state == stateConnected || c.state == stateConfirmed
}

// IsClosed reports whether the connection has reached its terminal
// state.
func (c *Conn) IsClosed() bool { return c.state == stateClosed }

// Events drains and returns any pending application-visible events,
// appending them to events and returning the extended slice (matching
// the teacher's append-into-caller-buffer Events signature, which lets a
// connection manager reuse one scratch slice across many connections).
func (c *Conn) Events(events []Event) []Event {
	events = append(events, c.events...)
	c.events = c.events[:0]
	return events
}

func (c *Conn) addEvent(e Event) {
	c.events = append(c.events, e)
}

func (c *Conn) emitQlog(e LogEvent) {
	c.qlog.Emit(e)
}

// Close starts a local, application- or protocol-initiated close,
// transitioning to Closing. Repeated calls are ignored once already
// closing or closed, matching RFC 9000 section 10's "once closing,
// already closing" idempotence.
func (c *Conn) Close(isApp bool, errorCode uint64, reason string) {
	if c.state == stateClosing || c.state == stateDraining || c.state == stateClosed {
		return
	}
	kind := ErrorKind(errorCode)
	if isApp {
		kind = ApplicationError
	}
	c.closeError = &Error{Kind: kind, Detail: reason}
	c.closeIsApp = isApp
	c.closingSince = c.clock.Now()
	c.state = stateClosing
	c.addEvent(Event{Kind: EventStateChange})
}

// setDraining enters Draining (Closing without emitting further
// CONNECTION_CLOSE frames), e.g. after receiving a peer's CONNECTION_CLOSE
// or a stateless reset.
func (c *Conn) setDraining(now time.Time, peerClose *Error) {
	if c.state == stateDraining || c.state == stateClosed {
		return
	}
	c.state = stateDraining
	c.closingSince = now
	c.closeError = peerClose
	c.addEvent(Event{Kind: EventStateChange, Reason: peerClose, PeerInitiatedClose: true})
}

// closingTimeout is how long Closing/Draining is held before transitioning
// to Closed, expressed as a multiple of the current PTO per RFC 9000
// section 10.2.
const closingTimeoutPTOs = 3

func (c *Conn) closingDeadline() time.Time {
	return c.closingSince.Add(closingTimeoutPTOs * c.loss.ptoDuration())
}
