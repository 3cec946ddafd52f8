package quic

import (
	"net"

	"github.com/quillquic/quic/transport"
)

// Conn is the application-facing handle for one QUIC connection, pairing
// a transport.Conn (the engine) with the UDP 4-tuple and handshake
// driver an Endpoint needs to actually move bytes for it. Grounded on
// the teacher's remoteConn (log.go references one, though its
// definition sits in the teacher's connection-manager file that the
// retrieved pack doesn't include): the same "engine plus addressing"
// pairing, generalized from the teacher's single transport.Conn wrapper
// to also own this engine's pluggable handshakeDriver.
type Conn struct {
	engine    *transport.Conn
	handshake *handshakeDriver

	remote net.Addr
	local  net.Addr

	endpoint *Endpoint
}

// RemoteAddr returns the peer address this connection is addressed to.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// LocalAddr returns the local address this connection sends from.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// TrackingID returns the connection's correlation identifier, stable
// across migration even though its connection IDs change.
func (c *Conn) TrackingID() transport.TrackingID { return c.engine.TrackingID() }

// State reports the connection-controller's current lifecycle state.
func (c *Conn) State() string { return c.engine.State() }

// Stream returns a handle for reading and writing stream id. It never
// fails: an unopened or unknown stream id simply reports errors from
// its methods, the way the teacher's Stream accessor lets a caller hold
// a handle before data has arrived.
func (c *Conn) Stream(id uint64) *Stream {
	return &Stream{conn: c.engine, id: id}
}

// OpenStream opens a new locally-initiated stream and returns a handle
// to it.
func (c *Conn) OpenStream(bidi bool) (*Stream, error) {
	id, err := c.engine.OpenStream(bidi)
	if err != nil {
		return nil, err
	}
	return &Stream{conn: c.engine, id: id}, nil
}

// SendDatagram queues an unreliable QUIC DATAGRAM payload (RFC 9221)
// tagged with trackingID, so a later EventDatagramOutcome can report it
// dropped before ever reaching the wire.
func (c *Conn) SendDatagram(b []byte, trackingID uint64) error {
	return c.engine.SendDatagram(b, trackingID)
}

// SendDatagramUntracked queues payload the same way, without outcome
// reporting.
func (c *Conn) SendDatagramUntracked(b []byte) error { return c.engine.SendDatagramUntracked(b) }

// Close starts a local close with the given application error code and
// reason.
func (c *Conn) Close(errorCode uint64, reason string) error {
	c.engine.Close(true, errorCode, reason)
	return nil
}

// Stream is a handle to one stream of a Conn.
type Stream struct {
	conn *transport.Conn
	id   uint64
}

// ID returns the stream's QUIC stream ID.
func (s *Stream) ID() uint64 { return s.id }

// Write appends data to the stream's send buffer.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.conn.StreamWrite(s.id, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close marks the stream finished (a FIN), without resetting it.
func (s *Stream) Close() error {
	return s.conn.StreamWrite(s.id, nil, true)
}

// Read drains up to len(p) bytes of contiguous, in-order received data.
func (s *Stream) Read(p []byte) (int, error) {
	n, eof, err := s.conn.StreamRead(s.id, p)
	if err != nil {
		return n, err
	}
	if n == 0 && eof {
		return 0, errEOF
	}
	return n, nil
}

// Reset abandons the stream's send side with an application error code.
func (s *Stream) Reset(errorCode uint64) error {
	return s.conn.StreamReset(s.id, errorCode)
}

// StopSending requests that the peer abandon sending on this stream.
func (s *Stream) StopSending(errorCode uint64) error {
	return s.conn.StreamStopSending(s.id, errorCode)
}

// SetPriority records a new HTTP/3 extensible priority for this stream.
func (s *Stream) SetPriority(p transport.Priority) {
	s.conn.SetStreamPriority(s.id, p)
}

type eofError struct{}

func (eofError) Error() string { return "quic: stream at EOF" }

var errEOF = eofError{}
