package quic

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillquic/quic/transport"
)

// Handler reacts to the application-visible events a Conn produces
// while an Endpoint drives it. Grounded on the teacher's
// cmd/quince/client.go clientHandler.Serve(c, events) shape, adapted
// from the teacher's single transport.Event.Type switch to this
// engine's transport.EventKind.
type Handler interface {
	Serve(c *Conn, events []transport.Event)
}

// Endpoint owns one UDP socket and every Conn multiplexed over it,
// analogous to the teacher's top-level quic.Client/quic.Server (not
// present in the retrieved pack, only referenced by cmd/quince/client.go
// and log.go's remoteConn) generalized into a single type both roles
// share, since a server Endpoint and a client Endpoint differ only in
// whether they accept unsolicited Initial packets.
type Endpoint struct {
	pconn    net.PacketConn
	isClient bool
	cfg      Config
	handler  Handler
	tokens   *tokenStore
	metrics  *endpointCollector
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	byCID  map[string]*Conn
	closed bool

	timers sync.Map // transport.TrackingID -> *time.Timer, the next scheduled pump for a conn
}

func newEndpoint(pconn net.PacketConn, isClient bool, cfg Config, handler Handler) *Endpoint {
	if cfg.MetricsNamespace != "" {
		cfg.Transport.MetricsNamespace = cfg.MetricsNamespace
	}
	return &Endpoint{
		pconn:    pconn,
		isClient: isClient,
		cfg:      cfg,
		handler:  handler,
		tokens:   newTokenStore(),
		metrics:  newEndpointCollector(),
		logger:   NewLogger(cfg.Log),
		byCID:    make(map[string]*Conn),
	}
}

// NewClient creates a client Endpoint bound to an ephemeral local port.
func NewClient(cfg Config, handler Handler) (*Endpoint, error) {
	pconn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	e := newEndpoint(pconn, true, cfg, handler)
	go e.readLoop()
	return e, nil
}

// ListenServer creates a server Endpoint listening on addr.
func ListenServer(addr string, cfg Config, handler Handler) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pconn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	e := newEndpoint(pconn, false, cfg, handler)
	go e.readLoop()
	return e, nil
}

// Collector returns the Endpoint's aggregate prometheus.Collector, for
// the caller to register with its own prometheus.Registerer.
func (e *Endpoint) Collector() *endpointCollector { return e.metrics }

// Connect dials a server Endpoint, returning a Conn once the first
// Initial packet has been sent. The handshake itself completes
// asynchronously; use Handler or Conn.State to observe progress.
func (e *Endpoint) Connect(addr string) (*Conn, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := e.cfg.tlsConfig(true)
	if err != nil {
		return nil, err
	}
	var initDCID [8]byte
	if _, err := rand.Read(initDCID[:]); err != nil {
		return nil, err
	}
	hs := newHandshakeDriver(true, tlsCfg, e.cfg.Transport.ToParameters(), initDCID[:])
	engine, err := transport.NewClient(remoteAddr, e.pconn.LocalAddr(), e.cfg.Transport, hs, nil, nil)
	if err != nil {
		return nil, err
	}
	hs.attach(engine)
	engine.SetInitialRemoteCID(initDCID[:])
	engine.WithQlogSink(newQlogToZap(e.logger, engine.TrackingID()))

	c := &Conn{engine: engine, handshake: hs, remote: remoteAddr, local: e.pconn.LocalAddr(), endpoint: e}
	e.register(c)
	e.pumpConn(c)
	return c, nil
}

func cidKey(cid []byte) string { return hex.EncodeToString(cid) }

func (e *Endpoint) register(c *Conn) {
	key := cidKey(c.engine.LocalCID())
	e.mu.Lock()
	e.byCID[key] = c
	e.mu.Unlock()
	e.metrics.add(c.engine.TrackingID(), c.engine.Stats())
}

func (e *Endpoint) unregister(c *Conn) {
	key := cidKey(c.engine.LocalCID())
	e.mu.Lock()
	delete(e.byCID, key)
	e.mu.Unlock()
	e.metrics.remove(c.engine.TrackingID())
	if t, ok := e.timers.LoadAndDelete(c.engine.TrackingID()); ok {
		t.(*time.Timer).Stop()
	}
}

func (e *Endpoint) lookup(cid []byte) *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byCID[cidKey(cid)]
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, remote, err := e.pconn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		e.handleDatagram(data, remote)
	}
}

const shortHeaderLocalCIDLength = 8 // matches Conn.localCIDLength's fixed default

func (e *Endpoint) handleDatagram(data []byte, remote net.Addr) {
	_, dcid, scid, token, isInitial, isLong := transport.PeekLongHeaderToken(data)
	var c *Conn
	if isLong {
		c = e.lookup(dcid)
	} else if len(data) >= 1+shortHeaderLocalCIDLength {
		c = e.lookup(data[1 : 1+shortHeaderLocalCIDLength])
	}
	if c == nil {
		if e.isClient || !isLong {
			return // unsolicited packet for an unknown connection: drop
		}
		if !isInitial {
			return // Handshake/0-RTT/short-header for a connection we never saw: drop
		}
		if e.cfg.RequireRetry && len(token) == 0 {
			e.sendRetry(dcid, scid, remote)
			return
		}
		odcid := dcid
		if e.cfg.RequireRetry {
			validated, ok := e.tokens.validateRetryToken(remote, token)
			if !ok {
				e.logger.Warnw("rejected retry token", "remote", remote.String())
				return
			}
			odcid = validated
		}
		var err error
		c, err = e.acceptNew(odcid, scid, remote)
		if err != nil {
			e.logger.Warnw("rejected new connection", "remote", remote.String(), "error", err)
			return
		}
	}
	if err := c.engine.ProcessInput(data, remote, e.pconn.LocalAddr(), time.Now()); err != nil {
		e.logger.Debugw("connection closed on input error", "remote", remote.String(), "error", err)
	}
	e.deliverEvents(c)
	e.pumpConn(c)
}

// sendRetry answers a token-less first Initial with a Retry packet (RFC
// 9000 section 8.1.2), asking the client to prove it can receive
// packets at remote before any connection state is created for it.
func (e *Endpoint) sendRetry(odcid, clientSCID []byte, remote net.Addr) {
	var serverSCID [8]byte
	if _, err := rand.Read(serverSCID[:]); err != nil {
		return
	}
	token := e.tokens.issueRetryToken(remote, odcid)
	pkt, err := transport.BuildRetryPacket(clientSCID, serverSCID[:], token, retryIntegrityTag(odcid))
	if err != nil {
		e.logger.Warnw("failed to build retry packet", "remote", remote.String(), "error", err)
		return
	}
	if _, err := e.pconn.WriteTo(pkt, remote); err != nil {
		e.logger.Warnw("failed to send retry", "remote", remote.String(), "error", err)
	}
}

func (e *Endpoint) acceptNew(dcid, scid []byte, remote net.Addr) (*Conn, error) {
	tlsCfg, err := e.cfg.tlsConfig(false)
	if err != nil {
		return nil, err
	}
	hs := newHandshakeDriver(false, tlsCfg, e.cfg.Transport.ToParameters(), dcid)
	engine, err := transport.NewServer(remote, e.pconn.LocalAddr(), e.cfg.Transport, hs, nil, nil)
	if err != nil {
		return nil, err
	}
	hs.attach(engine)
	engine.SetInitialRemoteCID(scid)
	engine.WithQlogSink(newQlogToZap(e.logger, engine.TrackingID()))

	c := &Conn{engine: engine, handshake: hs, remote: remote, local: e.pconn.LocalAddr(), endpoint: e}
	e.register(c)
	return c, nil
}

func (e *Endpoint) deliverEvents(c *Conn) {
	events := c.engine.Events(nil)
	if len(events) == 0 {
		return
	}
	if e.handler != nil {
		e.handler.Serve(c, events)
	}
	for _, ev := range events {
		if ev.Kind == transport.EventStateChange && c.engine.IsClosed() {
			e.unregister(c)
			c.handshake.close()
			return
		}
	}
}

// pumpConn drains ProcessOutput until it has nothing left to send right
// now, writing each datagram to the socket, then arms a timer for the
// next deadline it reports (either a pacing/PTO wakeup or the idle
// timeout), mirroring the teacher's event-loop-plus-timer structure
// without requiring a busy-poll goroutine per connection.
func (e *Endpoint) pumpConn(c *Conn) {
	now := time.Now()
	for i := 0; i < 16; i++ {
		out, deadline, err := c.engine.ProcessOutput(now)
		if err != nil {
			e.deliverEvents(c)
			return
		}
		if out == nil {
			e.armTimer(c, deadline)
			return
		}
		if _, err := e.pconn.WriteTo(out, c.remote); err != nil {
			e.logger.Warnw("write failed", "remote", c.remote.String(), "error", err)
			return
		}
	}
	e.armTimer(c, now)
}

func (e *Endpoint) armTimer(c *Conn, deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	id := c.engine.TrackingID()
	if old, ok := e.timers.Load(id); ok {
		old.(*time.Timer).Stop()
	}
	e.timers.Store(id, time.AfterFunc(d, func() {
		c.engine.HandleTimeout(time.Now())
		e.deliverEvents(c)
		e.pumpConn(c)
	}))
}

// Close shuts down the socket and every timer this Endpoint owns. Live
// connections are not gracefully closed first; callers that need a
// clean shutdown should Close each Conn and let Handler observe
// EventStateChange before calling this.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.timers.Range(func(key, value interface{}) bool {
		value.(*time.Timer).Stop()
		return true
	})
	return e.pconn.Close()
}
