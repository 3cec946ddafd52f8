package transport

import "time"

// Parameters holds the QUIC transport parameters exchanged during the
// handshake (RFC 9000 section 18.2). Both the locally configured set
// (derived from Config) and the peer's advertised set use this type; the
// HandshakeDriver decodes the latter from the peer's encoded
// extension and hands it back via PeerTransportParams.
type Parameters struct {
	OriginalDestinationConnectionID []byte
	InitialSourceConnectionID       []byte
	RetrySourceConnectionID         []byte

	MaxIdleTimeout time.Duration

	StatelessResetToken []byte

	MaxUDPPayloadSize uint64

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64

	AckDelayExponent uint64
	MaxAckDelay      time.Duration

	DisableActiveMigration bool

	PreferredAddress *PreferredAddress

	ActiveConnectionIdLimit uint64

	MaxDatagramFrameSize uint64 // 0 means the DATAGRAM extension is disabled

	GreaseQuicBit bool
}

// DefaultParameters returns the transport parameters this engine sends
// when none are overridden. max_udp_payload_size, ack_delay_exponent,
// max_ack_delay and active_connection_id_limit take RFC 9000 section
// 18.2's defaults; the idle timeout and the flow-control and stream
// limits are non-zero engine values rather than the RFC's zero defaults.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIdleTimeout:                 30 * time.Second,
		MaxUDPPayloadSize:              65527,
		InitialMaxData:                 1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 16,
		InitialMaxStreamDataBidiRemote: 1 << 16,
		InitialMaxStreamDataUni:        1 << 16,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           100,
		AckDelayExponent:               3,
		MaxAckDelay:                    25 * time.Millisecond,
		ActiveConnectionIdLimit:        2,
		MaxDatagramFrameSize:           0,
	}
}

// PreferredAddress is the optional preferred_address transport parameter
// a server may advertise, inviting the client to migrate there once the
// handshake confirms.
type PreferredAddress struct {
	IPv4                 [4]byte
	IPv4Port             uint16
	IPv6                 [16]byte
	IPv6Port             uint16
	HaveIPv4, HaveIPv6   bool
	ConnectionID         []byte
	StatelessResetToken  []byte
}

// CongestionAlgorithm selects the congestion controller a connection
// uses.
type CongestionAlgorithm int

const (
	CongestionCubic CongestionAlgorithm = iota
	CongestionNewReno
)

func (a CongestionAlgorithm) String() string {
	if a == CongestionNewReno {
		return "new_reno"
	}
	return "cubic"
}

// Config is the local, JSON-tagged configuration surface applications
// set before creating a connection. It is distinct from Parameters: Config
// is never sent on the wire as-is, it is the input the engine uses to
// derive its own Parameters and to configure subsystems (congestion
// control, pacing, logging) that aren't part of the QUIC handshake at
// all. Grounded on the teacher-adjacent example's JSON config struct
// (cppla-moto's config/setting.go), adapted from web-server settings to
// QUIC connection settings.
type Config struct {
	CongestionAlgorithm CongestionAlgorithm `json:"cc_algorithm"`
	Pacing              bool                `json:"pacing"`

	IdleTimeout time.Duration `json:"idle_timeout"`

	MaxStreamsBidi uint64 `json:"max_streams_bidi"`
	MaxStreamsUni  uint64 `json:"max_streams_uni"`

	MaxData              uint64 `json:"max_data"`
	MaxStreamDataBidiLocal  uint64 `json:"max_stream_data_bidi_local"`
	MaxStreamDataBidiRemote uint64 `json:"max_stream_data_bidi_remote"`
	MaxStreamDataUni        uint64 `json:"max_stream_data_uni"`

	DisableActiveMigration bool `json:"disable_active_migration"`

	PreferredAddress *PreferredAddress `json:"preferred_address,omitempty"`

	DatagramSizeLocal uint64 `json:"datagram_size_local"`

	// MaxQueuedOutgoingDatagrams bounds the outgoing DATAGRAM backlog
	// (see datagram.go); 0 selects the built-in default.
	MaxQueuedOutgoingDatagrams int `json:"max_queued_outgoing"`

	AckRatio uint64 `json:"ack_ratio"`

	EnableMlkem bool `json:"mlkem"`

	// LogLevel and LogPath configure the zap-backed Logger this package
	// wires up by default (see log.go); applications embedding their own
	// *zap.Logger via WithLogger skip these.
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`

	// MetricsNamespace, if non-empty, registers this connection's
	// MetricsSink under that Prometheus namespace (see metrics.go).
	MetricsNamespace string `json:"metrics_namespace"`
}

// DefaultConfig returns the configuration this engine uses when the
// caller supplies none, mirroring DefaultParameters where the two
// overlap.
func DefaultConfig() Config {
	return Config{
		CongestionAlgorithm:     CongestionCubic,
		Pacing:                  true,
		IdleTimeout:             30 * time.Second,
		MaxStreamsBidi:          100,
		MaxStreamsUni:           100,
		MaxData:                 1 << 20,
		MaxStreamDataBidiLocal:  1 << 16,
		MaxStreamDataBidiRemote: 1 << 16,
		MaxStreamDataUni:        1 << 16,
		DatagramSizeLocal:       0,
		MaxQueuedOutgoingDatagrams: defaultMaxQueuedOutgoingDatagrams,
		AckRatio:                2,
		LogLevel:                "info",
	}
}

// Transport parameter IDs (RFC 9000 section 18.2) for the subset this
// engine sends and understands; an unrecognized ID is skipped rather
// than rejected, per the RFC's forward-compatibility requirement.
const (
	paramOriginalDestinationConnectionID = 0x00
	paramMaxIdleTimeout                  = 0x01
	paramStatelessResetToken             = 0x02
	paramMaxUDPPayloadSize                = 0x03
	paramInitialMaxData                   = 0x04
	paramInitialMaxStreamDataBidiLocal    = 0x05
	paramInitialMaxStreamDataBidiRemote   = 0x06
	paramInitialMaxStreamDataUni          = 0x07
	paramInitialMaxStreamsBidi            = 0x08
	paramInitialMaxStreamsUni             = 0x09
	paramAckDelayExponent                 = 0x0a
	paramMaxAckDelay                      = 0x0b
	paramDisableActiveMigration           = 0x0c
	paramActiveConnectionIdLimit          = 0x0e
	paramInitialSourceConnectionID        = 0x0f
	paramRetrySourceConnectionID          = 0x10
	paramMaxDatagramFrameSize             = 0x20
	paramGreaseQuicBit                    = 0x2ab2
)

// Marshal encodes p as the transport_parameters TLS extension payload
// (RFC 9000 section 18.1): a sequence of varint-id, varint-length,
// value tuples. Byte-string fields are omitted when empty, and the idle
// timeout, ack_delay_exponent, max_ack_delay, max_datagram_frame_size and
// the two flags only when set; the payload-size, flow-control,
// stream-count and active_connection_id_limit values are always written.
func (p Parameters) Marshal() []byte {
	var b []byte
	putUint := func(id uint64, v uint64) {
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(varintLen(v)))
		b = appendVarint(b, v)
	}
	putBytes := func(id uint64, v []byte) {
		if len(v) == 0 {
			return
		}
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(len(v)))
		b = append(b, v...)
	}
	putBytes(paramOriginalDestinationConnectionID, p.OriginalDestinationConnectionID)
	if p.MaxIdleTimeout > 0 {
		putUint(paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/1e6))
	}
	putBytes(paramStatelessResetToken, p.StatelessResetToken)
	putUint(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	putUint(paramInitialMaxData, p.InitialMaxData)
	putUint(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putUint(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putUint(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putUint(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putUint(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent != 0 {
		putUint(paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay > 0 {
		putUint(paramMaxAckDelay, uint64(p.MaxAckDelay/1e6))
	}
	if p.DisableActiveMigration {
		b = appendVarint(b, paramDisableActiveMigration)
		b = appendVarint(b, 0)
	}
	putUint(paramActiveConnectionIdLimit, p.ActiveConnectionIdLimit)
	putBytes(paramInitialSourceConnectionID, p.InitialSourceConnectionID)
	putBytes(paramRetrySourceConnectionID, p.RetrySourceConnectionID)
	if p.MaxDatagramFrameSize > 0 {
		putUint(paramMaxDatagramFrameSize, p.MaxDatagramFrameSize)
	}
	if p.GreaseQuicBit {
		b = appendVarint(b, paramGreaseQuicBit)
		b = appendVarint(b, 0)
	}
	return b
}

// ParseParameters decodes a peer's transport_parameters extension payload.
func ParseParameters(b []byte) (*Parameters, error) {
	p := DefaultParameters()
	for len(b) > 0 {
		var id, length uint64
		n := getVarint(b, &id)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter id")
		}
		b = b[n:]
		n = getVarint(b, &length)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, newError(TransportParameterError, "parameter value exceeds buffer")
		}
		val := b[:length]
		b = b[length:]
		var u uint64
		getVarint(val, &u)
		switch id {
		case paramOriginalDestinationConnectionID:
			p.OriginalDestinationConnectionID = append([]byte(nil), val...)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeout = time.Duration(u) * time.Millisecond
		case paramStatelessResetToken:
			p.StatelessResetToken = append([]byte(nil), val...)
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = u
		case paramInitialMaxData:
			p.InitialMaxData = u
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = u
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = u
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = u
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = u
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = u
		case paramAckDelayExponent:
			p.AckDelayExponent = u
		case paramMaxAckDelay:
			p.MaxAckDelay = time.Duration(u) * time.Millisecond
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		case paramActiveConnectionIdLimit:
			p.ActiveConnectionIdLimit = u
		case paramInitialSourceConnectionID:
			p.InitialSourceConnectionID = append([]byte(nil), val...)
		case paramRetrySourceConnectionID:
			p.RetrySourceConnectionID = append([]byte(nil), val...)
		case paramMaxDatagramFrameSize:
			p.MaxDatagramFrameSize = u
		case paramGreaseQuicBit:
			p.GreaseQuicBit = true
		}
	}
	return &p, nil
}

// ToParameters derives the locally sent transport parameters from c, for
// a caller (the handshake collaborator) that needs to encode them into
// the TLS transport_parameters extension itself; NewClient/NewServer
// call the unexported form of this internally for the same purpose.
func (c Config) ToParameters() Parameters { return c.toParameters() }

// toParameters derives the locally sent transport parameters from c.
func (c Config) toParameters() Parameters {
	p := DefaultParameters()
	p.InitialMaxData = c.MaxData
	p.InitialMaxStreamDataBidiLocal = c.MaxStreamDataBidiLocal
	p.InitialMaxStreamDataBidiRemote = c.MaxStreamDataBidiRemote
	p.InitialMaxStreamDataUni = c.MaxStreamDataUni
	p.InitialMaxStreamsBidi = c.MaxStreamsBidi
	p.InitialMaxStreamsUni = c.MaxStreamsUni
	p.DisableActiveMigration = c.DisableActiveMigration
	p.PreferredAddress = c.PreferredAddress
	p.MaxDatagramFrameSize = c.DatagramSizeLocal
	if c.IdleTimeout > 0 {
		p.MaxIdleTimeout = c.IdleTimeout
	}
	return p
}
