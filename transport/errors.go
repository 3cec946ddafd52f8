package transport

import "fmt"

// ErrorKind is a QUIC error kind. Values below 0x11 carry the wire-visible
// transport error code defined by RFC 9000 section 20.1; values at or above
// 0x11 are local-only and never appear on the wire.
type ErrorKind uint64

// Wire-visible error kinds (RFC 9000 section 20.1).
const (
	NoError ErrorKind = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIdLimitError
	ProtocolViolation
	InvalidToken
	ApplicationError
	CryptoBufferExceeded
	KeyUpdateError
	AeadLimitReached
	NoAvailablePath
)

// Local-only error kinds. These never transit the wire as a transport error
// code; they either close the connection under a different wire code or are
// returned directly to the caller.
const (
	InvalidMigration ErrorKind = 0x100 + iota
	TooMuchData
	ConnectionIdsExhausted
	InvalidInput
	KeysPending
	DecryptError
)

var errorKindNames = map[ErrorKind]string{
	NoError:                  "no_error",
	InternalError:            "internal_error",
	ConnectionRefused:        "connection_refused",
	FlowControlError:         "flow_control_error",
	StreamLimitError:         "stream_limit_error",
	StreamStateError:         "stream_state_error",
	FinalSizeError:           "final_size_error",
	FrameEncodingError:       "frame_encoding_error",
	TransportParameterError:  "transport_parameter_error",
	ConnectionIdLimitError:   "connection_id_limit_error",
	ProtocolViolation:        "protocol_violation",
	InvalidToken:             "invalid_token",
	ApplicationError:         "application_error",
	CryptoBufferExceeded:     "crypto_buffer_exceeded",
	KeyUpdateError:           "key_update_error",
	AeadLimitReached:         "aead_limit_reached",
	NoAvailablePath:          "no_available_path",
	InvalidMigration:         "invalid_migration",
	TooMuchData:              "too_much_data",
	ConnectionIdsExhausted:   "connection_ids_exhausted",
	InvalidInput:             "invalid_input",
	KeysPending:              "keys_pending",
	DecryptError:             "decrypt_error",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error_kind(%#x)", uint64(k))
}

// IsWireVisible reports whether the error kind carries a QUIC transport
// error code that may be placed on the wire in a CONNECTION_CLOSE frame.
func (k ErrorKind) IsWireVisible() bool {
	return k <= NoAvailablePath
}

// Error is the error type returned throughout the engine. It carries a
// Kind so callers can branch on failure category with errors.As, plus an
// optional human-readable detail and wrapped cause.
type Error struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func newError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewError constructs an Error, for use by external collaborators (the
// AEAD and handshake implementations a caller supplies) that need to
// report failures the engine recognizes by Kind.
func NewError(kind ErrorKind, detail string) *Error {
	return newError(kind, detail)
}

func wrapError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// errorCodeString renders a raw wire error code the way qlog/log output
// expects: known transport codes by name, crypto_error_NN for the reserved
// TLS alert range (0x100-0x1ff), and unknown_error_<hex> otherwise.
func errorCodeString(code uint64) string {
	if code >= 0x100 && code <= 0x1ff {
		return fmt.Sprintf("crypto_error_%d", code-0x100)
	}
	if name, ok := errorKindNames[ErrorKind(code)]; ok && ErrorKind(code).IsWireVisible() {
		return name
	}
	return fmt.Sprintf("unknown_error_%#x", code)
}

var (
	errShortBuffer  = newError(InternalError, "short buffer")
	errInvalidToken = newError(InvalidToken, "invalid retry token")
	errFlowControl  = newError(FlowControlError, "flow control limit exceeded")
)
