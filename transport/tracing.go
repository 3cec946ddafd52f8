package transport

import "github.com/rs/xid"

// TrackingID is a globally-sortable, collision-resistant identifier used
// to correlate a connection's log lines, qlog trace, and Prometheus
// label values across processes, without needing the connection ID
// itself (which changes across migration and, for a zero-length local
// CID, may not exist at all). Grounded on A4 of the ambient stack: xid
// encodes a timestamp, machine id, process id and counter into 12 bytes,
// which is exactly the "who/when" correlation key log aggregation needs
// and nothing QUIC-protocol-specific, so it is never used as a wire
// connection ID.
type TrackingID string

// NewTrackingID mints a fresh tracking ID for a new connection.
func NewTrackingID() TrackingID {
	return TrackingID(xid.New().String())
}
