package transport

import "crypto/rand"

// randomCidGenerator is the default ConnectionIdGenerator: connection IDs
// must be unpredictable to third parties (RFC 9000 section 5.1), so they
// are drawn from crypto/rand rather than the math/rand xid uses
// internally. This is distinct from the tracking ID generator
// (tracing.go), which uses rs/xid for log/metric correlation, a role
// where monotonic-but-unpredictable-to-whom IDs are fine and the extra
// structure (embedded timestamp, host, counter) is actually useful for
// debugging.
type randomCidGenerator struct{}

// NewRandomConnectionIdGenerator returns the default ConnectionIdGenerator.
func NewRandomConnectionIdGenerator() ConnectionIdGenerator {
	return randomCidGenerator{}
}

func (randomCidGenerator) Generate(length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, wrapError(InternalError, "generate connection id", err)
	}
	return b, nil
}

func (randomCidGenerator) DecodeLength(firstByte byte) int {
	// The default generator embeds no length information in the CID
	// itself; callers that need short-header CID length decoding without
	// an out-of-band length must use a fixed length, which conn.go
	// enforces by recording the locally-chosen length at path creation.
	return -1
}
