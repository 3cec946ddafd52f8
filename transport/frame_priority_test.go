package transport

import (
	"bytes"
	"testing"
)

// TestPriorityUpdateFrameRoundTrips checks that a PRIORITY_UPDATE frame
// (RFC 9218 section 7.1's request-stream codepoint) encodes and decodes
// back to the same stream id and field value, since this is the wire
// path spec.md section 8.4's scenario depends on end to end.
func TestPriorityUpdateFrameRoundTrips(t *testing.T) {
	want := &frame{
		kind:     frameTypePriorityUpdateRequest,
		streamID: 4,
		data:     []byte("u=1, i"),
	}

	encoded := want.encode(nil)

	got, n, err := decodeFrame(encoded, packetTypeShort)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("decodeFrame consumed %d bytes, want %d", n, len(encoded))
	}
	if got.kind != frameTypePriorityUpdateRequest {
		t.Fatalf("decoded kind = %v, want frameTypePriorityUpdateRequest", got.kind)
	}
	if got.streamID != want.streamID {
		t.Fatalf("decoded streamID = %d, want %d", got.streamID, want.streamID)
	}
	if !bytes.Equal(got.data, want.data) {
		t.Fatalf("decoded field value = %q, want %q", got.data, want.data)
	}
}
