package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestParametersMarshalRoundTrip(t *testing.T) {
	p := DefaultParameters()
	p.OriginalDestinationConnectionID = []byte{1, 2, 3, 4}
	p.InitialSourceConnectionID = []byte{5, 6, 7, 8}
	p.MaxIdleTimeout = 10 * time.Second
	p.InitialMaxData = 12345
	p.InitialMaxStreamsBidi = 7
	p.GreaseQuicBit = true

	encoded := p.Marshal()
	got, err := ParseParameters(encoded)
	if err != nil {
		t.Fatalf("ParseParameters: %v", err)
	}
	if !bytes.Equal(got.OriginalDestinationConnectionID, p.OriginalDestinationConnectionID) {
		t.Fatalf("odcid mismatch: got %x want %x", got.OriginalDestinationConnectionID, p.OriginalDestinationConnectionID)
	}
	if !bytes.Equal(got.InitialSourceConnectionID, p.InitialSourceConnectionID) {
		t.Fatalf("iscid mismatch: got %x want %x", got.InitialSourceConnectionID, p.InitialSourceConnectionID)
	}
	if got.MaxIdleTimeout != p.MaxIdleTimeout {
		t.Fatalf("max_idle_timeout mismatch: got %v want %v", got.MaxIdleTimeout, p.MaxIdleTimeout)
	}
	if got.InitialMaxData != p.InitialMaxData {
		t.Fatalf("initial_max_data mismatch: got %d want %d", got.InitialMaxData, p.InitialMaxData)
	}
	if got.InitialMaxStreamsBidi != p.InitialMaxStreamsBidi {
		t.Fatalf("initial_max_streams_bidi mismatch: got %d want %d", got.InitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	}
	if !got.GreaseQuicBit {
		t.Fatalf("grease_quic_bit not round-tripped")
	}
}

func TestParametersParseIgnoresUnknownID(t *testing.T) {
	var b []byte
	b = appendVarint(b, 0xbaad) // an ID this version doesn't recognize
	b = appendVarint(b, 3)
	b = append(b, 1, 2, 3)
	b = appendVarint(b, paramInitialMaxData)
	b = appendVarint(b, uint64(varintLen(42)))
	b = appendVarint(b, 42)

	got, err := ParseParameters(b)
	if err != nil {
		t.Fatalf("ParseParameters: %v", err)
	}
	if got.InitialMaxData != 42 {
		t.Fatalf("initial_max_data mismatch: got %d want 42", got.InitialMaxData)
	}
}

func TestPeekLongHeaderToken(t *testing.T) {
	p := &packet{
		typ:          packetTypeInitial,
		header:       packetHeader{version: quicVersion1, dcid: []byte{1, 2, 3, 4}, scid: []byte{5, 6}},
		token:        []byte{9, 9},
		packetNumber: 0,
		pnLength:     1,
		payloadLen:   16,
	}
	buf := make([]byte, p.encodedLen())
	if _, err := p.encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	version, dcid, scid, token, isInitial, ok := PeekLongHeaderToken(buf)
	if !ok {
		t.Fatalf("PeekLongHeaderToken: not ok")
	}
	if version != quicVersion1 {
		t.Fatalf("version mismatch: got %#x", version)
	}
	if !bytes.Equal(dcid, p.header.dcid) || !bytes.Equal(scid, p.header.scid) {
		t.Fatalf("cid mismatch: dcid=%x scid=%x", dcid, scid)
	}
	if !bytes.Equal(token, p.token) {
		t.Fatalf("token mismatch: got %x want %x", token, p.token)
	}
	if !isInitial {
		t.Fatalf("isInitial = false, want true")
	}
}

func TestBuildRetryPacket(t *testing.T) {
	clientSCID := []byte{1, 2, 3, 4}
	serverSCID := []byte{5, 6, 7, 8}
	token := []byte{0xaa, 0xbb}
	calledWith := []byte(nil)
	pkt, err := BuildRetryPacket(clientSCID, serverSCID, token, func(pseudo []byte) ([]byte, error) {
		calledWith = pseudo
		return make([]byte, retryIntegrityTagLen), nil
	})
	if err != nil {
		t.Fatalf("BuildRetryPacket: %v", err)
	}
	if len(pkt) != len(calledWith)+retryIntegrityTagLen {
		t.Fatalf("packet length mismatch: got %d want %d", len(pkt), len(calledWith)+retryIntegrityTagLen)
	}
	version, dcid, scid, _, _, ok := PeekLongHeaderToken(pkt[:len(pkt)-retryIntegrityTagLen])
	if !ok {
		t.Fatalf("could not peek built retry packet")
	}
	if version != quicVersion1 {
		t.Fatalf("version mismatch: got %#x", version)
	}
	if !bytes.Equal(dcid, clientSCID) {
		t.Fatalf("retry dcid should be the client's prior scid: got %x want %x", dcid, clientSCID)
	}
	if !bytes.Equal(scid, serverSCID) {
		t.Fatalf("retry scid should be the server's chosen one: got %x want %x", scid, serverSCID)
	}
}
