package quic

import (
	"bytes"
	"net"
	"testing"
)

func TestTokenStoreRetryTokenRoundTrip(t *testing.T) {
	s := newTokenStore()
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4433}
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	token := s.issueRetryToken(addr, odcid)
	got, ok := s.validateRetryToken(addr, token)
	if !ok {
		t.Fatalf("validateRetryToken: want ok")
	}
	if !bytes.Equal(got, odcid) {
		t.Fatalf("odcid mismatch: got %x want %x", got, odcid)
	}
}

func TestTokenStoreRetryTokenRejectsReplay(t *testing.T) {
	s := newTokenStore()
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4433}
	token := s.issueRetryToken(addr, []byte{1, 2, 3, 4})

	if _, ok := s.validateRetryToken(addr, token); !ok {
		t.Fatalf("first validation should succeed")
	}
	if _, ok := s.validateRetryToken(addr, token); ok {
		t.Fatalf("replayed token should be rejected")
	}
}

func TestTokenStoreRetryTokenRejectsWrongAddress(t *testing.T) {
	s := newTokenStore()
	addr1 := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4433}
	addr2 := &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 4433}
	token := s.issueRetryToken(addr1, []byte{1, 2, 3, 4})

	if _, ok := s.validateRetryToken(addr2, token); ok {
		t.Fatalf("token issued for a different address should be rejected")
	}
}

func TestTokenStoreStatelessReset(t *testing.T) {
	s := newTokenStore()
	var token [16]byte
	token[0] = 0xaa
	cid := []byte{1, 2, 3, 4}

	s.registerStatelessReset(token, cid)
	got, ok := s.lookupStatelessReset(token[:])
	if !ok {
		t.Fatalf("lookupStatelessReset: want ok")
	}
	if !bytes.Equal(got, cid) {
		t.Fatalf("cid mismatch: got %x want %x", got, cid)
	}
}

func TestTokenStoreTicket(t *testing.T) {
	s := newTokenStore()
	s.saveTicket("example.com", []byte{1, 2, 3})
	got, ok := s.loadTicket("example.com")
	if !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("loadTicket: got %x ok=%v", got, ok)
	}
	if _, ok := s.loadTicket("other.example.com"); ok {
		t.Fatalf("loadTicket for unknown server name should miss")
	}
}
