package quic

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// TestInitialSecretsDeterministic checks that Initial secret derivation
// (RFC 9001 section 5.2) is a pure function of the destination
// connection ID: the same DCID always yields the same client/server
// secrets, a different DCID always yields different ones, and the two
// directions never collide.
func TestInitialSecretsDeterministic(t *testing.T) {
	dcid, err := hex.DecodeString("8394c8f03e515708")
	if err != nil {
		t.Fatalf("bad dcid fixture: %v", err)
	}
	clientSecret, serverSecret := initialSecrets(dcid)
	clientAgain, serverAgain := initialSecrets(dcid)
	if !bytes.Equal(clientSecret, clientAgain) || !bytes.Equal(serverSecret, serverAgain) {
		t.Fatalf("initialSecrets is not deterministic for a fixed dcid")
	}
	if bytes.Equal(clientSecret, serverSecret) {
		t.Fatalf("client and server initial secrets must differ")
	}
	if len(clientSecret) != 32 || len(serverSecret) != 32 {
		t.Fatalf("expected 32-byte SHA-256 secrets, got %d/%d", len(clientSecret), len(serverSecret))
	}

	otherDCID, _ := hex.DecodeString("00000000000000")
	otherClientSecret, _ := initialSecrets(otherDCID)
	if bytes.Equal(clientSecret, otherClientSecret) {
		t.Fatalf("different dcids must not derive the same secret")
	}
}

func TestDeriveAeadKeysLengths(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	clientSecret, _ := initialSecrets(dcid)
	keys := deriveAeadKeys(clientSecret, 16)
	if len(keys.key) != 16 {
		t.Fatalf("key length = %d, want 16", len(keys.key))
	}
	if len(keys.iv) != 12 {
		t.Fatalf("iv length = %d, want 12", len(keys.iv))
	}
	if len(keys.hpKey) != 16 {
		t.Fatalf("hp key length = %d, want 16", len(keys.hpKey))
	}
}

func TestAesGcmCryptoSealOpenRoundTrip(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	clientSecret, _ := initialSecrets(dcid)
	keys := deriveAeadKeys(clientSecret, 16)
	c, err := newAesGcmCrypto(keys)
	if err != nil {
		t.Fatalf("newAesGcmCrypto: %v", err)
	}

	aad := []byte{0xc3, 0x00, 0x00, 0x00, 0x01}
	plaintext := []byte("hello quic")
	ciphertext, err := c.Seal(2, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(2, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}

	if _, err := c.Open(3, aad, ciphertext); err == nil {
		t.Fatalf("Open with wrong packet number should fail")
	}
}
