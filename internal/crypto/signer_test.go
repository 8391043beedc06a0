package crypto

import (
	"testing"
)

// Well-known test vector key (never fund this).
const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKey, "a")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	addr := s.Address().Hex()
	if addr != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected derived address %s", addr)
	}
	if !s.MatchesAddress("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23") {
		t.Fatal("MatchesAddress should be case-insensitive")
	}
	if s.MatchesAddress("0x0000000000000000000000000000000000000001") {
		t.Fatal("MatchesAddress accepted a foreign address")
	}
}

func TestSignActionBindsNonceAndPayload(t *testing.T) {
	s, err := NewSigner(testKey, "a")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	action := []byte(`{"type":"order"}`)

	sig1, err := s.SignAction(action, 1)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	sig2, err := s.SignAction(action, 2)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if sig1 == sig2 {
		t.Fatal("different nonces must produce different signatures")
	}

	sig3, err := s.SignAction([]byte(`{"type":"cancel"}`), 1)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if sig1 == sig3 {
		t.Fatal("different payloads must produce different signatures")
	}

	again, err := s.SignAction(action, 1)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if again != sig1 {
		t.Fatal("signing is deterministic for identical input")
	}
	if sig1.V != 27 && sig1.V != 28 {
		t.Fatalf("v must be 27 or 28, got %d", sig1.V)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if "0x"+got != testKey {
		t.Fatalf("round trip mismatch: got %s", got)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password must fail")
	}
}
