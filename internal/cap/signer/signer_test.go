package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := []byte("digest bytes to sign")
	sig := Sign(msg, priv)

	if len(sig) != SignatureSize {
		t.Fatalf("expected signature length %d, got %d", SignatureSize, len(sig))
	}
	if !Verify(msg, sig, pub) {
		t.Error("expected signature to verify")
	}
}

func TestVerify_FailsOnTamperedMessage(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	sig := Sign([]byte("original"), priv)

	if Verify([]byte("tampered"), sig, pub) {
		t.Error("expected verification to fail for tampered message")
	}
}

func TestVerify_FailsOnWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	msg := []byte("message")
	sig := Sign(msg, priv)

	if Verify(msg, sig, otherPub) {
		t.Error("expected verification to fail under a different public key")
	}
}

func TestVerifyOrError(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	msg := []byte("message")
	sig := Sign(msg, priv)

	if err := VerifyOrError(msg, sig, pub); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	if err := VerifyOrError(msg, sig, otherPub); err == nil {
		t.Error("expected error for invalid signature")
	}
}
