// Package signer implements the Signer (C7, spec §4.7): Ed25519 sign and
// verify over a digest, per RFC 8032. Pure, stateless functions over
// crypto/ed25519 — the spec pins the algorithm to Ed25519 explicitly, so
// there is no third-party crypto library to wire in here.
package signer

import (
	"crypto/ed25519"

	"github.com/R3E-Network/audit-core/internal/apierrors"
)

// SignatureSize is the Ed25519 signature length in bytes.
const SignatureSize = ed25519.SignatureSize

// Sign returns the Ed25519 signature of message under privateKey.
func Sign(message []byte, privateKey ed25519.PrivateKey) []byte {
	return ed25519.Sign(privateKey, message)
}

// Verify reports whether signature is a valid Ed25519 signature of message
// under publicKey.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, message, signature)
}

// VerifyOrError is Verify, surfacing the spec's SignatureInvalid error code
// for callers (e.g. C10) that need an *apierrors.Error rather than a bool.
func VerifyOrError(message, signature []byte, publicKey ed25519.PublicKey) error {
	if !Verify(message, signature, publicKey) {
		return apierrors.SignatureInvalid("ed25519 verification failed")
	}
	return nil
}
