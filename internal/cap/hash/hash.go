// Package hash implements the Hash Service (C6, spec §4.6): deterministic
// SHA-256 hashing of byte sequences and streams. Ed25519 and SHA-256 are
// named explicitly by the spec (RFC 8032 / FIPS 180-4), so this package
// uses crypto/sha256 directly (and package signer uses crypto/ed25519)
// rather than a third-party crypto library — there is no ecosystem
// substitute to wire in here.
package hash

import (
	"crypto/sha256"
	"io"
)

// Size is the digest size in bytes.
const Size = sha256.Size

const streamBufferSize = 8 * 1024

// Bytes returns SHA-256(b).
func Bytes(b []byte) [Size]byte {
	return sha256.Sum256(b)
}

// Stream returns SHA-256 of r's full contents, reading in 8 KiB chunks.
func Stream(r io.Reader) ([Size]byte, error) {
	h := sha256.New()
	buf := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return [Size]byte{}, err
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Concat returns SHA-256 of the concatenation of parts, without allocating
// an intermediate joined buffer.
func Concat(parts ...[]byte) [Size]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
