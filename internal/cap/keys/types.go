// Package keys implements the Key Manager (C8, spec §4.8, §3): generation,
// rotation, persistent storage, and the public-key manifest.
package keys

import (
	"crypto/ed25519"
	"time"
)

// Status is a KeyRecord's lifecycle state.
type Status string

const (
	StatusActive   Status = "Active"
	StatusRetiring Status = "Retiring"
	StatusRetired  Status = "Retired"
)

// Record is a per-tenant signing key (spec §3 KeyRecord). PrivateKey is
// zeroed once Status transitions to Retired.
type Record struct {
	KeyID     string    `json:"key_id"`
	TenantID  string    `json:"tenant_id"`
	Algorithm string    `json:"algorithm"` // always "Ed25519"
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`
	// RetiringAt is when Status transitioned Active -> Retiring (i.e. when
	// Rotate demoted this key), nil until that happens. spec §3/§4.8's
	// grace period runs from this timestamp, not from ExpiresAt: Rotate can
	// be called off the natural rotation cadence (S4), so the two diverge.
	RetiringAt *time.Time `json:"retiring_at,omitempty"`
	PrivateKey []byte     `json:"private_key"` // 64 bytes (crypto/ed25519 form: 32-byte seed followed by the public key); all-zero once Retired
	PublicKey  []byte     `json:"public_key"`  // 32 bytes
}

// Ed25519Private returns PrivateKey as an ed25519.PrivateKey, or nil if
// erased.
func (r Record) Ed25519Private() ed25519.PrivateKey {
	if len(r.PrivateKey) != ed25519.PrivateKeySize {
		return nil
	}
	for _, b := range r.PrivateKey {
		if b != 0 {
			return ed25519.PrivateKey(r.PrivateKey)
		}
	}
	return nil
}

// Ed25519Public returns PublicKey as an ed25519.PublicKey.
func (r Record) Ed25519Public() ed25519.PublicKey {
	return ed25519.PublicKey(r.PublicKey)
}

// ManifestEntry is one hash-linked entry in a tenant's KeysManifest.
type ManifestEntry struct {
	KeyID        string     `json:"key_id"`
	PublicKey    []byte     `json:"public_key"`
	CreatedAt    time.Time  `json:"created_at"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
	ManifestHash []byte     `json:"manifest_hash"`
}

// Manifest is the append-only, hash-linked list of a tenant's keys, spec §3
// KeysManifest.
type Manifest struct {
	TenantID string          `json:"tenant_id"`
	Entries  []ManifestEntry `json:"entries"`
}
