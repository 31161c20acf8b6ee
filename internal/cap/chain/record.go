// Package chain implements the Digest Chain Worker (C9, spec §4.9) and the
// hash-linked DigestRecord chain it appends to.
package chain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/audit-core/internal/cap/hash"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// Record is one link in a tenant's digest chain (spec §3 DigestRecord).
type Record struct {
	DigestID           string    `json:"digest_id"`
	TenantID           string    `json:"tenant_id"`
	IntervalStart      time.Time `json:"interval_start"`
	IntervalEnd        time.Time `json:"interval_end"`
	EventCount         int       `json:"event_count"`
	EventsHash         []byte    `json:"events_hash"`
	PreviousDigestHash []byte    `json:"previous_digest_hash"`
	CurrentDigestHash  []byte    `json:"current_digest_hash"`
	SigningKeyID       string    `json:"signing_key_id"`
	Signature          []byte    `json:"signature"`
}

// EventsHash computes SHA-256 over the concatenation of canonical(event_i)
// for events, which callers must already have sorted by EventID ascending
// (spec §4.9 step 2-3).
func EventsHash(events []event.AuditEvent) ([hash.Size]byte, error) {
	parts := make([][]byte, 0, len(events))
	for _, e := range events {
		b, err := event.Canonical(e)
		if err != nil {
			return [hash.Size]byte{}, err
		}
		parts = append(parts, b)
	}
	return hash.Concat(parts...), nil
}

// CurrentDigestHash computes the invariant in spec §3:
// SHA-256(previous_digest_hash || events_hash || interval_end || tenant_id).
func CurrentDigestHash(previousDigestHash, eventsHash []byte, intervalEnd time.Time, tenantID string) [hash.Size]byte {
	return hash.Concat(
		previousDigestHash,
		eventsHash,
		[]byte(intervalEnd.UTC().Format(time.RFC3339Nano)),
		[]byte(tenantID),
	)
}

// canonicalForm is the deterministic encoding of a Record (JSON keys in
// struct declaration order, not sorted by name), used
// as SHA-256's input when linking the next record's previous_digest_hash
// (spec §3 chain invariant (ii)).
type canonicalForm struct {
	DigestID           string    `json:"digest_id"`
	TenantID           string    `json:"tenant_id"`
	IntervalStart      string    `json:"interval_start"`
	IntervalEnd        string    `json:"interval_end"`
	EventCount         int       `json:"event_count"`
	EventsHash         []byte    `json:"events_hash"`
	PreviousDigestHash []byte    `json:"previous_digest_hash"`
	CurrentDigestHash  []byte    `json:"current_digest_hash"`
	SigningKeyID       string    `json:"signing_key_id"`
	Signature          []byte    `json:"signature"`
}

// Canonical returns the deterministic byte encoding of r, the input to
// SHA-256 when computing the next record's previous_digest_hash.
func Canonical(r Record) ([]byte, error) {
	cf := canonicalForm{
		DigestID:           r.DigestID,
		TenantID:           r.TenantID,
		IntervalStart:      r.IntervalStart.UTC().Format(time.RFC3339Nano),
		IntervalEnd:        r.IntervalEnd.UTC().Format(time.RFC3339Nano),
		EventCount:         r.EventCount,
		EventsHash:         r.EventsHash,
		PreviousDigestHash: r.PreviousDigestHash,
		CurrentDigestHash:  r.CurrentDigestHash,
		SigningKeyID:       r.SigningKeyID,
		Signature:          r.Signature,
	}
	return json.Marshal(cf)
}

// PreviousHashOf returns SHA-256(canonical(r)), the value the next record
// in the chain must carry as its previous_digest_hash.
func PreviousHashOf(r Record) ([hash.Size]byte, error) {
	b, err := Canonical(r)
	if err != nil {
		return [hash.Size]byte{}, err
	}
	return hash.Bytes(b), nil
}

// NewDigestID generates a fresh DigestRecord identifier.
func NewDigestID() string { return uuid.NewString() }
