// Package verify implements the Verification Service (C10, spec §4.10):
// re-deriving and checking the chain's integrity from stored records,
// stored events, and the key manifest, without trusting any cached result.
package verify

import (
	"bytes"
	"context"
	"time"

	"github.com/R3E-Network/audit-core/internal/cap/chain"
	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
	"github.com/R3E-Network/audit-core/internal/cap/keys"
	"github.com/R3E-Network/audit-core/internal/cap/signer"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
)

// Reason names why a verification failed.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonDigestNotFound       Reason = "DigestNotFound"
	ReasonEventsHashMismatch   Reason = "EventsHashMismatch"
	ReasonCurrentHashMismatch  Reason = "CurrentHashMismatch"
	ReasonPreviousHashMismatch Reason = "PreviousHashMismatch"
	ReasonSignatureInvalid     Reason = "SignatureInvalid"
	ReasonKeyNotFound          Reason = "KeyNotFound"
	ReasonKeyRetired           Reason = "KeyRetired"
	ReasonStorageError         Reason = "StorageError"
)

// Result is the outcome of VerifyDigest.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// ChainResult is the outcome of VerifyChain.
type ChainResult struct {
	ValidPrefixLength int    `json:"valid_prefix_length"`
	FirstInvalidID    string `json:"first_invalid_id,omitempty"`
	Reason            Reason `json:"reason,omitempty"`
}

// Summary is one entry of ListDigests.
type Summary struct {
	DigestID      string    `json:"digest_id"`
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
	EventCount    int       `json:"event_count"`
	SigningKeyID  string    `json:"signing_key_id"`
}

// Service implements C10 over a chain.Store, a keys.Manager, and the
// eventstore.Store the digest worker reads from.
type Service struct {
	chain   chain.Store
	keys    *keys.Manager
	events  eventstore.Store
	metrics *metrics.Metrics
}

// NewService constructs a verification Service.
func NewService(chainStore chain.Store, keyManager *keys.Manager, events eventstore.Store, m *metrics.Metrics) *Service {
	return &Service{chain: chainStore, keys: keyManager, events: events, metrics: m}
}

// VerifyDigest re-fetches the record and its covered events, recomputes
// events_hash and current_digest_hash, verifies the signature, and checks
// linkage to the previous record (spec §4.10).
func (s *Service) VerifyDigest(ctx context.Context, tenant, digestID string) (Result, error) {
	result, err := s.verifyDigest(ctx, tenant, digestID)
	s.record("verify_digest", result, err)
	return result, err
}

func (s *Service) verifyDigest(ctx context.Context, tenant, digestID string) (Result, error) {
	rec, ok, err := s.chain.ByID(ctx, tenant, digestID)
	if err != nil {
		return Result{Reason: ReasonStorageError}, err
	}
	if !ok {
		return Result{Reason: ReasonDigestNotFound}, nil
	}

	records, err := s.chain.List(ctx, tenant)
	if err != nil {
		return Result{Reason: ReasonStorageError}, err
	}

	var previous *chain.Record
	for i, r := range records {
		if r.DigestID == digestID && i > 0 {
			previous = &records[i-1]
			break
		}
	}

	return s.verifyRecord(ctx, tenant, rec, previous)
}

// verifyRecord checks one record against spec §4.10's validity definition.
// previous is nil at genesis.
func (s *Service) verifyRecord(ctx context.Context, tenant string, rec chain.Record, previous *chain.Record) (Result, error) {
	var previousDigestHash [32]byte
	if previous != nil {
		h, err := chain.PreviousHashOf(*previous)
		if err != nil {
			return Result{Reason: ReasonStorageError}, err
		}
		previousDigestHash = h
	}
	if !bytes.Equal(rec.PreviousDigestHash, previousDigestHash[:]) {
		return Result{Reason: ReasonPreviousHashMismatch}, nil
	}

	stored, err := s.events.RangeByReceivedAt(ctx, tenant, rec.IntervalStart, rec.IntervalEnd)
	if err != nil {
		return Result{Reason: ReasonStorageError}, err
	}
	events := make([]event.AuditEvent, 0, len(stored))
	for _, st := range stored {
		events = append(events, st.Event)
	}
	eventsHash, err := chain.EventsHash(events)
	if err != nil {
		return Result{Reason: ReasonStorageError}, err
	}
	if !bytes.Equal(rec.EventsHash, eventsHash[:]) {
		return Result{Reason: ReasonEventsHashMismatch}, nil
	}

	currentDigestHash := chain.CurrentDigestHash(rec.PreviousDigestHash, rec.EventsHash, rec.IntervalEnd, tenant)
	if !bytes.Equal(rec.CurrentDigestHash, currentDigestHash[:]) {
		return Result{Reason: ReasonCurrentHashMismatch}, nil
	}

	keyRecord, err := s.keys.KeyRecord(ctx, rec.SigningKeyID)
	if err != nil {
		return Result{Reason: ReasonKeyNotFound}, nil
	}

	manifest, err := s.keys.Manifest(ctx, tenant)
	if err != nil {
		return Result{Reason: ReasonStorageError}, err
	}
	entry, found := manifestEntry(manifest, rec.SigningKeyID)
	if !found {
		return Result{Reason: ReasonKeyNotFound}, nil
	}
	// Invariant (iii): the key must have been Active or Retiring — i.e. not
	// yet Retired — at interval_end; RetiredAt is when the manifest recorded
	// it being fully retired, not merely demoted to Retiring.
	if entry.RetiredAt != nil && !rec.IntervalEnd.Before(*entry.RetiredAt) {
		return Result{Reason: ReasonKeyRetired}, nil
	}

	if !signer.Verify(rec.CurrentDigestHash, rec.Signature, keyRecord.Ed25519Public()) {
		return Result{Reason: ReasonSignatureInvalid}, nil
	}

	return Result{Valid: true}, nil
}

// VerifyChain walks tenant's chain in interval_end order, reporting the
// length of the valid prefix and the first offending record, if any.
func (s *Service) VerifyChain(ctx context.Context, tenant string, from, to *time.Time) (ChainResult, error) {
	all, err := s.chain.List(ctx, tenant)
	if err != nil {
		result := ChainResult{Reason: ReasonStorageError}
		s.record("verify_chain", Result{Reason: ReasonStorageError}, err)
		return result, err
	}
	records := filterRange(all, from, to)

	// A from bound may skip genesis: link the first in-range record to its
	// stored predecessor rather than to the all-zero hash.
	var previous *chain.Record
	if len(records) > 0 {
		for i := 1; i < len(all); i++ {
			if all[i].DigestID == records[0].DigestID {
				previous = &all[i-1]
				break
			}
		}
	}
	for i, rec := range records {
		result, err := s.verifyRecord(ctx, tenant, rec, previous)
		if err != nil {
			return ChainResult{ValidPrefixLength: i, FirstInvalidID: rec.DigestID, Reason: result.Reason}, err
		}
		if !result.Valid {
			return ChainResult{ValidPrefixLength: i, FirstInvalidID: rec.DigestID, Reason: result.Reason}, nil
		}
		previous = &records[i]
	}

	cr := ChainResult{ValidPrefixLength: len(records)}
	s.record("verify_chain", Result{Valid: true}, nil)
	return cr, nil
}

// manifestEntry returns the most recent manifest entry for keyID — the
// manifest is append-only, so a key retired after creation has two entries
// and the later one carries RetiredAt.
func manifestEntry(manifest keys.Manifest, keyID string) (keys.ManifestEntry, bool) {
	for i := len(manifest.Entries) - 1; i >= 0; i-- {
		if manifest.Entries[i].KeyID == keyID {
			return manifest.Entries[i], true
		}
	}
	return keys.ManifestEntry{}, false
}

func filterRange(records []chain.Record, from, to *time.Time) []chain.Record {
	if from == nil && to == nil {
		return records
	}
	out := make([]chain.Record, 0, len(records))
	for _, r := range records {
		if from != nil && r.IntervalEnd.Before(*from) {
			continue
		}
		if to != nil && r.IntervalEnd.After(*to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ListDigests returns a summary of every record for tenant within the
// optional [from, to] interval_end bound.
func (s *Service) ListDigests(ctx context.Context, tenant string, from, to *time.Time) ([]Summary, error) {
	records, err := s.chain.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	records = filterRange(records, from, to)

	out := make([]Summary, len(records))
	for i, r := range records {
		out[i] = Summary{
			DigestID:      r.DigestID,
			IntervalStart: r.IntervalStart,
			IntervalEnd:   r.IntervalEnd,
			EventCount:    r.EventCount,
			SigningKeyID:  r.SigningKeyID,
		}
	}
	return out, nil
}

// PublicKeys returns tenant's KeysManifest for external auditors.
func (s *Service) PublicKeys(ctx context.Context, tenant string) (keys.Manifest, error) {
	return s.keys.Manifest(ctx, tenant)
}

func (s *Service) record(operation string, result Result, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "valid"
	if err != nil {
		outcome = "error"
	} else if !result.Valid {
		outcome = "invalid"
	}
	s.metrics.RecordVerification(operation, outcome)
}
