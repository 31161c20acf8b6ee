package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/cap/hash"
	"github.com/R3E-Network/audit-core/internal/clock"
)

// DefaultRotationPeriod is spec §4.8's default rotation cadence.
const DefaultRotationPeriod = 90 * 24 * time.Hour

// Manager is the Key Manager (C8): generation, rotation, and the
// append-only KeysManifest, grounded on the global-signer service's
// rotate()/hydrate() split (services/globalsigner/marble/service.go) adapted
// from ECDSA/TEE key versions to per-tenant Ed25519 KeyRecords.
type Manager struct {
	store          Store
	clock          clock.Clock
	rotationPeriod time.Duration
	gracePeriod    time.Duration

	mu       sync.Mutex // guards tenantMu map
	tenantMu map[string]*sync.Mutex
}

// NewManager constructs a Manager. gracePeriod is the Retiring window before
// a demoted key is fully Retired; spec §4.8 recommends one chain interval.
func NewManager(store Store, clk clock.Clock, rotationPeriod, gracePeriod time.Duration) *Manager {
	if rotationPeriod <= 0 {
		rotationPeriod = DefaultRotationPeriod
	}
	return &Manager{
		store:          store,
		clock:          clk,
		rotationPeriod: rotationPeriod,
		gracePeriod:    gracePeriod,
		tenantMu:       make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(tenant string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.tenantMu[tenant]
	if !ok {
		l = &sync.Mutex{}
		m.tenantMu[tenant] = l
	}
	return l
}

// ActiveKey returns tenant's Active key, generating one on first call.
func (m *Manager) ActiveKey(ctx context.Context, tenant string) (Record, error) {
	l := m.lockFor(tenant)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.LoadActive(ctx, tenant)
	if err == nil {
		return rec, nil
	}
	if err != ErrNotFound {
		return Record{}, err
	}
	return m.generateFirst(ctx, tenant)
}

func (m *Manager) generateFirst(ctx context.Context, tenant string) (Record, error) {
	now := m.clock.Now().UTC()
	rec, err := m.newRecord(tenant, now)
	if err != nil {
		return Record{}, err
	}
	if err := m.store.SaveKey(ctx, rec); err != nil {
		return Record{}, err
	}
	if err := m.appendManifestEntry(ctx, tenant, rec, nil); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (m *Manager) newRecord(tenant string, now time.Time) (Record, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Record{}, apierrors.EntropyUnavailable(err)
	}
	return Record{
		KeyID:      uuid.NewString(),
		TenantID:   tenant,
		Algorithm:  "Ed25519",
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.rotationPeriod),
		Status:     StatusActive,
		PrivateKey: append([]byte(nil), priv...),
		PublicKey:  append([]byte(nil), pub...),
	}, nil
}

// Rotate creates a new Active key for tenant, demoting the previous Active
// to Retiring. Spec §4.8's persistence contract: the new key is durably
// written before the previous Active is demoted.
func (m *Manager) Rotate(ctx context.Context, tenant string) (Record, error) {
	l := m.lockFor(tenant)
	l.Lock()
	defer l.Unlock()

	now := m.clock.Now().UTC()

	prev, err := m.store.LoadActive(ctx, tenant)
	hasPrev := true
	if err == ErrNotFound {
		hasPrev = false
	} else if err != nil {
		return Record{}, err
	}

	newRec, err := m.newRecord(tenant, now)
	if err != nil {
		return Record{}, err
	}
	// Durable-write-before-demote: new key lands first.
	if err := m.store.SaveKey(ctx, newRec); err != nil {
		return Record{}, err
	}

	var retiredAt *time.Time
	if hasPrev {
		prev.Status = StatusRetiring
		prev.RetiringAt = &now
		if err := m.store.SaveKey(ctx, prev); err != nil {
			return Record{}, err
		}
	}

	if err := m.appendManifestEntry(ctx, tenant, newRec, retiredAt); err != nil {
		return Record{}, err
	}

	return newRec, nil
}

// RotateIfDue rotates tenant's Active key if it has reached ExpiresAt,
// reporting whether a rotation happened. Grounded on the global-signer
// service's ticker-driven rotate() sweep (marble/service.go
// AddTickerWorker): the cadence is enforced by a periodic caller rather than
// by Rotate itself, so Rotate remains usable standalone off-cadence (S4).
func (m *Manager) RotateIfDue(ctx context.Context, tenant string) (bool, error) {
	active, err := m.ActiveKey(ctx, tenant)
	if err != nil {
		return false, err
	}
	if m.clock.Now().UTC().Before(active.ExpiresAt) {
		return false, nil
	}
	if _, err := m.Rotate(ctx, tenant); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteRotation transitions tenant's Retiring key (if its grace period
// has elapsed) to Retired and erases its private key bytes. Spec §4.8: the
// demotion must be durable before private_key bytes are overwritten.
func (m *Manager) CompleteRotation(ctx context.Context, tenant string) error {
	l := m.lockFor(tenant)
	l.Lock()
	defer l.Unlock()

	recs, err := m.store.ListByTenant(ctx, tenant)
	if err != nil {
		return err
	}

	now := m.clock.Now().UTC()
	for _, rec := range recs {
		if rec.Status != StatusRetiring {
			continue
		}
		// The grace period runs from the moment Rotate demoted this key
		// (RetiringAt), not from ExpiresAt: Rotate can fire off the natural
		// rotation cadence, so the two are not interchangeable (spec
		// §3/§4.8). Records demoted before RetiringAt existed fall back to
		// ExpiresAt rather than rotating immediately.
		demotedAt := rec.ExpiresAt
		if rec.RetiringAt != nil {
			demotedAt = *rec.RetiringAt
		}
		graceDeadline := demotedAt.Add(m.gracePeriod)
		if now.Before(graceDeadline) {
			continue
		}
		rec.Status = StatusRetired
		if err := m.store.SaveKey(ctx, rec); err != nil {
			return err
		}
		for i := range rec.PrivateKey {
			rec.PrivateKey[i] = 0
		}
		if err := m.store.SaveKey(ctx, rec); err != nil {
			return err
		}
		if err := m.appendManifestEntry(ctx, tenant, rec, &now); err != nil {
			return err
		}
	}
	return nil
}

// PublicKey returns the public key bytes for keyID, or apierrors.KeyNotFound.
func (m *Manager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	rec, err := m.KeyRecord(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return rec.PublicKey, nil
}

// KeyRecord returns the full Record for keyID, used by C10 to check a
// signing key's lifecycle state at verification time.
func (m *Manager) KeyRecord(ctx context.Context, keyID string) (Record, error) {
	rec, err := m.store.LoadByID(ctx, keyID)
	if err != nil {
		if err == ErrNotFound {
			return Record{}, apierrors.KeyNotFound(keyID)
		}
		return Record{}, err
	}
	return rec, nil
}

// Manifest returns tenant's full KeysManifest.
func (m *Manager) Manifest(ctx context.Context, tenant string) (Manifest, error) {
	return m.store.LoadManifest(ctx, tenant)
}

// appendManifestEntry appends a new hash-linked entry for rec, per spec §3:
// manifest_hash = SHA-256(previous_manifest_hash || key_id || public_key || created_at).
func (m *Manager) appendManifestEntry(ctx context.Context, tenant string, rec Record, retiredAt *time.Time) error {
	manifest, err := m.store.LoadManifest(ctx, tenant)
	if err != nil {
		return err
	}

	var prevHash [hash.Size]byte
	if n := len(manifest.Entries); n > 0 {
		prevHash = [hash.Size]byte{}
		copy(prevHash[:], manifest.Entries[n-1].ManifestHash)
	}

	createdAt := []byte(rec.CreatedAt.Format(time.RFC3339Nano))
	sum := hash.Concat(prevHash[:], []byte(rec.KeyID), rec.PublicKey, createdAt)

	entry := ManifestEntry{
		KeyID:        rec.KeyID,
		PublicKey:    rec.PublicKey,
		CreatedAt:    rec.CreatedAt,
		RetiredAt:    retiredAt,
		ManifestHash: sum[:],
	}
	return m.store.AppendManifestEntry(ctx, tenant, entry)
}
