package keys

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/audit-core/internal/clock"
)

func newTestManager(now time.Time) (*Manager, *clock.Fake) {
	fc := clock.NewFake(now)
	mgr := NewManager(NewMemStore(), fc, 90*24*time.Hour, time.Hour)
	return mgr, fc
}

func TestActiveKey_GeneratesOnFirstCall(t *testing.T) {
	mgr, _ := newTestManager(time.Now())
	ctx := context.Background()

	rec, err := mgr.ActiveKey(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusActive {
		t.Fatalf("expected Active, got %s", rec.Status)
	}
	if len(rec.PrivateKey) == 0 || len(rec.PublicKey) == 0 {
		t.Fatal("expected key material to be generated")
	}

	again, err := mgr.ActiveKey(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.KeyID != rec.KeyID {
		t.Fatal("expected second call to return the same active key")
	}
}

func TestRotate_DemotesPreviousActive(t *testing.T) {
	mgr, _ := newTestManager(time.Now())
	ctx := context.Background()

	first, err := mgr.ActiveKey(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := mgr.Rotate(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.KeyID == first.KeyID {
		t.Fatal("expected rotation to produce a new key")
	}

	prev, err := mgr.store.LoadByID(ctx, first.KeyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev.Status != StatusRetiring {
		t.Fatalf("expected previous active to become Retiring, got %s", prev.Status)
	}

	active, err := mgr.ActiveKey(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.KeyID != second.KeyID {
		t.Fatal("expected the rotated key to be active")
	}
}

func TestCompleteRotation_ErasesPrivateKeyAfterGrace(t *testing.T) {
	start := time.Now()
	mgr, fc := newTestManager(start)
	ctx := context.Background()

	first, err := mgr.ActiveKey(ctx, "tenant-c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Rotate(ctx, "tenant-c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mgr.CompleteRotation(ctx, "tenant-c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stillRetiring, err := mgr.store.LoadByID(ctx, first.KeyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stillRetiring.Status != StatusRetiring {
		t.Fatal("expected key to remain Retiring before grace period elapses")
	}

	fc.Advance(91*24*time.Hour + 2*time.Hour)

	if err := mgr.CompleteRotation(ctx, "tenant-c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	retired, err := mgr.store.LoadByID(ctx, first.KeyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retired.Status != StatusRetired {
		t.Fatalf("expected key to become Retired, got %s", retired.Status)
	}
	if retired.Ed25519Private() != nil {
		t.Fatal("expected private key to be erased")
	}
	for _, b := range retired.PrivateKey {
		if b != 0 {
			t.Fatal("expected private key bytes to be zeroed")
		}
	}
}

func TestCompleteRotation_GraceRunsFromDemotionNotExpiry(t *testing.T) {
	start := time.Now()
	mgr, fc := newTestManager(start)
	ctx := context.Background()

	first, err := mgr.ActiveKey(ctx, "tenant-e")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Rotate well before the key's natural 90-day expiry (S4: a standalone,
	// off-cadence rotation). ExpiresAt is still ~90 days out.
	fc.Advance(24 * time.Hour)
	if _, err := mgr.Rotate(ctx, "tenant-e"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Advance past the 1h grace period measured from the demotion, but
	// nowhere near ExpiresAt. If the deadline were still computed from
	// ExpiresAt, this key would remain Retiring for ~89 more days.
	fc.Advance(2 * time.Hour)
	if err := mgr.CompleteRotation(ctx, "tenant-e"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retired, err := mgr.store.LoadByID(ctx, first.KeyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retired.Status != StatusRetired {
		t.Fatalf("expected key demoted off-cadence to retire after its own grace period, got %s", retired.Status)
	}
}

func TestRotateIfDue(t *testing.T) {
	start := time.Now()
	mgr, fc := newTestManager(start)
	ctx := context.Background()

	first, err := mgr.ActiveKey(ctx, "tenant-f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rotated, err := mgr.RotateIfDue(ctx, "tenant-f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated {
		t.Fatal("expected no rotation before the key's rotation period elapses")
	}

	fc.Advance(90*24*time.Hour + time.Minute)

	rotated, err = mgr.RotateIfDue(ctx, "tenant-f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation once the key's rotation period has elapsed")
	}

	active, err := mgr.ActiveKey(ctx, "tenant-f")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.KeyID == first.KeyID {
		t.Fatal("expected a new active key after a due rotation")
	}
}

func TestManifest_HashChainLinks(t *testing.T) {
	mgr, _ := newTestManager(time.Now())
	ctx := context.Background()

	if _, err := mgr.ActiveKey(ctx, "tenant-d"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Rotate(ctx, "tenant-d"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	manifest, err := mgr.Manifest(ctx, "tenant-d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(manifest.Entries))
	}
	if len(manifest.Entries[1].ManifestHash) != 32 {
		t.Fatal("expected a 32-byte manifest hash")
	}
}

func TestPublicKey_NotFound(t *testing.T) {
	mgr, _ := newTestManager(time.Now())
	if _, err := mgr.PublicKey(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unknown key id")
	}
}
