package keys

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := Record{
		KeyID:      "key-pg-1",
		TenantID:   "tenant-pg",
		Algorithm:  "Ed25519",
		CreatedAt:  now,
		ExpiresAt:  now.Add(90 * 24 * time.Hour),
		Status:     StatusActive,
		PrivateKey: make([]byte, 64),
		PublicKey:  make([]byte, 32),
	}
	if err := store.SaveKey(ctx, rec); err != nil {
		t.Fatalf("save key: %v", err)
	}

	got, err := store.LoadActive(ctx, "tenant-pg")
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	if got.KeyID != rec.KeyID {
		t.Fatalf("unexpected active key: %+v", got)
	}

	entry := ManifestEntry{
		KeyID:        rec.KeyID,
		PublicKey:    rec.PublicKey,
		CreatedAt:    rec.CreatedAt,
		ManifestHash: []byte("hash-1"),
	}
	if err := store.AppendManifestEntry(ctx, "tenant-pg", entry); err != nil {
		t.Fatalf("append manifest entry: %v", err)
	}

	manifest, err := store.LoadManifest(ctx, "tenant-pg")
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(manifest.Entries) != 1 || manifest.Entries[0].KeyID != rec.KeyID {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}
