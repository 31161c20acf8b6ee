package keys

import "context"

// Store is the capability interface (spec §9) C8 depends on for key
// persistence; it has a file-backed and an in-memory implementation.
type Store interface {
	// SaveKey durably writes rec. Used on generation, rotation, and
	// status transitions.
	SaveKey(ctx context.Context, rec Record) error

	// LoadActive returns the currently Active key for tenant, or
	// ErrNotFound if none exists yet.
	LoadActive(ctx context.Context, tenant string) (Record, error)

	// LoadByID returns the key with the given id, or ErrNotFound.
	LoadByID(ctx context.Context, keyID string) (Record, error)

	// ListByTenant returns every key recorded for tenant, most-recent
	// first.
	ListByTenant(ctx context.Context, tenant string) ([]Record, error)

	// AppendManifestEntry appends entry to tenant's manifest, durably
	// (spec §6: fsync after each append).
	AppendManifestEntry(ctx context.Context, tenant string, entry ManifestEntry) error

	// LoadManifest returns tenant's full manifest.
	LoadManifest(ctx context.Context, tenant string) (Manifest, error)
}

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = storeError("key not found")

type storeError string

func (e storeError) Error() string { return string(e) }
