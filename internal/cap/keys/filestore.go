package keys

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/R3E-Network/audit-core/internal/apierrors"
)

// FileStore is the file-backed Store (spec §6): one file per key,
// "{key_id}.key" holding JSON of Record, plus one append-only
// "{tenant}/manifest.json" fsynced after each append.
//
// CBOR is named alongside JSON in spec §6's persistent state layout, but no
// example repo in the retrieval pack imports a CBOR library, so this store
// uses JSON only.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apierrors.IOFailed("mkdir key_store_dir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) keyPath(keyID string) string {
	return filepath.Join(s.dir, keyID+".key")
}

func (s *FileStore) tenantDir(tenant string) string {
	return filepath.Join(s.dir, tenant)
}

func (s *FileStore) manifestPath(tenant string) string {
	return filepath.Join(s.tenantDir(tenant), "manifest.json")
}

func (s *FileStore) SaveKey(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return apierrors.Internal("marshal key record", err)
	}

	path := s.keyPath(rec.KeyID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apierrors.IOFailed("write key file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierrors.IOFailed("rename key file", err)
	}

	if rec.Status == StatusActive {
		return s.writeActivePointer(rec.TenantID, rec.KeyID)
	}
	return nil
}

func (s *FileStore) activePointerPath(tenant string) string {
	return filepath.Join(s.tenantDir(tenant), "active.id")
}

func (s *FileStore) writeActivePointer(tenant, keyID string) error {
	if err := os.MkdirAll(s.tenantDir(tenant), 0o700); err != nil {
		return apierrors.IOFailed("mkdir tenant dir", err)
	}
	path := s.activePointerPath(tenant)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(keyID), 0o600); err != nil {
		return apierrors.IOFailed("write active pointer", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) LoadActive(ctx context.Context, tenant string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.activePointerPath(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, apierrors.IOFailed("read active pointer", err)
	}
	return s.loadByIDLocked(string(data))
}

func (s *FileStore) LoadByID(ctx context.Context, keyID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadByIDLocked(keyID)
}

func (s *FileStore) loadByIDLocked(keyID string) (Record, error) {
	data, err := os.ReadFile(s.keyPath(keyID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, apierrors.IOFailed("read key file", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, apierrors.Corrupt("key record "+keyID, err)
	}
	return rec, nil
}

func (s *FileStore) ListByTenant(ctx context.Context, tenant string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apierrors.IOFailed("read key_store_dir", err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".key" {
			continue
		}
		keyID := e.Name()[:len(e.Name())-len(".key")]
		rec, err := s.loadByIDLocked(keyID)
		if err != nil {
			continue
		}
		if rec.TenantID == tenant {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) AppendManifestEntry(ctx context.Context, tenant string, entry ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifestLocked(tenant)
	if err != nil {
		return err
	}
	m.TenantID = tenant
	m.Entries = append(m.Entries, entry)

	if err := os.MkdirAll(s.tenantDir(tenant), 0o700); err != nil {
		return apierrors.IOFailed("mkdir tenant dir", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return apierrors.Internal("marshal manifest", err)
	}

	f, err := os.OpenFile(s.manifestPath(tenant), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return apierrors.IOFailed("open manifest", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return apierrors.IOFailed("write manifest", err)
	}
	if err := f.Sync(); err != nil {
		return apierrors.IOFailed("fsync manifest", err)
	}
	return nil
}

func (s *FileStore) LoadManifest(ctx context.Context, tenant string) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadManifestLocked(tenant)
}

func (s *FileStore) loadManifestLocked(tenant string) (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{TenantID: tenant}, nil
		}
		return Manifest{}, apierrors.IOFailed("read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, apierrors.Corrupt("manifest for "+tenant, err)
	}
	return m, nil
}

var _ Store = (*FileStore)(nil)
