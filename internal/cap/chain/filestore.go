package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/R3E-Network/audit-core/internal/apierrors"
)

// FileStore is a file-backed Store: one file per record at
// "{tenant}/{interval_end_unix_nanos}-{digest_id}.digest", written
// atomically via write-temp-then-rename (the same durability pattern used
// by pkg/arp/transport's spill store and keys.FileStore).
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apierrors.IOFailed("mkdir chain_store_dir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) tenantDir(tenant string) string {
	return filepath.Join(s.dir, tenant)
}

func (s *FileStore) recordPath(tenant string, rec Record) string {
	name := strconv.FormatInt(rec.IntervalEnd.UTC().UnixNano(), 10) + "-" + rec.DigestID + ".digest"
	return filepath.Join(s.tenantDir(tenant), name)
}

func (s *FileStore) Append(ctx context.Context, tenant string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.tenantDir(tenant), 0o700); err != nil {
		return apierrors.IOFailed("mkdir tenant chain dir", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return apierrors.Internal("marshal digest record", err)
	}

	path := s.recordPath(tenant, rec)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apierrors.IOFailed("write digest record", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) List(ctx context.Context, tenant string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(tenant)
}

func (s *FileStore) listLocked(tenant string) ([]Record, error) {
	entries, err := os.ReadDir(s.tenantDir(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierrors.IOFailed("read tenant chain dir", err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".digest" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.tenantDir(tenant), e.Name()))
		if err != nil {
			return nil, apierrors.IOFailed("read digest record", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, apierrors.Corrupt("digest record "+e.Name(), err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntervalEnd.Before(out[j].IntervalEnd) })
	return out, nil
}

func (s *FileStore) Last(ctx context.Context, tenant string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.listLocked(tenant)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (s *FileStore) ByID(ctx context.Context, tenant, digestID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.listLocked(tenant)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range recs {
		if r.DigestID == digestID {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

var _ Store = (*FileStore)(nil)
