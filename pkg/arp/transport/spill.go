package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/pkg/arp/queue"
	"github.com/R3E-Network/audit-core/pkg/auditproto"
)

// FileSpillStore persists unshippable batches to spill_dir, keyed by
// (tenant_id, batch_id), and replays them on startup (spec §4.4/§4.3).
type FileSpillStore struct {
	dir string
}

// NewFileSpillStore creates a spill store rooted at dir, creating it if
// necessary.
func NewFileSpillStore(dir string) (*FileSpillStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apierrors.IOFailed("mkdir spill_dir", err)
	}
	return &FileSpillStore{dir: dir}, nil
}

// Spill implements queue.SpillWriter.
func (s *FileSpillStore) Spill(batch queue.Batch) error {
	data, err := marshalBatch(batch)
	if err != nil {
		return apierrors.Internal("marshal spill batch", err)
	}
	path := s.path(batch.TenantID, batch.BatchID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apierrors.IOFailed("write spill file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierrors.IOFailed("rename spill file", err)
	}
	return nil
}

func (s *FileSpillStore) path(tenantID string, batchID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%020d.batch", sanitize(tenantID), batchID))
}

func sanitize(tenantID string) string {
	return strings.ReplaceAll(tenantID, string(filepath.Separator), "_")
}

// Replay re-sends every spilled batch through client, in filename order
// (which sorts by tenant then batch_id), removing each file once its send
// succeeds. It is intended to run once at startup before the transport
// client accepts new batches from the queue.
func (s *FileSpillStore) Replay(ctx context.Context, client *Client) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierrors.IOFailed("read spill_dir", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".batch") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var wire auditproto.EventBatch
		if err := json.Unmarshal(data, &wire); err != nil {
			continue
		}
		if err := client.sendWire(ctx, wire); err != nil {
			continue
		}
		_ = os.Remove(path)
	}
	return nil
}
