package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/resilience"
)

// RetryingSink wraps an underlying Sink with spec §6's retry-then-spill
// behavior for a SinkAck carrying success=false, the same retry policy
// shape C4 applies on the client side (grounded on
// pkg/arp/transport.Client.Flush).
type RetryingSink struct {
	next     Sink
	retry    resilience.RetryConfig
	spillDir string
}

// NewRetryingSink wraps next, spilling exhausted batches under spillDir.
func NewRetryingSink(next Sink, retry resilience.RetryConfig, spillDir string) *RetryingSink {
	return &RetryingSink{next: next, retry: retry, spillDir: spillDir}
}

func (s *RetryingSink) Send(ctx context.Context, batch Batch) (Ack, error) {
	var lastAck Ack
	err := resilience.Retry(ctx, s.retry, func() error {
		ack, err := s.next.Send(ctx, batch)
		lastAck = ack
		if err != nil {
			return err
		}
		if !ack.Success {
			return apierrors.Internal("sink rejected batch: "+ack.Message, nil)
		}
		return nil
	})

	if err == nil {
		return lastAck, nil
	}

	if spillErr := s.spill(batch); spillErr != nil {
		return Ack{Success: false, Message: spillErr.Error()}, spillErr
	}
	return Ack{Success: false, Message: "spilled after retry exhaustion"}, nil
}

func (s *RetryingSink) spill(batch Batch) error {
	if err := os.MkdirAll(s.spillDir, 0o700); err != nil {
		return apierrors.IOFailed("mkdir sink spill dir", err)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return apierrors.Internal("marshal sink batch", err)
	}

	name := batch.TenantID + "-" + time.Now().UTC().Format("20060102T150405.000000000Z") + ".batch"
	path := filepath.Join(s.spillDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apierrors.IOFailed("write sink spill file", err)
	}
	return os.Rename(tmp, path)
}

var _ Sink = (*RetryingSink)(nil)
