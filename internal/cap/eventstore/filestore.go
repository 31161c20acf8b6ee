package eventstore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/pkg/arp/event"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

// wireEvent is the JSONL-friendly shape of a Stored record: AuditEvent's
// Resource (hrn.Name) is rendered to its canonical string form so the log
// round-trips through hrn.Parse without exposing hrn.Name's internals.
type wireEvent struct {
	EventID           string          `json:"event_id"`
	EventTime         time.Time       `json:"event_time"`
	EventSource       string          `json:"event_source"`
	EventName         string          `json:"event_name"`
	EventCategory     string          `json:"event_category"`
	ReadOnly          bool            `json:"read_only"`
	TenantID          string          `json:"tenant_id"`
	Resource          string          `json:"resource"`
	SourceIP          string          `json:"source_ip,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	TraceID           string          `json:"trace_id,omitempty"`
	HTTPMethod        string          `json:"http_method,omitempty"`
	HTTPStatus        int             `json:"http_status,omitempty"`
	ErrorCode         string          `json:"error_code,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	RequestParameters map[string]any  `json:"request_parameters,omitempty"`
	ResponseElements  map[string]any  `json:"response_elements,omitempty"`
	AdditionalData    map[string]any  `json:"additional_data,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
}

func toWire(s Stored) wireEvent {
	e := s.Event
	return wireEvent{
		EventID:           e.EventID,
		EventTime:         e.EventTime,
		EventSource:       e.EventSource,
		EventName:         e.EventName,
		EventCategory:     string(e.EventCategory),
		ReadOnly:          e.ReadOnly,
		TenantID:          e.TenantID,
		Resource:          e.Resource.Render(),
		SourceIP:          e.SourceIP,
		UserAgent:         e.UserAgent,
		UserID:            e.UserID,
		TraceID:           e.TraceID,
		HTTPMethod:        e.HTTPMethod,
		HTTPStatus:        e.HTTPStatus,
		ErrorCode:         e.ErrorCode,
		ErrorMessage:      e.ErrorMessage,
		RequestParameters: e.RequestParameters,
		ResponseElements:  e.ResponseElements,
		AdditionalData:    e.AdditionalData,
		ReceivedAt:        s.ReceivedAt,
	}
}

func fromWire(w wireEvent) (Stored, error) {
	resource, err := hrn.Parse(w.Resource)
	if err != nil {
		return Stored{}, apierrors.Corrupt("event resource name", err)
	}
	return Stored{
		Event: event.AuditEvent{
			EventID:           w.EventID,
			EventTime:         w.EventTime,
			EventSource:       w.EventSource,
			EventName:         w.EventName,
			EventCategory:     event.Category(w.EventCategory),
			ReadOnly:          w.ReadOnly,
			TenantID:          w.TenantID,
			Resource:          resource,
			SourceIP:          w.SourceIP,
			UserAgent:         w.UserAgent,
			UserID:            w.UserID,
			TraceID:           w.TraceID,
			HTTPMethod:        w.HTTPMethod,
			HTTPStatus:        w.HTTPStatus,
			ErrorCode:         w.ErrorCode,
			ErrorMessage:      w.ErrorMessage,
			RequestParameters: w.RequestParameters,
			ResponseElements:  w.ResponseElements,
			AdditionalData:    w.AdditionalData,
		},
		ReceivedAt: w.ReceivedAt,
	}, nil
}

// FileStore is a per-tenant append-only JSONL event log, fsynced after each
// append, matching the durability style of keys.FileStore's manifest.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apierrors.IOFailed("mkdir event_store_dir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) logPath(tenant string) string {
	return filepath.Join(s.dir, tenant+".jsonl")
}

func (s *FileStore) Append(ctx context.Context, tenant string, e event.AuditEvent, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(toWire(Stored{Event: e, ReceivedAt: receivedAt}))
	if err != nil {
		return apierrors.Internal("marshal stored event", err)
	}

	f, err := os.OpenFile(s.logPath(tenant), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return apierrors.IOFailed("open event log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return apierrors.IOFailed("append event log", err)
	}
	return f.Sync()
}

func (s *FileStore) RangeByReceivedAt(ctx context.Context, tenant string, after, until time.Time) ([]Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierrors.IOFailed("open event log", err)
	}
	defer f.Close()

	var out []Stored
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var w wireEvent
		if err := json.Unmarshal(scanner.Bytes(), &w); err != nil {
			return nil, apierrors.Corrupt("event log line", err)
		}
		st, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		if st.ReceivedAt.After(after) && !st.ReceivedAt.After(until) {
			out = append(out, st)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apierrors.IOFailed("scan event log", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Event.EventID < out[j].Event.EventID })
	return out, nil
}

var _ Store = (*FileStore)(nil)
