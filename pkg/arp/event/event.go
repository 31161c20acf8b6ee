// Package event implements the immutable AuditEvent record (spec §3, §4.2):
// construction, deterministic canonical serialization, and validation.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
)

// Category is the event_category enumeration.
type Category string

const (
	CategoryManagement Category = "Management"
	CategoryData        Category = "Data"
	CategoryInsight      Category = "Insight"
)

const (
	maxEventNameBytes = 256
	maxBlobBytes      = 64 * 1024
	maxClockSkew      = 24 * time.Hour
)

// AuditEvent is the immutable record described in spec §3. Once constructed
// via New, a value must not be mutated; the chain subsystem only appends
// separate DigestRecords referencing it.
type AuditEvent struct {
	EventID       string
	EventTime     time.Time
	EventSource   string
	EventName     string
	EventCategory Category
	ReadOnly      bool
	TenantID      string
	Resource      hrn.Name

	SourceIP          string
	UserAgent         string
	UserID            string
	TraceID           string
	HTTPMethod        string
	HTTPStatus        int
	ErrorCode         string
	ErrorMessage      string
	RequestParameters map[string]any
	ResponseElements  map[string]any
	AdditionalData    map[string]any
}

// New constructs and validates an AuditEvent. now is injected by callers so
// ClockSkew validation is deterministic under test.
func New(e AuditEvent, now time.Time) (AuditEvent, error) {
	if err := validate(e, now); err != nil {
		return AuditEvent{}, err
	}
	return e, nil
}

func validate(e AuditEvent, now time.Time) error {
	if e.EventID == "" {
		return apierrors.Malformed("event_id is required")
	}
	if e.EventSource == "" {
		return apierrors.Malformed("event_source is required")
	}
	if e.EventName == "" {
		return apierrors.Malformed("event_name is required")
	}
	if len(e.EventName) > maxEventNameBytes {
		return apierrors.Malformed("event_name exceeds 256 bytes")
	}
	switch e.EventCategory {
	case CategoryManagement, CategoryData, CategoryInsight:
	default:
		return apierrors.Malformed("event_category must be Management, Data, or Insight")
	}
	if e.TenantID == "" {
		return apierrors.Malformed("tenant_id is required")
	}
	if e.Resource == (hrn.Name{}) {
		return apierrors.Malformed("resource is required")
	}

	skew := e.EventTime.Sub(now)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return apierrors.ClockSkew(skew.String())
	}

	if size := blobSize(e.RequestParameters); size > maxBlobBytes {
		return apierrors.PayloadTooLarge("request_parameters", maxBlobBytes)
	}
	if size := blobSize(e.ResponseElements); size > maxBlobBytes {
		return apierrors.PayloadTooLarge("response_elements", maxBlobBytes)
	}
	if size := blobSize(e.AdditionalData); size > maxBlobBytes {
		return apierrors.PayloadTooLarge("additional_data", maxBlobBytes)
	}

	return nil
}

func blobSize(m map[string]any) int {
	if len(m) == 0 {
		return 0
	}
	b, err := json.Marshal(m)
	if err != nil {
		return maxBlobBytes + 1 // unmarshalable data is treated as oversized, never silently accepted
	}
	return len(b)
}

// canonicalForm is the deterministic shape hashed by C9. Top-level field
// order is fixed by struct declaration, not map iteration, so it is stable
// regardless of Go version or platform; top-level keys are not sorted by
// name. Keys inside the nested map fields are sorted.
type canonicalForm struct {
	EventID           string         `json:"event_id"`
	EventTime         string         `json:"event_time"`
	EventSource       string         `json:"event_source"`
	EventName         string         `json:"event_name"`
	EventCategory     Category       `json:"event_category"`
	ReadOnly          bool           `json:"read_only"`
	TenantID          string         `json:"tenant_id"`
	Resource          string         `json:"resource"`
	SourceIP          string         `json:"source_ip,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	TraceID           string         `json:"trace_id,omitempty"`
	HTTPMethod        string         `json:"http_method,omitempty"`
	HTTPStatus        int            `json:"http_status,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	RequestParameters json.RawMessage `json:"request_parameters,omitempty"`
	ResponseElements  json.RawMessage `json:"response_elements,omitempty"`
	AdditionalData    json.RawMessage `json:"additional_data,omitempty"`
}

// Canonical returns the deterministic byte encoding used as hash input.
// Nested map fields are re-encoded with sorted keys so two semantically
// equal maps always canonicalize identically.
func Canonical(e AuditEvent) ([]byte, error) {
	reqParams, err := sortedJSON(e.RequestParameters)
	if err != nil {
		return nil, fmt.Errorf("event: canonicalize request_parameters: %w", err)
	}
	respElems, err := sortedJSON(e.ResponseElements)
	if err != nil {
		return nil, fmt.Errorf("event: canonicalize response_elements: %w", err)
	}
	addl, err := sortedJSON(e.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("event: canonicalize additional_data: %w", err)
	}

	cf := canonicalForm{
		EventID:           e.EventID,
		EventTime:         e.EventTime.UTC().Format("2006-01-02T15:04:05.000Z"),
		EventSource:       e.EventSource,
		EventName:         e.EventName,
		EventCategory:     e.EventCategory,
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
		RequestParameters: reqParams,
		ResponseElements:  respElems,
		AdditionalData:    addl,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cf); err != nil {
		return nil, fmt.Errorf("event: canonicalize: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sortedJSON re-marshals m with recursively key-sorted objects. Returns nil
// for an empty map so the field is omitted, matching canonicalForm's
// omitempty.
func sortedJSON(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	sorted := sortValue(m)
	b, err := json.Marshal(sorted)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func sortValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, sortValue(val[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortValue(item)
		}
		return out
	default:
		return val
	}
}

type kv struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object preserving insertion order, unlike
// map[string]any which json.Marshal sorts by key anyway — but we build it
// explicitly so nested sortValue results stay attached to their keys.
type orderedMap []kv

func (o orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
