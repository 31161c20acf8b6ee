// Package auditproto defines the wire types exchanged between the ARP
// client, the CAP ingestion server, and the downstream sink (spec §6).
package auditproto

// ReasonCode labels why a single event within a batch was rejected.
type ReasonCode string

const (
	ReasonMalformed       ReasonCode = "Malformed"
	ReasonClockSkew       ReasonCode = "ClockSkew"
	ReasonPayloadTooLarge ReasonCode = "PayloadTooLarge"
	ReasonUnknownTenant   ReasonCode = "UnknownTenant"
	ReasonInternal        ReasonCode = "Internal"
)

// EventBatch is the Publish RPC request: an ordered sequence of events for
// one tenant, tagged with a client-assigned monotonic batch_id.
type EventBatch struct {
	TenantID string       `json:"tenant_id"`
	BatchID  uint64       `json:"batch_id"`
	Events   []RawEvent   `json:"events"`
}

// RawEvent is the wire representation of an AuditEvent, decoded and
// validated by C5 into event.AuditEvent before further processing.
type RawEvent struct {
	EventID            string         `json:"event_id"`
	EventTime          string         `json:"event_time"` // RFC3339Nano, UTC
	EventSource        string         `json:"event_source"`
	EventName          string         `json:"event_name"`
	EventCategory      string         `json:"event_category"`
	ReadOnly           bool           `json:"read_only"`
	TenantID           string         `json:"tenant_id"`
	Resource           string         `json:"resource"` // rendered ResourceName
	SourceIP           string         `json:"source_ip,omitempty"`
	UserAgent          string         `json:"user_agent,omitempty"`
	UserID             string         `json:"user_id,omitempty"`
	TraceID            string         `json:"trace_id,omitempty"`
	HTTPMethod         string         `json:"http_method,omitempty"`
	HTTPStatus         int            `json:"http_status,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	RequestParameters  map[string]any `json:"request_parameters,omitempty"`
	ResponseElements   map[string]any `json:"response_elements,omitempty"`
	AdditionalData     map[string]any `json:"additional_data,omitempty"`
}

// Rejection names one event rejected from a batch, with its reason.
type Rejection struct {
	EventID string     `json:"event_id"`
	Reason  ReasonCode `json:"reason"`
}

// Ack is the Publish RPC response for one EventBatch.
type Ack struct {
	BatchID       uint64      `json:"batch_id"`
	AcceptedCount uint32      `json:"accepted_count"`
	RejectedCount uint32      `json:"rejected_count"`
	Rejections    []Rejection `json:"rejections,omitempty"`
}

// SinkBatch is the ingestion-to-downstream-sink request (Simple Batch
// Contract, spec §6).
type SinkBatch struct {
	TenantID string     `json:"tenant_id"`
	BatchID  uint64     `json:"batch_id"`
	Events   []RawEvent `json:"events"`
}

// SinkAck is the sink's response to a SinkBatch.
type SinkAck struct {
	Success       bool   `json:"success"`
	AcceptedCount uint32 `json:"accepted_count"`
	Message       string `json:"message,omitempty"`
}
