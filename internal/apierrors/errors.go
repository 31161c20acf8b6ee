// Package apierrors defines the error taxonomy shared by the ARP client and
// the CAP ingestion/chain pipeline (spec §7).
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, wire-visible error code.
type Code string

const (
	// Validation errors (§7) — per-event, reported in an Ack, never abort a batch.
	CodeMalformed      Code = "MALFORMED"
	CodeClockSkew      Code = "CLOCK_SKEW"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeUnknownTenant  Code = "UNKNOWN_TENANT"

	// Backpressure.
	CodeQueueFull Code = "QUEUE_FULL"

	// Transport — recoverable, triggers retry/backoff then spill.
	CodeTimeout         Code = "TIMEOUT"
	CodeConnectionReset Code = "CONNECTION_RESET"

	// Storage.
	CodeIOFailed Code = "IO_FAILED"
	CodeCorrupt  Code = "CORRUPT"

	// Cryptographic.
	CodeEntropyUnavailable Code = "ENTROPY_UNAVAILABLE"
	CodeKeyNotFound        Code = "KEY_NOT_FOUND"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"

	// Configuration — fatal at startup only.
	CodeInvalidConfig Code = "INVALID_CONFIG"

	// Catch-all for the ingestion Ack's "Internal" reason.
	CodeInternal Code = "INTERNAL"
)

// Error is a structured, wire-describable error.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair of diagnostic context.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func Wrap(code Code, message string, status int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Constructors, one per taxonomy entry in spec §7.

func Malformed(reason string) *Error {
	return New(CodeMalformed, "malformed event", http.StatusBadRequest).WithDetail("reason", reason)
}

func ClockSkew(skew string) *Error {
	return New(CodeClockSkew, "event_time outside allowed skew", http.StatusBadRequest).WithDetail("skew", skew)
}

func PayloadTooLarge(field string, limit int) *Error {
	return New(CodePayloadTooLarge, "payload exceeds size bound", http.StatusRequestEntityTooLarge).
		WithDetail("field", field).WithDetail("limit_bytes", limit)
}

func UnknownTenant(tenantID string) *Error {
	return New(CodeUnknownTenant, "unknown tenant", http.StatusBadRequest).WithDetail("tenant_id", tenantID)
}

func QueueFull(capacity int) *Error {
	return New(CodeQueueFull, "queue at capacity", http.StatusServiceUnavailable).WithDetail("capacity", capacity)
}

func Timeout(operation string) *Error {
	return New(CodeTimeout, "operation timed out", http.StatusGatewayTimeout).WithDetail("operation", operation)
}

func ConnectionReset(err error) *Error {
	return Wrap(CodeConnectionReset, "connection reset", http.StatusBadGateway, err)
}

func IOFailed(operation string, err error) *Error {
	return Wrap(CodeIOFailed, "storage I/O failed", http.StatusInternalServerError, err).WithDetail("operation", operation)
}

func Corrupt(resource string, err error) *Error {
	return Wrap(CodeCorrupt, "stored record is corrupt", http.StatusInternalServerError, err).WithDetail("resource", resource)
}

func EntropyUnavailable(err error) *Error {
	return Wrap(CodeEntropyUnavailable, "cryptographic RNG unavailable", http.StatusInternalServerError, err)
}

func KeyNotFound(keyID string) *Error {
	return New(CodeKeyNotFound, "key not found", http.StatusNotFound).WithDetail("key_id", keyID)
}

func SignatureInvalid(reason string) *Error {
	return New(CodeSignatureInvalid, "signature verification failed", http.StatusUnauthorized).WithDetail("reason", reason)
}

func InvalidConfig(field, reason string) *Error {
	return New(CodeInvalidConfig, "invalid configuration", http.StatusInternalServerError).
		WithDetail("field", field).WithDetail("reason", reason)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
