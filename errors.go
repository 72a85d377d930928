package eventflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when operations are attempted on a closed resource.
var ErrClosed = errors.New("eventflow: closed")

// FieldIssue describes one offending field in a validation failure.
type FieldIssue struct {
	// Path is a JSON-pointer style location ("/items/0/price").
	// Empty path refers to the envelope or payload root.
	Path string
	// Message explains why the field was rejected.
	Message string
}

func (i FieldIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError reports attribute or data schema mismatches. It always
// enumerates every offending field rather than collapsing to a single
// opaque message.
type ValidationError struct {
	// Subject identifies what failed: "attributes" or "data".
	Subject string
	// Issues holds one entry per offending field.
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("eventflow: %s validation failed: %s", e.Subject, strings.Join(parts, "; "))
}

// SerializationError reports malformed wire bytes or a payload that cannot
// be serialized (e.g. cyclic structures).
type SerializationError struct {
	Op  string // "marshal", "unmarshal", "compress", "decompress"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("eventflow: %s failed: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// MissingFieldError reports a required template field that was not supplied
// when constructing an envelope from a template.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("eventflow: missing required template field %q", e.Field)
}

// UnsupportedTypeError reports an event type with no registered schema.
// Known lists the types the registry does know, so the failure is
// actionable without a second lookup.
type UnsupportedTypeError struct {
	Type  string
	Known []string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("eventflow: unsupported event type %q (known types: %s)",
		e.Type, strings.Join(e.Known, ", "))
}

// TransportError reports a broker call failure. The publisher's retry
// loop and circuit breaker operate on these; everything else passes
// through untouched.
type TransportError struct {
	Op  string // "send", "subscribe"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eventflow: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SignatureError reports a failed envelope signature verification.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "eventflow: signature verification failed: " + e.Reason
}
