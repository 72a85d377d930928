package eventflow

import "time"

// Attributes is a map of envelope context attributes per the CloudEvents
// v1.0 spec, extended with correlation, causation and W3C trace context.
//
// Thread safety: Attributes is not safe for concurrent read/write access.
// Handlers receive a single envelope at a time, so concurrent access is
// rare. If sharing attributes between goroutines, use external
// synchronization.
type Attributes map[string]any

// CloudEvents attribute keys for use in Attributes map literals.
const (
	// AttrID is required. Unique event identifier.
	AttrID = "id"
	// AttrType is required. Dot-namespaced event type (e.g., "order.placed").
	AttrType = "type"
	// AttrSource is required. Producing component URI.
	AttrSource = "source"
	// AttrSpecVersion is required. Protocol version, always "1.0".
	AttrSpecVersion = "specversion"
	// AttrSubject is optional. Routing or partition hint.
	AttrSubject = "subject"
	// AttrTime is optional. Creation instant (RFC 3339).
	AttrTime = "time"
	// AttrDataContentType is optional. Payload content type.
	AttrDataContentType = "datacontenttype"
	// AttrDataSchema is optional. Data schema URI.
	AttrDataSchema = "dataschema"
)

// Extension attribute keys.
const (
	// AttrCorrelationID groups a causally-related event chain.
	AttrCorrelationID = "correlationid"
	// AttrCausationID is the id of the envelope that triggered this one.
	AttrCausationID = "causationid"
	// AttrTraceparent carries W3C trace context.
	AttrTraceparent = "traceparent"
	// AttrTracestate carries vendor-specific W3C trace state.
	AttrTracestate = "tracestate"
)

// SpecVersion is the only protocol version this module produces or accepts.
const SpecVersion = "1.0"

// DefaultContentType marks structured JSON payloads.
const DefaultContentType = "application/json"

func (a Attributes) string(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ID returns the envelope id attribute.
func (a Attributes) ID() (string, bool) { return a.string(AttrID) }

// Type returns the event type attribute.
func (a Attributes) Type() (string, bool) { return a.string(AttrType) }

// Source returns the source attribute.
func (a Attributes) Source() (string, bool) { return a.string(AttrSource) }

// Subject returns the subject attribute.
func (a Attributes) Subject() (string, bool) { return a.string(AttrSubject) }

// CorrelationID returns the correlation id extension attribute.
func (a Attributes) CorrelationID() (string, bool) { return a.string(AttrCorrelationID) }

// CausationID returns the causation id extension attribute.
func (a Attributes) CausationID() (string, bool) { return a.string(AttrCausationID) }

// Traceparent returns the W3C traceparent extension attribute.
func (a Attributes) Traceparent() (string, bool) { return a.string(AttrTraceparent) }

// Tracestate returns the W3C tracestate extension attribute.
func (a Attributes) Tracestate() (string, bool) { return a.string(AttrTracestate) }

// DataContentType returns the data content type attribute.
func (a Attributes) DataContentType() (string, bool) { return a.string(AttrDataContentType) }

// EventTime returns the time attribute. Both time.Time values and RFC 3339
// strings are accepted.
func (a Attributes) EventTime() (time.Time, bool) {
	v, ok := a[AttrTime]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Clone returns a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
