package eventflow

import (
	"encoding/json"
	"time"
)

// wireEnvelope is the JSON shape of an envelope on the wire.
type wireEnvelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	DataSchema      string          `json:"dataschema,omitempty"`
	Subject         string          `json:"subject,omitempty"`
	Time            string          `json:"time,omitempty"`
	CorrelationID   string          `json:"correlationid,omitempty"`
	CausationID     string          `json:"causationid,omitempty"`
	Traceparent     string          `json:"traceparent,omitempty"`
	Tracestate      string          `json:"tracestate,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

var wireKeys = map[string]bool{
	AttrSpecVersion: true, AttrID: true, AttrSource: true, AttrType: true,
	AttrDataContentType: true, AttrDataSchema: true, AttrSubject: true,
	AttrTime: true, AttrCorrelationID: true, AttrCausationID: true,
	AttrTraceparent: true, AttrTracestate: true, "data": true,
}

// ToWire encodes the envelope to its canonical JSON wire form. Extension
// attributes are emitted at the top level alongside the standard fields;
// key order is deterministic, making the output suitable for signing.
func (e *Envelope) ToWire() ([]byte, error) {
	start := time.Now()

	out := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		if k == AttrTime {
			if t, ok := e.Attributes.EventTime(); ok {
				out[k] = t.UTC().Format(time.RFC3339Nano)
				continue
			}
		}
		out[k] = v
	}
	if e.Data != nil {
		out["data"] = e.Data
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, &SerializationError{Op: "marshal", Err: err}
	}
	if e.Telemetry != nil {
		e.Telemetry.recordSerialization(len(raw), time.Since(start))
	}
	return raw, nil
}

// FromWire decodes an inbound wire envelope. The attribute set is checked
// against the protocol shape; the payload is validated against the schema
// given via WithValidator/WithSchema, or auto-detected from a WithResolver
// registry by event type. A type the resolver does not know fails with an
// UnsupportedTypeError listing the known types.
func FromWire(raw []byte, opts ...Option) (*Envelope, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &SerializationError{Op: "unmarshal", Err: err}
	}

	attrs := Attributes{}
	setIf := func(key, val string) {
		if val != "" {
			attrs[key] = val
		}
	}
	setIf(AttrSpecVersion, w.SpecVersion)
	setIf(AttrID, w.ID)
	setIf(AttrSource, w.Source)
	setIf(AttrType, w.Type)
	setIf(AttrDataContentType, w.DataContentType)
	setIf(AttrDataSchema, w.DataSchema)
	setIf(AttrSubject, w.Subject)
	setIf(AttrTime, w.Time)
	setIf(AttrCorrelationID, w.CorrelationID)
	setIf(AttrCausationID, w.CausationID)
	setIf(AttrTraceparent, w.Traceparent)
	setIf(AttrTracestate, w.Tracestate)

	// Second pass for extension attributes beyond the standard set.
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err == nil {
		for k, v := range all {
			if wireKeys[k] {
				continue
			}
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				attrs[k] = val
			}
		}
	}

	if err := validateAttributes(attrs); err != nil {
		return nil, err
	}

	validator := o.validator
	if validator == nil && o.resolver != nil && w.Data != nil {
		if !o.resolver.Has(w.Type) {
			return nil, &UnsupportedTypeError{Type: w.Type, Known: o.resolver.KnownTypes()}
		}
		validator = resolverValidator{resolver: o.resolver, eventType: w.Type}
	}

	created, _ := attrs.EventTime()
	if created.IsZero() {
		created = time.Now()
	}
	tel := newTelemetry(created)
	tel.recordSerialization(len(raw), 0)

	if validator != nil && w.Data != nil {
		start := time.Now()
		err := validator.ValidateData(w.Data)
		tel.recordValidation(time.Since(start))
		if err != nil {
			return nil, err
		}
	}

	return &Envelope{Attributes: attrs, Data: w.Data, Telemetry: tel}, nil
}

// MarshalJSON implements json.Marshaler using the wire form.
func (e *Envelope) MarshalJSON() ([]byte, error) { return e.ToWire() }

// UnmarshalJSON implements json.Unmarshaler. No schema validation is
// applied; use FromWire for validated decoding.
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	decoded, err := FromWire(raw)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}
