package eventflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the typed event wrapper every component of this module
// exchanges: CloudEvents attributes plus an opaque, schema-validated JSON
// payload.
//
// Ownership: the envelope belongs to its creator until handed to a
// publisher or router. After dispatch, consumers treat it as read-mostly;
// only Telemetry tag additions are expected to mutate it.
type Envelope struct {
	Attributes Attributes
	Data       json.RawMessage

	// Telemetry holds in-memory measurements. Never part of the wire form.
	Telemetry *Telemetry

	// signature is kept out-of-band: it is not an attribute and does not
	// travel inside the wire envelope.
	signature []byte
}

// Option configures envelope construction.
type Option func(*buildOptions)

type buildOptions struct {
	validator DataValidator
	resolver  SchemaResolver
	overrides Attributes
	schemaErr error
	now       func() time.Time
	newID     func() string
}

// WithValidator validates the payload against a pre-compiled schema.
func WithValidator(v DataValidator) Option {
	return func(o *buildOptions) { o.validator = v }
}

// WithSchema compiles and applies an inline JSON Schema. Compilation
// failures surface from New or FromWire.
func WithSchema(schemaJSON string) Option {
	return func(o *buildOptions) {
		s, err := CompileSchema(schemaJSON)
		if err != nil {
			o.schemaErr = err
			return
		}
		o.validator = s
	}
}

// WithResolver auto-detects the payload schema by event type. A type the
// resolver does not know fails with an UnsupportedTypeError.
func WithResolver(r SchemaResolver) Option {
	return func(o *buildOptions) { o.resolver = r }
}

// WithAttributes merges extra attributes over the base set. Used by
// Response to let callers override the inherited source or subject.
func WithAttributes(attrs Attributes) Option {
	return func(o *buildOptions) { o.overrides = attrs }
}

func withClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.now = now }
}

func newEnvelopeID() string { return uuid.NewString() }

func applyOptions(opts []Option) (*buildOptions, error) {
	o := &buildOptions{now: time.Now, newID: newEnvelopeID}
	for _, opt := range opts {
		opt(o)
	}
	return o, o.schemaErr
}

// New creates an envelope from the given attributes and payload.
//
// Missing id, time, specversion, datacontenttype and correlationid are
// defaulted (correlationid to the envelope's own id, starting a new
// chain). The attribute set is validated against the protocol shape and
// the payload against the schema, if one is supplied; either failure is a
// *ValidationError enumerating every offending field.
func New(attrs Attributes, data any, opts ...Option) (*Envelope, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	env := &Envelope{}
	if err := build(env, attrs, data, o); err != nil {
		return nil, err
	}
	return env, nil
}

// build populates env in place. Shared by New and Pool.Acquire.
func build(env *Envelope, attrs Attributes, data any, o *buildOptions) error {
	a := attrs.Clone()
	for k, v := range o.overrides {
		a[k] = v
	}

	if _, ok := a.ID(); !ok {
		a[AttrID] = o.newID()
	}
	if _, ok := a[AttrSpecVersion]; !ok {
		a[AttrSpecVersion] = SpecVersion
	}
	if _, ok := a[AttrTime]; !ok {
		a[AttrTime] = o.now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := a[AttrDataContentType]; !ok {
		a[AttrDataContentType] = DefaultContentType
	}
	if _, ok := a.CorrelationID(); !ok {
		id, _ := a.ID()
		a[AttrCorrelationID] = id
	}

	if err := validateAttributes(a); err != nil {
		return err
	}

	raw, err := marshalData(data)
	if err != nil {
		return err
	}

	validator := o.validator
	if validator == nil && o.resolver != nil && raw != nil {
		eventType, _ := a.Type()
		if !o.resolver.Has(eventType) {
			return &UnsupportedTypeError{Type: eventType, Known: o.resolver.KnownTypes()}
		}
		validator = resolverValidator{resolver: o.resolver, eventType: eventType}
	}

	created, _ := a.EventTime()
	if created.IsZero() {
		created = o.now()
	}
	tel := newTelemetry(created)

	if validator != nil && raw != nil {
		start := time.Now()
		err := validator.ValidateData(raw)
		tel.recordValidation(time.Since(start))
		if err != nil {
			return err
		}
	}

	env.Attributes = a
	env.Data = raw
	env.Telemetry = tel
	env.signature = nil
	return nil
}

type resolverValidator struct {
	resolver  SchemaResolver
	eventType string
}

func (v resolverValidator) ValidateData(data []byte) error {
	return v.resolver.ValidateData(v.eventType, data)
}

func marshalData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &SerializationError{Op: "marshal", Err: err}
	}
	return raw, nil
}

// validateAttributes checks the fixed protocol shape, collecting every
// issue before failing.
func validateAttributes(a Attributes) error {
	var issues []FieldIssue
	if v, ok := a[AttrSpecVersion].(string); !ok || v != SpecVersion {
		issues = append(issues, FieldIssue{
			Path:    "/" + AttrSpecVersion,
			Message: fmt.Sprintf("must be the constant %q", SpecVersion),
		})
	}
	for _, key := range []string{AttrID, AttrSource, AttrType} {
		if v, ok := a[key].(string); !ok || v == "" {
			issues = append(issues, FieldIssue{
				Path:    "/" + key,
				Message: "required non-empty string",
			})
		}
	}
	if v, ok := a[AttrTime]; ok {
		if _, valid := a.EventTime(); !valid {
			issues = append(issues, FieldIssue{
				Path:    "/" + AttrTime,
				Message: fmt.Sprintf("invalid RFC 3339 timestamp %v", v),
			})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Subject: "attributes", Issues: issues}
	}
	return nil
}

// Validate re-checks the attribute shape and, when a validator is given,
// the payload. Returns nil iff both accept the envelope.
func (e *Envelope) Validate(opts ...Option) error {
	o, err := applyOptions(opts)
	if err != nil {
		return err
	}
	if err := validateAttributes(e.Attributes); err != nil {
		return err
	}
	if o.validator != nil && e.Data != nil {
		start := time.Now()
		err := o.validator.ValidateData(e.Data)
		if e.Telemetry != nil {
			e.Telemetry.recordValidation(time.Since(start))
		}
		return err
	}
	return nil
}

// ID returns the envelope id, empty if unset.
func (e *Envelope) ID() string { id, _ := e.Attributes.ID(); return id }

// Type returns the event type, empty if unset.
func (e *Envelope) Type() string { t, _ := e.Attributes.Type(); return t }

// Source returns the producing component URI, empty if unset.
func (e *Envelope) Source() string { s, _ := e.Attributes.Source(); return s }

// Subject returns the routing hint, empty if unset.
func (e *Envelope) Subject() string { s, _ := e.Attributes.Subject(); return s }

// CorrelationID returns the chain's correlation id, empty if unset.
func (e *Envelope) CorrelationID() string {
	id, _ := e.Attributes.CorrelationID()
	return id
}

// CausationID returns the immediate parent's id, empty for chain roots.
func (e *Envelope) CausationID() string {
	id, _ := e.Attributes.CausationID()
	return id
}

// Time returns the creation instant, zero if unset.
func (e *Envelope) Time() time.Time { t, _ := e.Attributes.EventTime(); return t }

func (e *Envelope) String() string {
	return fmt.Sprintf("%s[%s]", e.Type(), e.ID())
}

// UnmarshalData decodes the payload into v.
func (e *Envelope) UnmarshalData(v any) error {
	if e.Data == nil {
		return &SerializationError{Op: "unmarshal", Err: fmt.Errorf("envelope %s has no data", e)}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &SerializationError{Op: "unmarshal", Err: err}
	}
	return nil
}

// Clone produces a new envelope with a fresh id and time unless overridden.
// Used to branch a chain without violating id uniqueness. The signature is
// not carried over; telemetry starts fresh.
func (e *Envelope) Clone(overrides Attributes, opts ...Option) (*Envelope, error) {
	attrs := e.Attributes.Clone()
	delete(attrs, AttrID)
	delete(attrs, AttrTime)
	for k, v := range overrides {
		attrs[k] = v
	}
	data := make(json.RawMessage, len(e.Data))
	copy(data, e.Data)
	if len(e.Data) == 0 {
		data = nil
	}
	return New(attrs, data, opts...)
}

// Response derives a child envelope: the one-step chaining primitive.
//
// The child shares the parent's correlation id (or adopts the parent's own
// id when the parent starts the chain) and records the parent's id as its
// causation id. When the parent carries a traceparent, the child gets a
// fresh span id under the same trace.
func (e *Envelope) Response(eventType string, data any, opts ...Option) (*Envelope, error) {
	attrs := Attributes{
		AttrType:        eventType,
		AttrSource:      e.Source(),
		AttrCausationID: e.ID(),
	}
	if correlation := e.CorrelationID(); correlation != "" {
		attrs[AttrCorrelationID] = correlation
	} else {
		attrs[AttrCorrelationID] = e.ID()
	}
	if parent, ok := e.Attributes.Traceparent(); ok {
		child, err := ChildTraceparent(parent)
		if err == nil {
			attrs[AttrTraceparent] = child
		}
		if state, ok := e.Attributes.Tracestate(); ok {
			attrs[AttrTracestate] = state
		}
	}
	if subject := e.Subject(); subject != "" {
		attrs[AttrSubject] = subject
	}
	return New(attrs, data, opts...)
}
