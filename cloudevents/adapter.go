// Package cloudevents converts between envelopes and CloudEvents SDK
// events, so the substrate interoperates with transports and services
// speaking the SDK's bindings directly.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/eventflow/eventflow"
)

// FromEvent converts a cloudevents.Event into an envelope. Standard
// attributes and extensions are copied; the payload stays opaque. Options
// apply schema validation during construction.
func FromEvent(e *cloudevents.Event, opts ...eventflow.Option) (*eventflow.Envelope, error) {
	if e == nil {
		return nil, fmt.Errorf("cloudevents: nil event")
	}

	attrs := eventflow.Attributes{
		eventflow.AttrID:          e.ID(),
		eventflow.AttrSpecVersion: e.SpecVersion(),
		eventflow.AttrType:        e.Type(),
		eventflow.AttrSource:      e.Source(),
	}
	if dct := e.DataContentType(); dct != "" {
		attrs[eventflow.AttrDataContentType] = dct
	}
	if ds := e.DataSchema(); ds != "" {
		attrs[eventflow.AttrDataSchema] = ds
	}
	if subj := e.Subject(); subj != "" {
		attrs[eventflow.AttrSubject] = subj
	}
	if t := e.Time(); !t.IsZero() {
		attrs[eventflow.AttrTime] = t.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range e.Extensions() {
		attrs[k] = v
	}

	var data json.RawMessage
	if b := e.Data(); len(b) > 0 {
		data = append(json.RawMessage(nil), b...)
	}
	return eventflow.New(attrs, data, opts...)
}

// ToEvent converts an envelope into a cloudevents.Event. Correlation,
// causation and trace attributes travel as extensions.
func ToEvent(env *eventflow.Envelope) (*cloudevents.Event, error) {
	if env == nil {
		return nil, fmt.Errorf("cloudevents: nil envelope")
	}

	e := cloudevents.NewEvent()
	e.SetID(env.ID())
	e.SetType(env.Type())
	e.SetSource(env.Source())
	e.SetSpecVersion(eventflow.SpecVersion)
	if t := env.Time(); !t.IsZero() {
		e.SetTime(t)
	}

	var ct string
	if v, ok := env.Attributes.DataContentType(); ok {
		ct = v
		e.SetDataContentType(ct)
	}
	if v, ok := env.Attributes[eventflow.AttrDataSchema].(string); ok && v != "" {
		e.SetDataSchema(v)
	}
	if subj := env.Subject(); subj != "" {
		e.SetSubject(subj)
	}

	for k, v := range env.Attributes {
		switch k {
		case eventflow.AttrID, eventflow.AttrType, eventflow.AttrSource,
			eventflow.AttrSpecVersion, eventflow.AttrTime,
			eventflow.AttrDataContentType, eventflow.AttrDataSchema,
			eventflow.AttrSubject:
			continue
		default:
			e.SetExtension(k, v)
		}
	}

	if env.Data != nil {
		var err error
		if ct == eventflow.DefaultContentType && json.Valid(env.Data) {
			err = e.SetData(ct, json.RawMessage(env.Data))
		} else {
			err = e.SetData(ct, []byte(env.Data))
		}
		if err != nil {
			return nil, fmt.Errorf("cloudevents: set data: %w", err)
		}
	}

	return &e, nil
}
