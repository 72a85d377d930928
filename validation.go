package eventflow

import (
	"bytes"
	"fmt"
	"strings"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DataValidator validates an opaque JSON payload. Implemented by compiled
// schemas from this package and by schema registry entries.
type DataValidator interface {
	// ValidateData returns a *ValidationError when data does not conform.
	ValidateData(data []byte) error
}

// SchemaResolver selects a data validator by event type. Implemented by
// schema.Registry. FromWire uses it to auto-detect the payload schema for
// inbound bytes.
type SchemaResolver interface {
	// Has reports whether a schema is registered for the event type.
	Has(eventType string) bool
	// ValidateData validates data against the latest schema for eventType.
	ValidateData(eventType string, data []byte) error
	// KnownTypes returns all registered event types.
	KnownTypes() []string
}

// CompiledSchema is a compiled JSON Schema usable as a DataValidator.
type CompiledSchema struct {
	compiled *jschema.Schema
}

var schemaPrinter = message.NewPrinter(language.English)

// CompileSchema compiles a JSON Schema document. The schema is the source
// of truth for the data contract: validation catches missing required
// fields before encoding/json fills them with zero values.
func CompileSchema(schemaJSON string) (*CompiledSchema, error) {
	doc, err := jschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("eventflow: parsing schema: %w", err)
	}
	compiler := jschema.NewCompiler()
	const uri = "urn:eventflow:schema:inline"
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("eventflow: adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("eventflow: compiling schema: %w", err)
	}
	return &CompiledSchema{compiled: compiled}, nil
}

// MustCompileSchema is like CompileSchema but panics on error.
func MustCompileSchema(schemaJSON string) *CompiledSchema {
	s, err := CompileSchema(schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateData implements DataValidator. Non-conforming data yields a
// *ValidationError enumerating every offending field path.
func (s *CompiledSchema) ValidateData(data []byte) error {
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &SerializationError{Op: "unmarshal", Err: err}
	}
	if err := s.compiled.Validate(inst); err != nil {
		return asValidationError(err)
	}
	return nil
}

// asValidationError flattens a jsonschema validation error tree into a
// ValidationError with one issue per leaf cause.
func asValidationError(err error) error {
	ve, ok := err.(*jschema.ValidationError)
	if !ok {
		return &ValidationError{
			Subject: "data",
			Issues:  []FieldIssue{{Message: err.Error()}},
		}
	}
	var issues []FieldIssue
	collectIssues(ve, &issues)
	return &ValidationError{Subject: "data", Issues: issues}
}

func collectIssues(ve *jschema.ValidationError, issues *[]FieldIssue) {
	if len(ve.Causes) == 0 {
		path := ""
		if len(ve.InstanceLocation) > 0 {
			path = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*issues = append(*issues, FieldIssue{
			Path:    path,
			Message: ve.ErrorKind.LocalizedString(schemaPrinter),
		})
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}
