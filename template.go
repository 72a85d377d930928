package eventflow

import "strings"

// Template is a reusable envelope prototype. Attribute values of the form
// "{name}" are placeholders filled at instantiation; a placeholder with no
// matching field fails with a MissingFieldError.
type Template struct {
	Attributes Attributes
}

// Instantiate creates an envelope from the template, substituting
// placeholder fields and attaching the payload. Construction options are
// passed through to New.
func (t Template) Instantiate(fields map[string]any, data any, opts ...Option) (*Envelope, error) {
	attrs := make(Attributes, len(t.Attributes))
	for key, value := range t.Attributes {
		s, ok := value.(string)
		if !ok || !isPlaceholder(s) {
			attrs[key] = value
			continue
		}
		name := s[1 : len(s)-1]
		filled, ok := fields[name]
		if !ok {
			return nil, &MissingFieldError{Field: name}
		}
		attrs[key] = filled
	}
	return New(attrs, data, opts...)
}

func isPlaceholder(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
